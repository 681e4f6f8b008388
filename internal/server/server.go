package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/storage"
)

// Server is the reference playground backend: it runs workspaces in a
// sandbox and stores shared snapshots.
type Server struct {
	shares   storage.ShareStore
	sandbox  sandbox.Sandbox
	sessions *SessionManager
	router   chi.Router
	http     *http.Server
	log      pslog.Logger
}

// New creates a new Server. A nil logger discards.
func New(shares storage.ShareStore, sb sandbox.Sandbox, logger pslog.Logger) *Server {
	s := &Server{
		shares:   shares,
		sandbox:  sb,
		sessions: NewSessionManager(),
		router:   chi.NewRouter(),
		log:      logx.Or(logger),
	}
	s.setupRoutes()
	s.http = &http.Server{Handler: s.router}
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(allowCORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	// WebSocket (no JSON content-type)
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)

		r.Post("/run", s.handleRun)
		r.Post("/share", s.handleCreateShare)
		r.Get("/share/{id}", s.handleGetShare)
	})
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// allowCORS lets a browser editor served from another origin call the API.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http.Addr = addr

	s.log.Info("playground backend starting", "addr", "http://localhost"+addr)
	return s.http.ListenAndServe()
}

// Shutdown stops running programs and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down backend", "active_runs", s.sessions.Count())
	s.sessions.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
