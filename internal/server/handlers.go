package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/storage"
	"github.com/michaelbrown/playground/internal/workspace"
)

const maxBodyBytes = 4 << 20

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// sandboxStatus maps a sandbox start error to an HTTP status.
func sandboxStatus(err error) int {
	switch {
	case errors.Is(err, sandbox.ErrEntryNotFound),
		errors.Is(err, sandbox.ErrUnsafeName),
		errors.Is(err, sandbox.ErrUnsupported):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// --- Run handlers ---

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req protocol.RunRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.EntryFile == "" {
		writeError(w, http.StatusBadRequest, "entryFile is required")
		return
	}

	result, err := sandbox.Exec(r.Context(), s.sandbox, sandbox.ExecOpts{
		Files:     req.Files,
		EntryFile: req.EntryFile,
		Stdin:     req.Input,
	})
	if err != nil {
		s.log.Warn("run failed", "entry", req.EntryFile, "err", err)
		writeError(w, sandboxStatus(err), err.Error())
		return
	}

	s.log.Debug("run finished", "entry", req.EntryFile, "exit_code", result.ExitCode)
	writeJSON(w, http.StatusOK, protocol.RunResponse{
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
	})
}

// --- Share handlers ---

func (s *Server) handleCreateShare(w http.ResponseWriter, r *http.Request) {
	var req protocol.ShareRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	snap := workspace.Snapshot{Files: req.Files, EntryFile: req.EntryFile}
	if norm := workspace.Normalize(snap); len(norm.Files) != len(snap.Files) || norm.EntryFile != snap.EntryFile {
		writeError(w, http.StatusBadRequest, "workspace is invalid: names must be unique and entryFile must name a file")
		return
	}

	rec := &storage.ShareRecord{
		ID:       uuid.Must(uuid.NewV7()).String(),
		Snapshot: snap,
	}
	if err := s.shares.CreateShare(r.Context(), rec); err != nil {
		s.log.Error("storing share failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Info("share created", "id", rec.ID, "files", len(snap.Files))
	writeJSON(w, http.StatusCreated, protocol.ShareResponse{ID: rec.ID})
}

func (s *Server) handleGetShare(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.shares.GetShare(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrShareNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, protocol.SharedWorkspace{
		Files:     rec.Snapshot.Files,
		EntryFile: rec.Snapshot.EntryFile,
	})
}
