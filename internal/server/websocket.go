package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/sandbox"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // single-user local backend
	},
}

// wsConn serialises writes to a websocket connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	log  pslog.Logger
}

func (c *wsConn) send(f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsWriteJSON(c.conn, f, c.log)
}

// reject ends the exchange with a close frame carrying reason.
func (c *wsConn) reject(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// streamWriter turns program output into frames of one stream.
type streamWriter struct {
	ws     *wsConn
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	if err := w.ws.send(protocol.OutputFrame(w.stream, string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Upgrade to WebSocket
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", "err", err)
		return
	}
	defer conn.Close()

	id := uuid.Must(uuid.NewV7()).String()
	log := logx.WithSession(s.log, id)
	ws := &wsConn{conn: conn, log: log}

	// The first frame must start the run.
	_, raw, err := conn.ReadMessage()
	if err != nil {
		log.Debug("websocket closed before start", "err", err)
		return
	}
	start, err := protocol.DecodeClientFrame(raw)
	if err != nil || start.Type != protocol.TypeStart {
		reason := "expected start frame"
		if err != nil {
			reason = err.Error()
		}
		ws.reject(websocket.CloseUnsupportedData, reason)
		return
	}

	// Cancelled on client disconnect
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := s.sandbox.Start(ctx, sandbox.ExecOpts{
		Files:       start.Files,
		EntryFile:   start.EntryFile,
		Interactive: true,
		Stdout:      streamWriter{ws: ws, stream: protocol.TypeStdout},
		Stderr:      streamWriter{ws: ws, stream: protocol.TypeStderr},
	})
	if err != nil {
		log.Warn("run failed to start", "entry", start.EntryFile, "err", err)
		ws.reject(websocket.CloseInternalServerErr, err.Error())
		return
	}
	s.sessions.Add(id, &ActiveSession{Process: proc, Cancel: cancel})
	defer s.sessions.Remove(id)
	log.Info("streaming run started", "entry", start.EntryFile, "files", len(start.Files))

	// Read loop: forward stdin until the client goes away.
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("websocket read error", "err", err)
				}
				proc.Kill()
				return
			}
			f, err := protocol.DecodeClientFrame(raw)
			if err != nil || f.Type != protocol.TypeStdin {
				log.Warn("ignoring client frame", "err", err)
				continue
			}
			if _, err := proc.Write([]byte(f.Data)); err != nil {
				log.Debug("stdin write failed", "err", err)
			}
		}
	}()

	code, err := proc.Wait()
	if err != nil {
		log.Warn("run failed", "err", err)
	}
	log.Info("streaming run finished", "exit_code", code)
	ws.send(protocol.ExitFrame(code))
}

func wsWriteJSON(conn *websocket.Conn, v any, log pslog.Logger) error {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("websocket marshal error", "err", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug("websocket write error", "err", err)
		return err
	}
	return nil
}
