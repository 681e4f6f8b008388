package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/michaelbrown/playground/internal/protocol"
)

func TestNewStreamTransportURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://localhost:5000", "ws://localhost:5000/ws"},
		{"https://play.example/api/", "wss://play.example/api/ws"},
		{"ws://10.0.0.1:8080", "ws://10.0.0.1:8080/ws"},
	}
	for _, tt := range tests {
		tr, err := NewStreamTransport(tt.in)
		if err != nil {
			t.Errorf("NewStreamTransport(%q): %v", tt.in, err)
			continue
		}
		if tr.URL != tt.want {
			t.Errorf("NewStreamTransport(%q).URL = %q, want %q", tt.in, tr.URL, tt.want)
		}
	}
	if _, err := NewStreamTransport("ftp://x"); err == nil {
		t.Error("expected error for ftp scheme")
	}
}

// echoServer runs a scripted streaming backend: it greets, echoes one line of
// stdin to stdout, reports it on stderr and exits with code 3.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		start, err := protocol.DecodeClientFrame(raw)
		if err != nil || start.Type != protocol.TypeStart {
			ws.WriteJSON(protocol.OutputFrame(protocol.TypeStderr, "bad start"))
			return
		}
		ws.WriteJSON(protocol.OutputFrame(protocol.TypeStdout, "running "+start.EntryFile+"\n"))

		_, raw, err = ws.ReadMessage()
		if err != nil {
			return
		}
		in, err := protocol.DecodeClientFrame(raw)
		if err != nil {
			return
		}
		ws.WriteJSON(protocol.OutputFrame(protocol.TypeStdout, in.Data))
		ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"bell"}`))
		ws.WriteJSON(protocol.OutputFrame(protocol.TypeStderr, "done\n"))
		ws.WriteJSON(protocol.ExitFrame(3))
		ws.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStreamTransportEndToEnd(t *testing.T) {
	srv := echoServer(t)
	tr, err := NewStreamTransport(srv.URL)
	if err != nil {
		t.Fatalf("NewStreamTransport: %v", err)
	}
	c := New()

	if _, err := c.Run(context.Background(), tr, helloRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	waitFor(t, c, func(s Session) bool { return s.Output(Stdout) == "running main.py\n" })
	if err := c.SendInput("42\n"); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	s := waitDone(t, c)

	if s.State != Completed || s.ExitCode == nil || *s.ExitCode != 3 {
		t.Fatalf("session = %+v", s)
	}
	if got := s.Output(Stdout); got != "running main.py\n42\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := s.Output(Stderr); got != "done\n" {
		t.Errorf("stderr = %q", got)
	}
	if s.Output(System) == "" {
		t.Error("malformed frame not reported")
	}
}

func TestStreamTransportDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	tr, _ := NewStreamTransport(srv.URL)

	_, err := tr.Open(context.Background(), helloRequest())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Open = %v, want ErrTransport", err)
	}
}

func TestOneShotHelloScenario(t *testing.T) {
	var got protocol.RunRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/run" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(protocol.RunResponse{Stdout: "hi\n", Stderr: "", ExitCode: 0})
	}))
	defer srv.Close()

	c := New()
	if _, err := c.Run(context.Background(), NewOneShotTransport(srv.URL, srv.Client()), helloRequest()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := waitDone(t, c)

	if s.State != Completed {
		t.Fatalf("state = %s (%s)", s.State, s.Diagnostic)
	}
	if !reflect.DeepEqual(s.Transcript, []Chunk{{Stream: Stdout, Data: "hi\n"}}) {
		t.Errorf("transcript = %+v", s.Transcript)
	}
	if s.ExitCode == nil || *s.ExitCode != 0 {
		t.Errorf("exit code = %v", s.ExitCode)
	}
	if s.ElapsedSeconds() < 0 {
		t.Errorf("elapsed = %v", s.ElapsedSeconds())
	}
	if s.Mode != ModeOneShot {
		t.Errorf("mode = %s", s.Mode)
	}
	if got.EntryFile != "main.py" || got.Input != "" || len(got.Files) != 1 {
		t.Errorf("request = %+v", got)
	}
}

func TestOneShotBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: "entry file not found"})
	}))
	defer srv.Close()

	_, err := NewOneShotTransport(srv.URL, nil).Open(context.Background(), helloRequest())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("Open = %v, want ErrTransport", err)
	}
	if want := "backend returned 400: entry file not found"; !strings.Contains(err.Error(), want) {
		t.Errorf("error = %q, want it to mention %q", err, want)
	}
}

func TestOneShotUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New()
	c.Run(context.Background(), NewOneShotTransport(url, nil), helloRequest())
	s := waitDone(t, c)
	if s.State != Failed {
		t.Errorf("state = %s, want failed", s.State)
	}
}
