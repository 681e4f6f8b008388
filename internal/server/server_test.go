package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/michaelbrown/playground/internal/execution"
	"github.com/michaelbrown/playground/internal/protocol"
	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/share"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
	"github.com/michaelbrown/playground/internal/workspace"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	s := New(store, sandbox.NewLocalSandbox(sandbox.DefaultPolicy(), ""), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		srv.Close()
	})
	return srv
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func wait(t *testing.T, c *execution.Controller) execution.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return s
}

func TestOneShotRun(t *testing.T) {
	requireShell(t)
	srv := testServer(t)
	c := execution.New()

	req := execution.Request{
		Snapshot: workspace.Snapshot{
			Files: workspace.Files{
				{Name: "main.sh", Content: "read a\nread b\necho \"$((a + b))\"\necho warn >&2\n"},
			},
			EntryFile: "main.sh",
		},
		Input: "2\n40\n",
	}
	if _, err := c.Run(context.Background(), execution.NewOneShotTransport(srv.URL, srv.Client()), req); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s := wait(t, c)

	if s.State != execution.Completed {
		t.Fatalf("state = %s (%s)", s.State, s.Diagnostic)
	}
	if s.Output(execution.Stdout) != "42\n" || s.Output(execution.Stderr) != "warn\n" {
		t.Errorf("transcript = %+v", s.Transcript)
	}
	if *s.ExitCode != 0 {
		t.Errorf("exit code = %d", *s.ExitCode)
	}
}

func TestStreamingRunWithInput(t *testing.T) {
	requireShell(t)
	srv := testServer(t)
	tr, err := execution.NewStreamTransport(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	c := execution.New()

	req := execution.Request{Snapshot: workspace.Snapshot{
		Files: workspace.Files{
			{Name: "ask.sh", Content: "echo 'name?'\nread name\necho \"hi $name\"\nexit 7\n"},
		},
		EntryFile: "ask.sh",
	}}
	if _, err := c.Run(context.Background(), tr, req); err != nil {
		t.Fatalf("Run: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for c.Current().Output(execution.Stdout) != "name?\n" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.SendInput("ada\n"); err != nil {
		t.Fatalf("SendInput: %v", err)
	}
	s := wait(t, c)

	if s.State != execution.Completed || *s.ExitCode != 7 {
		t.Fatalf("session = %s %v (%s)", s.State, s.ExitCode, s.Diagnostic)
	}
	if got := s.Output(execution.Stdout); got != "name?\nhi ada\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestStreamingCancelKillsProgram(t *testing.T) {
	requireShell(t)
	srv := testServer(t)
	tr, _ := execution.NewStreamTransport(srv.URL)
	c := execution.New()

	req := execution.Request{Snapshot: workspace.Snapshot{
		Files:     workspace.Files{{Name: "loop.sh", Content: "echo started\nread forever\n"}},
		EntryFile: "loop.sh",
	}}
	c.Run(context.Background(), tr, req)

	deadline := time.Now().Add(5 * time.Second)
	for c.Current().Output(execution.Stdout) == "" && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	c.Cancel()
	s := wait(t, c)
	if s.State != execution.Failed {
		t.Errorf("state = %s, want failed", s.State)
	}
}

func TestStreamingRejectsBadEntry(t *testing.T) {
	srv := testServer(t)
	tr, _ := execution.NewStreamTransport(srv.URL)
	c := execution.New()

	req := execution.Request{Snapshot: workspace.Snapshot{
		Files:     workspace.Files{{Name: "notes.txt", Content: "hello"}},
		EntryFile: "notes.txt",
	}}
	c.Run(context.Background(), tr, req)
	s := wait(t, c)

	if s.State != execution.Failed {
		t.Errorf("state = %s, want failed", s.State)
	}
	if s.Output(execution.System) == "" {
		t.Error("missing diagnostic")
	}
}

func TestRunValidation(t *testing.T) {
	srv := testServer(t)

	tests := map[string]struct {
		body string
		want int
	}{
		"bad json":      {`{`, http.StatusBadRequest},
		"missing entry": {`{"files":{"a.py":""}}`, http.StatusBadRequest},
		"unknown entry": {`{"files":{"a.py":""},"entryFile":"b.py"}`, http.StatusBadRequest},
		"unsafe name":   {`{"files":{"../a.sh":""},"entryFile":"../a.sh"}`, http.StatusBadRequest},
	}
	for name, tt := range tests {
		resp, err := http.Post(srv.URL+"/run", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		var e protocol.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&e)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", name, resp.StatusCode, tt.want)
		}
		if e.Error == "" {
			t.Errorf("%s: missing error message", name)
		}
	}
}

func TestShareRoundTrip(t *testing.T) {
	srv := testServer(t)
	c := share.NewClient(srv.URL, "", srv.Client(), nil)
	ctx := context.Background()

	snap := workspace.Snapshot{
		Files: workspace.Files{
			{Name: "z_last.py", Content: "print('z')\n"},
			{Name: "a_first.py", Content: "import z_last\n"},
		},
		EntryFile: "a_first.py",
	}
	id, err := c.Publish(ctx, snap)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := c.Resolve(ctx, id)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("Resolve = %+v, want %+v", got, snap)
	}

	if _, err := c.Resolve(ctx, "no-such-id"); !errors.Is(err, share.ErrShareNotFound) {
		t.Errorf("Resolve unknown = %v, want ErrShareNotFound", err)
	}
}

func TestShareRejectsInvalidWorkspace(t *testing.T) {
	srv := testServer(t)

	body := []byte(`{"files":{"a.py":"1"},"entryFile":"gone.py"}`)
	resp, err := http.Post(srv.URL+"/share", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := testServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/run", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight = %d %v", resp.StatusCode, resp.Header)
	}
}
