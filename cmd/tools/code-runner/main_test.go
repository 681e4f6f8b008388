package main

import (
	"context"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/michaelbrown/playground/internal/sandbox"
	"github.com/michaelbrown/playground/internal/server"
	"github.com/michaelbrown/playground/internal/share"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
)

func testHandler(t *testing.T) *handler {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	s := server.New(db, sandbox.NewLocalSandbox(sandbox.DefaultPolicy(), ""), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Shutdown(context.Background())
		srv.Close()
		db.Close()
	})
	return &handler{
		backend: srv.URL,
		shares:  share.NewClient(srv.URL, "", srv.Client(), nil),
	}
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %+v", res.Content)
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func TestSnapshotArg(t *testing.T) {
	snap, err := snapshotArg(map[string]any{
		"files": map[string]any{"util.py": "X = 1", "main.py": "import util"},
	})
	if err != nil {
		t.Fatalf("snapshotArg: %v", err)
	}
	if snap.EntryFile != "main.py" || snap.Files[0].Name != "main.py" || snap.Files[1].Name != "util.py" {
		t.Errorf("snapshot = %+v", snap)
	}

	snap, err = snapshotArg(map[string]any{"files": map[string]any{"app.js": "1"}})
	if err != nil || snap.EntryFile != "app.js" {
		t.Errorf("single file = %+v, %v", snap, err)
	}

	bad := []map[string]any{
		nil,
		{},
		{"files": map[string]any{"a.py": 1}},
		{"files": map[string]any{"a.py": "", "b.py": ""}},
		{"files": map[string]any{"a.py": ""}, "entry_file": "b.py"},
	}
	for _, args := range bad {
		if _, err := snapshotArg(args); err == nil {
			t.Errorf("snapshotArg(%v) succeeded", args)
		}
	}
}

func TestHandleRun(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	h := testHandler(t)

	res, err := h.handleRun(context.Background(), call(map[string]any{
		"files":      map[string]any{"run.sh": ". ./lib.sh\nread n\ngreet \"$n\"\nexit 2\n", "lib.sh": "greet() { echo \"hello $1\"; }\n"},
		"entry_file": "run.sh",
		"stdin":      "ada\n",
	}))
	if err != nil {
		t.Fatal(err)
	}
	out := text(t, res)
	if !strings.HasPrefix(out, "hello ada\n") || !strings.Contains(out, "exit code: 2") {
		t.Errorf("output = %q", out)
	}
	if !res.IsError {
		t.Error("non-zero exit should be an error result")
	}
}

func TestHandleRunBadArguments(t *testing.T) {
	h := testHandler(t)
	res, _ := h.handleRun(context.Background(), call(nil))
	if !res.IsError {
		t.Error("expected error result")
	}
}

func TestHandleShare(t *testing.T) {
	h := testHandler(t)

	res, err := h.handleShare(context.Background(), call(map[string]any{
		"files": map[string]any{"main.py": "print(1)"},
	}))
	if err != nil {
		t.Fatal(err)
	}
	link := text(t, res)
	if res.IsError || !strings.Contains(link, "?id=") {
		t.Fatalf("share result = %q", link)
	}

	snap, err := h.shares.Resolve(context.Background(), share.ParseLink(link))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if snap.EntryFile != "main.py" {
		t.Errorf("resolved = %+v", snap)
	}
}
