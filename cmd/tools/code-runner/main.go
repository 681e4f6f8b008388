package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/execution"
	"github.com/michaelbrown/playground/internal/share"
	"github.com/michaelbrown/playground/internal/workspace"
)

const (
	maxOutput  = 4000
	runTimeout = 60 * time.Second
)

var filesSchema = map[string]any{
	"type":                 "object",
	"description":          "Workspace files, mapping file name to source text",
	"additionalProperties": map[string]any{"type": "string"},
}

var entrySchema = map[string]any{
	"type":        "string",
	"description": "File to run (default: main.py, or the only file)",
}

func main() {
	cfg, err := config.Load(os.Getenv("PLAYGROUND_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	h := &handler{
		backend: cfg.Backend.URL,
		shares:  share.NewClient(cfg.Backend.URL, cfg.ShareBase(), nil, nil),
	}

	s := server.NewMCPServer("playground-code-runner", "0.1.0")

	s.AddTool(mcp.Tool{
		Name:        "workspace_run",
		Description: fmt.Sprintf("Run a multi-file workspace on the playground backend at %s and return its output.", cfg.Backend.URL),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"files":      filesSchema,
				"entry_file": entrySchema,
				"stdin": map[string]any{
					"type":        "string",
					"description": "Standard input to provide to the program (optional)",
				},
			},
			Required: []string{"files"},
		},
	}, h.handleRun)

	s.AddTool(mcp.Tool{
		Name:        "workspace_share",
		Description: "Publish a multi-file workspace and return a link that opens it.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"files":      filesSchema,
				"entry_file": entrySchema,
			},
			Required: []string{"files"},
		},
	}, h.handleShare)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

type handler struct {
	backend string
	shares  *share.Client
}

func (h *handler) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	snap, err := snapshotArg(args)
	if err != nil {
		return errResult("error: " + err.Error()), nil
	}
	stdin, _ := args["stdin"].(string)

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	c := execution.New()
	t := execution.NewOneShotTransport(h.backend, nil)
	if _, err := c.Run(ctx, t, execution.Request{Snapshot: snap, Input: stdin}); err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	s, err := c.Wait(ctx)
	if err != nil {
		c.Cancel()
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	if s.State == execution.Failed {
		return errResult(fmt.Sprintf("error: %s", s.Diagnostic)), nil
	}

	var output strings.Builder
	if stdout := s.Output(execution.Stdout); stdout != "" {
		output.WriteString(stdout)
	}
	if stderr := s.Output(execution.Stderr); stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + stderr)
	}
	if *s.ExitCode != 0 {
		output.WriteString(fmt.Sprintf("\nexit code: %d", *s.ExitCode))
	}

	text := output.String()
	if len(text) > maxOutput {
		text = text[:maxOutput] + "\n... (output truncated)"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: *s.ExitCode != 0,
	}, nil
}

func (h *handler) handleShare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]any)
	snap, err := snapshotArg(args)
	if err != nil {
		return errResult("error: " + err.Error()), nil
	}

	id, err := h.shares.Publish(ctx, snap)
	if err != nil {
		return errResult(fmt.Sprintf("error: %v", err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: h.shares.URL(id)}},
	}, nil
}

// snapshotArg builds a workspace from the files and entry_file arguments.
// Files are ordered by name since JSON objects arrive unordered.
func snapshotArg(args map[string]any) (workspace.Snapshot, error) {
	if args == nil {
		return workspace.Snapshot{}, fmt.Errorf("invalid arguments")
	}
	raw, _ := args["files"].(map[string]any)
	if len(raw) == 0 {
		return workspace.Snapshot{}, fmt.Errorf("'files' is required")
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make(workspace.Files, 0, len(names))
	for _, name := range names {
		content, ok := raw[name].(string)
		if !ok {
			return workspace.Snapshot{}, fmt.Errorf("content of %q must be a string", name)
		}
		files = append(files, workspace.File{Name: name, Content: content})
	}

	entry, _ := args["entry_file"].(string)
	switch {
	case entry == "" && files.Has(workspace.DefaultFileName):
		entry = workspace.DefaultFileName
	case entry == "" && len(files) == 1:
		entry = files[0].Name
	case entry == "":
		return workspace.Snapshot{}, fmt.Errorf("'entry_file' is required when there are several files")
	case !files.Has(entry):
		return workspace.Snapshot{}, fmt.Errorf("entry file %q is not in files", entry)
	}
	return workspace.Snapshot{Files: files, EntryFile: entry}, nil
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
