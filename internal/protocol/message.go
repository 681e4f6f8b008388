package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/michaelbrown/playground/internal/workspace"
)

// Client → Server frame types.
const (
	TypeStart = "start"
	TypeStdin = "stdin"
)

// Server → Client frame types.
const (
	TypeStdout = "stdout"
	TypeStderr = "stderr"
	TypeExit   = "exit"
)

// Frame is one message on the streaming execution channel. Which fields are
// meaningful depends on Type.
type Frame struct {
	Type      string          `json:"type"`
	Data      string          `json:"data,omitempty"`
	Code      *int            `json:"code,omitempty"`
	Files     workspace.Files `json:"files,omitempty"`
	EntryFile string          `json:"entryFile,omitempty"`
}

// StartFrame asks the server to run a workspace.
func StartFrame(s workspace.Snapshot) Frame {
	return Frame{Type: TypeStart, Files: s.Files, EntryFile: s.EntryFile}
}

// StdinFrame carries interactive input to the running program.
func StdinFrame(data string) Frame {
	return Frame{Type: TypeStdin, Data: data}
}

// OutputFrame carries a chunk of program output on stream (stdout or stderr).
func OutputFrame(stream, data string) Frame {
	return Frame{Type: stream, Data: data}
}

// ExitFrame reports process termination.
func ExitFrame(code int) Frame {
	return Frame{Type: TypeExit, Code: &code}
}

// Encode marshals f for the wire.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame: %w", err)
	}
	return data, nil
}

// Snapshot returns the workspace carried by a start frame.
func (f Frame) Snapshot() workspace.Snapshot {
	return workspace.Snapshot{Files: f.Files, EntryFile: f.EntryFile}
}

// RunRequest is the one-shot execution request body.
type RunRequest struct {
	Files     workspace.Files `json:"files"`
	Input     string          `json:"input"`
	EntryFile string          `json:"entryFile"`
}

// RunResponse is the one-shot execution result.
type RunResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

// ShareRequest publishes a workspace snapshot.
type ShareRequest struct {
	Files     workspace.Files `json:"files"`
	EntryFile string          `json:"entryFile"`
}

// ShareResponse returns the id of a published snapshot.
type ShareResponse struct {
	ID string `json:"id"`
}

// SharedWorkspace is the body returned when resolving a share id.
type SharedWorkspace = ShareRequest

// ErrorResponse is the JSON body of a failed HTTP call.
type ErrorResponse struct {
	Error string `json:"error"`
}
