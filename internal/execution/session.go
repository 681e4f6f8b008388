package execution

import (
	"strings"
	"time"
)

// State is the lifecycle state of an execution session.
type State string

const (
	Idle       State = "idle"
	Connecting State = "connecting"
	Running    State = "running"
	Completed  State = "completed"
	Failed     State = "failed"
)

// Active reports whether a session in this state owns a transport.
func (s State) Active() bool {
	return s == Connecting || s == Running
}

// Terminal reports whether the session has ended.
func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

// Stream tags a transcript chunk with its origin.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
	// System chunks are diagnostics produced by the client itself.
	System Stream = "system"
)

// Chunk is one piece of transcript output.
type Chunk struct {
	Stream Stream `json:"stream"`
	Data   string `json:"data"`
}

// Mode names the transport a session runs over.
type Mode string

const (
	ModeStream  Mode = "stream"
	ModeOneShot Mode = "oneshot"
)

// Session is a snapshot of one execution. Values handed out by the
// Controller are copies and safe to retain.
type Session struct {
	ID         string        `json:"id"`
	Mode       Mode          `json:"mode"`
	State      State         `json:"state"`
	Transcript []Chunk       `json:"transcript"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	Diagnostic string        `json:"diagnostic,omitempty"`
}

// ElapsedSeconds is the run time, set once the session is terminal.
func (s Session) ElapsedSeconds() float64 {
	return s.Elapsed.Seconds()
}

// Output concatenates the transcript chunks of one stream.
func (s Session) Output(stream Stream) string {
	var b strings.Builder
	for _, c := range s.Transcript {
		if c.Stream == stream {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func (s Session) clone() Session {
	out := s
	if s.Transcript != nil {
		out.Transcript = append([]Chunk(nil), s.Transcript...)
	}
	if s.ExitCode != nil {
		code := *s.ExitCode
		out.ExitCode = &code
	}
	return out
}

func (s *Session) appendChunk(stream Stream, data string) {
	if data == "" {
		return
	}
	s.Transcript = append(s.Transcript, Chunk{Stream: stream, Data: data})
}

func (s *Session) finish(state State, now time.Time) {
	s.State = state
	s.EndedAt = now
	s.Elapsed = now.Sub(s.StartedAt)
	if s.Elapsed < 0 {
		s.Elapsed = 0
	}
}
