// Package logx holds small helpers around pslog shared by the playground
// packages.
package logx

import (
	"context"
	"io"

	"pkt.systems/pslog"
)

var discard = pslog.NewWithOptions(io.Discard, pslog.Options{
	Mode:     pslog.ModeStructured,
	NoColor:  true,
	MinLevel: pslog.ErrorLevel,
})

// Discard returns a logger that writes nothing.
func Discard() pslog.Logger {
	return discard
}

// Or returns l, or the discarding logger when l is nil.
func Or(l pslog.Logger) pslog.Logger {
	if l == nil {
		return discard
	}
	return l
}

// Ctx returns the logger bound to ctx.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with a session id when available.
func WithSession(log pslog.Logger, sessionID string) pslog.Logger {
	if sessionID != "" {
		log = log.With("session", sessionID)
	}
	return log
}

// WithFile annotates the logger with a workspace file name when available.
func WithFile(log pslog.Logger, name string) pslog.Logger {
	if name != "" {
		log = log.With("file", name)
	}
	return log
}
