package server

import (
	"context"
	"testing"
)

func TestSessionManager_AddRemove(t *testing.T) {
	sm := NewSessionManager()
	defer sm.CloseAll()

	ctx, cancel := context.WithCancel(context.Background())
	sm.Add("run-1", &ActiveSession{Cancel: cancel})

	if sm.Count() != 1 {
		t.Errorf("Count = %d, want 1", sm.Count())
	}

	sm.Remove("run-1")

	if sm.Count() != 0 {
		t.Errorf("Count after Remove = %d, want 0", sm.Count())
	}
	if ctx.Err() == nil {
		t.Error("expected Remove to cancel the session")
	}
	sm.Remove("run-1")
}

func TestSessionManager_CloseAll(t *testing.T) {
	sm := NewSessionManager()

	var ctxs []context.Context
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		ctxs = append(ctxs, ctx)
		sm.Add("session-"+string(rune('a'+i)), &ActiveSession{Cancel: cancel})
	}

	sm.CloseAll()

	if sm.Count() != 0 {
		t.Error("expected all sessions to be cleared")
	}
	for i, ctx := range ctxs {
		if ctx.Err() == nil {
			t.Errorf("session %d not cancelled", i)
		}
	}
}
