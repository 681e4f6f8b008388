package server

import (
	"context"
	"sync"

	"github.com/michaelbrown/playground/internal/sandbox"
)

// ActiveSession tracks a program running for one websocket client.
type ActiveSession struct {
	Process *sandbox.Process
	Cancel  context.CancelFunc // stops the program and its websocket
}

// SessionManager tracks the streaming runs in flight.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ActiveSession
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ActiveSession),
	}
}

// Add registers a running session.
func (sm *SessionManager) Add(sessionID string, as *ActiveSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[sessionID] = as
}

// Count returns the number of running sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Remove removes an active session and cancels any in-flight work.
func (sm *SessionManager) Remove(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if as, ok := sm.sessions[sessionID]; ok {
		if as.Cancel != nil {
			as.Cancel()
		}
		delete(sm.sessions, sessionID)
	}
}

// CloseAll cancels all active sessions.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, as := range sm.sessions {
		if as.Cancel != nil {
			as.Cancel()
		}
		delete(sm.sessions, id)
	}
}
