package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/michaelbrown/playground/internal/workspace"
)

// Keys under which the client state is persisted. Each is loadable and
// saveable on its own.
const (
	KeyFiles     = "files"
	KeyEntryFile = "entryFile"
	KeyTheme     = "theme"
)

// ErrShareNotFound is returned by ShareStore when an id is unknown.
var ErrShareNotFound = errors.New("share not found")

// KV is a durable string key/value store.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key, replacing any previous value.
	Put(ctx context.Context, key, value string) error

	// PutMany stores several keys atomically.
	PutMany(ctx context.Context, values map[string]string) error

	// Close releases resources.
	Close() error
}

// ShareRecord is a published workspace snapshot.
type ShareRecord struct {
	ID        string             `json:"id"`
	Snapshot  workspace.Snapshot `json:"snapshot"`
	CreatedAt time.Time          `json:"created_at"`
}

// ShareStore persists published snapshots. Records are immutable once
// created.
type ShareStore interface {
	// CreateShare inserts a record. The ID field must be set by the caller.
	CreateShare(ctx context.Context, rec *ShareRecord) error

	// GetShare returns a record by ID.
	GetShare(ctx context.Context, id string) (*ShareRecord, error)
}

// MemoryKV is an in-memory KV, mostly for tests.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryKV) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryKV) PutMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryKV) Close() error { return nil }
