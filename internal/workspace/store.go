// Package workspace holds the in-memory set of files being edited and the
// designated entry file.
//
// Every mutation goes through Store, which validates it, hands the resulting
// snapshot to the Persister, and only then commits it and notifies
// subscribers. A failed mutation leaves the workspace exactly as it was.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"

	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
)

var (
	// ErrNotFound indicates a referenced file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrDuplicateName indicates a name collision, or an empty name.
	ErrDuplicateName = errors.New("duplicate file name")
)

// Persister durably stores workspace snapshots.
type Persister interface {
	Save(ctx context.Context, s Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets where snapshots are saved after each mutation.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persist = p }
}

// WithLogger sets the store logger.
func WithLogger(l pslog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithDefaultExt sets the extension ImportFile gives names without one.
func WithDefaultExt(ext string) Option {
	return func(s *Store) { s.defaultExt = ext }
}

// Store owns the workspace. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	state Snapshot

	// notifyMu is held for a whole mutation, including notification, so
	// subscribers see snapshots in commit order. It is always taken
	// before mu and never while holding it.
	notifyMu sync.Mutex
	subs     map[int]func(Snapshot)
	nextSub  int

	persist    Persister
	log        pslog.Logger
	defaultExt string
}

// NewStore creates a store holding initial (normalised).
func NewStore(initial Snapshot, opts ...Option) *Store {
	s := &Store{
		state: Normalize(initial),
		subs:  make(map[int]func(Snapshot)),
		log:   logx.Discard(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Snapshot returns the current workspace.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// File returns the content of name.
func (s *Store) File(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.Files.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return c, nil
}

// Subscribe registers fn to receive every committed snapshot. fn runs on the
// mutating goroutine; it may read the store but must not call Subscribe or
// mutating Store methods.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.subs, id)
	}
}

// EditFile replaces the content of an existing file.
func (s *Store) EditFile(ctx context.Context, name, content string) error {
	return s.mutate(ctx, "edit", func(cur Snapshot) (Snapshot, error) {
		i := cur.Files.Index(name)
		if i < 0 {
			return cur, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		next := cur.Files.Clone()
		next[i].Content = content
		return Snapshot{Files: next, EntryFile: cur.EntryFile}, nil
	})
}

// AddFile inserts a new file and makes it the entry file.
func (s *Store) AddFile(ctx context.Context, name, content string) error {
	return s.mutate(ctx, "add", func(cur Snapshot) (Snapshot, error) {
		if err := checkNewName(cur.Files, name); err != nil {
			return cur, err
		}
		return insert(cur, name, content), nil
	})
}

// RenameFile renames oldName to newName, keeping its content, position and
// entry designation. Renaming a file to its own name succeeds and changes
// nothing.
func (s *Store) RenameFile(ctx context.Context, oldName, newName string) error {
	return s.mutate(ctx, "rename", func(cur Snapshot) (Snapshot, error) {
		i := cur.Files.Index(oldName)
		if i < 0 {
			return cur, fmt.Errorf("%w: %q", ErrNotFound, oldName)
		}
		if oldName == newName {
			return cur, errUnchanged
		}
		if err := checkNewName(cur.Files, newName); err != nil {
			return cur, err
		}
		next := cur.Files.Clone()
		next[i].Name = newName
		entry := cur.EntryFile
		if entry == oldName {
			entry = newName
		}
		return Snapshot{Files: next, EntryFile: entry}, nil
	})
}

// RemoveFile deletes name. If it was the entry file, the first remaining
// file becomes the entry, or NoEntry if the workspace is now empty.
func (s *Store) RemoveFile(ctx context.Context, name string) error {
	return s.mutate(ctx, "remove", func(cur Snapshot) (Snapshot, error) {
		i := cur.Files.Index(name)
		if i < 0 {
			return cur, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		next := make(Files, 0, len(cur.Files)-1)
		next = append(next, cur.Files[:i]...)
		next = append(next, cur.Files[i+1:]...)
		entry := cur.EntryFile
		if entry == name {
			entry = firstName(next)
		}
		return Snapshot{Files: next, EntryFile: entry}, nil
	})
}

// ImportFile adds a file like AddFile, but a colliding name is
// disambiguated with a numeric suffix ("util.py" -> "util_1.py") instead of
// failing. It returns the name the file was stored under.
func (s *Store) ImportFile(ctx context.Context, name, content string) (string, error) {
	var stored string
	err := s.mutate(ctx, "import", func(cur Snapshot) (Snapshot, error) {
		stored = UniqueName(cur.Files, s.importName(name))
		return insert(cur, stored, content), nil
	})
	if err != nil {
		return "", err
	}
	return stored, nil
}

// SetEntry designates name as the entry file.
func (s *Store) SetEntry(ctx context.Context, name string) error {
	return s.mutate(ctx, "set entry", func(cur Snapshot) (Snapshot, error) {
		if !cur.Files.Has(name) {
			return cur, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		if cur.EntryFile == name {
			return cur, errUnchanged
		}
		return Snapshot{Files: cur.Files, EntryFile: name}, nil
	})
}

// Replace swaps the whole workspace for snap, as when a shared workspace is
// opened. snap is normalised first.
func (s *Store) Replace(ctx context.Context, snap Snapshot) error {
	return s.mutate(ctx, "replace", func(Snapshot) (Snapshot, error) {
		n := Normalize(snap)
		n.Files = n.Files.Clone()
		return n, nil
	})
}

// errUnchanged short-circuits a mutation that would not change anything.
var errUnchanged = errors.New("unchanged")

func (s *Store) mutate(ctx context.Context, op string, fn func(Snapshot) (Snapshot, error)) error {
	// notifyMu serialises mutations, so state cannot change between the
	// read and the commit below.
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	cur := s.state
	s.mu.RUnlock()

	next, err := fn(cur)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	if err != nil {
		s.log.Debug("workspace mutation rejected", "op", op, "err", err)
		return err
	}
	if s.persist != nil {
		if err := s.persist.Save(ctx, next); err != nil {
			s.log.Warn("workspace save failed", "op", op, "err", err)
			return fmt.Errorf("saving workspace: %w", err)
		}
	}

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	s.log.Debug("workspace updated", "op", op, "files", len(next.Files), "entry", next.EntryFile)
	for _, fn := range s.subscribers() {
		fn(next)
	}
	return nil
}

// subscribers returns the callbacks in registration order. Caller holds
// notifyMu.
func (s *Store) subscribers() []func(Snapshot) {
	out := make([]func(Snapshot), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (s *Store) importName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "untitled"
	}
	if s.defaultExt != "" && !strings.HasSuffix(name, s.defaultExt) {
		name += s.defaultExt
	}
	return name
}

func checkNewName(fs Files, name string) error {
	if name == "" {
		return fmt.Errorf("%w: file name is empty", ErrDuplicateName)
	}
	if fs.Has(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	return nil
}

func insert(cur Snapshot, name, content string) Snapshot {
	next := make(Files, 0, len(cur.Files)+1)
	next = append(next, cur.Files...)
	next = append(next, File{Name: name, Content: content})
	return Snapshot{Files: next, EntryFile: name}
}

// UniqueName returns name if it is free in fs, otherwise the first free
// "stem_N.ext" with N counting up from 1.
func UniqueName(fs Files, name string) string {
	if !fs.Has(name) {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := stem + "_" + strconv.Itoa(n) + ext
		if !fs.Has(candidate) {
			return candidate
		}
	}
}
