// Package watcher mirrors a directory on disk into the workspace, so files
// can be edited with any local editor.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/workspace"
)

const (
	defaultDebounce = 300 * time.Millisecond
	maxFileBytes    = 1 << 20
)

// excludedDirs are never mirrored.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"__pycache__":  true,
	"vendor":       true,
}

// Sink receives directory snapshots. *workspace.Store implements it.
type Sink interface {
	Snapshot() workspace.Snapshot
	Replace(ctx context.Context, s workspace.Snapshot) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long the directory must be quiet before a sync.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the watcher logger.
func WithLogger(l pslog.Logger) Option {
	return func(w *Watcher) { w.log = logx.Or(l) }
}

// WithOnSync registers a callback run after every successful sync.
func WithOnSync(fn func(workspace.Snapshot)) Option {
	return func(w *Watcher) { w.onSync = fn }
}

// Watcher keeps a Sink in step with a directory.
type Watcher struct {
	dir      string
	sink     Sink
	debounce time.Duration
	log      pslog.Logger
	onSync   func(workspace.Snapshot)

	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a watcher for dir. Call Start to begin mirroring.
func New(dir string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		sink:     sink,
		debounce: defaultDebounce,
		log:      logx.Discard(),
		cancel:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start syncs once, then keeps syncing on change until Close or ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := addDirsRecursive(fsW, w.dir); err != nil {
		fsW.Close()
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	if err := w.Sync(ctx); err != nil {
		fsW.Close()
		return err
	}

	w.fsWatcher = fsW
	go w.watchLoop(ctx)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.cancel)
		if w.fsWatcher != nil {
			w.fsWatcher.Close()
			<-w.done
		}
	})
}

// Sync replaces the workspace with the directory contents. The current
// entry file is kept when it still exists.
func (w *Watcher) Sync(ctx context.Context) error {
	files, err := ReadDir(w.dir)
	if err != nil {
		return err
	}
	snap := workspace.Snapshot{Files: files, EntryFile: w.sink.Snapshot().EntryFile}
	if !files.Has(snap.EntryFile) && files.Has(workspace.DefaultFileName) {
		snap.EntryFile = workspace.DefaultFileName
	}
	snap = workspace.Normalize(snap)

	if err := w.sink.Replace(ctx, snap); err != nil {
		return fmt.Errorf("syncing %s: %w", w.dir, err)
	}
	w.log.Debug("directory synced", "dir", w.dir, "files", len(snap.Files), "entry", snap.EntryFile)
	if w.onSync != nil {
		w.onSync(snap)
	}
	return nil
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-w.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case <-fire:
			if err := w.Sync(ctx); err != nil {
				w.log.Warn("directory sync failed", "dir", w.dir, "err", err)
			}

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !skipDir(filepath.Base(event.Name)) {
						w.fsWatcher.Add(event.Name)
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "dir", w.dir, "err", err)
		}
	}
}

// ReadDir loads the mirrorable files under dir, named by slash-separated
// relative path, in lexical order. Hidden files, excluded directories and
// files over 1 MiB are skipped.
func ReadDir(dir string) (workspace.Files, error) {
	files := workspace.Files{}
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil // Skip inaccessible paths.
		}
		name := d.Name()
		if d.IsDir() {
			if path != dir && skipDir(name) {
				return filepath.SkipDir
			}
			return nil
		}
		if isHidden(name) || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxFileBytes {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		files = append(files, workspace.File{Name: filepath.ToSlash(rel), Content: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	return files, nil
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipDir(name string) bool {
	return excludedDirs[name] || isHidden(name)
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
