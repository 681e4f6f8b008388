// Package playground wires the workspace, its persistence, the execution
// controller and the share service into the operations a front end needs.
package playground

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/config"
	"github.com/michaelbrown/playground/internal/execution"
	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/share"
	"github.com/michaelbrown/playground/internal/storage"
	"github.com/michaelbrown/playground/internal/storage/sqlite"
	"github.com/michaelbrown/playground/internal/workspace"
)

// NewFileContent is what a file added without content starts with.
const NewFileContent = "# New file\n"

// Export formats.
const (
	FormatJSON     = "json"
	FormatYAML     = "yaml"
	FormatMarkdown = "markdown"
)

var (
	ErrUnknownTheme  = errors.New("unknown theme")
	ErrUnknownFormat = errors.New("unknown export format")
)

// Option configures an App.
type Option func(*App)

// WithKV uses kv for persistence instead of the sqlite database named in
// the config. The App does not close a KV passed this way.
func WithKV(kv storage.KV) Option {
	return func(a *App) { a.kv = kv }
}

// WithHTTPClient sets the client used for one-shot runs and sharing.
func WithHTTPClient(c *http.Client) Option {
	return func(a *App) { a.http = c }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l pslog.Logger) Option {
	return func(a *App) { a.log = logx.Or(l) }
}

// App is a single-user playground session.
type App struct {
	cfg     *config.Config
	kv      storage.KV
	ownsKV  bool
	persist *storage.Persistence
	store   *workspace.Store
	runner  *execution.Controller
	shares  *share.Client
	http    *http.Client
	log     pslog.Logger
}

// New restores the persisted workspace and returns a ready App.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:  cfg,
		http: http.DefaultClient,
		log:  logx.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.kv == nil {
		db, err := sqlite.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening workspace database: %w", err)
		}
		a.kv = db
		a.ownsKV = true
	}

	a.persist = storage.NewPersistence(a.kv, a.log)
	a.store = workspace.NewStore(a.persist.Load(ctx),
		workspace.WithPersister(a.persist),
		workspace.WithLogger(a.log),
		workspace.WithDefaultExt(cfg.Workspace.DefaultExt),
	)
	a.runner = execution.New(execution.WithLogger(a.log))
	a.shares = share.NewClient(cfg.Backend.URL, cfg.ShareBase(), a.http, a.log)
	return a, nil
}

// Close cancels any active run and releases storage.
func (a *App) Close() error {
	a.runner.Cancel()
	if a.ownsKV {
		return a.kv.Close()
	}
	return nil
}

// Workspace returns the workspace store.
func (a *App) Workspace() *workspace.Store { return a.store }

// Runner returns the execution controller.
func (a *App) Runner() *execution.Controller { return a.runner }

// Transport builds the transport for mode, or for the configured mode when
// mode is empty.
func (a *App) Transport(mode string) (execution.Transport, error) {
	if mode == "" {
		mode = a.cfg.Backend.Mode
	}
	switch mode {
	case config.ModeStream:
		return execution.NewStreamTransport(a.cfg.Backend.URL)
	case config.ModeOneShot:
		return execution.NewOneShotTransport(a.cfg.Backend.URL, a.http), nil
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", mode)
	}
}

// Run executes the current workspace. input is only sent by one-shot runs;
// streaming runs take input through SendInput.
func (a *App) Run(ctx context.Context, mode, input string) (execution.Session, error) {
	t, err := a.Transport(mode)
	if err != nil {
		return execution.Session{}, err
	}
	snap := a.store.Snapshot()
	a.log.Debug("run requested", "entry", snap.EntryFile, "mode", t.Mode(), "files", len(snap.Files))
	return a.runner.Run(ctx, t, execution.Request{Snapshot: snap, Input: input})
}

// Cancel stops the active run.
func (a *App) Cancel() { a.runner.Cancel() }

// SendInput forwards text to the running program.
func (a *App) SendInput(text string) error { return a.runner.SendInput(text) }

// ClearOutput empties the transcript.
func (a *App) ClearOutput() { a.runner.Reset() }

// AddFile creates a file and makes it the entry. Empty content gets
// NewFileContent.
func (a *App) AddFile(ctx context.Context, name, content string) error {
	if content == "" {
		content = NewFileContent
	}
	return a.store.AddFile(ctx, strings.TrimSpace(name), content)
}

// ImportPath reads a file from disk into the workspace and returns the name
// it was stored under.
func (a *App) ImportPath(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	name, err := a.store.ImportFile(ctx, filepath.Base(path), string(data))
	if err != nil {
		return "", err
	}
	logx.WithFile(a.log, name).Debug("file imported", "path", path)
	return name, nil
}

// LoadManifest replaces the workspace with a YAML or JSON manifest file.
func (a *App) LoadManifest(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	snap, err := storage.ParseManifest(data)
	if err != nil {
		return err
	}
	return a.store.Replace(ctx, snap)
}

// Export renders the workspace in format.
func (a *App) Export(format string) ([]byte, error) {
	snap := a.store.Snapshot()
	switch format {
	case FormatJSON:
		return storage.ExportJSON(snap)
	case FormatYAML:
		return storage.ExportYAML(snap)
	case FormatMarkdown, "md":
		return []byte(storage.ExportMarkdown(snap)), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
}

// Share publishes the workspace and returns a link to it.
func (a *App) Share(ctx context.Context) (string, error) {
	id, err := a.shares.Publish(ctx, a.store.Snapshot())
	if err != nil {
		return "", err
	}
	return a.shares.URL(id), nil
}

// OpenShared replaces the workspace with a shared one. ref is an id or a
// share link. On failure the workspace is left alone.
func (a *App) OpenShared(ctx context.Context, ref string) error {
	id := share.ParseLink(ref)
	if id == "" {
		return fmt.Errorf("%w: empty id", share.ErrShareNotFound)
	}
	snap, err := a.shares.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if err := a.store.Replace(ctx, snap); err != nil {
		return fmt.Errorf("opening shared workspace: %w", err)
	}
	a.log.Debug("shared workspace opened", "id", id, "files", len(snap.Files))
	return nil
}

// Theme returns the stored theme.
func (a *App) Theme(ctx context.Context) storage.Theme {
	return a.persist.LoadTheme(ctx)
}

// SetTheme stores the theme called name.
func (a *App) SetTheme(ctx context.Context, name string) (storage.Theme, error) {
	t, ok := storage.ParseTheme(name)
	if !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownTheme, name)
	}
	if err := a.persist.SaveTheme(ctx, t); err != nil {
		return "", fmt.Errorf("saving theme: %w", err)
	}
	return t, nil
}
