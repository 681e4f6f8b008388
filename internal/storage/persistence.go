package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"pkt.systems/pslog"

	"github.com/michaelbrown/playground/internal/logx"
	"github.com/michaelbrown/playground/internal/workspace"
)

// Theme is the editor colour scheme.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"

	DefaultTheme = ThemeDark
)

// ParseTheme returns the canonical theme for name.
func ParseTheme(name string) (Theme, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dark", "vs-dark":
		return ThemeDark, true
	case "light", "vs", "vs-light":
		return ThemeLight, true
	default:
		return "", false
	}
}

// Persistence saves and restores the workspace and theme through a KV.
// Loads never fail: anything missing or unreadable degrades to defaults.
type Persistence struct {
	kv  KV
	log pslog.Logger
}

var _ workspace.Persister = (*Persistence)(nil)

// NewPersistence wraps kv. A nil logger discards.
func NewPersistence(kv KV, logger pslog.Logger) *Persistence {
	return &Persistence{kv: kv, log: logx.Or(logger)}
}

// Save writes the files and entry file together.
func (p *Persistence) Save(ctx context.Context, s workspace.Snapshot) error {
	files, err := json.Marshal(s.Files)
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	return p.kv.PutMany(ctx, map[string]string{
		KeyFiles:     string(files),
		KeyEntryFile: s.EntryFile,
	})
}

// Load returns the persisted workspace, or the default workspace when the
// files are missing or corrupt. A stale entry file is repaired.
func (p *Persistence) Load(ctx context.Context) workspace.Snapshot {
	raw, ok, err := p.kv.Get(ctx, KeyFiles)
	if err != nil {
		p.log.Warn("workspace load failed", "key", KeyFiles, "err", err)
		return workspace.Default()
	}
	if !ok {
		p.log.Debug("workspace load miss")
		return workspace.Default()
	}

	var files workspace.Files
	if err := json.Unmarshal([]byte(raw), &files); err != nil {
		p.log.Warn("workspace files corrupt, using default", "err", err)
		return workspace.Default()
	}

	entry, ok, err := p.kv.Get(ctx, KeyEntryFile)
	if err != nil {
		p.log.Warn("workspace load failed", "key", KeyEntryFile, "err", err)
	}
	if !ok && len(files) > 0 {
		entry = files[0].Name
	}

	snap := workspace.Normalize(workspace.Snapshot{Files: files, EntryFile: entry})
	p.log.Debug("workspace load ok", "files", len(snap.Files), "entry", snap.EntryFile)
	return snap
}

// SaveTheme stores the theme.
func (p *Persistence) SaveTheme(ctx context.Context, t Theme) error {
	if _, ok := ParseTheme(string(t)); !ok {
		return fmt.Errorf("unknown theme %q", t)
	}
	return p.kv.Put(ctx, KeyTheme, string(t))
}

// LoadTheme returns the stored theme, or DefaultTheme.
func (p *Persistence) LoadTheme(ctx context.Context) Theme {
	raw, ok, err := p.kv.Get(ctx, KeyTheme)
	if err != nil {
		p.log.Warn("theme load failed", "err", err)
		return DefaultTheme
	}
	if !ok {
		return DefaultTheme
	}
	t, ok := ParseTheme(raw)
	if !ok {
		p.log.Warn("unknown stored theme, using default", "theme", raw)
		return DefaultTheme
	}
	return t
}
