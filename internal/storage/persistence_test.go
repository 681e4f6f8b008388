package storage

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/michaelbrown/playground/internal/workspace"
)

type failingKV struct{ MemoryKV }

func (f *failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("io error")
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := NewMemoryKV()
	p := NewPersistence(kv, nil)
	ctx := context.Background()

	snap := workspace.Snapshot{
		Files:     workspace.Files{{Name: "b.py", Content: "B"}, {Name: "a.py", Content: "A"}},
		EntryFile: "a.py",
	}
	if err := p.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := p.Load(ctx)
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("Load = %+v, want %+v", got, snap)
	}
}

func TestPersistenceLoadMissingReturnsDefault(t *testing.T) {
	p := NewPersistence(NewMemoryKV(), nil)

	got := p.Load(context.Background())
	if !reflect.DeepEqual(got, workspace.Default()) {
		t.Errorf("Load = %+v, want default", got)
	}
}

func TestPersistenceLoadCorruptReturnsDefault(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	kv.Put(ctx, KeyFiles, "{not json")
	kv.Put(ctx, KeyEntryFile, "x.py")

	got := NewPersistence(kv, nil).Load(ctx)
	if !reflect.DeepEqual(got, workspace.Default()) {
		t.Errorf("Load = %+v, want default", got)
	}
}

func TestPersistenceLoadReadErrorReturnsDefault(t *testing.T) {
	got := NewPersistence(&failingKV{}, nil).Load(context.Background())
	if !reflect.DeepEqual(got, workspace.Default()) {
		t.Errorf("Load = %+v, want default", got)
	}
}

func TestPersistenceRepairsStaleEntry(t *testing.T) {
	kv := NewMemoryKV()
	ctx := context.Background()
	kv.Put(ctx, KeyFiles, `{"one.py":"1","two.py":"2"}`)
	kv.Put(ctx, KeyEntryFile, "deleted.py")

	got := NewPersistence(kv, nil).Load(ctx)
	if got.EntryFile != "one.py" {
		t.Errorf("entry = %q, want one.py", got.EntryFile)
	}
}

func TestPersistenceEmptyWorkspaceStaysEmpty(t *testing.T) {
	kv := NewMemoryKV()
	p := NewPersistence(kv, nil)
	ctx := context.Background()

	if err := p.Save(ctx, workspace.Snapshot{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := p.Load(ctx)
	if len(got.Files) != 0 || got.EntryFile != workspace.NoEntry {
		t.Errorf("Load = %+v, want empty workspace", got)
	}
}

func TestThemeDefaultsAndRoundTrip(t *testing.T) {
	kv := NewMemoryKV()
	p := NewPersistence(kv, nil)
	ctx := context.Background()

	if got := p.LoadTheme(ctx); got != ThemeDark {
		t.Errorf("LoadTheme on empty = %q, want dark", got)
	}
	if err := p.SaveTheme(ctx, ThemeLight); err != nil {
		t.Fatalf("SaveTheme: %v", err)
	}
	if got := p.LoadTheme(ctx); got != ThemeLight {
		t.Errorf("LoadTheme = %q, want light", got)
	}
	if err := p.SaveTheme(ctx, Theme("neon")); err == nil {
		t.Error("SaveTheme accepted unknown theme")
	}

	kv.Put(ctx, KeyTheme, "neon")
	if got := p.LoadTheme(ctx); got != DefaultTheme {
		t.Errorf("LoadTheme with garbage = %q, want default", got)
	}
}

func TestParseTheme(t *testing.T) {
	for in, want := range map[string]Theme{"Dark": ThemeDark, " light ": ThemeLight, "vs-dark": ThemeDark} {
		got, ok := ParseTheme(in)
		if !ok || got != want {
			t.Errorf("ParseTheme(%q) = %q, %v", in, got, ok)
		}
	}
	if _, ok := ParseTheme("solarized"); ok {
		t.Error("ParseTheme accepted solarized")
	}
}

func TestExportYAMLRoundTrip(t *testing.T) {
	snap := workspace.Snapshot{
		Files:     workspace.Files{{Name: "main.py", Content: "import util\n"}, {Name: "util.py", Content: "X = 1\n"}},
		EntryFile: "main.py",
	}
	data, err := ExportYAML(snap)
	if err != nil {
		t.Fatalf("ExportYAML: %v", err)
	}
	got, err := ParseManifest(data)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if !reflect.DeepEqual(got, snap) {
		t.Errorf("ParseManifest = %+v, want %+v", got, snap)
	}
}

func TestParseManifestJSON(t *testing.T) {
	got, err := ParseManifest([]byte(`{"files":{"a.py":"1"},"entryFile":"a.py"}`))
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if got.EntryFile != "a.py" || len(got.Files) != 1 {
		t.Errorf("got %+v", got)
	}
}

func TestExportMarkdown(t *testing.T) {
	md := ExportMarkdown(workspace.Default())
	if !strings.Contains(md, "## main.py") {
		t.Errorf("missing file heading:\n%s", md)
	}
	if !strings.Contains(md, "```python\n") {
		t.Errorf("missing python fence:\n%s", md)
	}
	if !strings.Contains(md, "- **Entry:** `main.py`") {
		t.Errorf("missing entry line:\n%s", md)
	}
}
