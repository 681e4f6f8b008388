package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/playground/internal/workspace"
)

// manifest is the YAML layout of an exported workspace. A list keeps file
// order stable across tools that sort mapping keys.
type manifest struct {
	Entry string           `yaml:"entry"`
	Files []workspace.File `yaml:"files"`
}

// ExportMarkdown renders a workspace as a markdown document, one fenced block
// per file.
func ExportMarkdown(s workspace.Snapshot) string {
	var b strings.Builder

	b.WriteString("# Playground workspace\n\n")
	if s.EntryFile != workspace.NoEntry {
		b.WriteString(fmt.Sprintf("- **Entry:** `%s`\n", s.EntryFile))
	}
	b.WriteString(fmt.Sprintf("- **Files:** %d\n", len(s.Files)))
	b.WriteString("\n---\n\n")

	for _, f := range s.Files {
		b.WriteString(fmt.Sprintf("## %s\n\n", f.Name))
		b.WriteString(fmt.Sprintf("```%s\n%s", fenceLang(f.Name), f.Content))
		if !strings.HasSuffix(f.Content, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("```\n\n")
	}

	return b.String()
}

// ExportJSON renders a workspace in the share wire format.
func ExportJSON(s workspace.Snapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ExportYAML renders a workspace as a YAML manifest.
func ExportYAML(s workspace.Snapshot) ([]byte, error) {
	return yaml.Marshal(manifest{Entry: s.EntryFile, Files: s.Files})
}

// ParseManifest reads a workspace from a YAML manifest or from the JSON
// share format.
func ParseManifest(data []byte) (workspace.Snapshot, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		var s workspace.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return workspace.Snapshot{}, fmt.Errorf("parsing json manifest: %w", err)
		}
		return workspace.Normalize(s), nil
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return workspace.Snapshot{}, fmt.Errorf("parsing yaml manifest: %w", err)
	}
	return workspace.Normalize(workspace.Snapshot{Files: m.Files, EntryFile: m.Entry}), nil
}

func fenceLang(name string) string {
	switch path.Ext(name) {
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".go":
		return "go"
	case ".rb":
		return "ruby"
	default:
		return ""
	}
}
