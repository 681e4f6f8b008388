package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// NoEntry is the entry file of an empty workspace.
const NoEntry = ""

// DefaultFileName and DefaultContent make up the built-in workspace used
// when nothing has been persisted yet.
const (
	DefaultFileName = "main.py"
	DefaultContent  = "# Write your Python code here\nprint(\"Hello, world!\")"
)

// File is a single named source file.
type File struct {
	Name    string `json:"name" yaml:"name"`
	Content string `json:"content" yaml:"content"`
}

// Files is an ordered set of files. It encodes as a JSON object mapping
// file name to content, keeping insertion order on the wire.
type Files []File

// Index returns the position of name, or -1.
func (fs Files) Index(name string) int {
	for i, f := range fs {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether a file called name exists.
func (fs Files) Has(name string) bool {
	return fs.Index(name) >= 0
}

// Get returns the content of name.
func (fs Files) Get(name string) (string, bool) {
	if i := fs.Index(name); i >= 0 {
		return fs[i].Content, true
	}
	return "", false
}

// Names returns the file names in display order.
func (fs Files) Names() []string {
	names := make([]string, len(fs))
	for i, f := range fs {
		names[i] = f.Name
	}
	return names
}

// Map returns the files as a plain map.
func (fs Files) Map() map[string]string {
	m := make(map[string]string, len(fs))
	for _, f := range fs {
		m[f.Name] = f.Content
	}
	return m
}

// Clone returns a copy that shares no backing array with fs.
func (fs Files) Clone() Files {
	if fs == nil {
		return nil
	}
	out := make(Files, len(fs))
	copy(out, fs)
	return out
}

// MarshalJSON writes {"name": "content", ...} in slice order.
func (fs Files) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Content)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads a JSON object in document order. A repeated key keeps
// its first position and its last value.
func (fs *Files) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*fs = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("files: expected object, got %v", tok)
	}

	out := Files{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("files: expected string key, got %v", tok)
		}
		var content string
		if err := dec.Decode(&content); err != nil {
			return fmt.Errorf("files: value for %q: %w", name, err)
		}
		if i := out.Index(name); i >= 0 {
			out[i].Content = content
			continue
		}
		out = append(out, File{Name: name, Content: content})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*fs = out
	return nil
}

// Snapshot is an immutable view of a workspace.
type Snapshot struct {
	Files     Files  `json:"files"`
	EntryFile string `json:"entryFile"`
}

// Default returns the built-in workspace.
func Default() Snapshot {
	return Snapshot{
		Files:     Files{{Name: DefaultFileName, Content: DefaultContent}},
		EntryFile: DefaultFileName,
	}
}

// EntryContent returns the source of the entry file.
func (s Snapshot) EntryContent() string {
	c, _ := s.Files.Get(s.EntryFile)
	return c
}

// Normalize returns a copy of s that satisfies the workspace invariants:
// no empty or repeated names, and an entry file that exists (falling back to
// the first file, or NoEntry when there are none).
func Normalize(s Snapshot) Snapshot {
	out := Snapshot{Files: make(Files, 0, len(s.Files))}
	for _, f := range s.Files {
		if f.Name == "" || out.Files.Has(f.Name) {
			continue
		}
		out.Files = append(out.Files, f)
	}
	out.EntryFile = s.EntryFile
	if !out.Files.Has(out.EntryFile) {
		out.EntryFile = firstName(out.Files)
	}
	return out
}

func firstName(fs Files) string {
	if len(fs) == 0 {
		return NoEntry
	}
	return fs[0].Name
}
