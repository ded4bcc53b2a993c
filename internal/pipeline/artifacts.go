package pipeline

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Artifacts receives the human-readable reports each stage produces.
type Artifacts interface {
	// WriteMarkdown stores body as <name>.md.
	WriteMarkdown(name, body string) error
	// WriteJSON stores v, indented, as <name>.json.
	WriteJSON(name string, v any) error
	// Path is where <file> lives, for the final report's path list.
	Path(file string) string
}

// DirArtifacts writes reports into a directory, creating it on first use.
type DirArtifacts struct {
	dir string
}

// NewDirArtifacts returns a sink writing into dir.
func NewDirArtifacts(dir string) *DirArtifacts {
	return &DirArtifacts{dir: dir}
}

// WriteMarkdown implements Artifacts.
func (d *DirArtifacts) WriteMarkdown(name, body string) error {
	return d.write(name+".md", []byte(body))
}

// WriteJSON implements Artifacts.
func (d *DirArtifacts) WriteJSON(name string, v any) error {
	b, err := marshalReport(v)
	if err != nil {
		return eris.Wrapf(err, "artifacts: encode %s", name)
	}
	return d.write(name+".json", b)
}

// Path implements Artifacts.
func (d *DirArtifacts) Path(file string) string {
	return filepath.Join(d.dir, file)
}

func (d *DirArtifacts) write(file string, b []byte) error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return eris.Wrapf(err, "artifacts: create %s", d.dir)
	}
	return eris.Wrapf(os.WriteFile(d.Path(file), b, 0o644), "artifacts: write %s", file)
}

// MemoryArtifacts keeps reports in memory.
type MemoryArtifacts struct {
	mu    sync.Mutex
	files map[string][]byte
}

// NewMemoryArtifacts returns an empty in-memory sink.
func NewMemoryArtifacts() *MemoryArtifacts {
	return &MemoryArtifacts{files: make(map[string][]byte)}
}

// WriteMarkdown implements Artifacts.
func (m *MemoryArtifacts) WriteMarkdown(name, body string) error {
	m.put(name+".md", []byte(body))
	return nil
}

// WriteJSON implements Artifacts.
func (m *MemoryArtifacts) WriteJSON(name string, v any) error {
	b, err := marshalReport(v)
	if err != nil {
		return eris.Wrapf(err, "artifacts: encode %s", name)
	}
	m.put(name+".json", b)
	return nil
}

// Path implements Artifacts.
func (m *MemoryArtifacts) Path(file string) string {
	return filepath.Join("reports", file)
}

// Get returns a stored file.
func (m *MemoryArtifacts) Get(file string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[file]
	return string(b), ok
}

// Files lists stored file names in sorted order.
func (m *MemoryArtifacts) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for f := range m.files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (m *MemoryArtifacts) put(file string, b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[file] = b
}

// marshalReport renders indented JSON without escaping non-ASCII or HTML.
func marshalReport(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
