package isolation

import (
	"fmt"
	"sort"
	"strings"
)

// Entry is one file read from a Source.
type Entry struct {
	// Name is the entry path within the source.
	Name string

	// DeclaredSize is the size recorded by the source's directory.
	DeclaredSize int64

	// Data holds the bytes actually read.
	Data []byte
}

// Source is one searchable unit of a boundary, typically a module archive.
// Implementations open and release any underlying handle within Lookup.
type Source interface {
	// Name identifies the source, usually the archive path.
	Name() string

	// Lookup reads an entry. It returns an error wrapping ErrEntryNotFound
	// when the entry does not exist.
	Lookup(entry string) (*Entry, error)
}

// Definer turns class bytes into a Definition inside a boundary's private
// runtime. Each definer handles one entry extension.
type Definer interface {
	// Extension is the entry suffix handled, including the dot (".lua").
	Extension() string

	// Define compiles src as class name inside b.
	Define(b *Boundary, name string, src []byte) (Definition, error)
}

// Runtime is per-boundary state created lazily by a Definer.
type Runtime interface {
	Close() error
}

// ClassPath converts a dotted class name to its entry path without
// extension: "acme.greet.Greeter" -> "acme/greet/Greeter".
func ClassPath(name string) string {
	return strings.ReplaceAll(name, ".", "/")
}

// ClassName converts an entry path to a dotted class name, dropping the
// extension: "acme/greet/Greeter.lua" -> "acme.greet.Greeter".
func ClassName(entryPath string) string {
	p := strings.TrimPrefix(entryPath, "/")
	if i := strings.LastIndex(p, "."); i > strings.LastIndex(p, "/") {
		p = p[:i]
	}
	return strings.ReplaceAll(p, "/", ".")
}

// MemorySource is an in-memory Source. DeclaredSizes overrides the declared
// size of individual entries.
type MemorySource struct {
	SourceName    string
	Files         map[string][]byte
	DeclaredSizes map[string]int64
}

// Name returns the source name.
func (m *MemorySource) Name() string { return m.SourceName }

// Lookup returns a copy of the named file.
func (m *MemorySource) Lookup(entry string) (*Entry, error) {
	data, ok := m.Files[entry]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, entry, m.SourceName)
	}
	size := int64(len(data))
	if declared, ok := m.DeclaredSizes[entry]; ok {
		size = declared
	}
	return &Entry{
		Name:         entry,
		DeclaredSize: size,
		Data:         append([]byte(nil), data...),
	}, nil
}

// Entries returns the sorted entry names.
func (m *MemorySource) Entries() []string {
	names := make([]string, 0, len(m.Files))
	for name := range m.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
