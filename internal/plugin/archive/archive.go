// Package archive reads module archives: zip files holding class sources,
// resources and a module.yaml metadata record.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zip"

	"github.com/dshills/modhost/internal/plugin/isolation"
)

// ErrUnreadable is returned when an archive cannot be opened as a zip file.
var ErrUnreadable = errors.New("archive is unreadable")

// Handle is an open archive. Close must be called when done; callers scope
// a Handle to a single operation.
type Handle struct {
	path  string
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

// Open opens the archive at path.
func Open(path string) (*Handle, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadable, path, err)
	}
	files := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files[normalize(f.Name)] = f
	}
	return &Handle{path: path, rc: rc, files: files}, nil
}

// Path returns the archive path.
func (h *Handle) Path() string { return h.path }

// Has reports whether the archive contains name.
func (h *Handle) Has(name string) bool {
	_, ok := h.files[normalize(name)]
	return ok
}

// Names returns the sorted entry names.
func (h *Handle) Names() []string {
	names := make([]string, 0, len(h.files))
	for name := range h.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entry reads name. The returned entry carries the size declared by the zip
// directory next to the bytes actually read so callers can detect damage.
func (h *Handle) Entry(name string) (*isolation.Entry, error) {
	f, ok := h.files[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s in %s", isolation.ErrEntryNotFound, name, h.path)
	}

	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", isolation.ErrArchiveCorrupt, name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", isolation.ErrArchiveCorrupt, name, err)
	}
	return &isolation.Entry{
		Name:         f.Name,
		DeclaredSize: int64(f.UncompressedSize64),
		Data:         data,
	}, nil
}

// Close releases the archive.
func (h *Handle) Close() error {
	return h.rc.Close()
}

// Source is an isolation.Source backed by an archive on disk. Every Lookup
// opens the archive, reads one entry and closes it again, so no handle
// outlives the call.
type Source struct {
	path string
}

// NewSource creates a Source for the archive at path.
func NewSource(path string) *Source {
	return &Source{path: path}
}

// Name returns the archive path.
func (s *Source) Name() string { return s.path }

// Lookup reads entry from the archive.
func (s *Source) Lookup(entry string) (*isolation.Entry, error) {
	h, err := Open(s.path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.Entry(entry)
}

// Fingerprint hashes the archive's bytes. Two archives with equal content
// have equal fingerprints.
func Fingerprint(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, err
	}
	return d.Sum64(), nil
}

// Write creates a zip archive at path holding files. Entry names use
// forward slashes.
func Write(path string, files map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(out)
	for _, name := range names {
		w, err := zw.Create(normalize(name))
		if err != nil {
			out.Close()
			return err
		}
		if _, err := w.Write(files[name]); err != nil {
			out.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Pack builds an archive at path from the regular files under dir.
func Pack(dir, path string) error {
	files := make(map[string][]byte)
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return err
	}
	return Write(path, files)
}

func normalize(name string) string {
	return strings.TrimPrefix(filepath.ToSlash(name), "/")
}
