package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/modhost/internal/plugin/archive"
	"github.com/dshills/modhost/internal/plugin/isolation"
)

// MetadataFile is the metadata record at the root of an archive.
const MetadataFile = "module.yaml"

// SidecarSuffix names the metadata file kept beside an archive. A sidecar
// takes precedence over the embedded record.
const SidecarSuffix = ".module.yaml"

// MarkerKey is the entry attribute that designates the entry point.
const MarkerKey = "module"

// Recognized entry-point keys. Everything else is an opaque property.
const (
	KeyName        = "name"
	KeyType        = "type"
	KeyDescription = "description"
	KeyIcon        = "icon"
	KeyVersion     = "version"
	KeyHelp        = "help"
	KeyFactory     = "factory"
)

var recognizedKeys = map[string]bool{
	MarkerKey:      true,
	KeyName:        true,
	KeyType:        true,
	KeyDescription: true,
	KeyIcon:        true,
	KeyVersion:     true,
	KeyHelp:        true,
	KeyFactory:     true,
}

// Record is a parsed metadata file: main attributes plus per-entry
// attribute maps keyed by entry path.
type Record struct {
	Attributes map[string]any            `yaml:"attributes"`
	Entries    map[string]map[string]any `yaml:"entries"`
}

// ParseRecord decodes a metadata record.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMetadata, err)
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	if r.Entries == nil {
		r.Entries = make(map[string]map[string]any)
	}
	return &r, nil
}

// ReadMetadata opens the archive at path and returns its metadata record,
// preferring a sidecar file over the embedded module.yaml. The archive is
// closed before ReadMetadata returns.
func ReadMetadata(path string) (*Record, error) {
	h, err := archive.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableArchive, err)
	}
	defer h.Close()

	data, err := os.ReadFile(path + SidecarSuffix)
	switch {
	case err == nil:
		return ParseRecord(data)
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: sidecar: %w", ErrUnreadableArchive, err)
	}

	if !h.Has(MetadataFile) {
		return nil, ErrNoMetadata
	}
	e, err := h.Entry(MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableArchive, err)
	}
	if int64(len(e.Data)) != e.DeclaredSize {
		return nil, fmt.Errorf("%w: %w: %s", ErrUnreadableArchive, isolation.ErrArchiveCorrupt, MetadataFile)
	}
	return ParseRecord(e.Data)
}

// EntryPoint returns the path and attributes of the single entry carrying
// the module marker.
func (r *Record) EntryPoint() (string, map[string]any, error) {
	paths := make([]string, 0, len(r.Entries))
	for p, attrs := range r.Entries {
		if isMarker(attrs[MarkerKey]) {
			paths = append(paths, p)
		}
	}
	switch len(paths) {
	case 0:
		return "", nil, ErrNoEntryPoint
	case 1:
		return paths[0], r.Entries[paths[0]], nil
	default:
		sort.Strings(paths)
		return "", nil, fmt.Errorf("%w: %v", ErrMultipleEntryPoints, paths)
	}
}

func isMarker(v any) bool {
	switch m := v.(type) {
	case bool:
		return m
	case string:
		return m == "true"
	default:
		return false
	}
}

// Metadata is the validated view of a module's entry point.
type Metadata struct {
	Name        string
	Type        string
	Description string
	Icon        string
	Version     string
	Help        string

	// Factory optionally names the constructor NewInstance must use.
	Factory string

	// EntryPath is the archive entry of the entry class.
	EntryPath string

	// EntryClass is the dotted class name derived from EntryPath.
	EntryClass string

	// Properties holds every unrecognized key. Entry keys shadow main
	// attributes of the same name.
	Properties map[string]any

	propsJSON string
}

// ParseMetadata extracts the entry point of r. Recognized keys missing from
// the entry fall back to the main attributes.
func ParseMetadata(r *Record) (*Metadata, error) {
	entryPath, attrs, err := r.EntryPoint()
	if err != nil {
		return nil, err
	}

	field := func(key string) string {
		if v, ok := attrs[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		if v, ok := r.Attributes[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
		return ""
	}

	m := &Metadata{
		Name:        field(KeyName),
		Type:        field(KeyType),
		Description: field(KeyDescription),
		Icon:        field(KeyIcon),
		Version:     field(KeyVersion),
		Help:        field(KeyHelp),
		Factory:     field(KeyFactory),
		EntryPath:   entryPath,
		EntryClass:  isolation.ClassName(entryPath),
		Properties:  make(map[string]any),
	}
	for k, v := range r.Attributes {
		if !recognizedKeys[k] {
			m.Properties[k] = v
		}
	}
	for k, v := range attrs {
		if !recognizedKeys[k] {
			m.Properties[k] = v
		}
	}

	data, err := json.Marshal(stringKeys(m.Properties))
	if err != nil {
		return nil, fmt.Errorf("%w: properties: %w", ErrInvalidMetadata, err)
	}
	m.propsJSON = string(data)
	return m, nil
}

// stringKeys returns v with every nested map keyed by strings. yaml.v3
// decodes mappings with non-string keys as map[any]any, which JSON cannot
// encode. v itself is not modified.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = stringKeys(e)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = stringKeys(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = stringKeys(e)
		}
		return out
	default:
		return v
	}
}

// Validate checks the mandatory fields and the declared type.
func (m *Metadata) Validate(expectedType string) error {
	if m.Name == "" {
		return ErrMissingName
	}
	if m.Type == "" {
		return ErrMissingType
	}
	if m.Type != expectedType {
		return fmt.Errorf("%w: declared %q, expected %q", ErrTypeMismatch, m.Type, expectedType)
	}
	return nil
}

// Property returns the property stored under key, or def.
func (m *Metadata) Property(key string, def any) any {
	if v, ok := m.Properties[key]; ok {
		return v
	}
	return def
}

// PropertyPath looks up a nested property with a gjson path such as
// "limits.memory" or "tags.0". Numbers come back as float64.
func (m *Metadata) PropertyPath(path string) (any, bool) {
	res := gjson.Get(m.propsJSON, path)
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

// PropertiesJSON returns the property bag encoded as JSON.
func (m *Metadata) PropertiesJSON() string {
	return m.propsJSON
}
