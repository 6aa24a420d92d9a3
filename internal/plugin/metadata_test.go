package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetadata(t *testing.T) {
	rec, err := ParseRecord([]byte(`
attributes:
  name: FromMain
  version: "2.1"
  vendor: acme
  limits:
    memory: 64
entries:
  acme/greet/Greeter.lua:
    module: true
    name: Greeter
    type: USER
    icon: icons/g.png
    help: docs/help.md
    factory: new_default
    vendor: acme-labs
    tags: [a, b]
  acme/greet/Other.lua:
    module: false
`))
	require.NoError(t, err)

	m, err := ParseMetadata(rec)
	require.NoError(t, err)

	assert.Equal(t, "Greeter", m.Name)
	assert.Equal(t, "USER", m.Type)
	assert.Equal(t, "2.1", m.Version)
	assert.Equal(t, "icons/g.png", m.Icon)
	assert.Equal(t, "docs/help.md", m.Help)
	assert.Equal(t, "new_default", m.Factory)
	assert.Equal(t, "acme/greet/Greeter.lua", m.EntryPath)
	assert.Equal(t, "acme.greet.Greeter", m.EntryClass)

	want := map[string]any{
		"vendor": "acme-labs",
		"limits": map[string]any{"memory": 64},
		"tags":   []any{"a", "b"},
	}
	if diff := cmp.Diff(want, m.Properties); diff != "" {
		t.Errorf("properties mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "acme-labs", m.Property("vendor", nil))
	assert.Equal(t, "fallback", m.Property("missing", "fallback"))

	v, ok := m.PropertyPath("limits.memory")
	assert.True(t, ok)
	assert.Equal(t, float64(64), v)
	v, ok = m.PropertyPath("tags.1")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = m.PropertyPath("limits.cpu")
	assert.False(t, ok)
}

func TestParseMetadataNonStringKeys(t *testing.T) {
	rec, err := ParseRecord([]byte(`
entries:
  acme/Web.lua:
    module: true
    name: Web
    type: USER
    ports:
      80: http
      443: https
    routes:
      - {1: root}
`))
	require.NoError(t, err)

	m, err := ParseMetadata(rec)
	require.NoError(t, err)

	// The bag keeps the decoded values as they are.
	ports, ok := m.Property("ports", nil).(map[any]any)
	require.True(t, ok, "%T", m.Property("ports", nil))
	assert.Equal(t, "http", ports[80])

	v, ok := m.PropertyPath("ports.80")
	assert.True(t, ok)
	assert.Equal(t, "http", v)
	v, ok = m.PropertyPath("routes.0.1")
	assert.True(t, ok)
	assert.Equal(t, "root", v)
	assert.JSONEq(t, `{"ports":{"80":"http","443":"https"},"routes":[{"1":"root"}]}`, m.PropertiesJSON())
}

func TestEntryPoint(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    string
		wantErr error
	}{
		{
			name: "boolean marker",
			yaml: "entries:\n  a/B.lua: {module: true}\n  a/C.lua: {name: x}\n",
			want: "a/B.lua",
		},
		{
			name: "string marker",
			yaml: "entries:\n  a/B.lua: {module: \"true\"}\n",
			want: "a/B.lua",
		},
		{
			name:    "no marker",
			yaml:    "entries:\n  a/B.lua: {module: false}\n",
			wantErr: ErrNoEntryPoint,
		},
		{
			name:    "empty record",
			yaml:    "",
			wantErr: ErrNoEntryPoint,
		},
		{
			name:    "two markers",
			yaml:    "entries:\n  a/B.lua: {module: true}\n  a/C.lua: {module: true}\n",
			wantErr: ErrMultipleEntryPoints,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := ParseRecord([]byte(tt.yaml))
			require.NoError(t, err)
			got, _, err := rec.EntryPoint()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRecordInvalid(t *testing.T) {
	_, err := ParseRecord([]byte("entries: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    Metadata
		wantErr error
	}{
		{"valid", Metadata{Name: "X", Type: "USER"}, nil},
		{"missing name", Metadata{Type: "USER"}, ErrMissingName},
		{"missing type", Metadata{Name: "X"}, ErrMissingType},
		{"type mismatch", Metadata{Name: "X", Type: "SYSTEM"}, ErrTypeMismatch},
		{"case matters", Metadata{Name: "X", Type: "user"}, ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate("USER")
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestReadMetadata(t *testing.T) {
	dir := t.TempDir()

	t.Run("embedded", func(t *testing.T) {
		path := writeModule(t, modulePath(dir, "embedded"), greeterModule("Greeter", "USER", "v1"))
		rec, err := ReadMetadata(path)
		require.NoError(t, err)
		m, err := ParseMetadata(rec)
		require.NoError(t, err)
		assert.Equal(t, "Greeter", m.Name)
	})

	t.Run("sidecar wins", func(t *testing.T) {
		path := writeModule(t, modulePath(dir, "sidecar"), greeterModule("Greeter", "USER", "v1"))
		sidecar := "entries:\n  acme/greet/Greeter.lua: {module: true, name: Renamed, type: SYSTEM}\n"
		require.NoError(t, os.WriteFile(path+SidecarSuffix, []byte(sidecar), 0o644))

		rec, err := ReadMetadata(path)
		require.NoError(t, err)
		m, err := ParseMetadata(rec)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", m.Name)
		assert.Equal(t, "SYSTEM", m.Type)
	})

	t.Run("no record", func(t *testing.T) {
		path := writeModule(t, modulePath(dir, "bare"), map[string]string{"a/B.lua": "return {}"})
		_, err := ReadMetadata(path)
		assert.ErrorIs(t, err, ErrNoMetadata)
	})

	t.Run("not an archive", func(t *testing.T) {
		path := filepath.Join(dir, "junk.kmod")
		require.NoError(t, os.WriteFile(path, []byte("junk"), 0o644))
		_, err := ReadMetadata(path)
		assert.ErrorIs(t, err, ErrUnreadableArchive)
	})
}
