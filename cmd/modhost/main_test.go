package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/dshills/modhost/internal/plugin"
	"github.com/dshills/modhost/internal/plugin/archive"
)

const counterLua = `
local Counter = {}
Counter.__index = Counter

function Counter.new(ctx)
	return setmetatable({host = ctx.name}, Counter)
end

function Counter:run()
	if self.host ~= "modhost" then
		error("unexpected host " .. tostring(self.host))
	end
end

return Counter
`

const counterMeta = `attributes:
  vendor: acme
entries:
  acme/Counter.lua:
    module: true
    name: counter
    type: USER
    version: "2.1"
    limits:
      memory: 64
`

func moduleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, archive.Write(filepath.Join(dir, "counter.kmod"), map[string][]byte{
		"acme/Counter.lua":  []byte(counterLua),
		plugin.MetadataFile: []byte(counterMeta),
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.kmod"), []byte("not a zip"), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestScanJSON(t *testing.T) {
	dir := moduleDir(t)

	out, err := execute(t, "scan", "--root", dir, "--json")
	require.NoError(t, err)
	require.True(t, gjson.Valid(out), out)

	doc := gjson.Parse(out)
	assert.Equal(t, int64(1), doc.Get("modules.#").Int())
	assert.Equal(t, "counter", doc.Get("modules.0.name").String())
	assert.Equal(t, "2.1", doc.Get("modules.0.version").String())
	assert.Equal(t, "acme.Counter", doc.Get("modules.0.class").String())
	assert.Equal(t, int64(64), doc.Get("modules.0.properties.limits.memory").Int())
	assert.Equal(t, "acme", doc.Get("modules.0.properties.vendor").String())

	assert.Equal(t, int64(1), doc.Get("failures.#").Int())
	assert.Equal(t, "discovery", doc.Get("failures.0.kind").String())
	assert.Equal(t, filepath.Join(dir, "broken.kmod"), doc.Get("failures.0.archive").String())
}

func TestScanTable(t *testing.T) {
	dir := moduleDir(t)

	out, err := execute(t, "scan", "--root", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "counter")
	assert.Contains(t, out, "skipped "+filepath.Join(dir, "broken.kmod"))
}

func TestInspectProperty(t *testing.T) {
	dir := moduleDir(t)
	path := filepath.Join(dir, "counter.kmod")

	out, err := execute(t, "inspect", path, "--property", "limits.memory")
	require.NoError(t, err)
	assert.Equal(t, "64\n", out)

	_, err = execute(t, "inspect", path, "--property", "limits.cpu")
	assert.ErrorContains(t, err, "not set")

	out, err = execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Name:        counter")
	assert.Contains(t, out, "Class:       acme.Counter")
}

func TestRun(t *testing.T) {
	dir := moduleDir(t)

	out, err := execute(t, "run", "counter", "--root", dir, "--count", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, bytes.Count([]byte(out), []byte(" done in ")))

	_, err = execute(t, "run", "missing", "--root", dir)
	assert.Error(t, err)
}

func TestPack(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "acme"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "acme", "Counter.lua"), []byte(counterLua), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, plugin.MetadataFile), []byte(counterMeta), 0o644))

	out := filepath.Join(t.TempDir(), "counter.kmod")
	text, err := execute(t, "pack", src, out)
	require.NoError(t, err)
	assert.Contains(t, text, "(counter, entry acme.Counter)")

	text, err = execute(t, "inspect", out, "--property", "vendor")
	require.NoError(t, err)
	assert.Equal(t, "\"acme\"\n", text)
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modhost.toml")
	require.NoError(t, os.WriteFile(path, []byte("[executor]\ncore_size = 2\n"), 0o644))

	out, err := execute(t, "config", "--config", path, "--root", "/srv/modules")
	require.NoError(t, err)
	assert.Contains(t, out, "core_size = 2")
	assert.Contains(t, out, "/srv/modules")
	assert.Contains(t, out, "error")
}
