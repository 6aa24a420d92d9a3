package config

import (
	"io/fs"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memFS map[string]string

func (m memFS) ReadFile(path string) ([]byte, error) {
	data, ok := m[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return []byte(data), nil
}

func (m memFS) Stat(path string) (fs.FileInfo, error) {
	return nil, &fs.PathError{Op: "stat", Path: path, Err: fs.ErrNotExist}
}

type staticEnv map[string]any

func (e staticEnv) Load() (map[string]any, error) { return e, nil }

func TestDefaultIsValid(t *testing.T) {
	cfg, err := load("", memFS{}, staticEnv{})
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadLayers(t *testing.T) {
	fsys := memFS{"/etc/modhost.toml": `
[log]
level = "debug"

[modules]
root = "/srv/modules"
type = "ANY"
forbidden = ["acme.internal"]

[executor]
core_size = 2
max_size = 8
keep_alive = "5s"
`}
	env := staticEnv{
		"executor": map[string]any{"max_size": int64(12)},
		"modules":  map[string]any{"restricted": "acme.shared"},
		"watch":    map[string]any{"enabled": true, "debounce": "1s"},
	}

	cfg, err := load("/etc/modhost.toml", fsys, env)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/srv/modules", cfg.Modules.Root)
	assert.Equal(t, "ANY", cfg.Modules.Type)
	assert.Equal(t, []string{"acme.internal"}, cfg.Modules.Forbidden)
	assert.Equal(t, []string{"acme.shared"}, cfg.Modules.Restricted)
	assert.Equal(t, []string{".kmod", ".zip"}, cfg.Modules.Extensions)
	assert.Equal(t, 2, cfg.Executor.CoreSize)
	assert.Equal(t, 12, cfg.Executor.MaxSize)
	assert.Equal(t, 5*time.Second, cfg.Executor.KeepAlive.Std())
	assert.Equal(t, 256, cfg.Executor.QueueSize)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, time.Second, cfg.Watch.Debounce.Std())
}

func TestKinds(t *testing.T) {
	kinds := Kinds()
	assert.Equal(t, reflect.String, kinds["log.level"])
	assert.Equal(t, reflect.Bool, kinds["log.json"])
	assert.Equal(t, reflect.String, kinds["modules.host_name"])
	assert.Equal(t, reflect.Slice, kinds["modules.extensions"])
	assert.Equal(t, reflect.Int, kinds["executor.core_size"])
	assert.Equal(t, reflect.String, kinds["executor.keep_alive"])
	assert.Equal(t, reflect.Bool, kinds["watch.enabled"])
}

func TestLoadEnvironmentByKind(t *testing.T) {
	t.Setenv("MODHOST_MODULES_HOST_NAME", "yes")
	t.Setenv("MODHOST_MODULES_TYPE", "on")
	t.Setenv("MODHOST_MODULES_EXTENSIONS", ".kmod")
	t.Setenv("MODHOST_WATCH_ENABLED", "on")
	t.Setenv("MODHOST_EXECUTOR_KEEP_ALIVE", "45s")
	t.Setenv("MODHOST_EXECUTOR_QUEUE_SIZE", "10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "yes", cfg.Modules.HostName)
	assert.Equal(t, "on", cfg.Modules.Type)
	assert.Equal(t, []string{".kmod"}, cfg.Modules.Extensions)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 45*time.Second, cfg.Executor.KeepAlive.Std())
	assert.Equal(t, 10, cfg.Executor.QueueSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := load("/nowhere.toml", memFS{}, staticEnv{})
	require.NoError(t, err)
	assert.Equal(t, "USER", cfg.Modules.Type)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		env     staticEnv
		wantErr string
	}{
		{
			name:    "syntax",
			file:    "[log\n",
			wantErr: "parse error",
		},
		{
			name:    "bad duration",
			file:    "[executor]\nkeep_alive = \"soon\"\n",
			wantErr: "decoding config",
		},
		{
			name:    "max below core",
			env:     staticEnv{"executor": map[string]any{"core_size": int64(8), "max_size": int64(2)}},
			wantErr: "executor.max_size",
		},
		{
			name:    "bad level",
			file:    "[log]\nlevel = \"loud\"\n",
			wantErr: "log.level",
		},
		{
			name:    "extension without dot",
			file:    "[modules]\nextensions = [\"kmod\"]\n",
			wantErr: "must start with a dot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := tt.env
			if env == nil {
				env = staticEnv{}
			}
			_, err := load("/c.toml", memFS{"/c.toml": tt.file}, env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Modules.Type = ""
	cfg.Modules.ScanParallelism = 0
	cfg.Executor.QueueSize = -1

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 3, strings.Count(err.Error(), ";")+1)
}

func TestEncodeRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Modules.Forbidden = []string{"acme.x"}

	data, err := cfg.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), "30s")

	got := &Config{}
	require.NoError(t, toml.Unmarshal(data, got))
	assert.Equal(t, cfg.Executor, got.Executor)
	assert.Equal(t, cfg.Watch, got.Watch)
	assert.Equal(t, cfg.Log, got.Log)
	assert.Equal(t, []string{"acme.x"}, got.Modules.Forbidden)
	assert.Equal(t, cfg.Modules.Extensions, got.Modules.Extensions)
}
