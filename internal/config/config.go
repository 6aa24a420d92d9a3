package config

import (
	"encoding"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/modhost/internal/config/loader"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MODHOST_"

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete modhost configuration.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Modules  ModulesConfig  `toml:"modules"`
	Executor ExecutorConfig `toml:"executor"`
	Watch    WatchConfig    `toml:"watch"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// ModulesConfig configures module discovery.
type ModulesConfig struct {
	Root            string   `toml:"root"`
	Type            string   `toml:"type"`
	Extensions      []string `toml:"extensions"`
	Forbidden       []string `toml:"forbidden"`
	Restricted      []string `toml:"restricted"`
	ScanParallelism int      `toml:"scan_parallelism"`

	// HostName is reported to modules through the host context.
	HostName string `toml:"host_name"`
}

// ExecutorConfig sizes the task executor.
type ExecutorConfig struct {
	CoreSize  int      `toml:"core_size"`
	MaxSize   int      `toml:"max_size"`
	KeepAlive Duration `toml:"keep_alive"`
	QueueSize int      `toml:"queue_size"`
}

// WatchConfig configures archive watching.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Modules: ModulesConfig{
			Root:            "modules",
			Type:            "USER",
			Extensions:      []string{".kmod", ".zip"},
			ScanParallelism: 4,
			HostName:        "modhost",
		},
		Executor: ExecutorConfig{
			CoreSize:  4,
			MaxSize:   16,
			KeepAlive: Duration(30 * time.Second),
			QueueSize: 256,
		},
		Watch: WatchConfig{
			Debounce: Duration(250 * time.Millisecond),
		},
	}
}

var textUnmarshaler = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// Kinds maps every "section.key" path to the kind of value it holds.
// Settings decoded from text, such as durations, are strings.
func Kinds() map[string]reflect.Kind {
	kinds := make(map[string]reflect.Kind)
	root := reflect.TypeOf(Config{})
	for i := 0; i < root.NumField(); i++ {
		section := root.Field(i)
		for j := 0; j < section.Type.NumField(); j++ {
			f := section.Type.Field(j)
			kind := f.Type.Kind()
			if reflect.PointerTo(f.Type).Implements(textUnmarshaler) {
				kind = reflect.String
			}
			kinds[section.Tag.Get("toml")+"."+f.Tag.Get("toml")] = kind
		}
	}
	return kinds
}

// Load builds the configuration from the defaults, the TOML file at path
// (skipped when path is empty or the file does not exist) and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	env := loader.NewEnvLoader(EnvPrefix)
	env.SetKinds(Kinds())
	return load(path, loader.DefaultFS(), env)
}

func load(path string, fsys loader.FileSystem, env loader.Loader) (*Config, error) {
	merged := make(map[string]any)

	if path != "" {
		file, err := loader.NewTOMLLoaderWithFS(fsys, path).Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, file)
	}

	envValues, err := env.Load()
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	merged = loader.DeepMerge(merged, envValues)
	promoteLists(merged)

	cfg := Default()
	if len(merged) > 0 {
		// Round-trip through TOML so the file and the environment decode
		// with the same rules, over the defaults.
		data, err := toml.Marshal(merged)
		if err != nil {
			return nil, fmt.Errorf("encoding merged config: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decoding config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promoteLists turns a single string given for a list setting into a
// one-element list.
func promoteLists(m map[string]any) {
	for path, kind := range Kinds() {
		if kind != reflect.Slice {
			continue
		}
		section, key, _ := strings.Cut(path, ".")
		sec, ok := m[section].(map[string]any)
		if !ok {
			continue
		}
		if s, ok := sec[key].(string); ok {
			sec[key] = []any{s}
		}
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Modules.Type == "" {
		add("modules.type is required")
	}
	if len(c.Modules.Extensions) == 0 {
		add("modules.extensions must not be empty")
	}
	for _, ext := range c.Modules.Extensions {
		if !strings.HasPrefix(ext, ".") {
			add("modules.extensions entry %q must start with a dot", ext)
		}
	}
	if c.Modules.ScanParallelism < 1 {
		add("modules.scan_parallelism must be at least 1")
	}
	if c.Executor.CoreSize < 0 {
		add("executor.core_size must not be negative")
	}
	if c.Executor.MaxSize < 1 || c.Executor.MaxSize < c.Executor.CoreSize {
		add("executor.max_size must be at least 1 and at least core_size")
	}
	if c.Executor.KeepAlive < 0 {
		add("executor.keep_alive must not be negative")
	}
	if c.Executor.QueueSize < 0 {
		add("executor.queue_size must not be negative")
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Encode returns the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
