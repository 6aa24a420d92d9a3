package loader

import (
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// EnvLoader loads configuration from prefixed environment variables.
// MODHOST_EXECUTOR_CORE_SIZE sets executor.core_size: the first word after
// the prefix is the section and the rest is the key.
type EnvLoader struct {
	prefix  string            // e.g. "MODHOST_"
	mapping map[string]string // env var -> config path, for names that don't follow the rule
	kinds   map[string]reflect.Kind
	environ func() []string
}

// NewEnvLoader creates an environment loader. The prefix should include the
// trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: make(map[string]string),
		kinds:   make(map[string]reflect.Kind),
		environ: os.Environ,
	}
}

// AddMapping routes envVar to configPath instead of the derived path.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	l.mapping[envVar] = configPath
}

// SetKinds declares the kind of value expected at each config path. Values
// for a declared path are parsed as that kind; other values are guessed.
func (l *EnvLoader) SetKinds(kinds map[string]reflect.Kind) {
	for path, k := range kinds {
		l.kinds[path] = k
	}
}

// Load reads the prefixed variables. Empty values are kept.
func (l *EnvLoader) Load() (map[string]any, error) {
	config := make(map[string]any)
	for _, env := range l.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, mapped := l.mapping[name]
		if !mapped {
			path = l.envToPath(name)
		}
		if path == "" {
			continue
		}
		if kind, ok := l.kinds[path]; ok {
			setByPath(config, path, parseKind(value, kind))
			continue
		}
		setByPath(config, path, parseValue(value))
	}
	return config, nil
}

// envToPath converts MODHOST_MODULES_SCAN_PARALLELISM to
// modules.scan_parallelism.
func (l *EnvLoader) envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, l.prefix))
	section, key, ok := strings.Cut(name, "_")
	if !ok || section == "" || key == "" {
		return ""
	}
	return section + "." + key
}

// parseKind parses s as kind. A value that does not parse is returned as
// the raw string so the decoder reports the mismatch.
func parseKind(s string, kind reflect.Kind) any {
	switch kind {
	case reflect.String:
		return s
	case reflect.Bool:
		switch strings.ToLower(s) {
		case "yes", "on":
			return true
		case "no", "off":
			return false
		}
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case reflect.Float32, reflect.Float64:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case reflect.Slice:
		return parseList(s)
	default:
		return parseValue(s)
	}
	return s
}

// parseList reads a JSON array or comma-separated words. A single word is a
// one-element list.
func parseList(s string) []any {
	if strings.HasPrefix(s, "[") {
		var v []any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	out := []any{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseValue guesses the type of an environment value. Only "true" and
// "false" are booleans. Lists are written as JSON arrays or comma-separated
// words.
func parseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") && !strings.ContainsAny(s, ", ") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	if strings.HasPrefix(s, "[") || strings.Contains(s, ",") {
		if list := parseList(s); len(list) > 0 {
			return list
		}
	}

	return s
}

// setByPath sets a value in a nested map using a dot-separated path.
func setByPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}
