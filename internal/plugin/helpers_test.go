package plugin

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/modhost/internal/plugin/archive"
	"github.com/dshills/modhost/pkg/host"
)

// greeterLua has a context constructor and a zero-argument fallback. The
// greeting is prefixed with the archive's version tag.
const greeterLua = `
local Greeter = {}
Greeter.__index = Greeter

function Greeter.new(ctx)
	return setmetatable({who = ctx.name}, Greeter)
end

function Greeter.new_default()
	return setmetatable({who = "nobody"}, Greeter)
end

function Greeter:greet()
	return "%s " .. self.who
end

return Greeter
`

func greeterModule(name, typ, tag string) map[string]string {
	return map[string]string{
		"acme/greet/Greeter.lua": fmt.Sprintf(greeterLua, tag),
		MetadataFile: fmt.Sprintf(`
attributes:
  version: "1.0"
  vendor: acme
entries:
  acme/greet/Greeter.lua:
    module: true
    name: %s
    type: %s
`, name, typ),
	}
}

func writeModule(t *testing.T, path string, files map[string]string) string {
	t.Helper()
	data := make(map[string][]byte, len(files))
	for k, v := range files {
		data[k] = []byte(v)
	}
	require.NoError(t, archive.Write(path, data))
	return path
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func testLocator(t *testing.T, opts ...LocatorOption) *Locator {
	t.Helper()
	all := append([]LocatorOption{
		WithContext(host.NewContext("editor", map[string]any{"answer": 42}, nil)),
	}, opts...)
	return NewLocator(all...)
}

func modulePath(dir, name string) string {
	return filepath.Join(dir, name+".kmod")
}
