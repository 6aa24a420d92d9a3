package lua

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/modhost/internal/plugin/isolation"
)

// Loader builds a host module's table inside s. It runs with the state
// locked.
type Loader func(s *State) *lua.LTable

// HostModule is a host class that Lua code obtains with require. Register it
// with a HostRegistry under a restricted name; each state loads it once.
type HostModule struct {
	loader Loader
}

// NewHostModule creates a host module.
func NewHostModule(loader Loader) *HostModule {
	return &HostModule{loader: loader}
}

// Constructors returns none: host modules are not instantiated from Go.
func (m *HostModule) Constructors() ([]isolation.Constructor, error) {
	return nil, nil
}

func (m *HostModule) load(s *State) *lua.LTable {
	if t, ok := s.hostModules[m]; ok {
		return t
	}
	t := m.loader(s)
	s.hostModules[m] = t
	return t
}

// LogModule is the modhost.log module: debug, info, warn and error, each
// taking a message followed by key/value pairs.
func LogModule() *HostModule {
	return NewHostModule(func(s *State) *lua.LTable {
		sugar := s.Logger().Sugar()
		levels := map[string]func(string, ...any){
			"debug": sugar.Debugw,
			"info":  sugar.Infow,
			"warn":  sugar.Warnw,
			"error": sugar.Errorw,
		}
		t := s.L.NewTable()
		for name, logf := range levels {
			logf := logf
			t.RawSetString(name, s.L.NewFunction(func(L *lua.LState) int {
				first := argStart(L, t)
				msg := L.CheckString(first)
				kv := []any{zap.String("source", "lua")}
				for i := first + 1; i <= L.GetTop(); i++ {
					kv = append(kv, s.bridge.ToGoValue(L.Get(i)))
				}
				logf(msg, kv...)
				return 0
			}))
		}
		return t
	})
}
