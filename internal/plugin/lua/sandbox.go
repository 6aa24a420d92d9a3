package lua

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// RequireFunc resolves the module named by a require call. It runs inside
// State.Do and must not call Do again.
type RequireFunc func(s *State, name string) (lua.LValue, error)

// Sandbox restricts a Lua state to the safe standard libraries and routes
// require through the owning boundary.
type Sandbox struct {
	state   *State
	require RequireFunc
}

// safeLibraries are the only standard libraries opened. io, os, debug,
// channel and package are never available.
var safeLibraries = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// removedGlobals can load code from outside the boundary.
var removedGlobals = []string{
	"dofile",
	"loadfile",
	"load",
	"loadstring",
	"module",
	"getfenv",
	"setfenv",
	"_printregs",
}

// NewSandbox creates a sandbox for s.
func NewSandbox(s *State) *Sandbox {
	return &Sandbox{state: s}
}

// Install opens the safe libraries and replaces print and require.
func (s *Sandbox) Install() error {
	L := s.state.L
	for _, lib := range safeLibraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.open),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			return fmt.Errorf("open %s: %w", lib.name, err)
		}
	}

	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(s.print))
	L.SetGlobal("require", L.NewFunction(s.requireModule))
	return nil
}

// print sends its arguments to the state logger instead of stdout.
func (s *Sandbox) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	s.state.logger.Info(strings.Join(parts, "\t"), zap.String("source", "lua"))
	return 0
}

func (s *Sandbox) requireModule(L *lua.LState) int {
	name := L.CheckString(1)
	if s.require == nil {
		L.RaiseError("module %q is not available", name)
		return 0
	}
	v, err := s.require(s.state, name)
	if err != nil {
		L.RaiseError("require %q: %s", name, err.Error())
		return 0
	}
	L.Push(v)
	return 1
}
