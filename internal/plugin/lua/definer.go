package lua

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dshills/modhost/internal/plugin/isolation"
)

// RuntimeKey is the boundary runtime key of the Lua state.
const RuntimeKey = "lua"

// Extension is the entry suffix of Lua classes.
const Extension = ".lua"

// Definer defines classes from Lua chunks. A chunk returns its class table;
// constructors are the table's functions named new or new_<suffix>.
//
//	local Greeter = {}
//	Greeter.__index = Greeter
//	function Greeter.new(ctx) return setmetatable({ctx = ctx}, Greeter) end
//	function Greeter:greet() return "hello from " .. self.ctx.name end
//	return Greeter
//
// All classes of one boundary share a single Lua state, created on first use.
type Definer struct {
	timeout time.Duration
}

// DefinerOption configures a Definer.
type DefinerOption func(*Definer)

// WithTimeout bounds every call into the boundary's Lua state.
func WithTimeout(d time.Duration) DefinerOption {
	return func(def *Definer) {
		def.timeout = d
	}
}

// NewDefiner creates a Lua definer.
func NewDefiner(opts ...DefinerOption) *Definer {
	d := &Definer{timeout: DefaultExecutionTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Extension returns ".lua".
func (d *Definer) Extension() string { return Extension }

// Define compiles src. The chunk itself runs the first time the class is
// used, with the state locked.
func (d *Definer) Define(b *isolation.Boundary, name string, src []byte) (isolation.Definition, error) {
	chunk, err := parse.Parse(bytes.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, name, err)
	}

	state, err := d.state(b)
	if err != nil {
		return nil, err
	}
	return &classDef{
		name:     name,
		proto:    proto,
		state:    state,
		boundary: b,
	}, nil
}

// StateOf returns the boundary's Lua state, creating it if needed.
func (d *Definer) StateOf(b *isolation.Boundary) (*State, error) {
	return d.state(b)
}

func (d *Definer) state(b *isolation.Boundary) (*State, error) {
	rt, err := b.Runtime(RuntimeKey, func() (isolation.Runtime, error) {
		return NewState(
			WithLogger(b.Logger()),
			WithExecutionTimeout(d.timeout),
			WithRequire(requireFrom(b)),
		)
	})
	if err != nil {
		return nil, err
	}
	state, ok := rt.(*State)
	if !ok {
		return nil, fmt.Errorf("runtime %q is a %T, not a lua state", RuntimeKey, rt)
	}
	return state, nil
}

// requireFrom resolves require through b, so Lua code sees exactly the
// classes the namespace policy lets the boundary see.
func requireFrom(b *isolation.Boundary) RequireFunc {
	return func(s *State, name string) (lua.LValue, error) {
		c, err := b.LoadClass(name)
		if err != nil {
			return nil, err
		}
		switch def := c.Definition().(type) {
		case *classDef:
			if def.state != s {
				return nil, fmt.Errorf("%w: %s lives in another state", ErrNotRequirable, name)
			}
			return def.tableLocked(s.L)
		case *HostModule:
			return def.load(s), nil
		default:
			return nil, fmt.Errorf("%w: %s", ErrNotRequirable, name)
		}
	}
}

// classDef is a compiled Lua class. table, loading and err are guarded by
// the state lock.
type classDef struct {
	name     string
	proto    *lua.FunctionProto
	state    *State
	boundary *isolation.Boundary

	table   *lua.LTable
	loading bool
	err     error
}

// tableLocked runs the chunk once and returns the class table.
func (d *classDef) tableLocked(L *lua.LState) (*lua.LTable, error) {
	if d.table != nil {
		return d.table, nil
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.loading {
		return nil, fmt.Errorf("%w: %s", ErrCircularRequire, d.name)
	}

	d.loading = true
	defer func() { d.loading = false }()

	results, err := callFunc(L, L.NewFunctionFromProto(d.proto))
	if err != nil {
		d.err = fmt.Errorf("run %s: %w", d.name, err)
		return nil, d.err
	}
	if len(results) == 0 {
		d.err = fmt.Errorf("%w: %s returned nothing", ErrNotAClass, d.name)
		return nil, d.err
	}
	tbl, ok := results[0].(*lua.LTable)
	if !ok {
		d.err = fmt.Errorf("%w: %s returned a %s", ErrNotAClass, d.name, results[0].Type())
		return nil, d.err
	}
	d.table = tbl
	return tbl, nil
}

func (d *classDef) Constructors() ([]isolation.Constructor, error) {
	var ctors []isolation.Constructor
	err := d.state.Do(context.Background(), func(L *lua.LState) error {
		tbl, err := d.tableLocked(L)
		if err != nil {
			return err
		}
		tbl.ForEach(func(k, v lua.LValue) {
			key, ok := k.(lua.LString)
			if !ok || !isConstructorName(string(key)) {
				return
			}
			fn, ok := v.(*lua.LFunction)
			if !ok || fn.IsG {
				return
			}
			ctors = append(ctors, d.constructor(string(key), fn))
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(ctors, func(i, j int) bool { return ctors[i].Name < ctors[j].Name })
	return ctors, nil
}

func isConstructorName(s string) bool {
	return s == "new" || (strings.HasPrefix(s, "new_") && len(s) > len("new_"))
}

func (d *classDef) constructor(name string, fn *lua.LFunction) isolation.Constructor {
	params := make([]reflect.Type, fn.Proto.NumParameters)
	for i := range params {
		params[i] = isolation.AnyType
	}
	return isolation.Constructor{
		Name:   name,
		Params: params,
		Invoke: func(args ...any) (any, error) {
			return d.instantiate(name, fn, args)
		},
	}
}

func (d *classDef) instantiate(ctor string, fn *lua.LFunction, args []any) (any, error) {
	class, err := d.boundary.LoadClass(d.name)
	if err != nil {
		return nil, err
	}

	var (
		tbl    *lua.LTable
		hasRun bool
	)
	err = d.state.Do(context.Background(), func(L *lua.LState) error {
		in := make([]lua.LValue, len(args))
		for i, a := range args {
			in[i] = d.state.bridge.ToLuaValue(a)
		}
		results, err := callFunc(L, fn, in...)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			return fmt.Errorf("%w: %s.%s returned nothing", ErrNotAnObject, d.name, ctor)
		}
		obj, ok := results[0].(*lua.LTable)
		if !ok {
			if len(results) > 1 && results[1].Type() == lua.LTString {
				return fmt.Errorf("%s.%s: %s", d.name, ctor, results[1].String())
			}
			return fmt.Errorf("%w: %s.%s returned a %s", ErrNotAnObject, d.name, ctor, results[0].Type())
		}
		tbl = obj
		_, hasRun = L.GetField(obj, "run").(*lua.LFunction)
		return nil
	})
	if err != nil {
		return nil, err
	}

	o := &Object{class: class, state: d.state, table: tbl}
	if hasRun {
		return &Runnable{Object: o}, nil
	}
	return o, nil
}
