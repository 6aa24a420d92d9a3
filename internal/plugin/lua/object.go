package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/modhost/internal/plugin/isolation"
)

// Object is an instance of a Lua class.
type Object struct {
	class *isolation.Class
	state *State
	table *lua.LTable
}

// Class returns the class that created the object.
func (o *Object) Class() *isolation.Class { return o.class }

// Call invokes method with the object as self and returns its results.
func (o *Object) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	var out []any
	err := o.state.Do(ctx, func(L *lua.LState) error {
		results, err := o.callLocked(L, method, args)
		if err != nil {
			return err
		}
		out = make([]any, len(results))
		for i, r := range results {
			out[i] = o.state.bridge.ToGoValue(r)
		}
		return nil
	})
	return out, err
}

func (o *Object) callLocked(L *lua.LState, method string, args []any) ([]lua.LValue, error) {
	fn, ok := L.GetField(o.table, method).(*lua.LFunction)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoSuchMethod, o.class.Name(), method)
	}
	in := make([]lua.LValue, 0, len(args)+1)
	in = append(in, o.table)
	for _, a := range args {
		in = append(in, o.state.bridge.ToLuaValue(a))
	}
	return callFunc(L, fn, in...)
}

// Get returns a field of the object, following its metatable.
func (o *Object) Get(ctx context.Context, field string) (any, error) {
	var v any
	err := o.state.Do(ctx, func(L *lua.LState) error {
		v = o.state.bridge.ToGoValue(L.GetField(o.table, field))
		return nil
	})
	return v, err
}

// Runnable is an Object whose class defines a run method. It satisfies
// host.WorkUnit.
type Runnable struct {
	*Object
}

// Run calls the object's run method. A run method may fail by raising an
// error or by returning nil, message.
func (r *Runnable) Run(ctx context.Context) error {
	return r.state.Do(ctx, func(L *lua.LState) error {
		results, err := r.callLocked(L, "run", nil)
		if err != nil {
			return err
		}
		if len(results) >= 2 && !lua.LVAsBool(results[0]) && results[1].Type() == lua.LTString {
			return fmt.Errorf("%s.run: %s", r.class.Name(), results[1].String())
		}
		return nil
	})
}
