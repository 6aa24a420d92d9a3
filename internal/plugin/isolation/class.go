package isolation

import (
	"fmt"
	"reflect"
	"runtime/debug"
)

// AnyType is the parameter type of dynamically typed constructors. Every
// value, including the host context, is assignable to it.
var AnyType = reflect.TypeOf((*any)(nil)).Elem()

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Constructor is one public way of creating an instance of a Class.
type Constructor struct {
	// Name identifies the constructor within its class.
	Name string

	// Params are the declared parameter types.
	Params []reflect.Type

	// Invoke creates an instance. len(args) equals len(Params).
	Invoke func(args ...any) (any, error)
}

// Definition is the runtime-specific part of a Class.
type Definition interface {
	// Constructors lists the public constructors.
	Constructors() ([]Constructor, error)
}

// Class is a resolved definition bound to the boundary that defined it.
// Host classes have no boundary.
type Class struct {
	name     string
	origin   string
	boundary *Boundary
	def      Definition
	entry    string
}

// NewClass creates a class. b is nil for host-provided classes.
func NewClass(name, origin string, b *Boundary, def Definition) *Class {
	return &Class{
		name:     name,
		origin:   origin,
		boundary: b,
		def:      def,
	}
}

// Name returns the fully qualified class name.
func (c *Class) Name() string { return c.name }

// Origin returns the archive the class was read from, or "host".
func (c *Class) Origin() string { return c.origin }

// Entry returns the archive entry the class was defined from, "" for host
// classes.
func (c *Class) Entry() string { return c.entry }

// Boundary returns the defining boundary, nil for host classes.
func (c *Class) Boundary() *Boundary { return c.boundary }

// Definition returns the runtime definition.
func (c *Class) Definition() Definition { return c.def }

// IsHost reports whether the host supplied the class.
func (c *Class) IsHost() bool { return c.boundary == nil }

// Constructors lists the class's public constructors.
func (c *Class) Constructors() ([]Constructor, error) {
	return c.def.Constructors()
}

// String returns a string representation of the class.
func (c *Class) String() string {
	return fmt.Sprintf("%s (%s)", c.name, c.origin)
}

// Instance is implemented by values that know the class that created them.
type Instance interface {
	Class() *Class
}

// ClassOf returns the class of v when v is an Instance.
func ClassOf(v any) (*Class, bool) {
	inst, ok := v.(Instance)
	if !ok {
		return nil, false
	}
	return inst.Class(), true
}

// SelectConstructor applies the construction protocol: if exactly one
// constructor takes a single parameter assignable from hostCtx's type it is
// chosen and called with hostCtx; otherwise the zero-argument constructor.
func SelectConstructor(ctors []Constructor, hostCtx any) (Constructor, []any, error) {
	if hostCtx != nil {
		ctxType := reflect.TypeOf(hostCtx)
		var matches []Constructor
		for _, c := range ctors {
			if len(c.Params) == 1 && ctxType.AssignableTo(c.Params[0]) {
				matches = append(matches, c)
			}
		}
		if len(matches) == 1 {
			return matches[0], []any{hostCtx}, nil
		}
	}
	for _, c := range ctors {
		if len(c.Params) == 0 {
			return c, nil, nil
		}
	}
	return Constructor{}, nil, ErrNoConstructor
}

// funcDefinition defines a class from plain Go functions.
type funcDefinition struct {
	ctors []Constructor
}

// NewFuncDefinition builds a Definition from Go constructor functions. Each
// function may return (T) or (T, error).
func NewFuncDefinition(funcs ...any) (Definition, error) {
	def := &funcDefinition{}
	for i, fn := range funcs {
		c, err := ConstructorFromFunc(fmt.Sprintf("ctor%d", i), reflect.ValueOf(fn))
		if err != nil {
			return nil, err
		}
		def.ctors = append(def.ctors, c)
	}
	return def, nil
}

func (d *funcDefinition) Constructors() ([]Constructor, error) {
	return append([]Constructor{}, d.ctors...), nil
}

// ConstructorFromFunc wraps a reflected function as a Constructor.
func ConstructorFromFunc(name string, fn reflect.Value) (Constructor, error) {
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return Constructor{}, fmt.Errorf("constructor %s: not a function", name)
	}
	t := fn.Type()
	if t.IsVariadic() {
		return Constructor{}, fmt.Errorf("constructor %s: variadic constructors are not supported", name)
	}
	switch {
	case t.NumOut() == 1 && t.Out(0) != errorType:
	case t.NumOut() == 2 && t.Out(1) == errorType:
	default:
		return Constructor{}, fmt.Errorf("constructor %s: must return (T) or (T, error)", name)
	}

	params := make([]reflect.Type, t.NumIn())
	for i := range params {
		params[i] = t.In(i)
	}

	return Constructor{
		Name:   name,
		Params: params,
		Invoke: func(args ...any) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("constructor %s panicked: %v\n%s", name, r, debug.Stack())
				}
			}()
			if len(args) != len(params) {
				return nil, fmt.Errorf("constructor %s: want %d arguments, got %d", name, len(params), len(args))
			}
			in := make([]reflect.Value, len(args))
			for i, a := range args {
				if a == nil {
					in[i] = reflect.Zero(params[i])
					continue
				}
				in[i] = reflect.ValueOf(a)
			}
			out := fn.Call(in)
			if len(out) == 2 && !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return out[0].Interface(), nil
		},
	}, nil
}
