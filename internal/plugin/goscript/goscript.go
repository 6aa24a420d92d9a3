// Package goscript defines module classes written as Go source, interpreted
// by yaegi.
//
// A class entry such as acme/greet/Greeter.go is one Go file. Its exported
// top-level functions named New or New<Suffix> are the class constructors:
//
//	package greet
//
//	import "github.com/dshills/modhost/pkg/host"
//
//	type Greeter struct{ Who string }
//
//	func New(ctx host.Context) *Greeter { return &Greeter{Who: ctx.Name()} }
//
// Interpreted types only satisfy host interfaces through the interface
// itself, so a constructor meant to produce work returns host.WorkUnit.
//
// Imports are checked against the boundary's namespace policy using the
// dotted form of the import path ("os/exec" is "os.exec"). Each boundary
// gets its own interpreter, loaded with the standard library minus forbidden
// packages plus the host package.
package goscript

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/dshills/modhost/internal/plugin/isolation"
	"github.com/dshills/modhost/pkg/host"
)

// RuntimeKey is the boundary runtime key of the interpreter.
const RuntimeKey = "go"

// Extension is the entry suffix of Go-source classes.
const Extension = ".go"

// DefaultEvalTimeout bounds the evaluation of one class file.
const DefaultEvalTimeout = 10 * time.Second

// Definer defines classes from Go source files.
type Definer struct {
	timeout time.Duration
}

// Option configures a Definer.
type Option func(*Definer)

// WithEvalTimeout bounds the evaluation of a class file.
func WithEvalTimeout(d time.Duration) Option {
	return func(def *Definer) {
		def.timeout = d
	}
}

// NewDefiner creates a Go-source definer.
func NewDefiner(opts ...Option) *Definer {
	d := &Definer{timeout: DefaultEvalTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Extension returns ".go".
func (d *Definer) Extension() string { return Extension }

// Define parses src, checks its imports and evaluates it in the boundary's
// interpreter.
func (d *Definer) Define(b *isolation.Boundary, name string, src []byte) (isolation.Definition, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, isolation.ClassPath(name)+Extension, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrParse, name, err)
	}
	if err := checkImports(b.Policy(), name, file); err != nil {
		return nil, err
	}

	in, err := d.interpreter(b)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	pkg := file.Name.Name
	def := &definition{}
	err = in.eval(ctx, func(i *interp.Interpreter) error {
		if _, err := i.EvalWithContext(ctx, string(src)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrEval, name, err)
		}
		for _, fn := range constructorNames(file) {
			v, err := i.EvalWithContext(ctx, pkg+"."+fn)
			if err != nil {
				return fmt.Errorf("%w: %s.%s: %w", ErrEval, name, fn, err)
			}
			c, err := isolation.ConstructorFromFunc(fn, v)
			if err != nil {
				return err
			}
			def.ctors = append(def.ctors, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.Logger().Debug("go class defined",
		zap.String("class", name),
		zap.Int("constructors", len(def.ctors)))
	return def, nil
}

func (d *Definer) interpreter(b *isolation.Boundary) (*Interpreter, error) {
	rt, err := b.Runtime(RuntimeKey, func() (isolation.Runtime, error) {
		return NewInterpreter(b.Policy())
	})
	if err != nil {
		return nil, err
	}
	in, ok := rt.(*Interpreter)
	if !ok {
		return nil, fmt.Errorf("runtime %q is a %T, not an interpreter", RuntimeKey, rt)
	}
	return in, nil
}

func checkImports(policy *isolation.Policy, name string, file *ast.File) error {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("%w: %s: bad import %s", ErrParse, name, imp.Path.Value)
		}
		if policy.Classify(importNamespace(path)) == isolation.TierForbidden {
			return fmt.Errorf("%w: %s imports %q", isolation.ErrForbidden, name, path)
		}
	}
	return nil
}

func importNamespace(path string) string {
	return strings.ReplaceAll(path, "/", ".")
}

// constructorNames lists the file's exported New functions in source order.
func constructorNames(file *ast.File) []string {
	var names []string
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil || fn.Type.TypeParams != nil {
			continue
		}
		if n := fn.Name.Name; strings.HasPrefix(n, "New") && fn.Name.IsExported() {
			names = append(names, n)
		}
	}
	return names
}

type definition struct {
	ctors []isolation.Constructor
}

func (d *definition) Constructors() ([]isolation.Constructor, error) {
	return append([]isolation.Constructor{}, d.ctors...), nil
}

// Interpreter is one boundary's yaegi interpreter. Evaluation is serialized;
// functions it produced may be called concurrently.
type Interpreter struct {
	mu sync.Mutex
	i  *interp.Interpreter
}

// NewInterpreter creates an interpreter exposing the standard library minus
// the packages policy forbids, plus the host package.
func NewInterpreter(policy *isolation.Policy) (*Interpreter, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(Symbols(policy)); err != nil {
		return nil, fmt.Errorf("load symbols: %w", err)
	}
	return &Interpreter{i: i}, nil
}

// Symbols returns the exports visible to interpreted code under policy.
func Symbols(policy *isolation.Policy) interp.Exports {
	out := make(interp.Exports, len(stdlib.Symbols)+len(host.Symbols))
	for key, syms := range stdlib.Symbols {
		if policy.Classify(importNamespace(exportPath(key))) == isolation.TierForbidden {
			continue
		}
		out[key] = syms
	}
	for key, syms := range host.Symbols {
		out[key] = syms
	}
	return out
}

// exportPath strips the trailing package name from an export key:
// "os/exec/exec" is "os/exec".
func exportPath(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i]
	}
	return key
}

func (in *Interpreter) eval(ctx context.Context, fn func(i *interp.Interpreter) error) (err error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: interpreter panic: %v", ErrEval, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(in.i)
}

// Close releases nothing; yaegi interpreters are garbage collected.
func (in *Interpreter) Close() error { return nil }
