package host

import (
	"context"
	"reflect"
)

// ImportPath is the path Go-source modules use to import this package.
const ImportPath = "github.com/dshills/modhost/pkg/host"

// Symbols exports this package to the Go-source interpreter. The layout
// follows the interpreter's "importpath/pkgname" key convention.
var Symbols = map[string]map[string]reflect.Value{
	ImportPath + "/host": {
		"Context":  reflect.ValueOf((*Context)(nil)),
		"WorkUnit": reflect.ValueOf((*WorkUnit)(nil)),
		"WorkFunc": reflect.ValueOf((*WorkFunc)(nil)),

		"_Context":  reflect.ValueOf((*_host_Context)(nil)),
		"_WorkUnit": reflect.ValueOf((*_host_WorkUnit)(nil)),
	},
}

// _host_Context lets interpreted types satisfy Context.
type _host_Context struct {
	IValue any
	WLog   func(msg string, keysAndValues ...any)
	WName  func() string
	WValue func(key string) (any, bool)
}

func (W _host_Context) Log(msg string, keysAndValues ...any) { W.WLog(msg, keysAndValues...) }
func (W _host_Context) Name() string { return W.WName() }
func (W _host_Context) Value(key string) (any, bool) { return W.WValue(key) }

// _host_WorkUnit lets interpreted types satisfy WorkUnit.
type _host_WorkUnit struct {
	IValue any
	WRun   func(ctx context.Context) error
}

func (W _host_WorkUnit) Run(ctx context.Context) error { return W.WRun(ctx) }
