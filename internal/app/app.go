// Package app wires the module locator, watcher and task executor into one
// host application.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dshills/modhost/internal/config"
	"github.com/dshills/modhost/internal/logging"
	"github.com/dshills/modhost/internal/plugin"
	"github.com/dshills/modhost/internal/task"
	"github.com/dshills/modhost/pkg/host"
)

// Errors returned by the application.
var (
	// ErrModuleNotFound is returned when no loaded module has the given name.
	ErrModuleNotFound = errors.New("module not found")

	// ErrNotWorkUnit is returned when running a module whose instances are
	// not work units.
	ErrNotWorkUnit = errors.New("module instance is not a work unit")
)

// Options configures the application. Empty fields keep the configured
// values.
type Options struct {
	// ConfigPath is the TOML configuration file.
	ConfigPath string

	// Root overrides modules.root.
	Root string

	// Type overrides modules.type.
	Type string

	// LogLevel overrides log.level.
	LogLevel string

	// Logger replaces the logger built from the configuration.
	Logger *zap.Logger

	// Registerer receives the executor metrics.
	Registerer prometheus.Registerer

	// Values are exposed to modules through the host context.
	Values map[string]any
}

// Application is the host: it owns the locator, the loaded descriptors and
// the executor.
type Application struct {
	cfg      *config.Config
	logger   *zap.Logger
	hostCtx  *host.StaticContext
	locator  *plugin.Locator
	executor *task.Executor

	mu      sync.RWMutex
	modules []*plugin.Descriptor
	watcher *plugin.Watcher
}

// New loads the configuration and builds the application.
func New(opts Options) (*Application, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.Root != "" {
		cfg.Modules.Root = opts.Root
	}
	if opts.Type != "" {
		cfg.Modules.Type = opts.Type
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return NewWithConfig(cfg, opts)
}

// NewWithConfig builds the application from cfg.
func NewWithConfig(cfg *config.Config, opts Options) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Log.Level, cfg.Log.JSON)
		if err != nil {
			return nil, fmt.Errorf("building logger: %w", err)
		}
	}

	hostCtx := host.NewContext(cfg.Modules.HostName, opts.Values, logging.Component(logger, "module"))

	locator := plugin.NewLocator(
		plugin.WithExtensions(cfg.Modules.Extensions...),
		plugin.WithForbidden(cfg.Modules.Forbidden...),
		plugin.WithRestricted(cfg.Modules.Restricted...),
		plugin.WithScanParallelism(cfg.Modules.ScanParallelism),
		plugin.WithContext(hostCtx),
		plugin.WithLogger(logging.Component(logger, "locator")),
	)

	execOpts := []task.Option{task.WithLogger(logging.Component(logger, "executor"))}
	if opts.Registerer != nil {
		execOpts = append(execOpts, task.WithRegisterer(opts.Registerer))
	}
	executor, err := task.New(task.Config{
		CoreSize:  cfg.Executor.CoreSize,
		MaxSize:   cfg.Executor.MaxSize,
		KeepAlive: cfg.Executor.KeepAlive.Std(),
		QueueSize: cfg.Executor.QueueSize,
	}, execOpts...)
	if err != nil {
		return nil, fmt.Errorf("building executor: %w", err)
	}

	return &Application{
		cfg:      cfg,
		logger:   logger,
		hostCtx:  hostCtx,
		locator:  locator,
		executor: executor,
	}, nil
}

// Config returns the effective configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() *zap.Logger { return a.logger }

// Locator returns the module locator.
func (a *Application) Locator() *plugin.Locator { return a.locator }

// Executor returns the task executor.
func (a *Application) Executor() *task.Executor { return a.executor }

// Scan loads every module under the configured root, replacing the
// previously loaded set.
func (a *Application) Scan(ctx context.Context) ([]*plugin.Descriptor, error) {
	mods, err := a.locator.LoadModules(ctx, a.cfg.Modules.Root, a.cfg.Modules.Type)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.modules = mods
	a.mu.Unlock()
	return mods, nil
}

// Failures returns the archives skipped by the last Scan.
func (a *Application) Failures() []plugin.Failure {
	return a.locator.Failures()
}

// Modules returns the loaded descriptors sorted by name.
func (a *Application) Modules() []*plugin.Descriptor {
	a.mu.RLock()
	w := a.watcher
	mods := append([]*plugin.Descriptor{}, a.modules...)
	a.mu.RUnlock()

	if w != nil {
		mods = w.Modules()
	}
	sort.SliceStable(mods, func(i, j int) bool { return mods[i].Name() < mods[j].Name() })
	return mods
}

// Find returns the loaded module named name.
func (a *Application) Find(name string) (*plugin.Descriptor, error) {
	for _, d := range a.Modules() {
		if d.Name() == name && d.Loaded() {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

// Submit creates a fresh instance of the named module and hands it to the
// executor. It returns the instance.
func (a *Application) Submit(name string) (host.WorkUnit, error) {
	d, err := a.Find(name)
	if err != nil {
		return nil, err
	}
	inst, err := d.NewInstance()
	if err != nil {
		return nil, err
	}
	unit, ok := inst.(host.WorkUnit)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T", ErrNotWorkUnit, name, inst)
	}
	if err := a.executor.Take(unit); err != nil {
		return nil, err
	}
	return unit, nil
}

// Watch starts reloading modules as their archives change. onChange may be
// nil. The watcher stops at Shutdown.
func (a *Application) Watch(onChange func(plugin.Change)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.watcher != nil {
		return nil
	}

	w := plugin.NewWatcher(a.locator, a.cfg.Modules.Root, a.cfg.Modules.Type,
		plugin.WithDebounce(a.cfg.Watch.Debounce.Std()),
		plugin.OnChange(onChange))
	w.Track(a.modules...)
	if err := w.Start(); err != nil {
		return fmt.Errorf("watching %s: %w", a.cfg.Modules.Root, err)
	}
	a.watcher = w
	return nil
}

// Shutdown stops the watcher and drains the executor.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()

	var errs []error
	if w != nil {
		errs = append(errs, w.Close())
	}
	errs = append(errs, a.executor.Shutdown(ctx))
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// ShutdownTimeout is the default time Shutdown waits for running units.
const ShutdownTimeout = 10 * time.Second
