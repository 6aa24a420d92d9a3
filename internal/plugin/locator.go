package plugin

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/modhost/internal/plugin/goscript"
	"github.com/dshills/modhost/internal/plugin/isolation"
	"github.com/dshills/modhost/internal/plugin/lua"
	"github.com/dshills/modhost/pkg/host"
)

// DefaultExtensions are the archive suffixes a scan considers.
var DefaultExtensions = []string{".kmod", ".zip"}

// DefaultForbidden are namespaces no module may resolve or import.
var DefaultForbidden = []string{"os.exec", "syscall", "unsafe", "net", "plugin"}

// DefaultScanParallelism bounds concurrent archive loads during a scan.
const DefaultScanParallelism = 4

// Failure records an archive a scan skipped.
type Failure struct {
	Path string
	Err  error
}

// Locator finds module archives and loads them into descriptors. All
// descriptors it creates share one Environment, including the policy
// snapshot built once by NewLocator.
type Locator struct {
	env         *Environment
	extensions  []string
	parallelism int
	logger      *zap.Logger

	mu       sync.Mutex
	failures []Failure
}

type locatorConfig struct {
	extensions  []string
	forbidden   []string
	restricted  []string
	host        isolation.Resolver
	context     host.Context
	logger      *zap.Logger
	parallelism int
	definers    []isolation.Definer
}

// LocatorOption configures a Locator.
type LocatorOption func(*locatorConfig)

// WithExtensions replaces the archive suffixes considered by a scan.
func WithExtensions(exts ...string) LocatorOption {
	return func(c *locatorConfig) {
		c.extensions = exts
	}
}

// WithForbidden adds forbidden namespaces to the defaults.
func WithForbidden(namespaces ...string) LocatorOption {
	return func(c *locatorConfig) {
		c.forbidden = append(c.forbidden, namespaces...)
	}
}

// WithRestricted adds restricted namespaces to the core ones.
func WithRestricted(namespaces ...string) LocatorOption {
	return func(c *locatorConfig) {
		c.restricted = append(c.restricted, namespaces...)
	}
}

// WithHost sets the resolver for restricted names. The default is
// DefaultHost().
func WithHost(r isolation.Resolver) LocatorOption {
	return func(c *locatorConfig) {
		c.host = r
	}
}

// WithContext sets the host context passed to context-aware constructors.
func WithContext(ctx host.Context) LocatorOption {
	return func(c *locatorConfig) {
		c.context = ctx
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LocatorOption {
	return func(c *locatorConfig) {
		c.logger = logger
	}
}

// WithScanParallelism bounds concurrent loads during LoadModules.
func WithScanParallelism(n int) LocatorOption {
	return func(c *locatorConfig) {
		c.parallelism = n
	}
}

// WithDefiners replaces the class definers. The default defines Lua and Go
// source classes, in that order.
func WithDefiners(definers ...isolation.Definer) LocatorOption {
	return func(c *locatorConfig) {
		c.definers = definers
	}
}

// NewLocator creates a locator.
func NewLocator(opts ...LocatorOption) *Locator {
	cfg := locatorConfig{
		extensions:  DefaultExtensions,
		forbidden:   append([]string{}, DefaultForbidden...),
		parallelism: DefaultScanParallelism,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.host == nil {
		cfg.host = DefaultHost()
	}
	if cfg.definers == nil {
		cfg.definers = []isolation.Definer{lua.NewDefiner(), goscript.NewDefiner()}
	}
	if cfg.parallelism <= 0 {
		cfg.parallelism = 1
	}

	exts := make([]string, len(cfg.extensions))
	for i, e := range cfg.extensions {
		exts[i] = strings.ToLower(e)
	}

	return &Locator{
		env: &Environment{
			Policy:   isolation.NewPolicy(cfg.forbidden, cfg.restricted),
			Host:     cfg.host,
			Definers: cfg.definers,
			Context:  cfg.context,
			Logger:   cfg.logger,
		},
		extensions:  exts,
		parallelism: cfg.parallelism,
		logger:      cfg.logger,
	}
}

// Policy returns the shared policy snapshot.
func (l *Locator) Policy() *isolation.Policy { return l.env.Policy }

// Environment returns the environment shared by the locator's descriptors.
func (l *Locator) Environment() *Environment { return l.env }

// Extensions returns the archive suffixes considered by a scan.
func (l *Locator) Extensions() []string {
	return append([]string{}, l.extensions...)
}

// Matches reports whether path has one of the locator's archive suffixes.
func (l *Locator) Matches(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range l.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadModule builds and loads the descriptor of one archive.
func (l *Locator) LoadModule(ctx context.Context, path, expectedType string) (*Descriptor, error) {
	d := NewDescriptor(path, expectedType, l.env)
	if err := d.Load(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadModules loads every matching archive under root. Archives are loaded
// concurrently and independently: a failing archive is logged, recorded in
// Failures and left out of the result. The error is non-nil only when root
// cannot be walked or ctx ends. Descriptors are sorted by path.
func (l *Locator) LoadModules(ctx context.Context, root, expectedType string) ([]*Descriptor, error) {
	paths, err := l.candidates(root)
	if err != nil {
		return nil, err
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		loaded   []*Descriptor
		failures []Failure
	)
	g.SetLimit(l.parallelism)

	for _, path := range paths {
		g.Go(func() error {
			d, err := l.LoadModule(ctx, path, expectedType)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, Failure{Path: path, Err: err})
				l.logFailure(path, err)
				return nil
			}
			loaded = append(loaded, d)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Path() < loaded[j].Path() })
	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })

	l.mu.Lock()
	l.failures = failures
	l.mu.Unlock()

	l.logger.Info("module scan complete",
		zap.String("root", root),
		zap.Int("loaded", len(loaded)),
		zap.Int("failed", len(failures)))

	if err := ctx.Err(); err != nil {
		return loaded, err
	}
	return loaded, nil
}

func (l *Locator) logFailure(path string, err error) {
	kind := "unknown"
	if k, ok := KindOf(err); ok {
		kind = k.String()
	}
	l.logger.Warn("skipping module archive",
		zap.String("archive", path),
		zap.String("kind", kind),
		zap.Error(err))
}

// candidates walks root for matching archives. Unreadable subdirectories
// are logged and skipped; an unreadable root is an error.
func (l *Locator) candidates(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			l.logger.Warn("skipping unreadable path", zap.String("path", p), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !l.Matches(p) {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return nil, newError(KindDiscovery, root, err)
	}
	return paths, nil
}

// Failures returns the archives skipped by the most recent LoadModules.
func (l *Locator) Failures() []Failure {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Failure{}, l.failures...)
}

// FailedPaths returns the paths of Failures.
func (l *Locator) FailedPaths() []string {
	var out []string
	for _, f := range l.Failures() {
		out = append(out, f.Path)
	}
	return out
}

// IsDiscoveryFailure reports whether err is a discovery error.
func IsDiscoveryFailure(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindDiscovery
}
