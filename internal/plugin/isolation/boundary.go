package isolation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Boundary resolves classes and resources for one module. It enforces the
// namespace policy, searches its sources in registration order, and caches
// every successful resolution so repeated lookups return the same *Class.
//
// Classes defined by a boundary live in that boundary's private runtimes, so
// two boundaries loading the same name never share a definition.
type Boundary struct {
	id       string
	policy   *Policy
	host     Resolver
	sources  []Source
	definers []Definer
	logger   *zap.Logger

	mu        sync.Mutex
	classes   map[string]*Class
	resources map[string][]byte
	runtimes  map[string]Runtime
	closed    bool
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithHost sets the resolver used for restricted names.
func WithHost(r Resolver) Option {
	return func(b *Boundary) {
		b.host = r
	}
}

// WithSources appends sources. Search order is registration order.
func WithSources(sources ...Source) Option {
	return func(b *Boundary) {
		b.sources = append(b.sources, sources...)
	}
}

// WithDefiners appends definers. Within one source, definers are tried in
// registration order.
func WithDefiners(definers ...Definer) Option {
	return func(b *Boundary) {
		b.definers = append(b.definers, definers...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Boundary) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a boundary governed by policy. A nil policy means
// NewPolicy(nil, nil).
func New(policy *Policy, opts ...Option) *Boundary {
	if policy == nil {
		policy = NewPolicy(nil, nil)
	}
	b := &Boundary{
		id:        uuid.NewString(),
		policy:    policy,
		logger:    zap.NewNop(),
		classes:   make(map[string]*Class),
		resources: make(map[string][]byte),
		runtimes:  make(map[string]Runtime),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("boundary", b.id))
	return b
}

// ID returns the boundary's unique identifier.
func (b *Boundary) ID() string { return b.id }

// Policy returns the shared policy snapshot.
func (b *Boundary) Policy() *Policy { return b.policy }

// Logger returns the boundary logger.
func (b *Boundary) Logger() *zap.Logger { return b.logger }

// Sources returns the registered sources in search order.
func (b *Boundary) Sources() []Source {
	return append([]Source{}, b.sources...)
}

// LoadClass resolves name: forbidden names fail, restricted names come from
// the host only, and everything else is defined from the first source that
// contains it.
func (b *Boundary) LoadClass(name string) (*Class, error) {
	return b.resolve(name, b.definers)
}

// LoadEntry resolves the class stored at entryPath, such as
// "acme/greet/Greeter.go". Only the definer registered for the entry's
// extension is consulted, so a sibling entry with another extension never
// stands in for it. The namespace policy applies as in LoadClass.
func (b *Boundary) LoadEntry(entryPath string) (*Class, error) {
	name := ClassName(entryPath)
	entry := strings.TrimPrefix(entryPath, "/")

	var definers []Definer
	for _, d := range b.definers {
		if strings.HasSuffix(entry, d.Extension()) {
			definers = append(definers, d)
		}
	}

	c, err := b.resolve(name, definers)
	if err != nil {
		return nil, err
	}
	if !c.IsHost() && c.Entry() != entry {
		return nil, &ResolveError{Name: name, Err: fmt.Errorf("%w: resolved from %s, not %s", ErrClassNotFound, c.Entry(), entry)}
	}
	return c, nil
}

func (b *Boundary) resolve(name string, definers []Definer) (*Class, error) {
	if c, ok, err := b.cachedClass(name); ok || err != nil {
		return c, err
	}

	var (
		c   *Class
		err error
	)
	switch b.policy.Classify(name) {
	case TierForbidden:
		return nil, &ResolveError{Name: name, Err: ErrForbidden}
	case TierRestricted:
		c, err = b.resolveHost(name)
	default:
		c, err = b.define(name, definers)
	}
	if err != nil {
		return nil, &ResolveError{Name: name, Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.classes[name]; ok {
		// A concurrent lookup won; keep the first definition.
		return existing, nil
	}
	b.classes[name] = c
	b.logger.Debug("class resolved",
		zap.String("class", name),
		zap.String("origin", c.Origin()))
	return c, nil
}

func (b *Boundary) cachedClass(name string) (*Class, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false, &ResolveError{Name: name, Err: ErrBoundaryClosed}
	}
	c, ok := b.classes[name]
	return c, ok, nil
}

func (b *Boundary) resolveHost(name string) (*Class, error) {
	if b.host == nil {
		return nil, fmt.Errorf("%w: no host resolver", ErrRestricted)
	}
	c, err := b.host.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRestricted, err)
	}
	return c, nil
}

func (b *Boundary) define(name string, definers []Definer) (*Class, error) {
	base := ClassPath(name)
	for _, src := range b.sources {
		for _, d := range definers {
			entry, err := src.Lookup(base + d.Extension())
			if errors.Is(err, ErrEntryNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if int64(len(entry.Data)) != entry.DeclaredSize {
				return nil, fmt.Errorf("%w: %s in %s declares %d bytes, read %d",
					ErrArchiveCorrupt, entry.Name, src.Name(), entry.DeclaredSize, len(entry.Data))
			}
			def, err := d.Define(b, name, entry.Data)
			if err != nil {
				return nil, err
			}
			c := NewClass(name, src.Name(), b, def)
			c.entry = base + d.Extension()
			return c, nil
		}
	}
	return nil, ErrClassNotFound
}

// Resource returns the bytes of a non-class entry. The namespace policy does
// not apply to resources.
func (b *Boundary) Resource(name string) ([]byte, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, &ResolveError{Name: name, Err: ErrBoundaryClosed}
	}
	if data, ok := b.resources[name]; ok {
		b.mu.Unlock()
		return data, nil
	}
	b.mu.Unlock()

	for _, src := range b.sources {
		entry, err := src.Lookup(name)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, &ResolveError{Name: name, Err: err}
		}
		if int64(len(entry.Data)) != entry.DeclaredSize {
			return nil, &ResolveError{Name: name, Err: ErrArchiveCorrupt}
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.resources[name]; ok {
			return existing, nil
		}
		b.resources[name] = entry.Data
		return entry.Data, nil
	}
	return nil, &ResolveError{Name: name, Err: ErrResourceNotFound}
}

// Runtime returns the runtime stored under key, creating it with create on
// first use. Definers keep their interpreter state here.
func (b *Boundary) Runtime(key string, create func() (Runtime, error)) (Runtime, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBoundaryClosed
	}
	if rt, ok := b.runtimes[key]; ok {
		return rt, nil
	}
	rt, err := create()
	if err != nil {
		return nil, err
	}
	b.runtimes[key] = rt
	return rt, nil
}

// Classes returns the names of resolved classes, sorted.
func (b *Boundary) Classes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.classes))
	for name := range b.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the boundary's runtimes. Instances created from it stop
// working; callers that want old instances to keep running simply drop the
// boundary instead.
func (b *Boundary) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error
	for key, rt := range b.runtimes {
		if err := rt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close runtime %s: %w", key, err))
		}
	}
	b.runtimes = nil
	return errors.Join(errs...)
}
