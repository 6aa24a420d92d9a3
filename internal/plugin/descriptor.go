package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // icon decoding
	_ "image/jpeg" // icon decoding
	_ "image/png"  // icon decoding
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dshills/modhost/internal/plugin/archive"
	"github.com/dshills/modhost/internal/plugin/isolation"
	"github.com/dshills/modhost/pkg/host"
)

// Environment is what every descriptor of one locator shares: the policy
// snapshot, the host resolver, the definers and the host context. It is
// never mutated after construction.
type Environment struct {
	Policy   *isolation.Policy
	Host     isolation.Resolver
	Definers []isolation.Definer
	Context  host.Context
	Logger   *zap.Logger
}

// snapshot is the state readers see. A new snapshot replaces the old one on
// every transition; snapshots are never modified.
type snapshot struct {
	state       State
	meta        *Metadata
	boundary    *isolation.Boundary
	class       *isolation.Class
	icon        image.Image
	fingerprint uint64
	err         error
}

// Descriptor is one module archive and its lifecycle. Its identity is the
// archive path plus the entry class name, which survives Reset and Reload;
// the boundary and class it holds do not.
type Descriptor struct {
	path         string
	expectedType string
	env          *Environment
	logger       *zap.Logger

	// mu serializes Load, Reset and Reload.
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]

	// meta is the last successfully parsed metadata. It outlives Reset.
	meta atomic.Pointer[Metadata]

	obsMu     sync.Mutex
	observers []func(*Descriptor)
}

// NewDescriptor creates an unloaded descriptor.
func NewDescriptor(path, expectedType string, env *Environment) *Descriptor {
	if env == nil {
		env = &Environment{}
	}
	if env.Policy == nil {
		env.Policy = isolation.NewPolicy(nil, nil)
	}
	logger := env.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Descriptor{
		path:         path,
		expectedType: expectedType,
		env:          env,
		logger:       logger.With(zap.String("archive", path)),
	}
	d.snap.Store(&snapshot{state: StateUnloaded})
	return d
}

// Load reads the archive's metadata, validates it, builds a fresh boundary
// and resolves the entry class. A failed load leaves the descriptor in
// StateError.
func (d *Descriptor) Load(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snap.Load().state == StateLoaded {
		return newError(KindMetadata, d.path, ErrAlreadyLoaded)
	}
	return d.loadLocked(ctx)
}

func (d *Descriptor) loadLocked(ctx context.Context) error {
	next, err := d.build(ctx)
	if err != nil {
		d.snap.Store(&snapshot{state: StateError, err: err})
		return err
	}
	d.meta.Store(next.meta)
	d.snap.Store(next)
	d.logger.Info("module loaded",
		zap.String("module", next.meta.Name),
		zap.String("class", next.class.Name()),
		zap.String("boundary", next.boundary.ID()))
	return nil
}

func (d *Descriptor) build(ctx context.Context) (*snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError(KindDiscovery, d.path, err)
	}

	fp, err := archive.Fingerprint(d.path)
	if err != nil {
		return nil, newError(KindDiscovery, d.path, fmt.Errorf("%w: %w", ErrUnreadableArchive, err))
	}

	rec, err := ReadMetadata(d.path)
	if err != nil {
		if errors.Is(err, ErrUnreadableArchive) {
			return nil, newError(KindDiscovery, d.path, err)
		}
		return nil, newError(KindMetadata, d.path, err)
	}
	meta, err := ParseMetadata(rec)
	if err != nil {
		return nil, newError(KindMetadata, d.path, err)
	}
	if err := meta.Validate(d.expectedType); err != nil {
		return nil, newError(KindMetadata, d.path, err)
	}

	b := isolation.New(d.env.Policy,
		isolation.WithHost(d.env.Host),
		isolation.WithSources(archive.NewSource(d.path)),
		isolation.WithDefiners(d.env.Definers...),
		isolation.WithLogger(d.logger.With(zap.String("module", meta.Name))),
	)

	icon := d.decodeIcon(b, meta)

	class, err := b.LoadEntry(meta.EntryPath)
	if err != nil {
		if cerr := b.Close(); cerr != nil {
			d.logger.Warn("close boundary", zap.Error(cerr))
		}
		return nil, newError(KindIsolation, d.path, fmt.Errorf("%w: %w", ErrLoadFailed, err))
	}

	return &snapshot{
		state:       StateLoaded,
		meta:        meta,
		boundary:    b,
		class:       class,
		icon:        icon,
		fingerprint: fp,
	}, nil
}

// decodeIcon reads the icon resource. Failures are logged and ignored.
func (d *Descriptor) decodeIcon(b *isolation.Boundary, meta *Metadata) image.Image {
	if meta.Icon == "" {
		return nil
	}
	data, err := b.Resource(meta.Icon)
	if err != nil {
		d.logger.Warn("icon unavailable", zap.String("icon", meta.Icon), zap.Error(err))
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		d.logger.Warn("icon decode failed", zap.String("icon", meta.Icon), zap.Error(err))
		return nil
	}
	return img
}

// Reset drops the boundary, class and icon. The boundary is not closed:
// instances created from it keep working until they are dropped.
func (d *Descriptor) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resetLocked()
}

func (d *Descriptor) resetLocked() {
	d.snap.Store(&snapshot{state: StateUnloaded})
	d.logger.Debug("module reset")
}

// Reload resets the descriptor and loads it again through a brand-new
// boundary. Reload observers run after a successful load.
func (d *Descriptor) Reload(ctx context.Context) error {
	d.mu.Lock()
	d.resetLocked()
	err := d.loadLocked(ctx)
	d.mu.Unlock()

	if err != nil {
		return err
	}
	d.notifyReload()
	return nil
}

// OnReload registers fn to run after every successful Reload.
func (d *Descriptor) OnReload(fn func(*Descriptor)) {
	d.obsMu.Lock()
	defer d.obsMu.Unlock()
	d.observers = append(d.observers, fn)
}

func (d *Descriptor) notifyReload() {
	d.obsMu.Lock()
	observers := append([]func(*Descriptor){}, d.observers...)
	d.obsMu.Unlock()

	for _, fn := range observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error("reload observer panicked", zap.Any("panic", r))
				}
			}()
			fn(d)
		}()
	}
}

// NewInstance creates an instance of the entry class. A designated factory
// is used when the metadata names one; otherwise a constructor taking the
// host context is preferred over the zero-argument one. The descriptor stays
// loaded whatever the outcome.
func (d *Descriptor) NewInstance() (any, error) {
	s := d.snap.Load()
	if s.state != StateLoaded {
		return nil, newError(KindInstantiation, d.path, ErrNotLoaded)
	}

	ctors, err := s.class.Constructors()
	if err != nil {
		return nil, d.instantiationError(err)
	}

	var hostCtx any
	if d.env.Context != nil {
		hostCtx = d.env.Context
	}

	var (
		ctor isolation.Constructor
		args []any
	)
	if s.meta.Factory != "" {
		ctor, args, err = factory(ctors, s.meta.Factory, hostCtx)
	} else {
		ctor, args, err = isolation.SelectConstructor(ctors, hostCtx)
	}
	if err != nil {
		return nil, d.instantiationError(err)
	}

	v, err := ctor.Invoke(args...)
	if err != nil {
		return nil, d.instantiationError(fmt.Errorf("%s.%s: %w", s.class.Name(), ctor.Name, err))
	}
	return v, nil
}

func (d *Descriptor) instantiationError(err error) error {
	return newError(KindInstantiation, d.path, fmt.Errorf("%w: %w", ErrInstantiationFailed, err))
}

// factory picks the named constructor and passes it the host context when
// it takes one parameter.
func factory(ctors []isolation.Constructor, name string, hostCtx any) (isolation.Constructor, []any, error) {
	for _, c := range ctors {
		if c.Name != name {
			continue
		}
		switch {
		case len(c.Params) == 0:
			return c, nil, nil
		case len(c.Params) == 1 && hostCtx != nil && reflect.TypeOf(hostCtx).AssignableTo(c.Params[0]):
			return c, []any{hostCtx}, nil
		default:
			return isolation.Constructor{}, nil, fmt.Errorf("%w: %s takes %d parameters", isolation.ErrNoConstructor, name, len(c.Params))
		}
	}
	return isolation.Constructor{}, nil, fmt.Errorf("%w: %s", ErrNoFactory, name)
}

// Resource reads a non-class entry through the current boundary.
func (d *Descriptor) Resource(name string) ([]byte, error) {
	s := d.snap.Load()
	if s.state != StateLoaded {
		return nil, newError(KindIsolation, d.path, ErrNotLoaded)
	}
	data, err := s.boundary.Resource(name)
	if err != nil {
		return nil, newError(KindIsolation, d.path, err)
	}
	return data, nil
}

// HelpText returns the help resource named by the metadata, if any.
func (d *Descriptor) HelpText() (string, error) {
	m := d.meta.Load()
	if m == nil || m.Help == "" {
		return "", nil
	}
	data, err := d.Resource(m.Help)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Equal reports whether d and other describe the same logical module: the
// same archive and the same entry class.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.path == other.path && d.ClassName() == other.ClassName()
}

// Key returns the identity of d as a map key.
func (d *Descriptor) Key() string {
	return d.path + "#" + d.ClassName()
}

// Path returns the archive path.
func (d *Descriptor) Path() string { return d.path }

// ExpectedType returns the type the descriptor was created for.
func (d *Descriptor) ExpectedType() string { return d.expectedType }

// State returns the current lifecycle state.
func (d *Descriptor) State() State { return d.snap.Load().state }

// Loaded reports whether the descriptor is loaded.
func (d *Descriptor) Loaded() bool { return d.State() == StateLoaded }

// Err returns the error of the last failed load.
func (d *Descriptor) Err() error { return d.snap.Load().err }

// Class returns the resolved entry class, nil unless loaded.
func (d *Descriptor) Class() *isolation.Class { return d.snap.Load().class }

// Boundary returns the current boundary, nil unless loaded.
func (d *Descriptor) Boundary() *isolation.Boundary { return d.snap.Load().boundary }

// Icon returns the decoded icon, nil when absent or undecodable.
func (d *Descriptor) Icon() image.Image { return d.snap.Load().icon }

// Fingerprint returns the archive hash taken by the last successful load.
func (d *Descriptor) Fingerprint() uint64 { return d.snap.Load().fingerprint }

// Metadata returns the last successfully loaded metadata, or nil.
func (d *Descriptor) Metadata() *Metadata { return d.meta.Load() }

// ClassName returns the entry class name, "" before the first load.
func (d *Descriptor) ClassName() string {
	if m := d.meta.Load(); m != nil {
		return m.EntryClass
	}
	return ""
}

// Name returns the module name.
func (d *Descriptor) Name() string { return d.metaField(func(m *Metadata) string { return m.Name }) }

// Type returns the declared module type.
func (d *Descriptor) Type() string { return d.metaField(func(m *Metadata) string { return m.Type }) }

// Description returns the module description.
func (d *Descriptor) Description() string {
	return d.metaField(func(m *Metadata) string { return m.Description })
}

// Version returns the module version.
func (d *Descriptor) Version() string {
	return d.metaField(func(m *Metadata) string { return m.Version })
}

// IconRef returns the icon entry path.
func (d *Descriptor) IconRef() string { return d.metaField(func(m *Metadata) string { return m.Icon }) }

// HelpRef returns the help entry path.
func (d *Descriptor) HelpRef() string { return d.metaField(func(m *Metadata) string { return m.Help }) }

func (d *Descriptor) metaField(get func(*Metadata) string) string {
	if m := d.meta.Load(); m != nil {
		return get(m)
	}
	return ""
}

// Property returns the opaque property stored under key, or def.
func (d *Descriptor) Property(key string, def any) any {
	if m := d.meta.Load(); m != nil {
		return m.Property(key, def)
	}
	return def
}

// PropertyPath looks up a nested property with a gjson path.
func (d *Descriptor) PropertyPath(path string) (any, bool) {
	if m := d.meta.Load(); m != nil {
		return m.PropertyPath(path)
	}
	return nil, false
}

// Properties returns a copy of the property bag.
func (d *Descriptor) Properties() map[string]any {
	m := d.meta.Load()
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m.Properties))
	for k, v := range m.Properties {
		out[k] = v
	}
	return out
}

// String returns a string representation of the descriptor.
func (d *Descriptor) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Key(), d.Name(), d.State())
}
