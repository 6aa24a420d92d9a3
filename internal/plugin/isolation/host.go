package isolation

import (
	"fmt"
	"sort"
	"sync"
)

// Resolver supplies classes that live outside any boundary. Restricted
// names are resolved only through a Resolver.
type Resolver interface {
	Resolve(name string) (*Class, error)
}

// HostRegistry is the host's Resolver: a fixed set of host classes.
type HostRegistry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewHostRegistry creates an empty registry.
func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		classes: make(map[string]*Class),
	}
}

// Register adds a host class built from Go constructor functions.
func (r *HostRegistry) Register(name string, ctors ...any) error {
	def, err := NewFuncDefinition(ctors...)
	if err != nil {
		return fmt.Errorf("host class %q: %w", name, err)
	}
	return r.RegisterDefinition(name, def)
}

// RegisterDefinition adds a host class with an arbitrary definition.
func (r *HostRegistry) RegisterDefinition(name string, def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.classes[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateClass, name)
	}
	r.classes[name] = NewClass(name, "host", nil, def)
	return nil
}

// Resolve returns the host class registered under name.
func (r *HostRegistry) Resolve(name string) (*Class, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.classes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}
	return c, nil
}

// Names returns the registered class names, sorted.
func (r *HostRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
