// Package host defines the types a loaded module sees from the host.
//
// A module's entry class may declare a constructor taking a single Context
// parameter; the host passes its context through it so the module can call
// back into the host. Instances that implement WorkUnit may be handed to the
// task executor.
package host

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Context is the opaque host object passed to context-aware constructors.
type Context interface {
	// Name identifies the host.
	Name() string

	// Value returns a host-supplied value by key.
	Value(key string) (any, bool)

	// Log writes a message to the host log. keysAndValues are alternating
	// key/value pairs.
	Log(msg string, keysAndValues ...any)
}

// WorkUnit is a schedulable unit of execution.
type WorkUnit interface {
	Run(ctx context.Context) error
}

// WorkFunc adapts a function to WorkUnit.
type WorkFunc func(ctx context.Context) error

// Run calls f(ctx).
func (f WorkFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// StaticContext is a Context backed by a fixed name and a mutable value map.
type StaticContext struct {
	name   string
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates a StaticContext. A nil logger discards log output.
func NewContext(name string, values map[string]any, logger *zap.Logger) *StaticContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := make(map[string]any, len(values))
	for k, val := range values {
		v[k] = val
	}
	return &StaticContext{
		name:   name,
		logger: logger.Sugar(),
		values: v,
	}
}

// Name returns the host name.
func (c *StaticContext) Name() string {
	return c.name
}

// Value returns the value stored under key.
func (c *StaticContext) Value(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key.
func (c *StaticContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Log writes msg at info level.
func (c *StaticContext) Log(msg string, keysAndValues ...any) {
	c.logger.Infow(msg, keysAndValues...)
}
