package lua

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// DefaultExecutionTimeout bounds a single call into a state when the caller's
// context carries no deadline of its own.
const DefaultExecutionTimeout = 5 * time.Second

// State is one boundary's Lua runtime.
//
// gopher-lua's LState is not goroutine-safe. Every use of L goes through Do,
// which serializes callers on mu. Code already running inside Do (a Go
// function called from Lua) uses L directly.
type State struct {
	L *lua.LState

	mu sync.Mutex

	executionTimeout time.Duration
	logger           *zap.Logger
	bridge           *Bridge
	sandbox          *Sandbox

	// hostModules caches the table each host module produced for this state.
	hostModules map[*HostModule]*lua.LTable

	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithExecutionTimeout sets the timeout applied to calls whose context has
// no deadline. Zero disables it.
func WithExecutionTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.executionTimeout = d
	}
}

// WithLogger sets the logger used by print and the modhost.log module.
func WithLogger(logger *zap.Logger) StateOption {
	return func(s *State) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRequire installs the resolver behind the global require function.
func WithRequire(fn RequireFunc) StateOption {
	return func(s *State) {
		s.sandbox.require = fn
	}
}

// NewState creates a sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})
	state := &State{
		L:                L,
		executionTimeout: DefaultExecutionTimeout,
		logger:           zap.NewNop(),
		bridge:           NewBridge(L),
		hostModules:      make(map[*HostModule]*lua.LTable),
	}
	state.sandbox = NewSandbox(state)

	for _, opt := range opts {
		opt(state)
	}

	if err := state.sandbox.Install(); err != nil {
		L.Close()
		return nil, err
	}
	return state, nil
}

// Do runs fn with exclusive access to the state. A Lua error raised while
// ctx is done is reported as ErrExecutionTimeout.
func (s *State) Do(ctx context.Context, fn func(L *lua.LState) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if _, ok := ctx.Deadline(); !ok && s.executionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.executionTimeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	top := s.L.GetTop()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		// Leave the stack as found even when fn bailed out halfway.
		s.L.SetTop(top)
		if err != nil && ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", ErrExecutionTimeout, err)
		}
	}()
	return fn(s.L)
}

// DoString runs code in the state.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.Do(ctx, func(L *lua.LState) error {
		return L.DoString(code)
	})
}

// Bridge returns the value converter bound to this state.
func (s *State) Bridge() *Bridge { return s.bridge }

// Logger returns the state's logger.
func (s *State) Logger() *zap.Logger { return s.logger }

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the Lua state. After Close, Do returns ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.L.Close()
	s.closed = true
	return nil
}

// callFunc calls fn with args already converted to Lua and returns every
// result. It must run inside Do.
func callFunc(L *lua.LState, fn lua.LValue, args ...lua.LValue) ([]lua.LValue, error) {
	top := L.GetTop()
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	if err := L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}
	n := L.GetTop() - top
	if n <= 0 {
		return nil, nil
	}
	results := make([]lua.LValue, n)
	for i := 0; i < n; i++ {
		results[i] = L.Get(top + i + 1)
	}
	L.Pop(n)
	return results, nil
}
