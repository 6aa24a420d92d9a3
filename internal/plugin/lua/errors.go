package lua

import "errors"

// Errors for Lua classes and states.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrExecutionTimeout is returned when a call outlives its context.
	ErrExecutionTimeout = errors.New("lua execution timeout")

	// ErrCompile is returned when a class chunk does not parse.
	ErrCompile = errors.New("lua compile error")

	// ErrNotAClass is returned when a class chunk does not return a table.
	ErrNotAClass = errors.New("lua chunk did not return a class table")

	// ErrCircularRequire is returned when a class requires itself, directly or not.
	ErrCircularRequire = errors.New("circular require")

	// ErrNotAnObject is returned when a constructor does not return a table.
	ErrNotAnObject = errors.New("lua constructor did not return an object")

	// ErrNoSuchMethod is returned when calling a method an object lacks.
	ErrNoSuchMethod = errors.New("no such method")

	// ErrNotRequirable is returned when require names a class that has no Lua form.
	ErrNotRequirable = errors.New("class cannot be required from lua")
)
