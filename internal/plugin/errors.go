package plugin

import (
	"errors"
	"fmt"
)

// Module system errors.
var (
	// ErrNoMetadata is returned when an archive has no module.yaml and no sidecar.
	ErrNoMetadata = errors.New("module has no metadata record")

	// ErrInvalidMetadata is returned when the metadata record does not parse.
	ErrInvalidMetadata = errors.New("module metadata is invalid")

	// ErrNoEntryPoint is returned when no metadata entry carries the module marker.
	ErrNoEntryPoint = errors.New("module has no entry point")

	// ErrMultipleEntryPoints is returned when more than one entry carries the marker.
	ErrMultipleEntryPoints = errors.New("module has more than one entry point")

	// ErrMissingName is returned when the entry point has no name.
	ErrMissingName = errors.New("module name is required")

	// ErrMissingType is returned when the entry point has no type.
	ErrMissingType = errors.New("module type is required")

	// ErrTypeMismatch is returned when the declared type differs from the expected one.
	ErrTypeMismatch = errors.New("module type mismatch")

	// ErrUnreadableArchive is returned when the archive cannot be opened or read.
	ErrUnreadableArchive = errors.New("module archive is unreadable")

	// ErrLoadFailed is returned when the entry class cannot be resolved.
	ErrLoadFailed = errors.New("module entry class failed to load")

	// ErrAlreadyLoaded is returned when loading a loaded descriptor.
	ErrAlreadyLoaded = errors.New("module is already loaded")

	// ErrNotLoaded is returned when instantiating a descriptor that is not loaded.
	ErrNotLoaded = errors.New("module is not loaded")

	// ErrInstantiationFailed is returned when no instance could be constructed.
	ErrInstantiationFailed = errors.New("module instantiation failed")

	// ErrNoFactory is returned when the designated factory is not a constructor of the class.
	ErrNoFactory = errors.New("module factory not found")
)

// Kind classifies where in the module lifecycle an error happened.
type Kind int

// Error kinds.
const (
	// KindDiscovery - the archive could not be read.
	KindDiscovery Kind = iota

	// KindMetadata - the metadata record is missing or invalid.
	KindMetadata

	// KindIsolation - a class or resource could not be resolved.
	KindIsolation

	// KindInstantiation - no instance could be constructed.
	KindInstantiation
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindMetadata:
		return "metadata"
	case KindIsolation:
		return "isolation"
	case KindInstantiation:
		return "instantiation"
	default:
		return "unknown"
	}
}

// Error is a module failure tied to an archive.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf reports the kind of err when it is, or wraps, an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
