package isolation

import (
	"errors"
	"fmt"
)

// Resolution errors.
var (
	// ErrForbidden is returned when a name falls in a forbidden namespace.
	ErrForbidden = errors.New("namespace is forbidden")

	// ErrRestricted is returned when a restricted name cannot be supplied by the host.
	ErrRestricted = errors.New("namespace is restricted to the host")

	// ErrClassNotFound is returned when no source defines the class.
	ErrClassNotFound = errors.New("class not found")

	// ErrResourceNotFound is returned when no source contains the resource.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrEntryNotFound is returned by a Source that has no entry with the given name.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrArchiveCorrupt is returned when an entry's declared size differs from the bytes read.
	ErrArchiveCorrupt = errors.New("archive entry is corrupt")

	// ErrBoundaryClosed is returned when resolving through a closed boundary.
	ErrBoundaryClosed = errors.New("isolation boundary is closed")

	// ErrNoConstructor is returned when a class exposes no usable constructor.
	ErrNoConstructor = errors.New("no usable constructor")

	// ErrDuplicateClass is returned when registering a host class twice.
	ErrDuplicateClass = errors.New("class already registered")
)

// ResolveError records a failed class or resource resolution.
type ResolveError struct {
	Name string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q: %v", e.Name, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}
