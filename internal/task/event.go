package task

import (
	"time"

	"github.com/dshills/modhost/pkg/host"
)

// EventKind selects which notifications a listener receives.
type EventKind int

// Event kinds.
const (
	// BeforeExecute is sent from Take before the unit is queued.
	BeforeExecute EventKind = iota

	// AfterExecute is sent from the worker after the unit returned.
	AfterExecute
)

// String returns a string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case BeforeExecute:
		return "before-execute"
	case AfterExecute:
		return "after-execute"
	default:
		return "unknown"
	}
}

// Event is one notification about a work unit. The same ID is carried by
// the before and after events of one submission.
type Event struct {
	Kind EventKind
	ID   string
	Unit host.WorkUnit

	// Err is the unit's error, or a *PanicError. After-execute only.
	Err error

	// Duration is how long Run took. After-execute only.
	Duration time.Duration
}

// Failed reports whether the unit returned an error or panicked.
func (e Event) Failed() bool {
	return e.Err != nil
}

// Panicked reports whether the unit panicked.
func (e Event) Panicked() bool {
	_, ok := e.Err.(*PanicError)
	return ok
}

// Listener receives events of the kind it was registered for.
type Listener func(Event)

// ListenerID identifies a registered listener.
type ListenerID string
