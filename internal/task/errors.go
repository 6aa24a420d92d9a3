package task

import (
	"errors"
	"fmt"

	"github.com/dshills/modhost/pkg/host"
)

// Sentinel errors for the task package.
var (
	// ErrShutdown is the reason a unit is rejected after Shutdown.
	ErrShutdown = errors.New("executor is shut down")

	// ErrSaturated is the reason a unit is rejected when every worker is busy
	// and the queue is full.
	ErrSaturated = errors.New("executor is saturated")

	// ErrNilUnit is returned when taking a nil work unit.
	ErrNilUnit = errors.New("work unit is nil")

	// ErrInvalidConfig is returned for pool sizes that cannot work.
	ErrInvalidConfig = errors.New("invalid executor config")
)

// RejectedError reports a unit the executor refused to accept.
type RejectedError struct {
	Unit   host.WorkUnit
	Reason error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("work unit rejected: %v", e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Reason
}

// PanicError wraps a value recovered from a panicking work unit.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("work unit panicked: %v", e.Value)
}
