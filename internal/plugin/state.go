package plugin

// State represents the lifecycle state of a module descriptor.
type State int

// Descriptor states.
const (
	// StateUnloaded - no boundary, no class.
	StateUnloaded State = iota

	// StateLoaded - the entry class is resolved and instances can be created.
	StateLoaded

	// StateError - the last load failed; see Descriptor.Err.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsUsable returns true if instances can be created.
func (s State) IsUsable() bool {
	return s == StateLoaded
}
