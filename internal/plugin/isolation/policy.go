package isolation

import (
	"sort"
	"strings"
)

// Tier is the outcome of matching a name against a Policy.
type Tier int

const (
	// TierOpen names are resolved from the boundary's own sources.
	TierOpen Tier = iota

	// TierRestricted names are resolved by the host only.
	TierRestricted

	// TierForbidden names never resolve.
	TierForbidden
)

// String returns a string representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierOpen:
		return "open"
	case TierRestricted:
		return "restricted"
	case TierForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// CoreNamespaces are always restricted so a module can never shadow the
// host's own types.
var CoreNamespaces = []string{"modhost", "lua", "go"}

// Policy is an immutable namespace snapshot. It is built once and shared by
// reference between every boundary created from it.
type Policy struct {
	forbidden  []string
	restricted []string
}

// NewPolicy builds a Policy. CoreNamespaces are added to the restricted set.
// Namespaces are dotted prefixes; a trailing ".*" is accepted and dropped.
func NewPolicy(forbidden, restricted []string) *Policy {
	return &Policy{
		forbidden:  normalizeNamespaces(forbidden),
		restricted: normalizeNamespaces(append(append([]string{}, CoreNamespaces...), restricted...)),
	}
}

// With returns a new Policy extending p with more namespaces. p is unchanged.
func (p *Policy) With(forbidden, restricted []string) *Policy {
	return &Policy{
		forbidden:  normalizeNamespaces(append(p.Forbidden(), forbidden...)),
		restricted: normalizeNamespaces(append(p.Restricted(), restricted...)),
	}
}

// Classify returns the tier for name. Forbidden wins over restricted.
func (p *Policy) Classify(name string) Tier {
	for _, ns := range p.forbidden {
		if matchNamespace(ns, name) {
			return TierForbidden
		}
	}
	for _, ns := range p.restricted {
		if matchNamespace(ns, name) {
			return TierRestricted
		}
	}
	return TierOpen
}

// Forbidden returns a copy of the forbidden namespaces.
func (p *Policy) Forbidden() []string {
	return append([]string{}, p.forbidden...)
}

// Restricted returns a copy of the restricted namespaces.
func (p *Policy) Restricted() []string {
	return append([]string{}, p.restricted...)
}

// matchNamespace reports whether name is ns or lies below it.
func matchNamespace(ns, name string) bool {
	if name == ns {
		return true
	}
	return strings.HasPrefix(name, ns) && len(name) > len(ns) && name[len(ns)] == '.'
}

func normalizeNamespaces(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, ns := range in {
		ns = strings.TrimSpace(ns)
		ns = strings.TrimSuffix(ns, ".*")
		ns = strings.TrimSuffix(ns, ".")
		if ns == "" || seen[ns] {
			continue
		}
		seen[ns] = true
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}
