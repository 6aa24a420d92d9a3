package isolation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestPolicyClassify(t *testing.T) {
	p := NewPolicy([]string{"os.exec", "danger.*"}, []string{"acme.shared"})

	tests := []struct {
		name string
		want Tier
	}{
		{"os.exec", TierForbidden},
		{"os.exec.Cmd", TierForbidden},
		{"os.execute", TierOpen},
		{"danger", TierForbidden},
		{"danger.Zone", TierForbidden},
		{"acme.shared.Log", TierRestricted},
		{"acme.sharedx", TierOpen},
		{"modhost.log", TierRestricted},
		{"lua", TierRestricted},
		{"go.runtime", TierRestricted},
		{"acme.greet.Greeter", TierOpen},
		{"", TierOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Classify(tt.name))
		})
	}
}

func TestPolicyForbiddenWinsOverRestricted(t *testing.T) {
	p := NewPolicy([]string{"modhost.internal"}, nil)

	assert.Equal(t, TierForbidden, p.Classify("modhost.internal.Secret"))
	assert.Equal(t, TierRestricted, p.Classify("modhost.log"))
}

func TestPolicyNormalizes(t *testing.T) {
	p := NewPolicy([]string{" a.b.* ", "a.b", "", "c."}, nil)

	assert.Equal(t, []string{"a.b", "c"}, p.Forbidden())
	for _, ns := range CoreNamespaces {
		assert.Contains(t, p.Restricted(), ns)
	}
}

func TestPolicyWithLeavesOriginal(t *testing.T) {
	p := NewPolicy(nil, nil)
	q := p.With([]string{"x"}, []string{"y"})

	assert.Equal(t, TierOpen, p.Classify("x.A"))
	assert.Equal(t, TierForbidden, q.Classify("x.A"))
	assert.Equal(t, TierRestricted, q.Classify("y.B"))
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "open", TierOpen.String())
	assert.Equal(t, "restricted", TierRestricted.String())
	assert.Equal(t, "forbidden", TierForbidden.String())
	assert.Equal(t, "unknown", Tier(42).String())
}

func segmentGen() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-z0-9]{0,6}`)
}

func TestPolicyNamespacePrefixProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ns := strings.Join(rapid.SliceOfN(segmentGen(), 1, 3).Draw(t, "ns"), ".")
		suffix := rapid.SliceOfN(segmentGen(), 0, 3).Draw(t, "suffix")
		name := ns
		if len(suffix) > 0 {
			name = ns + "." + strings.Join(suffix, ".")
		}

		p := NewPolicy([]string{ns}, nil)
		if p.Classify(name) != TierForbidden {
			t.Fatalf("%q should be forbidden under %q", name, ns)
		}
		// Gluing characters onto the last segment leaves the namespace.
		if p.Classify(ns+"x") == TierForbidden {
			t.Fatalf("%q should not be forbidden under %q", ns+"x", ns)
		}
	})
}
