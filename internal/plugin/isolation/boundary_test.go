package isolation

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// textDefinition records the bytes a class was defined from.
type textDefinition struct {
	text string
}

func (d *textDefinition) Constructors() ([]Constructor, error) {
	return []Constructor{{
		Name: "new",
		Invoke: func(args ...any) (any, error) {
			return d.text, nil
		},
	}}, nil
}

// textDefiner defines ".cls" entries as textDefinitions.
type textDefiner struct {
	defined atomic.Int32
	fail    error
}

func (d *textDefiner) Extension() string { return ".cls" }

func (d *textDefiner) Define(b *Boundary, name string, src []byte) (Definition, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	d.defined.Add(1)
	return &textDefinition{text: string(src)}, nil
}

func memSource(name string, files map[string]string) *MemorySource {
	m := &MemorySource{SourceName: name, Files: make(map[string][]byte)}
	for k, v := range files {
		m.Files[k] = []byte(v)
	}
	return m
}

func classText(t *testing.T, c *Class) string {
	t.Helper()
	return c.Definition().(*textDefinition).text
}

func TestBoundaryLoadClassFromSource(t *testing.T) {
	b := New(nil,
		WithSources(memSource("a.kmod", map[string]string{"acme/Greeter.cls": "hello"})),
		WithDefiners(&textDefiner{}),
	)

	c, err := b.LoadClass("acme.Greeter")
	require.NoError(t, err)
	assert.Equal(t, "acme.Greeter", c.Name())
	assert.Equal(t, "a.kmod", c.Origin())
	assert.Same(t, b, c.Boundary())
	assert.False(t, c.IsHost())
	assert.Equal(t, "hello", classText(t, c))
	assert.Equal(t, []string{"acme.Greeter"}, b.Classes())
}

// suffixDefiner defines entries with its own extension, tagging the text.
type suffixDefiner struct{ ext string }

func (d suffixDefiner) Extension() string { return d.ext }

func (d suffixDefiner) Define(b *Boundary, name string, src []byte) (Definition, error) {
	return &textDefinition{text: d.ext + ":" + string(src)}, nil
}

func TestBoundaryLoadEntryUsesMarkedExtension(t *testing.T) {
	newBoundary := func() *Boundary {
		return New(nil,
			WithSources(memSource("a.kmod", map[string]string{
				"acme/X.lua": "lua source",
				"acme/X.go":  "go source",
			})),
			WithDefiners(suffixDefiner{".lua"}, suffixDefiner{".go"}),
		)
	}

	c, err := newBoundary().LoadEntry("acme/X.go")
	require.NoError(t, err)
	assert.Equal(t, "acme.X", c.Name())
	assert.Equal(t, "acme/X.go", c.Entry())
	assert.Equal(t, ".go:go source", classText(t, c))

	c, err = newBoundary().LoadEntry("/acme/X.lua")
	require.NoError(t, err)
	assert.Equal(t, "acme/X.lua", c.Entry())

	// LoadClass keeps definer registration order.
	c, err = newBoundary().LoadClass("acme.X")
	require.NoError(t, err)
	assert.Equal(t, "acme/X.lua", c.Entry())
}

func TestBoundaryLoadEntryMismatch(t *testing.T) {
	b := New(nil,
		WithSources(memSource("a.kmod", map[string]string{"acme/X.lua": "lua source"})),
		WithDefiners(suffixDefiner{".lua"}, suffixDefiner{".go"}),
	)

	_, err := b.LoadEntry("acme/X.go")
	assert.ErrorIs(t, err, ErrClassNotFound)

	// A class cached from another entry does not satisfy the marked one.
	_, err = b.LoadClass("acme.X")
	require.NoError(t, err)
	_, err = b.LoadEntry("acme/X.go")
	assert.ErrorIs(t, err, ErrClassNotFound)

	_, err = b.LoadEntry("acme/X.py")
	assert.ErrorIs(t, err, ErrClassNotFound)
}

func TestBoundaryClassNotFound(t *testing.T) {
	b := New(nil, WithDefiners(&textDefiner{}))

	_, err := b.LoadClass("acme.Missing")
	assert.ErrorIs(t, err, ErrClassNotFound)

	var rerr *ResolveError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "acme.Missing", rerr.Name)
}

func TestBoundaryFirstSourceWins(t *testing.T) {
	b := New(nil,
		WithSources(
			memSource("A", map[string]string{"pkg/X.cls": "from A"}),
			memSource("B", map[string]string{"pkg/X.cls": "from B", "pkg/Y.cls": "only B"}),
		),
		WithDefiners(&textDefiner{}),
	)

	x, err := b.LoadClass("pkg.X")
	require.NoError(t, err)
	assert.Equal(t, "from A", classText(t, x))
	assert.Equal(t, "A", x.Origin())

	y, err := b.LoadClass("pkg.Y")
	require.NoError(t, err)
	assert.Equal(t, "B", y.Origin())
}

func TestBoundaryCachesClasses(t *testing.T) {
	definer := &textDefiner{}
	b := New(nil,
		WithSources(memSource("a", map[string]string{"pkg/X.cls": "x"})),
		WithDefiners(definer),
	)

	first, err := b.LoadClass("pkg.X")
	require.NoError(t, err)
	second, err := b.LoadClass("pkg.X")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), definer.defined.Load())
}

func TestBoundaryConcurrentLoadReturnsOneClass(t *testing.T) {
	b := New(nil,
		WithSources(memSource("a", map[string]string{"pkg/X.cls": "x"})),
		WithDefiners(&textDefiner{}),
	)

	const n = 16
	results := make([]*Class, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := b.LoadClass("pkg.X")
			if err == nil {
				results[i] = c
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.NotNil(t, results[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestBoundaryForbiddenIgnoresSources(t *testing.T) {
	policy := NewPolicy([]string{"evil"}, nil)
	b := New(policy,
		WithSources(memSource("a", map[string]string{"evil/Payload.cls": "boom"})),
		WithDefiners(&textDefiner{}),
	)

	_, err := b.LoadClass("evil.Payload")
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, b.Classes())
}

func TestBoundaryForbiddenProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ns := strings.Join(rapid.SliceOfN(rapid.StringMatching(`[a-z]{1,5}`), 1, 2).Draw(t, "ns"), ".")
		leaf := rapid.StringMatching(`[A-Z][a-z]{0,5}`).Draw(t, "leaf")
		name := ns + "." + leaf
		inArchive := rapid.Bool().Draw(t, "inArchive")

		files := map[string]string{}
		if inArchive {
			files[ClassPath(name)+".cls"] = "payload"
		}
		b := New(NewPolicy([]string{ns}, nil),
			WithSources(memSource("a", files)),
			WithDefiners(&textDefiner{}),
		)

		if _, err := b.LoadClass(name); !errors.Is(err, ErrForbidden) {
			t.Fatalf("LoadClass(%q) error = %v, want ErrForbidden", name, err)
		}
	})
}

func TestBoundaryRestrictedUsesHostOnly(t *testing.T) {
	hostReg := NewHostRegistry()
	require.NoError(t, hostReg.Register("modhost.log.Logger", func() string { return "host logger" }))

	definer := &textDefiner{}
	b := New(nil,
		WithHost(hostReg),
		WithSources(memSource("a", map[string]string{"modhost/log/Logger.cls": "shadow"})),
		WithDefiners(definer),
	)

	c, err := b.LoadClass("modhost.log.Logger")
	require.NoError(t, err)
	assert.True(t, c.IsHost())
	assert.Equal(t, "host", c.Origin())
	assert.Equal(t, int32(0), definer.defined.Load())

	ctors, err := c.Constructors()
	require.NoError(t, err)
	v, err := ctors[0].Invoke()
	require.NoError(t, err)
	assert.Equal(t, "host logger", v)

	again, err := b.LoadClass("modhost.log.Logger")
	require.NoError(t, err)
	assert.Same(t, c, again)
}

func TestBoundaryRestrictedProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		leaf := rapid.StringMatching(`[A-Z][a-z]{0,5}`).Draw(t, "leaf")
		name := "shared." + leaf

		hostReg := NewHostRegistry()
		if err := hostReg.Register(name, func() string { return "host" }); err != nil {
			t.Fatal(err)
		}
		b := New(NewPolicy(nil, []string{"shared"}),
			WithHost(hostReg),
			WithSources(memSource("a", map[string]string{ClassPath(name) + ".cls": "archive"})),
			WithDefiners(&textDefiner{}),
		)

		c, err := b.LoadClass(name)
		if err != nil {
			t.Fatalf("LoadClass(%q) error = %v", name, err)
		}
		if !c.IsHost() {
			t.Fatalf("LoadClass(%q) returned archive class from %s", name, c.Origin())
		}
	})
}

func TestBoundaryRestrictedMissingFromHost(t *testing.T) {
	b := New(nil,
		WithHost(NewHostRegistry()),
		WithSources(memSource("a", map[string]string{"lua/Thing.cls": "x"})),
		WithDefiners(&textDefiner{}),
	)

	_, err := b.LoadClass("lua.Thing")
	assert.ErrorIs(t, err, ErrRestricted)
	assert.ErrorIs(t, err, ErrClassNotFound)

	noHost := New(nil)
	_, err = noHost.LoadClass("modhost.Anything")
	assert.ErrorIs(t, err, ErrRestricted)
}

func TestBoundaryCorruptEntry(t *testing.T) {
	src := memSource("a", map[string]string{"pkg/X.cls": "short", "pkg/Y.cls": "fine"})
	src.DeclaredSizes = map[string]int64{"pkg/X.cls": 999}
	b := New(nil, WithSources(src), WithDefiners(&textDefiner{}))

	y, err := b.LoadClass("pkg.Y")
	require.NoError(t, err)

	_, err = b.LoadClass("pkg.X")
	assert.ErrorIs(t, err, ErrArchiveCorrupt)

	// The failure does not disturb what is already cached.
	again, err := b.LoadClass("pkg.Y")
	require.NoError(t, err)
	assert.Same(t, y, again)
	assert.Equal(t, []string{"pkg.Y"}, b.Classes())
}

func TestBoundaryDefineFailureNotCached(t *testing.T) {
	definer := &textDefiner{fail: errors.New("syntax error")}
	b := New(nil,
		WithSources(memSource("a", map[string]string{"pkg/X.cls": "x"})),
		WithDefiners(definer),
	)

	_, err := b.LoadClass("pkg.X")
	require.Error(t, err)

	definer.fail = nil
	c, err := b.LoadClass("pkg.X")
	require.NoError(t, err)
	assert.Equal(t, "x", classText(t, c))
}

func TestBoundariesDoNotShareClasses(t *testing.T) {
	src := memSource("a", map[string]string{"pkg/X.cls": "x"})
	b1 := New(nil, WithSources(src), WithDefiners(&textDefiner{}))
	b2 := New(nil, WithSources(src), WithDefiners(&textDefiner{}))

	c1, err := b1.LoadClass("pkg.X")
	require.NoError(t, err)
	c2, err := b2.LoadClass("pkg.X")
	require.NoError(t, err)

	assert.NotSame(t, c1, c2)
	assert.NotEqual(t, b1.ID(), b2.ID())
}

func TestBoundaryResourceSkipsPolicy(t *testing.T) {
	b := New(NewPolicy([]string{"icons"}, nil),
		WithSources(
			memSource("A", map[string]string{}),
			memSource("B", map[string]string{"icons/app.png": "png-bytes"}),
		),
	)

	data, err := b.Resource("icons/app.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	_, err = b.Resource("icons/missing.png")
	assert.ErrorIs(t, err, ErrResourceNotFound)
}

func TestBoundaryResourceCorrupt(t *testing.T) {
	src := memSource("a", map[string]string{"help.md": "text"})
	src.DeclaredSizes = map[string]int64{"help.md": 1}
	b := New(nil, WithSources(src))

	_, err := b.Resource("help.md")
	assert.ErrorIs(t, err, ErrArchiveCorrupt)
}

type closeCounter struct{ closed atomic.Int32 }

func (c *closeCounter) Close() error {
	c.closed.Add(1)
	return nil
}

func TestBoundaryRuntimeAndClose(t *testing.T) {
	b := New(nil, WithDefiners(&textDefiner{}))
	rt := &closeCounter{}

	calls := 0
	create := func() (Runtime, error) {
		calls++
		return rt, nil
	}
	got, err := b.Runtime("test", create)
	require.NoError(t, err)
	assert.Same(t, rt, got)
	_, err = b.Runtime("test", create)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, int32(1), rt.closed.Load())

	_, err = b.LoadClass("pkg.X")
	assert.ErrorIs(t, err, ErrBoundaryClosed)
	_, err = b.Resource("x")
	assert.ErrorIs(t, err, ErrBoundaryClosed)
	_, err = b.Runtime("other", create)
	assert.ErrorIs(t, err, ErrBoundaryClosed)
}

func TestClassPathAndName(t *testing.T) {
	assert.Equal(t, "acme/greet/Greeter", ClassPath("acme.greet.Greeter"))
	assert.Equal(t, "acme.greet.Greeter", ClassName("acme/greet/Greeter.lua"))
	assert.Equal(t, "acme.greet.Greeter", ClassName("/acme/greet/Greeter.go"))
	assert.Equal(t, "Top", ClassName("Top"))
	assert.Equal(t, "v1.x.Job", ClassName("v1.x/Job.lua"))
}
