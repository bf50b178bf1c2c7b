package fspath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	p, err := New("data", "channels", "orders.bin")
	require.NoError(t, err)
	assert.Equal(t, "data", p.Container())
	assert.Equal(t, []string{"channels", "orders.bin"}, p.Segments())
	assert.Equal(t, "orders.bin", p.Name())
	assert.False(t, p.IsRoot())
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		container string
		segments  []string
	}{
		{name: "empty container", container: ""},
		{name: "container with colon", container: "a:b"},
		{name: "empty segment", container: "c", segments: []string{""}},
		{name: "segment with slash", container: "c", segments: []string{"a/b"}},
		{name: "segment with backslash", container: "c", segments: []string{"a\\b"}},
		{name: "segment with NUL", container: "c", segments: []string{"a\x00b"}},
		{name: "dot segment", container: "c", segments: []string{"."}},
		{name: "dotdot segment", container: "c", segments: []string{".."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.container, tt.segments...)
			var ipe *InvalidPathError
			require.ErrorAs(t, err, &ipe)
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	tests := []struct {
		container string
		segments  []string
	}{
		{container: "c"},
		{container: "c", segments: []string{"a"}},
		{container: "bucket-1", segments: []string{"dir", "sub", "file.0"}},
	}
	for _, tt := range tests {
		p := MustNew(tt.container, tt.segments...)
		got, err := Parse(p.String())
		require.NoError(t, err)
		assert.True(t, p.Equal(got), "round-trip of %q", p.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "noseparator", "://x", "c://a//b", "c://a/"} {
		_, err := Parse(s)
		assert.Error(t, err, "input %q", s)
	}
}

func TestParentChild(t *testing.T) {
	root := MustNew("c")
	_, err := root.Parent()
	var ipe *InvalidPathError
	require.ErrorAs(t, err, &ipe)

	child, err := root.Child("a")
	require.NoError(t, err)
	assert.Equal(t, "c://a", child.String())

	parent, err := child.Parent()
	require.NoError(t, err)
	assert.True(t, parent.Equal(root))

	// Derivation must not mutate the source path.
	grand, err := child.Child("b")
	require.NoError(t, err)
	assert.Equal(t, "c://a", child.String())
	assert.Equal(t, "c://a/b", grand.String())
}

func TestKey_CaseStrategy(t *testing.T) {
	a := MustNew("Data", "File.BIN")
	b := MustNew("data", "file.bin")

	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.Key(Posix{}), b.Key(Posix{}))
	assert.Equal(t, a.Key(Insensitive{}), b.Key(Insensitive{}))
}

func TestValidate_ObjectStore(t *testing.T) {
	v := ObjectStore{}

	require.NoError(t, MustNew("my-bucket", "a", "b.0").Validate(v))

	for _, p := range []Path{
		MustNew("ab"),                    // too short
		MustNew("UPPER", "a"),            // uppercase container
		MustNew("-leading", "a"),         // bad boundary
		MustNew("my-bucket", "a\tb"),     // control char
		MustNew("my-bucket", longName()), // too long
	} {
		var ipe *InvalidPathError
		require.ErrorAs(t, p.Validate(v), &ipe, "path %v", p)
	}
}

func TestValidate_Document(t *testing.T) {
	v := Document{}
	require.NoError(t, MustNew("orders", "ch-1", "state.bin").Validate(v))
	assert.Error(t, MustNew("orders", "white space").Validate(v))
	assert.Error(t, MustNew("orders", longName()).Validate(v))
}

func longName() string {
	b := make([]byte, 300)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}
