package storage_test

import (
	"testing"

	"asto/pkg/storage"

	"github.com/stretchr/testify/require"
)

func TestNewKeyJoinsSegments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		segments []string
		want     string
	}{
		{name: "single", segments: []string{"a"}, want: "a"},
		{name: "several", segments: []string{"a", "b", "c.txt"}, want: "a/b/c.txt"},
		{name: "embedded separators", segments: []string{"a/b", "c"}, want: "a/b/c"},
		{name: "empty segments dropped", segments: []string{"", "a", "", "b/"}, want: "a/b"},
		{name: "root", segments: nil, want: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, storage.NewKey(tc.segments...).String(), "key string form")
		})
	}
}

func TestKeyEquality(t *testing.T) {
	t.Parallel()

	require.Equal(t, storage.NewKey("a", "b"), storage.NewKey("a/b"), "keys with equal string forms must be equal")
	require.True(t, storage.NewKey("a", "b") == storage.ParseKey("a/b"), "keys must be comparable with ==")
	require.NotEqual(t, storage.NewKey("a", "b"), storage.ParseKey("a/b/"), "trailing separator changes the string form")
}

func TestKeyDirAndPrefix(t *testing.T) {
	t.Parallel()

	require.True(t, storage.Root.IsDir(), "root is a listing scope")
	require.False(t, storage.ParseKey("a/b").IsDir(), "a/b is not a listing scope")
	require.True(t, storage.ParseKey("a/b/").IsDir(), "a/b/ is a listing scope")
	require.Equal(t, "a/b/", storage.NewKey("a", "b").Dir().String(), "Dir adds the separator")

	key := storage.NewKey("a", "b", "c")
	require.True(t, key.HasPrefix(storage.ParseKey("a/b/")), "a/b/ is a prefix of a/b/c")
	require.True(t, key.HasPrefix(storage.NewKey("a")), "a is a prefix of a/b/c")
	require.True(t, key.HasPrefix(storage.Root), "root is a prefix of everything")
	require.False(t, storage.NewKey("ab", "c").HasPrefix(storage.NewKey("a")), "prefix must end on a segment boundary")

	require.Equal(t, storage.NewKey("c"), key.TrimPrefix(storage.ParseKey("a/b/")), "relative key")
}

func TestKeyParentAndSegments(t *testing.T) {
	t.Parallel()

	key := storage.NewKey("a", "b", "c")
	require.Equal(t, []string{"a", "b", "c"}, key.Segments(), "segments")

	parent, ok := key.Parent()
	require.True(t, ok, "a/b/c has a parent")
	require.Equal(t, storage.NewKey("a", "b"), parent, "parent of a/b/c")

	_, ok = storage.Root.Parent()
	require.False(t, ok, "root has no parent")

	require.Equal(t, storage.NewKey("a", "b", "x", "y"), parent.Join("x", "y"), "Join appends segments")
}

func TestValidatePrefix(t *testing.T) {
	t.Parallel()

	require.ErrorIs(t, storage.ValidatePrefix(storage.ParseKey("a/b")), storage.ErrInvalidArgument, "prefix without separator")
	require.NoError(t, storage.ValidatePrefix(storage.ParseKey("a/b/")), "prefix with separator")
	require.NoError(t, storage.ValidatePrefix(storage.Root), "root prefix")
}
