// Package storagetest holds the behaviour every storage.Storage backend must
// share, written as a reusable test suite.
package storagetest

import (
	"bytes"
	"io"
	"slices"
	"strings"
	"testing"

	"asto/pkg/storage"

	"github.com/stretchr/testify/require"
)

// Factory returns an empty storage for one test.
type Factory func(t *testing.T) storage.Storage

// Options tunes the suite for backend specific semantics.
type Options struct {
	// Overwrite is true when saving to an existing key replaces its value.
	// When false a second save must fail and keep the first value.
	Overwrite bool
}

// Run exercises newStorage against the shared contract.
func Run(t *testing.T, newStorage Factory, opts Options) {
	t.Run("UnsavedKey", func(t *testing.T) {
		t.Parallel()
		testUnsavedKey(t, newStorage(t))
	})
	t.Run("SaveAndValue", func(t *testing.T) {
		t.Parallel()
		testSaveAndValue(t, newStorage(t))
	})
	t.Run("SaveUnknownSize", func(t *testing.T) {
		t.Parallel()
		testSaveUnknownSize(t, newStorage(t))
	})
	t.Run("SaveEmpty", func(t *testing.T) {
		t.Parallel()
		testSaveEmpty(t, newStorage(t))
	})
	t.Run("SaveExisting", func(t *testing.T) {
		t.Parallel()
		testSaveExisting(t, newStorage(t), opts.Overwrite)
	})
	t.Run("List", func(t *testing.T) {
		t.Parallel()
		testList(t, newStorage(t))
	})
	t.Run("ListInvalidPrefix", func(t *testing.T) {
		t.Parallel()
		testListInvalidPrefix(t, newStorage(t))
	})
	t.Run("Move", func(t *testing.T) {
		t.Parallel()
		testMove(t, newStorage(t))
	})
	t.Run("MoveMissing", func(t *testing.T) {
		t.Parallel()
		testMoveMissing(t, newStorage(t))
	})
	t.Run("Delete", func(t *testing.T) {
		t.Parallel()
		testDelete(t, newStorage(t))
	})
	t.Run("DeleteMissing", func(t *testing.T) {
		t.Parallel()
		testDeleteMissing(t, newStorage(t))
	})
	t.Run("Transaction", func(t *testing.T) {
		t.Parallel()
		testTransaction(t, newStorage(t))
	})
}

// Save stores data under key and fails the test on error.
func Save(t *testing.T, s storage.Storage, key storage.Key, data []byte) {
	t.Helper()
	require.NoError(t, s.Save(t.Context(), key, storage.FromBytes(data)), "saving %s", key)
}

// Load reads the value under key and fails the test on error.
func Load(t *testing.T, s storage.Storage, key storage.Key) []byte {
	t.Helper()
	content, err := s.Value(t.Context(), key)
	require.NoError(t, err, "loading %s", key)
	data, err := content.Bytes()
	require.NoError(t, err, "reading %s", key)
	return data
}

// Strings returns the string forms of keys, sorted.
func Strings(keys []storage.Key) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	slices.Sort(out)
	return out
}

func testUnsavedKey(t *testing.T, s storage.Storage) {
	key := storage.NewKey("never", "saved")

	exists, err := s.Exists(t.Context(), key)
	require.NoError(t, err, "exists on an unsaved key")
	require.False(t, exists, "unsaved key must not exist")

	_, err = s.Value(t.Context(), key)
	require.ErrorIs(t, err, storage.ErrNotFound, "value of an unsaved key")
}

func testSaveAndValue(t *testing.T, s storage.Storage) {
	key := storage.NewKey("a", "b", "c.bin")
	payload := []byte("some binary\x00payload")

	Save(t, s, key, payload)

	exists, err := s.Exists(t.Context(), key)
	require.NoError(t, err, "exists after save")
	require.True(t, exists, "saved key must exist")

	content, err := s.Value(t.Context(), key)
	require.NoError(t, err, "value after save")
	if size, ok := content.Size(); ok {
		require.Equal(t, int64(len(payload)), size, "declared size")
	}
	data, err := content.Bytes()
	require.NoError(t, err, "reading value")
	require.Equal(t, payload, data, "payload round trip")
}

func testSaveUnknownSize(t *testing.T, s storage.Storage) {
	key := storage.NewKey("unknown", "size.txt")
	payload := strings.Repeat("0123456789", 1000)

	// Hide the concrete type so the size cannot be discovered.
	r := io.MultiReader(strings.NewReader(payload))
	require.NoError(t, s.Save(t.Context(), key, storage.NewContent(r, -1)), "saving content of unknown size")
	require.Equal(t, payload, string(Load(t, s, key)), "payload round trip")
}

func testSaveEmpty(t *testing.T, s storage.Storage) {
	key := storage.NewKey("empty")
	Save(t, s, key, nil)
	require.Empty(t, Load(t, s, key), "empty payload round trip")
}

func testSaveExisting(t *testing.T, s storage.Storage, overwrite bool) {
	key := storage.NewKey("twice.txt")
	Save(t, s, key, []byte("first"))

	err := s.Save(t.Context(), key, storage.FromString("second"))
	if overwrite {
		require.NoError(t, err, "second save replaces")
		require.Equal(t, "second", string(Load(t, s, key)), "replaced value")
		return
	}
	require.Error(t, err, "second save must fail")
	require.Equal(t, "first", string(Load(t, s, key)), "original value is kept")
}

func testList(t *testing.T, s storage.Storage) {
	for _, k := range []string{"one/a.txt", "one/two/b.txt", "one/two/three/c.txt", "other/d.txt", "onetwo/e.txt"} {
		Save(t, s, storage.ParseKey(k), []byte(k))
	}

	keys, err := s.List(t.Context(), storage.ParseKey("one/"))
	require.NoError(t, err, "listing one/")
	require.Equal(t, []string{"one/a.txt", "one/two/b.txt", "one/two/three/c.txt"}, Strings(keys), "keys under one/")

	keys, err = s.List(t.Context(), storage.ParseKey("one/two/"))
	require.NoError(t, err, "listing one/two/")
	require.Equal(t, []string{"one/two/b.txt", "one/two/three/c.txt"}, Strings(keys), "keys under one/two/")

	keys, err = s.List(t.Context(), storage.Root)
	require.NoError(t, err, "listing root")
	require.Len(t, keys, 5, "every key is under the root")

	keys, err = s.List(t.Context(), storage.ParseKey("nothing/"))
	require.NoError(t, err, "listing an empty prefix")
	require.Empty(t, keys, "no keys under nothing/")
}

func testListInvalidPrefix(t *testing.T, s storage.Storage) {
	_, err := s.List(t.Context(), storage.ParseKey("one"))
	require.ErrorIs(t, err, storage.ErrInvalidArgument, "prefix without trailing separator")
}

func testMove(t *testing.T, s storage.Storage) {
	source := storage.NewKey("from", "x.txt")
	destination := storage.NewKey("to", "nested", "y.txt")
	Save(t, s, source, []byte("moving"))

	require.NoError(t, s.Move(t.Context(), source, destination), "move")

	exists, err := s.Exists(t.Context(), source)
	require.NoError(t, err, "exists on source")
	require.False(t, exists, "source is gone after move")
	require.Equal(t, []byte("moving"), Load(t, s, destination), "destination holds the value")
}

func testMoveMissing(t *testing.T, s storage.Storage) {
	err := s.Move(t.Context(), storage.NewKey("ghost"), storage.NewKey("anywhere"))
	require.ErrorIs(t, err, storage.ErrNotFound, "moving a missing key")
}

func testDelete(t *testing.T, s storage.Storage) {
	key := storage.NewKey("doomed", "file")
	sibling := storage.NewKey("doomed", "sibling")
	Save(t, s, key, []byte("bye"))
	Save(t, s, sibling, []byte("stay"))

	require.NoError(t, s.Delete(t.Context(), key), "delete")

	exists, err := s.Exists(t.Context(), key)
	require.NoError(t, err, "exists after delete")
	require.False(t, exists, "deleted key must not exist")
	require.Equal(t, []byte("stay"), Load(t, s, sibling), "sibling is untouched")
}

func testDeleteMissing(t *testing.T, s storage.Storage) {
	err := s.Delete(t.Context(), storage.NewKey("not", "there"))
	require.ErrorIs(t, err, storage.ErrNotFound, "deleting a missing key")
}

func testTransaction(t *testing.T, s storage.Storage) {
	_, err := s.Transaction(t.Context(), []storage.Key{storage.NewKey("a")})
	require.ErrorIs(t, err, storage.ErrUnsupportedOperation, "transactions are not supported")
}

// Equal fails the test unless the value under key is want.
func Equal(t *testing.T, s storage.Storage, key storage.Key, want []byte) {
	t.Helper()
	require.True(t, bytes.Equal(want, Load(t, s, key)), "value under %s", key)
}
