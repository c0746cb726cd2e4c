package store

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		MemoryStoreType: NewMemoryStore(),
		LocalStoreType:  local,
	}
}

func TestPutGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put("foo/bar/.zarray", bytes.NewBufferString("hello")))

			got, err := ReadAll(s, "foo/bar/.zarray")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(got))

			ok, err := s.Has("foo/bar/.zarray")
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = s.Get("foo/missing")
			assert.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)
		})
	}
}

func TestRandomAccess(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Allocate("unit", 64))
			size, err := s.Size("unit")
			require.NoError(t, err)
			assert.Equal(t, int64(64), size)

			buf := make([]byte, 8)
			n, err := s.ReadAt("unit", buf, 16)
			require.NoError(t, err)
			assert.Equal(t, 8, n)
			assert.Equal(t, make([]byte, 8), buf, "allocated range reads as zeros")

			require.NoError(t, s.WriteAt("unit", []byte{1, 2, 3, 4}, 30))
			n, err = s.ReadAt("unit", buf, 28)
			require.NoError(t, err)
			assert.Equal(t, []byte{0, 0, 1, 2, 3, 4, 0, 0}, buf[:n])

			// reading across the end reports a short read
			n, err = s.ReadAt("unit", buf, 60)
			assert.Equal(t, 4, n)
			assert.True(t, errors.Is(err, io.EOF))

			// writes past the end grow the value
			require.NoError(t, s.WriteAt("unit", []byte{9}, 99))
			size, err = s.Size("unit")
			require.NoError(t, err)
			assert.Equal(t, int64(100), size)

			_, err = s.ReadAt("nope", buf, 0)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestKeysAndDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a.cat/.caterva", "a.cat/c/0.0", "a.cat/c/0.1", "ab.cat/.caterva"} {
				require.NoError(t, s.Put(k, bytes.NewBufferString(k)))
			}

			keys, err := s.Keys("a.cat")
			require.NoError(t, err)
			assert.Equal(t, []string{"a.cat/.caterva", "a.cat/c/0.0", "a.cat/c/0.1"}, keys)

			require.NoError(t, s.Delete("a.cat/c/0.0"))
			require.NoError(t, s.Delete("a.cat/c/0.0"), "deleting twice is not an error")

			require.NoError(t, s.DeleteAll("a.cat"))
			require.NoError(t, s.DeleteAll("a.cat"))
			keys, err = s.Keys("a.cat")
			require.NoError(t, err)
			assert.Empty(t, keys)

			ok, err := s.Has("ab.cat/.caterva")
			require.NoError(t, err)
			assert.True(t, ok, "sibling with shared name prefix survives")
		})
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"foo/bar":     "foo/bar",
		"/foo//bar/":  "foo/bar",
		`foo\bar\baz`: "foo/bar/baz",
		"":            "",
		"///":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
	assert.Equal(t, "a/b/c", Join("a/", "", "/b", "c"))
}
