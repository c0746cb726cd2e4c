// Package store defines the backing storage containers and zarr sources are
// persisted to. Keys are slash separated paths. Values can be replaced whole
// with Put or addressed by byte range with ReadAt and WriteAt.
package store

import (
	"errors"
	"io"
	"strings"
)

const (
	MemoryStoreType    = "MemoryStore"
	LocalStoreType     = "LocalStore"
	dirPermissionBits  = 0755
	filePermissionBits = 0644
)

// ErrNotFound is returned when a key holds no value
var ErrNotFound = errors.New("not found")

// Store is a key-value byte store with random access into values
type Store interface {
	Get(key string) (io.ReadCloser, error)
	Put(key string, val io.Reader) error
	Has(key string) (bool, error)
	// Delete removes a single key. Deleting a missing key is not an error
	Delete(key string) error
	// DeleteAll removes key and every key nested below it
	DeleteAll(prefix string) error
	// Keys lists all keys nested below prefix in lexical order
	Keys(prefix string) ([]string, error)

	// Allocate reserves size bytes for key, creating it if necessary.
	// Unwritten ranges read back as zero bytes
	Allocate(key string, size int64) error
	// ReadAt reads len(p) bytes at off. It returns io.EOF when fewer
	// bytes are available
	ReadAt(key string, p []byte, off int64) (int, error)
	// WriteAt writes p at off, growing the value as needed
	WriteAt(key string, p []byte, off int64) error
	Size(key string) (int64, error)

	Type() string
}

// Join builds a store key from path elements, dropping empty elements
func Join(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		e = strings.Trim(e, "/")
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// Normalize cleans a logical path:
// * backward slashes become forward slashes
// * leading and trailing slashes are stripped
// * runs of slashes collapse into one
func Normalize(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	return Join(strings.Split(key, "/")...)
}

// ReadAll reads the full value at key
func ReadAll(s Store, key string) ([]byte, error) {
	rc, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
