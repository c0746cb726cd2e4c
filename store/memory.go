package store

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore keeps values in process memory
type MemoryStore struct {
	lk   sync.Mutex
	data map[string]*memValue
}

// memValue grows lazily. size may exceed len(buf) after Allocate, the gap
// reads as zeros
type memValue struct {
	buf  []byte
	size int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string]*memValue{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(key string) (io.ReadCloser, error) {
	key = Normalize(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	d := make([]byte, v.size)
	copy(d, v.buf)
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[Normalize(key)] = &memValue{buf: d, size: int64(len(d))}
	return nil
}

func (s *MemoryStore) Has(key string) (bool, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	_, ok := s.data[Normalize(key)]
	return ok, nil
}

func (s *MemoryStore) Delete(key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, Normalize(key))
	return nil
}

func (s *MemoryStore) DeleteAll(prefix string) error {
	prefix = Normalize(prefix)
	s.lk.Lock()
	defer s.lk.Unlock()
	for k := range s.data {
		if under(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	prefix = Normalize(prefix)
	s.lk.Lock()
	defer s.lk.Unlock()
	keys := []string{}
	for k := range s.data {
		if under(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Allocate(key string, size int64) error {
	key = Normalize(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		v = &memValue{}
		s.data[key] = v
	}
	if size > v.size {
		v.size = size
	}
	return nil
}

func (s *MemoryStore) ReadAt(key string, p []byte, off int64) (int, error) {
	key = Normalize(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if off >= v.size {
		return 0, io.EOF
	}
	n := len(p)
	if rem := v.size - off; int64(n) > rem {
		n = int(rem)
	}
	// zero fill the part of the window beyond the materialised buffer
	for i := range p[:n] {
		p[i] = 0
	}
	if off < int64(len(v.buf)) {
		copy(p[:n], v.buf[off:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *MemoryStore) WriteAt(key string, p []byte, off int64) error {
	if off < 0 {
		return fmt.Errorf("negative offset %d", off)
	}
	key = Normalize(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		v = &memValue{}
		s.data[key] = v
	}
	end := off + int64(len(p))
	if end > int64(len(v.buf)) {
		if end <= int64(cap(v.buf)) {
			v.buf = v.buf[:end]
		} else {
			grown := make([]byte, end, end+end/4)
			copy(grown, v.buf)
			v.buf = grown
		}
	}
	copy(v.buf[off:end], p)
	if end > v.size {
		v.size = end
	}
	return nil
}

func (s *MemoryStore) Size(key string) (int64, error) {
	key = Normalize(key)
	s.lk.Lock()
	defer s.lk.Unlock()
	v, ok := s.data[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v.size, nil
}

func under(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	return key == prefix || strings.HasPrefix(key, prefix+"/")
}
