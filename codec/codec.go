// Package codec compresses and decompresses block payloads.
//
// A codec is looked up by id in [Registry]. [Meta] is the serialisable
// configuration stored alongside an array; [Meta.New] turns it into a
// [Pipeline] that optionally byte-shuffles items before compressing.
//
// Available codecs:
//
//   - "none": bytes are stored as-is
//   - "gzip", "zst": streaming codecs backed by qri-io/dataset/compression
//   - "zstd": block codec backed by klauspost/compress/zstd
//   - "zlib": deflate with a zlib header, as written by numcodecs
package codec

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupported is returned for codec ids without a registered constructor
var ErrUnsupported = errors.New("unsupported codec")

const (
	None = "none"
	GZip = "gzip"
	Zst  = "zst"
	Zstd = "zstd"
	Zlib = "zlib"
)

// Codec compresses single buffers. Implementations are safe for concurrent use
type Codec interface {
	ID() string
	Encode(src []byte) ([]byte, error)
	// Decode reverses Encode. size is the expected decoded length, or 0 when
	// it is not known
	Decode(src []byte, size int) ([]byte, error)
}

// Registry maps codec ids to constructors. level is codec specific; 0 selects
// the codec default
var Registry = map[string]func(level int) (Codec, error){
	None: func(int) (Codec, error) { return noneCodec{}, nil },
	GZip: func(int) (Codec, error) { return newStream(GZip), nil },
	Zst:  func(int) (Codec, error) { return newStream(Zst), nil },
	Zstd: func(level int) (Codec, error) { return NewZstd(level) },
	Zlib: func(level int) (Codec, error) { return NewZlib(level), nil },
}

// New constructs the codec registered under id
func New(id string, level int) (Codec, error) {
	if id == "" {
		id = None
	}
	ctor, ok := Registry[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, id)
	}
	return ctor(level)
}

// IDs lists registered codec ids
func IDs() []string {
	ids := make([]string, 0, len(Registry))
	for id := range Registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Meta defines compression settings persisted with an array
type Meta struct {
	ID      string `json:"id"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// DefaultMeta is zstd at level 5 with byte shuffling
var DefaultMeta = Meta{ID: Zstd, Clevel: 5, Shuffle: 1}

// New builds the encode/decode pipeline for items of itemSize bytes
func (m Meta) New(itemSize int) (*Pipeline, error) {
	c, err := New(m.ID, m.Clevel)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{codec: c}
	if m.Shuffle != 0 && itemSize > 1 {
		p.shuffle = NewShuffle(itemSize)
	}
	return p, nil
}

type noneCodec struct{}

func (noneCodec) ID() string { return None }

func (noneCodec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

func (noneCodec) Decode(src []byte, size int) ([]byte, error) {
	if err := checkSize(None, len(src), size); err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	copy(dst, src)
	return dst, nil
}

func checkSize(id string, got, want int) error {
	if want > 0 && got != want {
		return fmt.Errorf("%s: decoded %d bytes, expected %d", id, got, want)
	}
	return nil
}
