package codec

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/qri-io/dataset/compression"
)

// stream adapts the io.Writer/io.Reader based compressors of
// qri-io/dataset/compression to whole-buffer encoding
type stream struct {
	id string
}

func newStream(id string) *stream { return &stream{id: id} }

func (c *stream) ID() string { return c.id }

func (c *stream) Encode(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := compression.Compressor(c.id, buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		w.Close()
		return nil, fmt.Errorf("%s compress: %w", c.id, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s compress: %w", c.id, err)
	}
	return buf.Bytes(), nil
}

func (c *stream) Decode(src []byte, size int) ([]byte, error) {
	r, err := compression.Decompressor(c.id, bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	dst, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s decompress: %w", c.id, err)
	}
	if err := checkSize(c.id, len(dst), size); err != nil {
		return nil, err
	}
	return dst, nil
}

// ZstdCodec compresses with a shared zstd encoder and decoder. EncodeAll and
// DecodeAll may be called concurrently
type ZstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a zstd codec. level follows the zstd command line scale
// (1-22); 0 picks the library default
func NewZstd(level int) (*ZstdCodec, error) {
	opts := []zstd.EOption{}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCodec{enc: enc, dec: dec}, nil
}

func (c *ZstdCodec) ID() string { return Zstd }

func (c *ZstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

func (c *ZstdCodec) Decode(src []byte, size int) ([]byte, error) {
	dst, err := c.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if err := checkSize(Zstd, len(dst), size); err != nil {
		return nil, err
	}
	return dst, nil
}

// ZlibCodec is deflate with zlib framing
type ZlibCodec struct {
	level int
}

// NewZlib creates a zlib codec. level is 1-9, 0 selects the default
func NewZlib(level int) *ZlibCodec {
	if level <= 0 || level > zlib.BestCompression {
		level = zlib.DefaultCompression
	}
	return &ZlibCodec{level: level}
}

func (c *ZlibCodec) ID() string { return Zlib }

func (c *ZlibCodec) Encode(src []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := zlib.NewWriterLevel(buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *ZlibCodec) Decode(src []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib reader: %w", err)
	}
	defer r.Close()

	dst, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	if err := checkSize(Zlib, len(dst), size); err != nil {
		return nil, err
	}
	return dst, nil
}
