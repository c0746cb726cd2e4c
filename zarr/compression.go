package zarr

import (
	"fmt"

	"github.com/qri-io/caterva-go/codec"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Level   int    `json:"level,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
}

// numcodecs ids mapped to block codecs
var codecIDs = map[string]string{
	"zstd": codec.Zstd,
	"gzip": codec.GZip,
	"zlib": codec.Zlib,
}

// Codec returns the codec that decodes chunks written with m. A nil
// CompressionMeta means chunks are stored uncompressed
func (m *CompressionMeta) Codec() (codec.Codec, error) {
	if m == nil {
		return codec.New(codec.None, 0)
	}
	id, ok := codecIDs[m.ID]
	if !ok {
		return nil, fmt.Errorf("zarr compressor %q: %w", m.ID, codec.ErrUnsupported)
	}
	level := m.Level
	if level == 0 {
		level = m.Clevel
	}
	return codec.New(id, level)
}
