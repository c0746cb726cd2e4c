package caterva

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/qri-io/caterva-go/codec"
	"github.com/qri-io/caterva-go/store"
)

const (
	// FormatVersion is the version of the persisted container format
	FormatVersion = 1
	// MetaKey names the metadata document below a container id
	MetaKey = ".caterva"
	// FrameKey names the single backing unit of a contiguous container
	FrameKey = "frame"
	// ChunkPrefix holds one backing unit per chunk in non-contiguous containers
	ChunkPrefix = "c"
	// CoveragePrefix holds the coverage bitmaps of partially written blocks
	CoveragePrefix = "m"
)

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// Meta is persisted as JSON at <id>/.caterva and fully describes how to
// interpret a container's bytes
type Meta struct {
	Format int       `json:"caterva_format"`
	UUID   uuid.UUID `json:"uuid"`
	// Shape is the logical extent of each axis
	Shape []int `json:"shape"`
	// Chunks is the chunk shape. Boundary chunks are truncated to Shape
	Chunks []int `json:"chunks"`
	// Blocks is the block shape within a chunk
	Blocks   []int `json:"blocks"`
	Dtype    Dtype `json:"dtype"`
	ItemSize int   `json:"itemsize"`
	// Compressor is applied to every block independently
	Compressor codec.Meta `json:"compressor"`
	// FillValue is reported for regions that were never written: a number,
	// one of the NaN/Infinity strings, or null for zero bytes
	FillValue interface{} `json:"fill_value"`
	// Order is always "C": row-major, last axis varies fastest
	Order      string     `json:"order"`
	Contiguous bool       `json:"contiguous"`
	Sealed     bool       `json:"sealed"`
	Created    time.Time  `json:"created"`
	Attrs      Attributes `json:"attrs,omitempty"`
	Stack      *StackMeta `json:"stack,omitempty"`
}

// Attributes holds user metadata such as variable names and time windows
type Attributes map[string]interface{}

// StackMeta is present on containers built by a Composer
type StackMeta struct {
	MemberShape []int         `json:"member_shape"`
	Members     []StackMember `json:"members"`
}

// StackMember records the independent container written for a slab
type StackMember struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	UUID  string `json:"uuid,omitempty"`
}

// Layout returns the tiling described by the metadata
func (m *Meta) Layout() Layout {
	return Layout{
		Shape:      m.Shape,
		ChunkShape: m.Chunks,
		BlockShape: m.Blocks,
		ItemSize:   m.ItemSize,
	}
}

// Validate checks the metadata can describe a container
func (m *Meta) Validate() error {
	if m.Format != FormatVersion {
		return fmt.Errorf("unsupported caterva_format %d", m.Format)
	}
	if m.Order != "" && m.Order != "C" {
		return fmt.Errorf("unsupported order %q", m.Order)
	}
	if m.Dtype.ItemSize() != m.ItemSize {
		return fmt.Errorf("%w: dtype %s disagrees with itemsize %d", ErrInvalidLayout, m.Dtype, m.ItemSize)
	}
	return m.Layout().Validate()
}

func metaKey(id string) string { return store.Join(id, MetaKey) }

func readMeta(s store.Store, id string) (*Meta, error) {
	data, err := store.ReadAll(s, metaKey(id))
	if err != nil {
		return nil, storeErr(err)
	}
	m := &Meta{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("reading %s metadata: %w", id, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("reading %s metadata: %w", id, err)
	}
	return m, nil
}

func writeMeta(s store.Store, id string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return s.Put(metaKey(id), bytes.NewReader(data))
}

// FillBytes encodes one item of fill value v as dt. v may be a number, a bool,
// one of the FillValue strings, or nil for zero bytes
func FillBytes(dt Dtype, v interface{}) ([]byte, error) {
	b := make([]byte, dt.ItemSize())
	if v == nil {
		return b, nil
	}

	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case string:
		switch x {
		case FillValueNaN:
			f = math.NaN()
		case FillValueInfinity:
			f = math.Inf(1)
		case FillValueNegativeInfinity:
			f = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill value %q", x)
		}
	default:
		return nil, fmt.Errorf("unsupported fill value type %T", v)
	}

	order := dt.Order()
	switch {
	case dt.BasicType == BTFloatingPoint && dt.ByteSize == 4:
		order.PutUint32(b, math.Float32bits(float32(f)))
	case dt.BasicType == BTFloatingPoint && dt.ByteSize == 8:
		order.PutUint64(b, math.Float64bits(f))
	case math.IsNaN(f) || math.IsInf(f, 0):
		return nil, fmt.Errorf("fill value %v is not representable as %s", v, dt)
	case dt.ByteSize == 1:
		b[0] = byte(int64(f))
	case dt.ByteSize == 2:
		order.PutUint16(b, uint16(int64(f)))
	case dt.ByteSize == 4:
		order.PutUint32(b, uint32(int64(f)))
	case dt.ByteSize == 8:
		order.PutUint64(b, uint64(int64(f)))
	default:
		return nil, fmt.Errorf("fill value for dtype %s", dt)
	}
	return b, nil
}

// defaultFill is NaN for floats and zero otherwise
func defaultFill(dt Dtype) interface{} {
	if dt.IsFloat() {
		return FillValueNaN
	}
	return nil
}
