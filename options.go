package caterva

import (
	"runtime"

	"github.com/rs/zerolog"

	"github.com/qri-io/caterva-go/codec"
)

// Option configures container creation and access
type Option func(*options)

type options struct {
	dtype      Dtype
	compressor codec.Meta
	contiguous bool
	fillValue  interface{}
	fillSet    bool
	attrs      Attributes
	workers    int
	log        zerolog.Logger
}

func defaultOptions() *options {
	return &options{
		dtype:      Float32,
		compressor: codec.DefaultMeta,
		contiguous: true,
		workers:    runtime.GOMAXPROCS(0),
		log:        zerolog.Nop(),
	}
}

func applyOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDtype sets the item type, and with it the item byte width. Defaults to
// little-endian float32
func WithDtype(dt Dtype) Option {
	return func(o *options) {
		o.dtype = dt
	}
}

// WithCompressor sets the per-block codec configuration
func WithCompressor(m codec.Meta) Option {
	return func(o *options) {
		o.compressor = m
	}
}

// WithContiguous selects a single backing unit for all chunks (true, the
// default) or one backing unit per chunk
func WithContiguous(contiguous bool) Option {
	return func(o *options) {
		o.contiguous = contiguous
	}
}

// WithFillValue sets the value reported for never-written regions by
// ReadAvailable. Accepts numbers, "NaN", "Infinity", "-Infinity" or nil
func WithFillValue(v interface{}) Option {
	return func(o *options) {
		o.fillValue = v
		o.fillSet = true
	}
}

// WithAttrs stores user attributes in the container metadata
func WithAttrs(attrs Attributes) Option {
	return func(o *options) {
		o.attrs = attrs
	}
}

// WithWorkers bounds the number of chunks processed concurrently. Values
// below 1 select GOMAXPROCS
func WithWorkers(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		o.workers = n
	}
}

// WithLogger sets the logger. Defaults to a no-op logger
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}
