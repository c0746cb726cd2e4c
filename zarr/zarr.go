// Package zarr reads zarr v2 arrays and groups from a store.Store into
// caterva NDArrays. Arrays must use C order, no filters and a basic dtype;
// chunks may be uncompressed or compressed with zstd, gzip or zlib.
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/codec"
	"github.com/qri-io/caterva-go/store"
)

// ErrNotFound is returned when no array or group exists at a path
var ErrNotFound = errors.New("zarr: not found")

type Array struct {
	path  string
	store store.Store
	meta  *ArrayMeta
	attrs Attributes
	codec codec.Codec
	fill  []byte
}

// Open reads the array metadata stored at path
func Open(s store.Store, path string) (*Array, error) {
	path = store.Normalize(path)
	meta := &ArrayMeta{}
	if err := readJSON(s, store.Join(path, string(MTArray)), meta); err != nil {
		return nil, err
	}
	attrs := Attributes{}
	if err := readJSON(s, store.Join(path, string(MTAttributes)), &attrs); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return newArray(s, path, meta, attrs)
}

func newArray(s store.Store, path string, meta *ArrayMeta, attrs Attributes) (*Array, error) {
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %s: %w", path, err)
	}
	c, err := meta.Compressor.Codec()
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", path, err)
	}
	fill, err := meta.Fill()
	if err != nil {
		return nil, fmt.Errorf("array %s: %w", path, err)
	}
	return &Array{
		path:  path,
		store: s,
		meta:  meta,
		attrs: attrs,
		codec: c,
		fill:  fill,
	}, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr.Array %s %v %s>", a.path, a.meta.Shape, a.meta.Dtype.Dtype)
}

func (a *Array) Path() string { return a.path }

func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Attrs() Attributes { return a.attrs }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) Dtype() caterva.Dtype { return a.meta.Dtype.Dtype }

// ReadAll reads the whole array
func (a *Array) ReadAll(ctx context.Context) (*caterva.NDArray, error) {
	return a.ReadRegion(ctx, make([]int, len(a.meta.Shape)), a.meta.Shape)
}

// Slice reads items [start, stop) of the outermost axis
func (a *Array) Slice(ctx context.Context, start, stop int) (*caterva.NDArray, error) {
	if start < 0 || stop < start || stop > a.meta.Shape[0] {
		return nil, fmt.Errorf("slice [%d, %d) outside axis 0 of length %d", start, stop, a.meta.Shape[0])
	}
	origin := make([]int, len(a.meta.Shape))
	origin[0] = start
	count := a.Shape()
	count[0] = stop - start
	return a.ReadRegion(ctx, origin, count)
}

// ReadRegion reads count items along each axis starting at origin. Chunks
// missing from the store read as the fill value
func (a *Array) ReadRegion(ctx context.Context, origin, count []int) (*caterva.NDArray, error) {
	if len(origin) != len(a.meta.Shape) || len(count) != len(a.meta.Shape) {
		return nil, fmt.Errorf("region rank %d/%d for array of rank %d", len(origin), len(count), len(a.meta.Shape))
	}
	for i := range origin {
		if origin[i] < 0 || count[i] < 0 || origin[i]+count[i] > a.meta.Shape[i] {
			return nil, fmt.Errorf("region origin %v count %v outside shape %v", origin, count, a.meta.Shape)
		}
	}

	dt := a.meta.Dtype.Dtype
	out := caterva.NewNDArray(dt, count)
	itemSize := dt.ItemSize()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, p := range basicIndexer(origin, count, a.meta.Chunks) {
		p := p
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := a.readChunk(p.ChunkCoords)
			if errors.Is(err, ErrNotFound) {
				a.fillRegion(out.Data, count, p.OutSelection, p.Count)
				return nil
			}
			if err != nil {
				return err
			}
			caterva.CopyRegion(
				out.Data, count, p.OutSelection,
				data, a.meta.Chunks, p.ChunkSelection,
				p.Count, itemSize,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *Array) fillRegion(dst []byte, shape, origin, count []int) {
	n := 1
	for _, c := range count {
		n *= c
	}
	src := make([]byte, n*len(a.fill))
	for i := 0; i < len(src); i += len(a.fill) {
		copy(src[i:], a.fill)
	}
	caterva.CopyRegion(dst, shape, origin, src, count, make([]int, len(count)), count, len(a.fill))
}

// ChunkKey is the store key of the chunk at coords
func (a *Array) ChunkKey(coords []int) string {
	return store.Join(a.path, caterva.ChunkKey(coords, a.meta.Separator()))
}

func (a *Array) readChunk(coords []int) ([]byte, error) {
	key := a.ChunkKey(coords)
	raw, err := store.ReadAll(a.store, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: chunk %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	data, err := a.codec.Decode(raw, a.meta.ChunkBytes())
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", key, err)
	}
	if len(data) != a.meta.ChunkBytes() {
		return nil, fmt.Errorf("chunk %s decoded to %d bytes, expected %d", key, len(data), a.meta.ChunkBytes())
	}
	return data, nil
}

func readJSON(s store.Store, key string, v interface{}) error {
	f, err := s.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("reading %s: %w", key, err)
	}
	return nil
}
