package caterva

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qri-io/caterva-go/store"
)

// Container is a chunked, blocked N-dimensional array persisted in a Store
// under a path-like id. Shape, chunk shape and block shape are fixed at
// creation. A container accepts any number of full or partial writes until it
// is sealed; at most one writer may be active per id at a time, while any
// number of readers may share a container that is not being written.
type Container struct {
	store   store.Store
	id      string
	layout  Layout
	dtype   Dtype
	blocks  *BlockStore
	fill    []byte
	workers int
	log     zerolog.Logger

	mu   sync.Mutex
	meta *Meta
}

// Create allocates an empty container at id. It fails with ErrInvalidLayout
// for bad shape arguments and ErrAlreadyExists when id is taken; remove the
// existing container first to replace it.
func Create(s store.Store, id string, shape, chunkShape, blockShape []int, opts ...Option) (*Container, error) {
	o := applyOptions(opts)
	id = store.Normalize(id)
	if id == "" {
		return nil, fmt.Errorf("%w: empty container id", ErrInvalidLayout)
	}
	layout, err := NewLayout(shape, chunkShape, blockShape, o.dtype.ItemSize())
	if err != nil {
		return nil, err
	}

	exists, err := Exists(s, id)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	parent, err := enclosing(s, id)
	if err != nil {
		return nil, err
	}
	if parent != "" {
		return nil, fmt.Errorf("%w: %s is inside container %s", ErrInvalidLayout, id, parent)
	}

	fill := o.fillValue
	if !o.fillSet {
		fill = defaultFill(o.dtype)
	}

	m := &Meta{
		Format:     FormatVersion,
		UUID:       uuid.New(),
		Shape:      layout.Shape,
		Chunks:     layout.ChunkShape,
		Blocks:     layout.BlockShape,
		Dtype:      o.dtype,
		ItemSize:   layout.ItemSize,
		Compressor: o.compressor,
		FillValue:  fill,
		Order:      "C",
		Contiguous: o.contiguous,
		Created:    time.Now().UTC(),
		Attrs:      o.attrs,
	}
	c, err := newContainer(s, id, m, o)
	if err != nil {
		return nil, err
	}

	if err := writeMeta(s, id, m); err != nil {
		return nil, err
	}
	if err := c.blocks.Allocate(); err != nil {
		err = fmt.Errorf("allocating %s: %w", id, err)
		if rerr := Remove(s, id); rerr != nil {
			err = errors.Join(err, fmt.Errorf("removing partial %s: %w", id, rerr))
		}
		return nil, err
	}

	c.log.Info().
		Str("id", id).
		Ints("shape", layout.Shape).
		Ints("chunks", layout.ChunkShape).
		Ints("blocks", layout.BlockShape).
		Int("nchunks", layout.NumChunks()).
		Bool("contiguous", o.contiguous).
		Msg("created container")
	return c, nil
}

// Open loads the container at id. Options other than WithWorkers and
// WithLogger are ignored; the persisted metadata wins
func Open(s store.Store, id string, opts ...Option) (*Container, error) {
	id = store.Normalize(id)
	m, err := readMeta(s, id)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", id, err)
	}
	return newContainer(s, id, m, applyOptions(opts))
}

func newContainer(s store.Store, id string, m *Meta, o *options) (*Container, error) {
	pipeline, err := m.Compressor.New(m.ItemSize)
	if err != nil {
		return nil, err
	}
	fill, err := FillBytes(m.Dtype, m.FillValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}
	layout := m.Layout()
	return &Container{
		store:   s,
		id:      id,
		layout:  layout,
		dtype:   m.Dtype,
		blocks:  NewBlockStore(s, id, layout, pipeline, m.Contiguous),
		fill:    fill,
		workers: o.workers,
		log:     o.log,
		meta:    m,
	}, nil
}

// enclosing returns the id of a container that id would be nested in, or ""
func enclosing(s store.Store, id string) (string, error) {
	for dir := path.Dir(id); dir != "." && dir != "/"; dir = path.Dir(dir) {
		ok, err := s.Has(metaKey(dir))
		if err != nil {
			return "", err
		}
		if ok {
			return dir, nil
		}
	}
	return "", nil
}

// Exists reports whether anything is persisted at id or below it. Create
// refuses ids nested in another container, so a nested match is never a
// container of its own
func Exists(s store.Store, id string) (bool, error) {
	id = store.Normalize(id)
	if id == "" {
		return false, nil
	}
	keys, err := s.Keys(id)
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// Remove deletes all data and metadata stored at id, including any keys
// below it. Removing an id that holds nothing is a no-op
func Remove(s store.Store, id string) error {
	id = store.Normalize(id)
	if id == "" {
		return fmt.Errorf("%w: empty container id", ErrInvalidLayout)
	}
	return s.DeleteAll(id)
}

func (c *Container) ID() string { return c.id }

// Meta returns a copy of the container metadata
func (c *Container) Meta() Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.meta
}

func (c *Container) Layout() Layout { return c.layout }

func (c *Container) Shape() []int { return cloneInts(c.layout.Shape) }

func (c *Container) Dtype() Dtype { return c.dtype }

// Blocks exposes block level access
func (c *Container) Blocks() *BlockStore { return c.blocks }

// Sealed reports whether the container rejects writes
func (c *Container) Sealed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta.Sealed
}

// Seal marks the container read-only. Sealing twice is a no-op
func (c *Container) Seal() error {
	return c.updateMeta(func(m *Meta) {
		m.Sealed = true
	})
}

// SetAttrs merges attrs into the user attributes
func (c *Container) SetAttrs(attrs Attributes) error {
	if err := c.writable(); err != nil {
		return err
	}
	return c.updateMeta(func(m *Meta) {
		merged := Attributes{}
		for k, v := range m.Attrs {
			merged[k] = v
		}
		for k, v := range attrs {
			merged[k] = v
		}
		m.Attrs = merged
	})
}

func (c *Container) updateMeta(fn func(m *Meta)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := *c.meta
	fn(&next)
	if err := writeMeta(c.store, c.id, &next); err != nil {
		return err
	}
	c.meta = &next
	return nil
}

func (c *Container) writable() error {
	if c.Sealed() {
		return fmt.Errorf("%w: %s", ErrSealed, c.id)
	}
	return nil
}

// WriteFull writes arr over the whole container. arr must have exactly the
// container's shape. Chunks are written concurrently; if the write stops
// early, chunks already written stay in place
func (c *Container) WriteFull(ctx context.Context, arr *NDArray) error {
	if !intsEqual(arr.Shape, c.layout.Shape) {
		return fmt.Errorf("%w: array shape %v, container %s shape %v", ErrShapeMismatch, arr.Shape, c.id, c.layout.Shape)
	}
	return c.WriteRegion(ctx, make([]int, c.layout.Rank()), arr)
}

// WriteSlab writes arr at index i of the outermost axis. arr has the shape of
// the container without its first axis
func (c *Container) WriteSlab(ctx context.Context, i int, arr *NDArray) error {
	if c.layout.Rank() < 2 {
		return fmt.Errorf("%w: slab write to rank %d container", ErrShapeMismatch, c.layout.Rank())
	}
	if i < 0 || i >= c.layout.Shape[0] {
		return fmt.Errorf("%w: slab %d of %d", ErrOutOfRange, i, c.layout.Shape[0])
	}
	if !intsEqual(arr.Shape, c.layout.Shape[1:]) {
		return fmt.Errorf("%w: slab shape %v, want %v", ErrShapeMismatch, arr.Shape, c.layout.Shape[1:])
	}
	origin := make([]int, c.layout.Rank())
	origin[0] = i
	slab := &NDArray{
		Shape: append([]int{1}, arr.Shape...),
		Dtype: arr.Dtype,
		Data:  arr.Data,
	}
	return c.WriteRegion(ctx, origin, slab)
}

// WriteRegion writes arr with its first item at origin. Blocks only partly
// covered by the region are read, patched and rewritten
func (c *Container) WriteRegion(ctx context.Context, origin []int, arr *NDArray) error {
	if err := c.writable(); err != nil {
		return err
	}
	if err := arr.Validate(); err != nil {
		return err
	}
	if arr.Dtype != c.dtype {
		return fmt.Errorf("%w: array dtype %s, container %s dtype %s", ErrShapeMismatch, arr.Dtype, c.id, c.dtype)
	}
	if err := c.checkRegion(origin, arr.Shape); err != nil {
		return err
	}
	if arr.Len() == 0 {
		return nil
	}

	start := time.Now()
	chunks := c.chunksIntersecting(origin, arr.Shape)
	err := c.forEachChunk(ctx, chunks, func(chunkID int) error {
		return c.writeChunk(chunkID, origin, arr)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", c.id, err)
	}
	c.log.Debug().
		Str("id", c.id).
		Ints("origin", origin).
		Ints("shape", arr.Shape).
		Int("chunks", len(chunks)).
		Dur("took", time.Since(start)).
		Msg("wrote region")
	return nil
}

func (c *Container) writeChunk(chunkID int, origin []int, arr *NDArray) error {
	l := c.layout
	grid := l.BlockGrid(chunkID)
	b := make([]int, len(grid))
	for {
		bOrigin, bExtent := l.BlockRegion(chunkID, b)
		lo, hi, full, ok := intersect(bOrigin, bExtent, origin, arr.Shape)
		if ok {
			if err := c.writeBlock(chunkID, b, bOrigin, lo, hi, full, origin, arr); err != nil {
				return err
			}
		}
		if !nextIndex(b, grid) {
			return nil
		}
	}
}

// writeBlock copies the [lo, hi) part of arr into one block. A block the
// region only partly covers keeps its earlier contents, and stays partial
// until every item has been written
func (c *Container) writeBlock(chunkID int, b, bOrigin, lo, hi []int, full bool, origin []int, arr *NDArray) error {
	l := c.layout
	var buf, coverage []byte
	if !full {
		existing, cov, err := c.blocks.ReadPartialBlock(chunkID, b)
		switch {
		case err == nil:
			buf, coverage = existing, cov
		case errors.Is(err, ErrNotFound):
			coverage = c.blocks.NewCoverage(chunkID, b)
		default:
			return err
		}
	}
	if buf == nil {
		buf = make([]byte, l.BlockBytes())
	}
	CopyRegion(
		buf, l.BlockShape, sub(lo, bOrigin),
		arr.Data, arr.Shape, sub(lo, origin),
		sub(hi, lo), l.ItemSize,
	)
	if coverage == nil {
		return c.blocks.WriteBlock(chunkID, b, buf)
	}
	c.blocks.MarkCoverage(coverage, sub(lo, bOrigin), sub(hi, lo))
	return c.blocks.WritePartialBlock(chunkID, b, buf, coverage)
}

// ReadFull assembles the whole array. It fails with ErrIncompleteData if any
// block has not been written
func (c *Container) ReadFull(ctx context.Context) (*NDArray, error) {
	return c.readRegion(ctx, make([]int, c.layout.Rank()), c.layout.Shape, false)
}

// ReadAvailable assembles the whole array, substituting the fill value for
// blocks that have not been written
func (c *Container) ReadAvailable(ctx context.Context) (*NDArray, error) {
	return c.readRegion(ctx, make([]int, c.layout.Rank()), c.layout.Shape, true)
}

// ReadSlab reads index i of the outermost axis
func (c *Container) ReadSlab(ctx context.Context, i int) (*NDArray, error) {
	if c.layout.Rank() < 2 {
		return nil, fmt.Errorf("%w: slab read from rank %d container", ErrShapeMismatch, c.layout.Rank())
	}
	if i < 0 || i >= c.layout.Shape[0] {
		return nil, fmt.Errorf("%w: slab %d of %d", ErrOutOfRange, i, c.layout.Shape[0])
	}
	origin := make([]int, c.layout.Rank())
	origin[0] = i
	count := cloneInts(c.layout.Shape)
	count[0] = 1
	arr, err := c.readRegion(ctx, origin, count, false)
	if err != nil {
		return nil, err
	}
	arr.Shape = arr.Shape[1:]
	return arr, nil
}

// ReadRegion reads count items along each axis starting at origin
func (c *Container) ReadRegion(ctx context.Context, origin, count []int) (*NDArray, error) {
	return c.readRegion(ctx, origin, count, false)
}

func (c *Container) readRegion(ctx context.Context, origin, count []int, allowMissing bool) (*NDArray, error) {
	if err := c.checkRegion(origin, count); err != nil {
		return nil, err
	}
	out := NewNDArray(c.dtype, count)
	if out.Len() == 0 {
		return out, nil
	}
	if allowMissing {
		for i := 0; i < len(out.Data); i += len(c.fill) {
			copy(out.Data[i:], c.fill)
		}
	}

	l := c.layout
	chunks := c.chunksIntersecting(origin, count)
	err := c.forEachChunk(ctx, chunks, func(chunkID int) error {
		grid := l.BlockGrid(chunkID)
		b := make([]int, len(grid))
		for {
			bOrigin, bExtent := l.BlockRegion(chunkID, b)
			if lo, hi, _, ok := intersect(bOrigin, bExtent, origin, count); ok {
				data, coverage, err := c.blocks.ReadPartialBlock(chunkID, b)
				switch {
				case err == nil && coverage == nil:
					CopyRegion(
						out.Data, count, sub(lo, origin),
						data, l.BlockShape, sub(lo, bOrigin),
						sub(hi, lo), l.ItemSize,
					)
				case err == nil && allowMissing:
					copyCovered(out.Data, count, sub(lo, origin), data, l.BlockShape, sub(lo, bOrigin), sub(hi, lo), l.ItemSize, coverage)
				case err == nil && regionCovered(l.BlockShape, sub(lo, bOrigin), sub(hi, lo), coverage):
					CopyRegion(
						out.Data, count, sub(lo, origin),
						data, l.BlockShape, sub(lo, bOrigin),
						sub(hi, lo), l.ItemSize,
					)
				case err == nil:
					return fmt.Errorf("%w: %s chunk %v block %v partly written", ErrIncompleteData, c.id, l.ChunkIndex(chunkID), b)
				case errors.Is(err, ErrNotFound) && allowMissing:
				case errors.Is(err, ErrNotFound):
					return fmt.Errorf("%w: %s chunk %v block %v not written", ErrIncompleteData, c.id, l.ChunkIndex(chunkID), b)
				default:
					return err
				}
			}
			if !nextIndex(b, grid) {
				return nil
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Status summarises which chunks hold complete data
type Status struct {
	Chunks   int
	Complete int
	// Incomplete lists ids of chunks with at least one unwritten block
	Incomplete []int
}

// Done reports whether every chunk is complete
func (s Status) Done() bool { return s.Complete == s.Chunks }

// Status inspects every block header
func (c *Container) Status() (Status, error) {
	st := Status{Chunks: c.layout.NumChunks()}
	for id := 0; id < st.Chunks; id++ {
		ok, err := c.blocks.ChunkComplete(id)
		if err != nil {
			return st, err
		}
		if ok {
			st.Complete++
		} else {
			st.Incomplete = append(st.Incomplete, id)
		}
	}
	return st, nil
}

func (c *Container) checkRegion(origin, count []int) error {
	rank := c.layout.Rank()
	if len(origin) != rank || len(count) != rank {
		return fmt.Errorf("%w: region rank %d/%d, container %s rank %d", ErrShapeMismatch, len(origin), len(count), c.id, rank)
	}
	for i := 0; i < rank; i++ {
		if origin[i] < 0 || count[i] < 0 || origin[i]+count[i] > c.layout.Shape[i] {
			return fmt.Errorf("%w: region origin %v count %v outside shape %v", ErrOutOfRange, origin, count, c.layout.Shape)
		}
	}
	return nil
}

// chunksIntersecting lists ids of chunks overlapping a non-empty region
func (c *Container) chunksIntersecting(origin, count []int) []int {
	rank := c.layout.Rank()
	lo := make([]int, rank)
	span := make([]int, rank)
	for i := 0; i < rank; i++ {
		if count[i] == 0 {
			return nil
		}
		lo[i] = origin[i] / c.layout.ChunkShape[i]
		span[i] = (origin[i]+count[i]-1)/c.layout.ChunkShape[i] - lo[i] + 1
	}
	ids := make([]int, 0, prod(span))
	idx := make([]int, rank)
	abs := make([]int, rank)
	for {
		for i := range idx {
			abs[i] = lo[i] + idx[i]
		}
		ids = append(ids, c.layout.ChunkID(abs))
		if !nextIndex(idx, span) {
			return ids
		}
	}
}

// forEachChunk runs fn for every chunk on up to c.workers goroutines and stops
// scheduling new chunks after the first error or cancellation
func (c *Container) forEachChunk(ctx context.Context, chunks []int, fn func(chunkID int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	scheduled := 0
	for _, id := range chunks {
		if gctx.Err() != nil {
			break
		}
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(id)
		})
		scheduled++
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if scheduled < len(chunks) {
		return ctx.Err()
	}
	return nil
}

// intersect clips the block region [bOrigin, bOrigin+bExtent) to the region
// [origin, origin+count). full reports whether the block is entirely covered
// copyCovered copies the items of a partly written block that its coverage
// marks as written
func copyCovered(dst []byte, dstShape, dstOrigin []int, src []byte, srcShape, srcOrigin, count []int, itemSize int, coverage []byte) {
	var dstIdx []int
	forEachItem(dstShape, dstOrigin, count, func(i int) { dstIdx = append(dstIdx, i) })
	n := 0
	forEachItem(srcShape, srcOrigin, count, func(i int) {
		if Covered(coverage, i) {
			d := dstIdx[n]
			copy(dst[d*itemSize:(d+1)*itemSize], src[i*itemSize:(i+1)*itemSize])
		}
		n++
	})
}

func regionCovered(shape, origin, count []int, coverage []byte) bool {
	covered := true
	forEachItem(shape, origin, count, func(i int) {
		covered = covered && Covered(coverage, i)
	})
	return covered
}

func intersect(bOrigin, bExtent, origin, count []int) (lo, hi []int, full, ok bool) {
	lo = make([]int, len(bOrigin))
	hi = make([]int, len(bOrigin))
	full = true
	for i := range bOrigin {
		lo[i] = max(bOrigin[i], origin[i])
		hi[i] = min(bOrigin[i]+bExtent[i], origin[i]+count[i])
		if lo[i] >= hi[i] {
			return nil, nil, false, false
		}
		if lo[i] != bOrigin[i] || hi[i] != bOrigin[i]+bExtent[i] {
			full = false
		}
	}
	return lo, hi, full, true
}

func sub(a, b []int) []int {
	out := make([]int, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
