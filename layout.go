package caterva

import "fmt"

// Layout is the two-level tiling of an array. The array is partitioned into
// chunks of ChunkShape, and every chunk into blocks of BlockShape. Chunks on
// the upper boundary of Shape are logically truncated but keep the physical
// footprint of a full chunk.
type Layout struct {
	Shape      []int
	ChunkShape []int
	BlockShape []int
	ItemSize   int
}

// NewLayout copies its arguments and validates the result
func NewLayout(shape, chunkShape, blockShape []int, itemSize int) (Layout, error) {
	l := Layout{
		Shape:      cloneInts(shape),
		ChunkShape: cloneInts(chunkShape),
		BlockShape: cloneInts(blockShape),
		ItemSize:   itemSize,
	}
	return l, l.Validate()
}

// Validate checks ranks agree and every extent is positive. Blocks may not be
// larger than chunks; chunks may be larger than the shape
func (l Layout) Validate() error {
	rank := len(l.Shape)
	if rank == 0 {
		return fmt.Errorf("%w: rank must be at least 1", ErrInvalidLayout)
	}
	if len(l.ChunkShape) != rank || len(l.BlockShape) != rank {
		return fmt.Errorf("%w: rank mismatch shape=%d chunks=%d blocks=%d",
			ErrInvalidLayout, rank, len(l.ChunkShape), len(l.BlockShape))
	}
	for i := 0; i < rank; i++ {
		if l.Shape[i] < 1 || l.ChunkShape[i] < 1 || l.BlockShape[i] < 1 {
			return fmt.Errorf("%w: axis %d has non-positive extent (shape=%v chunks=%v blocks=%v)",
				ErrInvalidLayout, i, l.Shape, l.ChunkShape, l.BlockShape)
		}
		if l.BlockShape[i] > l.ChunkShape[i] {
			return fmt.Errorf("%w: axis %d block %d exceeds chunk %d",
				ErrInvalidLayout, i, l.BlockShape[i], l.ChunkShape[i])
		}
	}
	if l.ItemSize < 1 {
		return fmt.Errorf("%w: item size %d", ErrInvalidLayout, l.ItemSize)
	}
	return nil
}

func (l Layout) Rank() int { return len(l.Shape) }

// NumElems is the number of logical items in the array
func (l Layout) NumElems() int { return prod(l.Shape) }

// ChunkGrid is the number of chunks along each axis
func (l Layout) ChunkGrid() []int {
	grid := make([]int, len(l.Shape))
	for i := range grid {
		grid[i] = ceilDiv(l.Shape[i], l.ChunkShape[i])
	}
	return grid
}

// NumChunks is the product of ChunkGrid
func (l Layout) NumChunks() int { return prod(l.ChunkGrid()) }

// ChunkIndex converts a chunk id into its row-major chunk grid coordinate
func (l Layout) ChunkIndex(id int) []int { return unravel(id, l.ChunkGrid()) }

// ChunkID converts a chunk grid coordinate into a chunk id
func (l Layout) ChunkID(idx []int) int { return ravel(idx, l.ChunkGrid()) }

// ChunkOrigin is the global coordinate of a chunk's first item
func (l Layout) ChunkOrigin(id int) []int {
	idx := l.ChunkIndex(id)
	for i := range idx {
		idx[i] *= l.ChunkShape[i]
	}
	return idx
}

// ChunkExtent is the logical extent of a chunk: ChunkShape clipped to Shape
func (l Layout) ChunkExtent(id int) []int {
	origin := l.ChunkOrigin(id)
	ext := make([]int, len(origin))
	for i := range ext {
		ext[i] = min(l.ChunkShape[i], l.Shape[i]-origin[i])
	}
	return ext
}

// BlockGrid is the grid of blocks holding logical data within a chunk
func (l Layout) BlockGrid(id int) []int {
	ext := l.ChunkExtent(id)
	for i := range ext {
		ext[i] = ceilDiv(ext[i], l.BlockShape[i])
	}
	return ext
}

// NumBlocks is the number of blocks a chunk needs to be complete
func (l Layout) NumBlocks(id int) int { return prod(l.BlockGrid(id)) }

// SlotGrid is the block grid of a full, untruncated chunk. Every chunk
// reserves this many block slots
func (l Layout) SlotGrid() []int {
	grid := make([]int, len(l.ChunkShape))
	for i := range grid {
		grid[i] = ceilDiv(l.ChunkShape[i], l.BlockShape[i])
	}
	return grid
}

// SlotsPerChunk is the product of SlotGrid
func (l Layout) SlotsPerChunk() int { return prod(l.SlotGrid()) }

// BlockElems is the number of items in one physical block
func (l Layout) BlockElems() int { return prod(l.BlockShape) }

// BlockBytes is the size of one decoded block
func (l Layout) BlockBytes() int { return l.BlockElems() * l.ItemSize }

// BlockRegion returns the global origin of a block and the extent of it that
// holds logical data, bounded by both the chunk and the array
func (l Layout) BlockRegion(chunkID int, blockOffset []int) (origin, extent []int) {
	chunkOrigin := l.ChunkOrigin(chunkID)
	chunkExt := l.ChunkExtent(chunkID)
	origin = make([]int, len(blockOffset))
	extent = make([]int, len(blockOffset))
	for i, b := range blockOffset {
		local := b * l.BlockShape[i]
		origin[i] = chunkOrigin[i] + local
		extent[i] = min(l.BlockShape[i], chunkExt[i]-local)
	}
	return origin, extent
}

// Equal reports whether two layouts describe the same tiling
func (l Layout) Equal(o Layout) bool {
	return l.ItemSize == o.ItemSize &&
		intsEqual(l.Shape, o.Shape) &&
		intsEqual(l.ChunkShape, o.ChunkShape) &&
		intsEqual(l.BlockShape, o.BlockShape)
}

// CopyRegion copies the hyper-rectangle count starting at srcOrigin in src
// to dstOrigin in dst. Both buffers are row-major with the given shapes.
// Rows along the innermost axis are copied contiguously.
func CopyRegion(
	dst []byte, dstShape, dstOrigin []int,
	src []byte, srcShape, srcOrigin []int,
	count []int, itemSize int,
) {
	if len(count) == 0 {
		return
	}
	for _, c := range count {
		if c <= 0 {
			return
		}
	}
	dstStrides := strides(dstShape, itemSize)
	srcStrides := strides(srcShape, itemSize)

	dstOff, srcOff := 0, 0
	for i := range count {
		dstOff += dstOrigin[i] * dstStrides[i]
		srcOff += srcOrigin[i] * srcStrides[i]
	}
	copyRecursive(dst, src, dstStrides, srcStrides, count, itemSize, dstOff, srcOff, 0)
}

func copyRecursive(dst, src []byte, dstStrides, srcStrides, count []int, itemSize, dstOff, srcOff, dim int) {
	if dim == len(count)-1 {
		n := count[dim] * itemSize
		copy(dst[dstOff:dstOff+n], src[srcOff:srcOff+n])
		return
	}
	for i := 0; i < count[dim]; i++ {
		copyRecursive(dst, src, dstStrides, srcStrides, count, itemSize,
			dstOff+i*dstStrides[dim], srcOff+i*srcStrides[dim], dim+1)
	}
}

// strides returns row-major byte strides
func strides(shape []int, itemSize int) []int {
	s := make([]int, len(shape))
	acc := itemSize
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

func prod(xs []int) int {
	p := 1
	for _, x := range xs {
		p *= x
	}
	return p
}

func ravel(idx, grid []int) int {
	id := 0
	for i := range idx {
		id = id*grid[i] + idx[i]
	}
	return id
}

func unravel(id int, grid []int) []int {
	idx := make([]int, len(grid))
	for i := len(grid) - 1; i >= 0; i-- {
		idx[i] = id % grid[i]
		id /= grid[i]
	}
	return idx
}

// nextIndex advances idx through grid in row-major order and reports false
// once every coordinate has been visited
func nextIndex(idx, grid []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < grid[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}

func cloneInts(xs []int) []int {
	if xs == nil {
		return nil
	}
	out := make([]int, len(xs))
	copy(out, xs)
	return out
}

func intsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
