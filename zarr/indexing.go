package zarr

type chunkDimProjection struct {
	// Index of chunk.
	DimChunkIX int
	// Selection of items from chunk array.
	DimChunkSel int
	// Selection of items in target (output) array.
	DimOutSel int
	// Number of items selected.
	DimLen int
}

// sliceDimIndexer projects the contiguous selection [start, stop) of one
// dimension onto the chunks that hold it
func sliceDimIndexer(start, stop, chunkLen int) []chunkDimProjection {
	var out []chunkDimProjection
	for pos := start; pos < stop; {
		ix := pos / chunkLen
		sel := pos - ix*chunkLen
		n := chunkLen - sel
		if rem := stop - pos; n > rem {
			n = rem
		}
		out = append(out, chunkDimProjection{
			DimChunkIX:  ix,
			DimChunkSel: sel,
			DimOutSel:   pos - start,
			DimLen:      n,
		})
		pos += n
	}
	return out
}

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Selection of items from chunk array.
	ChunkSelection []int
	// Selection of items in target (output) array.
	OutSelection []int
	// Count of items along each dimension
	Count []int
}

// basicIndexer expands a hyper-rectangular selection into one projection
// per intersected chunk, in row-major chunk order
func basicIndexer(origin, count, chunks []int) []chunkProjection {
	dims := make([][]chunkDimProjection, len(origin))
	for i := range origin {
		dims[i] = sliceDimIndexer(origin[i], origin[i]+count[i], chunks[i])
		if len(dims[i]) == 0 {
			return nil
		}
	}

	var out []chunkProjection
	idx := make([]int, len(dims))
	for {
		p := chunkProjection{
			ChunkCoords:    make([]int, len(dims)),
			ChunkSelection: make([]int, len(dims)),
			OutSelection:   make([]int, len(dims)),
			Count:          make([]int, len(dims)),
		}
		for d, i := range idx {
			dp := dims[d][i]
			p.ChunkCoords[d] = dp.DimChunkIX
			p.ChunkSelection[d] = dp.DimChunkSel
			p.OutSelection[d] = dp.DimOutSel
			p.Count[d] = dp.DimLen
		}
		out = append(out, p)

		d := len(idx) - 1
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < len(dims[d]) {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return out
		}
	}
}
