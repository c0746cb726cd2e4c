package caterva

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/caterva-go/codec"
	"github.com/qri-io/caterva-go/store"
)

// seq fills a float32 array with offset, offset+1, ...
func seq(t testing.TB, offset float32, shape ...int) *NDArray {
	t.Helper()
	vals := make([]float32, prod(shape))
	for i := range vals {
		vals[i] = offset + float32(i)
	}
	arr, err := NewFloat32(shape, vals)
	require.NoError(t, err)
	return arr
}

func TestContainerRoundtrip(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name                  string
		shape, chunks, blocks []int
	}{
		{"single block", []int{4, 4}, []int{4, 4}, []int{4, 4}},
		{"uneven 2d", []int{10, 7}, []int{4, 4}, []int{2, 3}},
		{"chunk larger than shape", []int{3, 5}, []int{8, 8}, []int{4, 4}},
		{"uneven 3d", []int{6, 9, 11}, []int{4, 4, 8}, []int{2, 4, 3}},
		{"1d", []int{25}, []int{10}, []int{3}},
	}
	for _, c := range cases {
		for _, contiguous := range []bool{true, false} {
			for _, comp := range []codec.Meta{codec.DefaultMeta, {ID: codec.GZip}, {ID: codec.None}} {
				s := store.NewMemoryStore()
				arr := seq(t, 1, c.shape...)

				cont, err := Create(s, "arr", c.shape, c.chunks, c.blocks,
					WithContiguous(contiguous), WithCompressor(comp), WithWorkers(2))
				require.NoError(t, err, c.name)
				require.NoError(t, cont.WriteFull(ctx, arr), c.name)

				got, err := cont.ReadFull(ctx)
				require.NoError(t, err, c.name)
				assert.True(t, arr.Equal(got), "%s contiguous=%t codec=%s", c.name, contiguous, comp.ID)

				status, err := cont.Status()
				require.NoError(t, err)
				assert.True(t, status.Done(), c.name)

				// a fresh handle reads the same bytes
				reopened, err := Open(s, "arr")
				require.NoError(t, err)
				got, err = reopened.ReadFull(ctx)
				require.NoError(t, err, c.name)
				assert.True(t, arr.Equal(got), c.name)
			}
		}
	}
}

func TestWriteOrderIndependent(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	shape := []int{10, 7}
	arr := seq(t, 0, shape...)

	full, err := Create(s, "full", shape, []int{4, 4}, []int{2, 3})
	require.NoError(t, err)
	require.NoError(t, full.WriteFull(ctx, arr))

	// the same data as overlapping, unaligned regions in reverse order
	parts, err := Create(s, "parts", shape, []int{4, 4}, []int{2, 3})
	require.NoError(t, err)
	regions := [][2][]int{
		{{5, 3}, {5, 4}},
		{{0, 2}, {10, 5}},
		{{0, 0}, {7, 3}},
		{{6, 0}, {4, 2}},
	}
	for _, r := range regions {
		origin, count := r[0], r[1]
		part := NewNDArray(Float32, count)
		CopyRegion(part.Data, count, make([]int, 2), arr.Data, shape, origin, count, 4)
		require.NoError(t, parts.WriteRegion(ctx, origin, part))
	}

	a, err := full.ReadFull(ctx)
	require.NoError(t, err)
	b, err := parts.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestConcurrentChunkWriters(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	shape := []int{8, 8}
	arr := seq(t, 0, shape...)
	cont, err := Create(s, "arr", shape, []int{4, 4}, []int{2, 2})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, cont.Layout().NumChunks())
	for id := 0; id < cont.Layout().NumChunks(); id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			origin := cont.Layout().ChunkOrigin(id)
			count := cont.Layout().ChunkExtent(id)
			part := NewNDArray(Float32, count)
			CopyRegion(part.Data, count, make([]int, 2), arr.Data, shape, origin, count, 4)
			errs[id] = cont.WriteRegion(ctx, origin, part)
		}(id)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got, err := cont.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, arr.Equal(got))
}

func TestIncompleteData(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	cont, err := Create(s, "arr", []int{4, 4}, []int{2, 2}, []int{2, 2})
	require.NoError(t, err)

	// nothing written yet
	_, err = cont.ReadFull(ctx)
	assert.True(t, errors.Is(err, ErrIncompleteData), "expected ErrIncompleteData, got %v", err)

	require.NoError(t, cont.WriteRegion(ctx, []int{0, 0}, seq(t, 1, 2, 2)))
	_, err = cont.ReadFull(ctx)
	assert.True(t, errors.Is(err, ErrIncompleteData), "expected ErrIncompleteData, got %v", err)

	// the written chunk is readable on its own
	got, err := cont.ReadRegion(ctx, []int{0, 0}, []int{2, 2})
	require.NoError(t, err)
	assert.True(t, seq(t, 1, 2, 2).Equal(got))

	avail, err := cont.ReadAvailable(ctx)
	require.NoError(t, err)
	vals, err := avail.Float32s()
	require.NoError(t, err)
	for i, v := range vals {
		row, col := i/4, i%4
		if row < 2 && col < 2 {
			assert.Equal(t, float32(1+row*2+col), v)
		} else {
			assert.True(t, math.IsNaN(float64(v)), "item %d should be NaN, got %v", i, v)
		}
	}

	status, err := cont.Status()
	require.NoError(t, err)
	assert.Equal(t, 4, status.Chunks)
	assert.Equal(t, 1, status.Complete)
	assert.Equal(t, []int{1, 2, 3}, status.Incomplete)
}

func TestPartiallyCoveredBlock(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			cont, err := Create(s, "arr", []int{4, 4}, []int{4, 4}, []int{4, 4})
			require.NoError(t, err)

			require.NoError(t, cont.WriteRegion(ctx, []int{0, 0}, seq(t, 1, 2, 2)))
			_, err = cont.ReadFull(ctx)
			assert.True(t, errors.Is(err, ErrIncompleteData), "one quarter written: %v", err)
			status, err := cont.Status()
			require.NoError(t, err)
			assert.False(t, status.Done())
			assert.Equal(t, []int{0}, status.Incomplete)

			// written items read back, the rest stay at the fill value
			got, err := cont.ReadRegion(ctx, []int{0, 0}, []int{2, 2})
			require.NoError(t, err)
			assert.True(t, seq(t, 1, 2, 2).Equal(got))
			_, err = cont.ReadRegion(ctx, []int{0, 0}, []int{3, 2})
			assert.True(t, errors.Is(err, ErrIncompleteData), "region past the written rows: %v", err)

			avail, err := cont.ReadAvailable(ctx)
			require.NoError(t, err)
			vals, err := avail.Float32s()
			require.NoError(t, err)
			for i, v := range vals {
				row, col := i/4, i%4
				if row < 2 && col < 2 {
					assert.Equal(t, float32(1+row*2+col), v)
				} else {
					assert.True(t, math.IsNaN(float64(v)), "item %d should be NaN, got %v", i, v)
				}
			}

			require.NoError(t, cont.WriteRegion(ctx, []int{0, 2}, seq(t, 10, 2, 2)))
			require.NoError(t, cont.WriteRegion(ctx, []int{2, 0}, seq(t, 20, 2, 4)))

			// coverage survives reopening
			reopened, err := Open(s, "arr")
			require.NoError(t, err)
			full, err := reopened.ReadFull(ctx)
			require.NoError(t, err)
			vals, err = full.Float32s()
			require.NoError(t, err)
			assert.Equal(t, []float32{
				1, 2, 10, 11,
				3, 4, 12, 13,
				20, 21, 22, 23,
				24, 25, 26, 27,
			}, vals)
			status, err = reopened.Status()
			require.NoError(t, err)
			assert.True(t, status.Done())
		})
	}
}

func TestFillValue(t *testing.T) {
	ctx := context.Background()
	cont, err := Create(store.NewMemoryStore(), "arr", []int{3}, []int{3}, []int{3},
		WithDtype(Int32), WithFillValue(-1))
	require.NoError(t, err)
	avail, err := cont.ReadAvailable(ctx)
	require.NoError(t, err)
	vals, err := avail.Float64s()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, -1, -1}, vals)
}

func TestCreateErrors(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := Create(s, "arr", []int{4, 4}, []int{2}, []int{2, 2})
	assert.True(t, errors.Is(err, ErrInvalidLayout), "rank mismatch: %v", err)

	exists, err := Exists(s, "arr")
	require.NoError(t, err)
	assert.False(t, exists, "a rejected layout writes nothing")

	_, err = Create(s, "arr", []int{4, 4}, []int{2, 2}, []int{2, 2})
	require.NoError(t, err)
	_, err = Create(s, "arr", []int{4, 4}, []int{2, 2}, []int{2, 2})
	assert.True(t, errors.Is(err, ErrAlreadyExists), "second create: %v", err)

	_, err = Open(s, "missing")
	assert.True(t, errors.Is(err, ErrNotFound), "open missing: %v", err)

	_, err = Create(s, "arr/inner", []int{4}, []int{2}, []int{2})
	assert.True(t, errors.Is(err, ErrInvalidLayout), "nested in a container: %v", err)
	_, err = Create(s, "group/a", []int{4}, []int{2}, []int{2})
	require.NoError(t, err)
	_, err = Create(s, "group", []int{4}, []int{2}, []int{2})
	assert.True(t, errors.Is(err, ErrAlreadyExists), "enclosing a container: %v", err)
}

func TestWriteErrors(t *testing.T) {
	ctx := context.Background()
	cont, err := Create(store.NewMemoryStore(), "arr", []int{3, 4, 4}, []int{1, 2, 2}, []int{1, 2, 2})
	require.NoError(t, err)

	err = cont.WriteFull(ctx, seq(t, 0, 3, 4, 5))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "full write: %v", err)

	err = cont.WriteSlab(ctx, 3, seq(t, 0, 4, 4))
	assert.True(t, errors.Is(err, ErrOutOfRange), "slab index: %v", err)

	err = cont.WriteSlab(ctx, 0, seq(t, 0, 4, 3))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "slab shape: %v", err)

	err = cont.WriteRegion(ctx, []int{2, 3, 0}, seq(t, 0, 1, 2, 2))
	assert.True(t, errors.Is(err, ErrOutOfRange), "region: %v", err)

	err = cont.WriteFull(ctx, NewNDArray(Float64, []int{3, 4, 4}))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "dtype: %v", err)

	// same item size, different interpretation
	err = cont.WriteFull(ctx, NewNDArray(Int32, []int{3, 4, 4}))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "int32 into float32: %v", err)
	bigEndian, err := ParseDtype(">f4")
	require.NoError(t, err)
	err = cont.WriteRegion(ctx, []int{0, 0, 0}, NewNDArray(bigEndian, []int{1, 2, 2}))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "big endian float32: %v", err)

	// nothing was written by the rejected calls
	status, err := cont.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Complete)

	_, err = cont.ReadSlab(ctx, -1)
	assert.True(t, errors.Is(err, ErrOutOfRange), "read slab: %v", err)
}

func TestSlabs(t *testing.T) {
	ctx := context.Background()
	cont, err := Create(store.NewMemoryStore(), "arr", []int{3, 5, 6}, []int{2, 4, 4}, []int{1, 2, 4})
	require.NoError(t, err)

	for i := 2; i >= 0; i-- {
		require.NoError(t, cont.WriteSlab(ctx, i, seq(t, float32(i*100), 5, 6)))
	}
	for i := 0; i < 3; i++ {
		slab, err := cont.ReadSlab(ctx, i)
		require.NoError(t, err)
		assert.True(t, seq(t, float32(i*100), 5, 6).Equal(slab), "slab %d", i)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			cont, err := Create(s, "data/arr", []int{4, 4}, []int{2, 2}, []int{2, 2}, WithContiguous(false))
			require.NoError(t, err)
			require.NoError(t, cont.WriteFull(ctx, seq(t, 0, 4, 4)))

			require.NoError(t, Remove(s, "data/arr"))
			exists, err := Exists(s, "data/arr")
			require.NoError(t, err)
			assert.False(t, exists)

			// removing again is a no-op
			require.NoError(t, Remove(s, "data/arr"))

			// the id can be reused
			_, err = Create(s, "data/arr", []int{2}, []int{2}, []int{2})
			require.NoError(t, err)
		})
	}
}

func TestSeal(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	cont, err := Create(s, "arr", []int{4}, []int{2}, []int{2})
	require.NoError(t, err)
	require.NoError(t, cont.WriteFull(ctx, seq(t, 0, 4)))
	require.NoError(t, cont.Seal())
	require.NoError(t, cont.Seal())

	err = cont.WriteFull(ctx, seq(t, 0, 4))
	assert.True(t, errors.Is(err, ErrSealed), "write after seal: %v", err)

	reopened, err := Open(s, "arr")
	require.NoError(t, err)
	assert.True(t, reopened.Sealed())
	_, err = reopened.ReadFull(ctx)
	assert.NoError(t, err)
}

func TestCancelledWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cont, err := Create(store.NewMemoryStore(), "arr", []int{8, 8}, []int{4, 4}, []int{2, 2})
	require.NoError(t, err)

	err = cont.WriteFull(ctx, seq(t, 0, 8, 8))
	assert.True(t, errors.Is(err, context.Canceled), "expected context.Canceled, got %v", err)

	status, err := cont.Status()
	require.NoError(t, err)
	assert.Equal(t, 0, status.Complete)
}

func TestLogging(t *testing.T) {
	log := zerolog.New(zerolog.NewTestWriter(t))
	cont, err := Create(store.NewMemoryStore(), "arr", []int{4}, []int{2}, []int{2}, WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, cont.WriteFull(context.Background(), seq(t, 0, 4)))
}

// TestReanalysisRoundtrip writes a single month of hourly 0.5 degree data in
// the chunking used for reanalysis ingest
func TestReanalysisRoundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("writes ~60MB")
	}
	ctx := context.Background()
	s, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	shape := []int{60, 361, 720}
	arr := seq(t, 0, shape...)
	cont, err := Create(s, "air1.cat", shape, []int{128, 128, 256}, []int{16, 32, 64})
	require.NoError(t, err)
	require.NoError(t, cont.WriteFull(ctx, arr))

	reopened, err := Open(s, "air1.cat")
	require.NoError(t, err)
	got, err := reopened.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, arr.Equal(got))
}

func testStores(t *testing.T) map[string]store.Store {
	local, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return map[string]store.Store{
		store.MemoryStoreType: store.NewMemoryStore(),
		store.LocalStoreType:  local,
	}
}
