package caterva

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/caterva-go/store"
)

func members(t testing.TB, n int, shape ...int) ([]Member, []*NDArray) {
	ms := make([]Member, n)
	arrs := make([]*NDArray, n)
	for i := range ms {
		arrs[i] = seq(t, float32(i*1000), shape...)
		ms[i] = ArrayMember(fmt.Sprintf("air%d.cat", i+1), arrs[i])
	}
	return ms, arrs
}

func TestCompose(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ms, arrs := members(t, 3, 6, 9, 10)

	c := NewComposer(s, []int{4, 4, 8}, []int{2, 4, 4})
	st, err := c.Compose(ctx, "air-3m.cat", ms)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 6, 9, 10}, st.Shape())
	assert.Equal(t, []int{1, 4, 4, 8}, st.Layout().ChunkShape)
	assert.Equal(t, []int{1, 2, 4, 4}, st.Layout().BlockShape)

	done, err := st.Complete()
	require.NoError(t, err)
	assert.True(t, done)

	for i, arr := range arrs {
		slab, err := st.ReadSlab(ctx, i)
		require.NoError(t, err)
		assert.True(t, arr.Equal(slab), "slab %d", i)

		member, err := Open(s, ms[i].ID)
		require.NoError(t, err)
		got, err := member.ReadFull(ctx)
		require.NoError(t, err)
		assert.True(t, arr.Equal(got), "member %d", i)
	}

	reopened, err := OpenStack(s, "air-3m.cat")
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Len())
	assert.Equal(t, []int{6, 9, 10}, reopened.MemberShape())
	recorded := reopened.Members()
	require.Len(t, recorded, 3)
	assert.Equal(t, "air2.cat", recorded[1].ID)

	_, err = c.Compose(ctx, "air-3m.cat", ms)
	assert.True(t, errors.Is(err, ErrAlreadyExists), "compose over existing stack: %v", err)
}

func TestComposePartialFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ms, arrs := members(t, 3, 4, 5, 6)
	fetchErr := errors.New("source unavailable")
	good := ms[1]
	ms[1].Fetch = func(context.Context) (*NDArray, error) { return nil, fetchErr }

	c := NewComposer(s, []int{4, 4, 4}, []int{2, 2, 2})
	st, err := c.Compose(ctx, "air-3m.cat", ms)
	require.Error(t, err)

	ce, ok := IsComposeError(err)
	require.True(t, ok, "expected *ComposeError, got %T", err)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, "air2.cat", ce.ID)
	assert.Equal(t, []int{0}, ce.Written)
	assert.Equal(t, 1, ce.ResumeFrom())
	assert.True(t, errors.Is(err, fetchErr))

	// member 0 and slab 0 survive the failure
	member, err := Open(s, "air1.cat")
	require.NoError(t, err)
	got, err := member.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, arrs[0].Equal(got))

	slab, err := st.ReadSlab(ctx, 0)
	require.NoError(t, err)
	assert.True(t, arrs[0].Equal(slab))

	_, err = st.ReadSlab(ctx, 1)
	assert.True(t, errors.Is(err, ErrIncompleteData), "slab 1: %v", err)

	status, err := st.SlabStatus()
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false}, status)
	done, err := st.Complete()
	require.NoError(t, err)
	assert.False(t, done)

	exists, err := Exists(s, "air2.cat")
	require.NoError(t, err)
	assert.False(t, exists)

	// resume picks up at the failed member
	ms[1] = good
	st, err = c.Resume(ctx, "air-3m.cat", ms, ce.ResumeFrom())
	require.NoError(t, err)
	done, err = st.Complete()
	require.NoError(t, err)
	assert.True(t, done)
	for i, arr := range arrs {
		slab, err := st.ReadSlab(ctx, i)
		require.NoError(t, err)
		assert.True(t, arr.Equal(slab), "slab %d", i)
	}
}

func TestComposeShapeMismatch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ms, _ := members(t, 2, 4, 5)
	ms[1] = ArrayMember("air2.cat", seq(t, 0, 4, 6))

	c := NewComposer(s, []int{4, 4}, []int{2, 2})
	_, err := c.Compose(ctx, "air-2m.cat", ms)
	assert.True(t, errors.Is(err, ErrShapeMismatch), "expected ErrShapeMismatch, got %v", err)
	ce, ok := IsComposeError(err)
	require.True(t, ok)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, []int{0}, ce.Written)
}

func TestComposeFirstMemberFails(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ms, _ := members(t, 2, 4, 5)
	ms[0].Fetch = func(context.Context) (*NDArray, error) { return nil, errors.New("boom") }

	_, err := NewComposer(s, []int{4, 4}, []int{2, 2}).Compose(ctx, "air-2m.cat", ms)
	ce, ok := IsComposeError(err)
	require.True(t, ok)
	assert.Equal(t, 0, ce.Index)
	assert.Empty(t, ce.Written)

	exists, err := Exists(s, "air-2m.cat")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestComposeKeepsExistingMember(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	ms, arrs := members(t, 3, 4, 5)

	prior, err := Create(s, "air2.cat", []int{2}, []int{2}, []int{2})
	require.NoError(t, err)
	priorVals := seq(t, 7, 2)
	require.NoError(t, prior.WriteFull(ctx, priorVals))
	require.NoError(t, prior.Seal())

	c := NewComposer(s, []int{4, 4}, []int{2, 2})
	_, err = c.Compose(ctx, "air-3m.cat", ms)
	assert.True(t, errors.Is(err, ErrAlreadyExists), "expected ErrAlreadyExists, got %v", err)
	ce, ok := IsComposeError(err)
	require.True(t, ok, "expected *ComposeError, got %T", err)
	assert.Equal(t, 1, ce.Index)
	assert.Equal(t, "air2.cat", ce.ID)
	assert.Equal(t, []int{0}, ce.Written)

	// a sealed member is not replaced on resume either
	_, err = c.Resume(ctx, "air-3m.cat", ms, ce.ResumeFrom())
	assert.True(t, errors.Is(err, ErrAlreadyExists), "resume over sealed member: %v", err)

	kept, err := Open(s, "air2.cat")
	require.NoError(t, err)
	assert.Equal(t, prior.Meta().UUID, kept.Meta().UUID)
	assert.Equal(t, []int{2}, kept.Shape())
	got, err := kept.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, priorVals.Equal(got))

	// an unsealed leftover at the failed member is rewritten by resume
	require.NoError(t, Remove(s, "air2.cat"))
	leftover, err := Create(s, "air2.cat", []int{4, 5}, []int{4, 4}, []int{2, 2})
	require.NoError(t, err)
	require.NoError(t, leftover.WriteRegion(ctx, []int{0, 0}, seq(t, -1, 1, 2)))

	st, err := c.Resume(ctx, "air-3m.cat", ms, ce.ResumeFrom())
	require.NoError(t, err)
	done, err := st.Complete()
	require.NoError(t, err)
	assert.True(t, done)
	member, err := Open(s, "air2.cat")
	require.NoError(t, err)
	assert.NotEqual(t, leftover.Meta().UUID, member.Meta().UUID)
	got, err = member.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, arrs[1].Equal(got))
}

func TestComposeMemberIDs(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewComposer(s, []int{4, 4}, []int{2, 2})

	ms, _ := members(t, 2, 4, 5)
	ms[1].ID = "/air-2m.cat"
	_, err := c.Compose(ctx, "air-2m.cat", ms)
	assert.True(t, errors.Is(err, ErrInvalidLayout), "member id is the stack id: %v", err)

	ms, _ = members(t, 3, 4, 5)
	ms[2].ID = ms[0].ID
	_, err = c.Compose(ctx, "air-3m.cat", ms)
	assert.True(t, errors.Is(err, ErrInvalidLayout), "duplicate member id: %v", err)
	_, err = c.Resume(ctx, "air-3m.cat", ms, 0)
	assert.True(t, errors.Is(err, ErrInvalidLayout), "duplicate member id on resume: %v", err)

	for _, id := range []string{"air-2m.cat", "air-3m.cat", "air1.cat"} {
		exists, err := Exists(s, id)
		require.NoError(t, err)
		assert.False(t, exists, "%s was created", id)
	}
}

func TestOpenStackRejectsPlainContainer(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := Create(s, "arr", []int{2, 4}, []int{2, 4}, []int{2, 4})
	require.NoError(t, err)
	_, err = OpenStack(s, "arr")
	assert.True(t, errors.Is(err, ErrInvalidLayout), "expected ErrInvalidLayout, got %v", err)
}

// TestReanalysisStack composes three months of one variable in the chunking
// used for reanalysis ingest
func TestReanalysisStack(t *testing.T) {
	if testing.Short() {
		t.Skip("writes ~380MB")
	}
	ctx := context.Background()
	s, err := store.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ms, arrs := members(t, 3, 60, 361, 720)
	st, err := NewComposer(s, []int{128, 128, 256}, []int{16, 32, 64}).Compose(ctx, "air-3m.cat", ms)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 60, 361, 720}, st.Shape())

	slab, err := st.ReadSlab(ctx, 1)
	require.NoError(t, err)
	assert.True(t, arrs[1].Equal(slab))

	member, err := Open(s, "air2.cat")
	require.NoError(t, err)
	got, err := member.ReadFull(ctx)
	require.NoError(t, err)
	assert.True(t, arrs[1].Equal(got))
}
