package caterva

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/qri-io/caterva-go/store"
)

// Stack is a container with one extra leading axis whose chunks and blocks
// have unit extent along that axis, so every slab can be written and read
// without touching the others
type Stack struct {
	*Container
}

// CreateStack allocates a stack of n slabs of memberShape. Member chunk and
// block shapes get a leading 1
func CreateStack(s store.Store, id string, n int, memberShape, memberChunks, memberBlocks []int, opts ...Option) (*Stack, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: stack of %d members", ErrInvalidLayout, n)
	}
	c, err := Create(s, id,
		append([]int{n}, memberShape...),
		append([]int{1}, memberChunks...),
		append([]int{1}, memberBlocks...),
		opts...,
	)
	if err != nil {
		return nil, err
	}
	st := &Stack{Container: c}
	err = st.updateMeta(func(m *Meta) {
		m.Stack = &StackMeta{MemberShape: cloneInts(memberShape)}
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// OpenStack loads a stack created by CreateStack
func OpenStack(s store.Store, id string, opts ...Option) (*Stack, error) {
	c, err := Open(s, id, opts...)
	if err != nil {
		return nil, err
	}
	m := c.Meta()
	if m.Stack == nil || m.Chunks[0] != 1 || m.Blocks[0] != 1 {
		return nil, fmt.Errorf("%w: %s is not a stacked container", ErrInvalidLayout, id)
	}
	return &Stack{Container: c}, nil
}

// Len is the number of slabs
func (st *Stack) Len() int { return st.layout.Shape[0] }

// MemberShape is the shape of a single slab
func (st *Stack) MemberShape() []int { return cloneInts(st.layout.Shape[1:]) }

// Members lists the member containers recorded so far
func (st *Stack) Members() []StackMember {
	m := st.Meta()
	if m.Stack == nil {
		return nil
	}
	return append([]StackMember(nil), m.Stack.Members...)
}

// SlabComplete reports whether every chunk of slab i is fully written
func (st *Stack) SlabComplete(i int) (bool, error) {
	if i < 0 || i >= st.Len() {
		return false, fmt.Errorf("%w: slab %d of %d", ErrOutOfRange, i, st.Len())
	}
	grid := st.layout.ChunkGrid()
	perSlab := prod(grid[1:])
	for c := i * perSlab; c < (i+1)*perSlab; c++ {
		ok, err := st.blocks.ChunkComplete(c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// SlabStatus reports completeness of every slab
func (st *Stack) SlabStatus() ([]bool, error) {
	done := make([]bool, st.Len())
	for i := range done {
		ok, err := st.SlabComplete(i)
		if err != nil {
			return nil, err
		}
		done[i] = ok
	}
	return done, nil
}

// Complete reports whether every slab is fully written, distinguishing a
// fully composed stack from one a failed compose left behind
func (st *Stack) Complete() (bool, error) {
	status, err := st.SlabStatus()
	if err != nil {
		return false, err
	}
	for _, ok := range status {
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (st *Stack) recordMember(i int, c *Container) error {
	return st.updateMeta(func(m *Meta) {
		sm := *m.Stack
		members := make([]StackMember, 0, len(sm.Members)+1)
		for _, mem := range sm.Members {
			if mem.Index != i {
				members = append(members, mem)
			}
		}
		members = append(members, StackMember{Index: i, ID: c.ID(), UUID: c.Meta().UUID.String()})
		sm.Members = members
		m.Stack = &sm
	})
}

// FetchFunc produces a member array on demand
type FetchFunc func(ctx context.Context) (*NDArray, error)

// Member is one array of a stack and the id of its own container
type Member struct {
	ID    string
	Fetch FetchFunc
}

// ArrayMember wraps an already resident array
func ArrayMember(id string, arr *NDArray) Member {
	return Member{
		ID:    id,
		Fetch: func(context.Context) (*NDArray, error) { return arr, nil },
	}
}

// Composer writes each member array to its own container and as a slab of a
// shared stack
type Composer struct {
	store      store.Store
	chunkShape []int
	blockShape []int
	opts       []Option
	log        zerolog.Logger
}

// NewComposer creates a composer laying out members with chunkShape and
// blockShape. opts apply to every container it creates
func NewComposer(s store.Store, chunkShape, blockShape []int, opts ...Option) *Composer {
	return &Composer{
		store:      s,
		chunkShape: cloneInts(chunkShape),
		blockShape: cloneInts(blockShape),
		opts:       opts,
		log:        applyOptions(opts).log,
	}
}

// Compose creates the stack at stackID sized by the first member, then for
// each member i creates its container, writes it, and writes it as slab i.
// Member ids must be distinct from each other and from stackID. An existing
// container at a member id is never overwritten: Compose fails with a
// *ComposeError wrapping ErrAlreadyExists. On failure the error names the
// member and the slabs already written; containers written so far are left
// in place.
func (c *Composer) Compose(ctx context.Context, stackID string, members []Member) (*Stack, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: compose needs at least one member", ErrInvalidLayout)
	}
	if err := checkMemberIDs(stackID, members); err != nil {
		return nil, err
	}

	first, err := members[0].Fetch(ctx)
	if err != nil {
		return nil, &ComposeError{Index: 0, ID: members[0].ID, Err: err}
	}
	if err := first.Validate(); err != nil {
		return nil, &ComposeError{Index: 0, ID: members[0].ID, Err: err}
	}

	opts := append([]Option{WithDtype(first.Dtype)}, c.opts...)
	st, err := CreateStack(c.store, stackID, len(members), first.Shape, c.chunkShape, c.blockShape, opts...)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("stack", st.ID()).Int("members", len(members)).Ints("member_shape", first.Shape).Msg("composing stack")

	return st, c.run(ctx, st, members, 0, first, nil)
}

// Resume continues a compose that failed at member from. Slabs before from
// are kept. An unsealed container left at member from by the failed run is
// deleted and rewritten; a sealed one, or any existing container past from,
// fails the resume with ErrAlreadyExists.
func (c *Composer) Resume(ctx context.Context, stackID string, members []Member, from int) (*Stack, error) {
	if err := checkMemberIDs(stackID, members); err != nil {
		return nil, err
	}
	st, err := OpenStack(c.store, stackID, c.opts...)
	if err != nil {
		return nil, err
	}
	if len(members) != st.Len() {
		return nil, fmt.Errorf("%w: %d members for a stack of %d", ErrShapeMismatch, len(members), st.Len())
	}
	if from < 0 || from > st.Len() {
		return nil, fmt.Errorf("%w: resume from %d of %d", ErrOutOfRange, from, st.Len())
	}
	if err := st.writable(); err != nil {
		return nil, err
	}

	status, err := st.SlabStatus()
	if err != nil {
		return nil, err
	}
	var written []int
	for i := 0; i < from; i++ {
		if status[i] {
			written = append(written, i)
		}
	}
	if from < len(members) {
		if err := c.clearMember(members[from]); err != nil {
			return st, &ComposeError{Index: from, ID: members[from].ID, Written: written, Err: err}
		}
	}
	c.log.Info().Str("stack", st.ID()).Int("from", from).Ints("written", written).Msg("resuming stack")
	return st, c.run(ctx, st, members, from, nil, written)
}

// clearMember removes the unsealed container a failed run left at mem.ID
func (c *Composer) clearMember(mem Member) error {
	exists, err := Exists(c.store, mem.ID)
	if err != nil || !exists {
		return err
	}
	mc, err := Open(c.store, mem.ID, c.opts...)
	if err != nil {
		return err
	}
	if mc.Sealed() {
		return fmt.Errorf("%w: member %s is sealed", ErrAlreadyExists, mc.ID())
	}
	c.log.Debug().Str("id", mc.ID()).Msg("removing unsealed member")
	return Remove(c.store, mem.ID)
}

func checkMemberIDs(stackID string, members []Member) error {
	stackID = store.Normalize(stackID)
	seen := make(map[string]int, len(members))
	for i, mem := range members {
		id := store.Normalize(mem.ID)
		if id == stackID {
			return fmt.Errorf("%w: member %d id %q is the stack id", ErrInvalidLayout, i, mem.ID)
		}
		if j, ok := seen[id]; ok {
			return fmt.Errorf("%w: members %d and %d share id %q", ErrInvalidLayout, j, i, mem.ID)
		}
		seen[id] = i
	}
	return nil
}

func (c *Composer) run(ctx context.Context, st *Stack, members []Member, from int, first *NDArray, written []int) error {
	memberShape := st.MemberShape()
	for i := from; i < len(members); i++ {
		mem := members[i]
		fail := func(err error) error {
			c.log.Error().Err(err).Str("stack", st.ID()).Int("member", i).Str("id", mem.ID).Msg("compose failed")
			return &ComposeError{Index: i, ID: mem.ID, Written: written, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		arr := first
		if arr == nil || i != from {
			var err error
			if arr, err = mem.Fetch(ctx); err != nil {
				return fail(err)
			}
		}
		if !intsEqual(arr.Shape, memberShape) {
			return fail(fmt.Errorf("%w: member shape %v, stack member shape %v", ErrShapeMismatch, arr.Shape, memberShape))
		}
		if arr.Dtype != st.Dtype() {
			return fail(fmt.Errorf("%w: member dtype %s, stack dtype %s", ErrShapeMismatch, arr.Dtype, st.Dtype()))
		}

		mc, err := Create(c.store, mem.ID, arr.Shape, c.chunkShape, c.blockShape, append([]Option{WithDtype(arr.Dtype)}, c.opts...)...)
		if err != nil {
			return fail(err)
		}
		if err := mc.WriteFull(ctx, arr); err != nil {
			return fail(err)
		}
		if err := st.WriteSlab(ctx, i, arr); err != nil {
			return fail(err)
		}
		if err := st.recordMember(i, mc); err != nil {
			return fail(err)
		}
		written = append(written, i)
		c.log.Info().Str("stack", st.ID()).Int("member", i).Str("id", mem.ID).Msg("member written")
	}
	return nil
}

// IsComposeError extracts a *ComposeError from err's chain
func IsComposeError(err error) (*ComposeError, bool) {
	var ce *ComposeError
	ok := errors.As(err, &ce)
	return ce, ok
}
