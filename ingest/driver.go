package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/store"
)

// Config lays out the containers a Driver writes
type Config struct {
	ChunkShape []int
	BlockShape []int
	// Options apply to every container created
	Options []caterva.Option
	Log     zerolog.Logger
}

// Driver fetches arrays from a Source and writes them to containers in a
// Store. Ingest and Compose are no-ops when their destination already holds
// a finished container
type Driver struct {
	store  store.Store
	source Source
	cfg    Config
	log    zerolog.Logger
}

// Result describes the outcome of an Ingest or Compose call
type Result struct {
	ID      string
	Skipped bool
	Shape   []int
	Took    time.Duration
}

func NewDriver(s store.Store, src Source, cfg Config) *Driver {
	return &Driver{
		store:  s,
		source: src,
		cfg:    cfg,
		log:    cfg.Log,
	}
}

func (d *Driver) options(extra ...caterva.Option) []caterva.Option {
	opts := append([]caterva.Option{caterva.WithLogger(d.log)}, d.cfg.Options...)
	return append(opts, extra...)
}

func requestAttrs(req Request) caterva.Attributes {
	return caterva.Attributes{
		"variable":     req.Variable.Name,
		"array":        req.Variable.Array,
		"year":         req.Year,
		"month":        req.Month,
		"window_start": req.Window.Start.Format(time.RFC3339),
		"window_end":   req.Window.End.Format(time.RFC3339),
	}
}

// Ingest writes one window to a new sealed container at dest. A sealed
// container already at dest makes Ingest a logged no-op. An unsealed container
// at dest, such as one left by an interrupted ingest, is deleted along with
// everything stored under dest and then rewritten from the source
func (d *Driver) Ingest(ctx context.Context, req Request, dest string) (Result, error) {
	res := Result{ID: dest}
	sealed, err := d.existing(dest)
	if err != nil {
		return res, err
	}
	if sealed {
		d.log.Info().Str("id", dest).Msg("container already exists, skipping ingest")
		res.Skipped = true
		return res, nil
	}
	if err := caterva.Remove(d.store, dest); err != nil {
		return res, err
	}

	start := time.Now()
	arr, err := d.source.Fetch(ctx, req)
	if err != nil {
		return res, fmt.Errorf("fetching %s: %w", req, err)
	}
	c, err := caterva.Create(d.store, dest, arr.Shape, d.cfg.ChunkShape, d.cfg.BlockShape,
		d.options(caterva.WithDtype(arr.Dtype), caterva.WithAttrs(requestAttrs(req)))...)
	if err != nil {
		return res, err
	}
	if err := c.WriteFull(ctx, arr); err != nil {
		return res, err
	}
	if err := c.Seal(); err != nil {
		return res, err
	}

	res.Shape = c.Shape()
	res.Took = time.Since(start)
	d.log.Info().Str("id", dest).Ints("shape", res.Shape).Dur("took", res.Took).Msg("ingested")
	return res, nil
}

// existing reports whether id holds a sealed container. Unsealed leftovers of
// an interrupted write report false
func (d *Driver) existing(id string) (bool, error) {
	exists, err := caterva.Exists(d.store, id)
	if err != nil || !exists {
		return false, err
	}
	c, err := caterva.Open(d.store, id, d.options()...)
	if err != nil {
		return false, err
	}
	if !c.Sealed() {
		d.log.Warn().Str("id", id).Msg("found unsealed container from an interrupted write")
	}
	return c.Sealed(), nil
}

// ComposeRequest stacks one window per member
type ComposeRequest struct {
	Months  []Request
	Members []string
	Dest    string
}

func (r ComposeRequest) validate() error {
	if len(r.Months) == 0 {
		return fmt.Errorf("%w: compose needs at least one month", ErrEmptyWindow)
	}
	if len(r.Months) != len(r.Members) {
		return fmt.Errorf("%d months for %d member ids", len(r.Months), len(r.Members))
	}
	if r.Dest == "" {
		return fmt.Errorf("compose needs a destination id")
	}
	return nil
}

func (d *Driver) members(r ComposeRequest) []caterva.Member {
	ms := make([]caterva.Member, len(r.Months))
	for i := range r.Months {
		req := r.Months[i]
		ms[i] = caterva.Member{
			ID: r.Members[i],
			Fetch: func(ctx context.Context) (*caterva.NDArray, error) {
				arr, err := d.source.Fetch(ctx, req)
				if err != nil {
					return nil, fmt.Errorf("fetching %s: %w", req, err)
				}
				return arr, nil
			},
		}
	}
	return ms
}

// Compose writes every month to its member container and stacks them at
// r.Dest. Containers already at the member ids are deleted first, sealed or not.
// A failure returns a *caterva.ComposeError that Resume can continue from
func (d *Driver) Compose(ctx context.Context, r ComposeRequest) (Result, error) {
	res := Result{ID: r.Dest}
	if err := r.validate(); err != nil {
		return res, err
	}
	exists, err := caterva.Exists(d.store, r.Dest)
	if err != nil {
		return res, err
	}
	if exists {
		sealed, err := d.existing(r.Dest)
		if err != nil {
			return res, err
		}
		if !sealed {
			return res, fmt.Errorf("%w: stack %s was left by an earlier compose, resume or remove it", caterva.ErrIncompleteData, r.Dest)
		}
		d.log.Info().Str("id", r.Dest).Msg("stack already exists, skipping compose")
		res.Skipped = true
		return res, nil
	}
	for _, id := range r.Members {
		if err := caterva.Remove(d.store, id); err != nil {
			return res, err
		}
	}

	start := time.Now()
	composer := caterva.NewComposer(d.store, d.cfg.ChunkShape, d.cfg.BlockShape, d.options()...)
	st, err := composer.Compose(ctx, r.Dest, d.members(r))
	if err != nil {
		return res, err
	}
	return d.finish(st, r, start)
}

// Resume continues a compose from the first slab that is not complete
func (d *Driver) Resume(ctx context.Context, r ComposeRequest) (Result, error) {
	res := Result{ID: r.Dest}
	if err := r.validate(); err != nil {
		return res, err
	}
	st, err := caterva.OpenStack(d.store, r.Dest, d.options()...)
	if err != nil {
		return res, err
	}
	status, err := st.SlabStatus()
	if err != nil {
		return res, err
	}
	from := len(status)
	for i, done := range status {
		if !done {
			from = i
			break
		}
	}
	if from == len(status) {
		d.log.Info().Str("id", r.Dest).Msg("stack already complete, nothing to resume")
		res.Skipped = true
		res.Shape = st.Shape()
		return res, nil
	}

	start := time.Now()
	composer := caterva.NewComposer(d.store, d.cfg.ChunkShape, d.cfg.BlockShape, d.options()...)
	st, err = composer.Resume(ctx, r.Dest, d.members(r), from)
	if err != nil {
		return res, err
	}
	return d.finish(st, r, start)
}

// finish records the stacked windows and seals the stack
func (d *Driver) finish(st *caterva.Stack, r ComposeRequest, start time.Time) (Result, error) {
	windows := make([]string, len(r.Months))
	for i, m := range r.Months {
		windows[i] = m.Window.String()
	}
	attrs := caterva.Attributes{
		"variable": r.Months[0].Variable.Name,
		"array":    r.Months[0].Variable.Array,
		"windows":  windows,
	}
	if err := st.SetAttrs(attrs); err != nil {
		return Result{ID: st.ID()}, err
	}
	if err := st.Seal(); err != nil {
		return Result{ID: st.ID()}, err
	}
	res := Result{ID: st.ID(), Shape: st.Shape(), Took: time.Since(start)}
	d.log.Info().Str("id", res.ID).Ints("shape", res.Shape).Dur("took", res.Took).Msg("composed")
	return res, nil
}
