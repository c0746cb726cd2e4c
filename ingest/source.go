package ingest

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/rs/zerolog"

	caterva "github.com/qri-io/caterva-go"
	"github.com/qri-io/caterva-go/store"
	"github.com/qri-io/caterva-go/zarr"
)

// Source produces the array of a variable within a time window. Fetch may
// block on I/O and should honour ctx
type Source interface {
	Fetch(ctx context.Context, req Request) (*caterva.NDArray, error)
}

// SourceFunc adapts a function to the Source interface
type SourceFunc func(ctx context.Context, req Request) (*caterva.NDArray, error)

func (f SourceFunc) Fetch(ctx context.Context, req Request) (*caterva.NDArray, error) {
	return f(ctx, req)
}

// ZarrSource reads month datasets laid out as
// <year>/<month>/data/<array>.zarr within a store, the layout of the public
// reanalysis bucket
type ZarrSource struct {
	store store.Store
	log   zerolog.Logger
}

// NewZarrSource reads datasets from s
func NewZarrSource(s store.Store, log zerolog.Logger) *ZarrSource {
	return &ZarrSource{store: s, log: log}
}

// DatasetPath is the store path of a request's month dataset
func DatasetPath(req Request) string {
	return fmt.Sprintf("%04d/%02d/data/%s.zarr", req.Year, req.Month, req.Variable.Array)
}

func (zs *ZarrSource) Fetch(ctx context.Context, req Request) (*caterva.NDArray, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	path := DatasetPath(req)
	ds, err := zarr.OpenDataset(zs.store, path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	times, err := ds.Times(ctx, req.Variable.TimeCoord)
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", path, req.Variable.TimeCoord, err)
	}
	lo, hi := zarr.SelectTime(times, req.Window.Start, req.Window.End)
	if lo == hi {
		return nil, fmt.Errorf("%w: %s has no steps in %s", ErrEmptyWindow, path, req.Window)
	}

	arr, err := ds.Array(req.Variable.Array)
	if err != nil {
		return nil, err
	}
	if arr.Shape()[0] != len(times) {
		return nil, fmt.Errorf("%s has %d steps along axis 0 but %s has %d", req.Variable.Array, arr.Shape()[0], req.Variable.TimeCoord, len(times))
	}

	zs.log.Info().
		Str("dataset", path).
		Str("window", req.Window.String()).
		Int("steps", hi-lo).
		Ints("shape", arr.Shape()).
		Msg("fetching window")
	return arr.Slice(ctx, lo, hi)
}

// SyntheticSource generates deterministic float32 fields on a regular grid,
// one per Step within the window
type SyntheticSource struct {
	Lat  int
	Lon  int
	Step time.Duration
}

// NewSyntheticSource generates hourly lat x lon fields
func NewSyntheticSource(lat, lon int) *SyntheticSource {
	return &SyntheticSource{Lat: lat, Lon: lon, Step: time.Hour}
}

// Steps counts the time steps within a window
func (ss *SyntheticSource) Steps(w TimeWindow) int {
	if w.End.Before(w.Start) {
		return 0
	}
	return int(w.End.Sub(w.Start)/ss.Step) + 1
}

func (ss *SyntheticSource) Fetch(ctx context.Context, req Request) (*caterva.NDArray, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	steps := ss.Steps(req.Window)
	if steps == 0 || ss.Lat < 1 || ss.Lon < 1 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyWindow, req.Window)
	}

	h := fnv.New32a()
	h.Write([]byte(req.Variable.Name))
	base := float64(h.Sum32()%1000) / 10

	arr := caterva.NewNDArray(caterva.Float32, []int{steps, ss.Lat, ss.Lon})
	order := caterva.Float32.Order()
	plane := ss.Lat * ss.Lon
	for s := 0; s < steps; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hour := float64(req.Window.Start.Add(time.Duration(s)*ss.Step).Unix()) / 3600
		for i := 0; i < ss.Lat; i++ {
			for j := 0; j < ss.Lon; j++ {
				v := base + 10*math.Sin(hour/24+float64(i)/7) + math.Cos(float64(j)/11)
				order.PutUint32(arr.Data[(s*plane+i*ss.Lon+j)*4:], math.Float32bits(float32(v)))
			}
		}
	}
	return arr, nil
}
