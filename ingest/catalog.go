// Package ingest pulls time windows of reanalysis variables from a Source and
// persists them as caterva containers and stacks.
package ingest

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/qri-io/caterva-go/zarr"
)

var (
	// ErrUnknownVariable is returned for names missing from the catalog
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrEmptyWindow is returned when no time step falls within a window
	ErrEmptyWindow = errors.New("empty time window")
)

// Variable names a reanalysis field and where to find it in a source dataset
type Variable struct {
	// Name is the short name used for container ids, e.g. "air"
	Name string
	// Array is the dataset's data variable
	Array string
	// TimeCoord is the time coordinate array indexing Array's first axis
	TimeCoord string
}

var catalog = map[string]Variable{
	"air":    {Name: "air", Array: "air_pressure_at_mean_sea_level", TimeCoord: "time0"},
	"wind":   {Name: "wind", Array: "eastward_wind_at_10_metres", TimeCoord: "time0"},
	"snow":   {Name: "snow", Array: "snow_density", TimeCoord: "time0"},
	"solar":  {Name: "solar", Array: "integral_wrt_time_of_surface_direct_downwelling_shortwave_flux_in_air_1hour_Accumulation", TimeCoord: "time1"},
	"precip": {Name: "precip", Array: "precipitation_amount_1hour_Accumulation", TimeCoord: "time1"},
}

// LookupVariable finds a catalog entry by short name
func LookupVariable(name string) (Variable, error) {
	v, ok := catalog[strings.ToLower(name)]
	if !ok {
		return Variable{}, fmt.Errorf("%w %q, expected one of %s", ErrUnknownVariable, name, strings.Join(VariableNames(), ", "))
	}
	return v, nil
}

// VariableNames lists catalog short names
func VariableNames() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TimeWindow is an inclusive [Start, End] time range
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// ParseWindow parses window bounds such as "2015-10-01" and
// "2015-10-30 23:59"
func ParseWindow(start, end string) (TimeWindow, error) {
	s, err := zarr.ParseTime(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := zarr.ParseTime(end)
	if err != nil {
		return TimeWindow{}, err
	}
	if e.Before(s) {
		return TimeWindow{}, fmt.Errorf("%w: end %s before start %s", ErrEmptyWindow, end, start)
	}
	return TimeWindow{Start: s, End: e}, nil
}

// Contains reports whether t falls within the window
func (w TimeWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w TimeWindow) String() string {
	return w.Start.Format("2006-01-02 15:04") + " to " + w.End.Format("2006-01-02 15:04")
}

// Request selects one month file of a variable and a window within it
type Request struct {
	Variable Variable
	Year     int
	Month    int
	Window   TimeWindow
}

// Validate checks the request names a month and a non-empty window
func (r Request) Validate() error {
	if r.Variable.Array == "" {
		return fmt.Errorf("%w: request has no variable", ErrUnknownVariable)
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("invalid month %d", r.Month)
	}
	if r.Window.End.Before(r.Window.Start) {
		return fmt.Errorf("%w: %s", ErrEmptyWindow, r.Window)
	}
	return nil
}

func (r Request) String() string {
	return fmt.Sprintf("%s %04d-%02d [%s]", r.Variable.Name, r.Year, r.Month, r.Window)
}

// DefaultMonths are the three month windows stacked by default: October to
// December 2015, each ending at 23:59 on the 30th
func DefaultMonths(v Variable) []Request {
	reqs := make([]Request, 0, 3)
	for month := 10; month <= 12; month++ {
		start := time.Date(2015, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2015, time.Month(month), 30, 23, 59, 0, 0, time.UTC)
		reqs = append(reqs, Request{
			Variable: v,
			Year:     2015,
			Month:    month,
			Window:   TimeWindow{Start: start, End: end},
		})
	}
	return reqs
}

// MemberIDs returns the default member container ids: air1.cat, air2.cat, ...
func MemberIDs(v Variable, n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d.cat", v.Name, i+1)
	}
	return ids
}

// StackID returns the default stack id for n months, e.g. air-3m.cat
func StackID(v Variable, n int) string {
	return fmt.Sprintf("%s-%dm.cat", v.Name, n)
}
