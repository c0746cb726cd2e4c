package zarr

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	caterva "github.com/qri-io/caterva-go"
)

var cfUnits = map[string]time.Duration{
	"days":         24 * time.Hour,
	"day":          24 * time.Hour,
	"hours":        time.Hour,
	"hour":         time.Hour,
	"minutes":      time.Minute,
	"minute":       time.Minute,
	"seconds":      time.Second,
	"second":       time.Second,
	"milliseconds": time.Millisecond,
	"microseconds": time.Microsecond,
}

var npUnits = map[string]time.Duration{
	"[D]":  24 * time.Hour,
	"[h]":  time.Hour,
	"[m]":  time.Minute,
	"[s]":  time.Second,
	"[ms]": time.Millisecond,
	"[us]": time.Microsecond,
	"[ns]": time.Nanosecond,
}

var referenceLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimeUnits parses CF time units such as "hours since 1900-01-01 00:00:00"
func ParseTimeUnits(units string) (step time.Duration, epoch time.Time, err error) {
	parts := strings.SplitN(strings.TrimSpace(units), " since ", 2)
	if len(parts) != 2 {
		return 0, epoch, fmt.Errorf("invalid time units %q", units)
	}
	step, ok := cfUnits[strings.ToLower(parts[0])]
	if !ok {
		return 0, epoch, fmt.Errorf("unsupported time unit %q", parts[0])
	}
	epoch, err = ParseTime(parts[1])
	if err != nil {
		return 0, epoch, fmt.Errorf("time units %q: %w", units, err)
	}
	return step, epoch, nil
}

// ParseTime accepts dates with an optional time of day, as used for time
// window bounds and CF reference dates. Times without a zone are UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range referenceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// DecodeTimes converts a time coordinate array to timestamps. datetime64
// arrays carry their unit in the dtype; numeric arrays need CF units
func DecodeTimes(arr *caterva.NDArray, units string) ([]time.Time, error) {
	if arr.Dtype.BasicType == caterva.BTDatetime {
		step, ok := npUnits[arr.Dtype.Units]
		if !ok || arr.Dtype.ByteSize != 8 {
			return nil, fmt.Errorf("unsupported datetime dtype %s", arr.Dtype)
		}
		order := arr.Dtype.Order()
		times := make([]time.Time, arr.Len())
		for i := range times {
			times[i] = time.Unix(0, 0).UTC().Add(time.Duration(int64(order.Uint64(arr.Data[i*8:]))) * step)
		}
		return times, nil
	}

	step, epoch, err := ParseTimeUnits(units)
	if err != nil {
		return nil, err
	}
	vals, err := arr.Float64s()
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, len(vals))
	for i, v := range vals {
		times[i] = epoch.Add(time.Duration(v * float64(step)))
	}
	return times, nil
}

// Times reads and decodes the 1-d time coordinate array called name
func (d *Dataset) Times(ctx context.Context, name string) ([]time.Time, error) {
	arr, err := d.Array(name)
	if err != nil {
		return nil, err
	}
	if len(arr.Meta().Shape) != 1 {
		return nil, fmt.Errorf("time coordinate %s has rank %d", name, len(arr.Meta().Shape))
	}
	vals, err := arr.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	units, _ := arr.Attrs().String("units")
	return DecodeTimes(vals, units)
}

// SelectTime returns the index range [lo, hi) of sorted times falling within
// the inclusive window [start, end]
func SelectTime(times []time.Time, start, end time.Time) (lo, hi int) {
	lo = sort.Search(len(times), func(i int) bool { return !times[i].Before(start) })
	hi = sort.Search(len(times), func(i int) bool { return times[i].After(end) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}
