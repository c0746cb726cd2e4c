package zarr

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/qri-io/caterva-go/store"
)

// Dataset is a group of arrays sharing coordinate arrays, the layout xarray
// writes: one data variable plus its dimension coordinates, optionally with
// consolidated metadata
type Dataset struct {
	path         string
	store        store.Store
	group        *Group
	attrs        Attributes
	consolidated *ConsolidatedMetadata
}

// OpenDataset reads the group stored at path. A .zmetadata document, when
// present, is used in place of per-array metadata
func OpenDataset(s store.Store, path string) (*Dataset, error) {
	path = store.Normalize(path)
	d := &Dataset{path: path, store: s, group: &Group{}, attrs: Attributes{}}
	if err := readJSON(s, store.Join(path, string(MTGroup)), d.group); err != nil {
		return nil, err
	}
	if d.group.ZarrFormat != ZarrFormat {
		return nil, fmt.Errorf("group %s: unsupported zarr_format %d", path, d.group.ZarrFormat)
	}
	if err := readJSON(s, store.Join(path, string(MTAttributes)), &d.attrs); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	cm := &ConsolidatedMetadata{}
	switch err := readJSON(s, store.Join(path, string(MTMetadata)), cm); {
	case err == nil:
		d.consolidated = cm
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	return d, nil
}

func (d *Dataset) Path() string { return d.path }

func (d *Dataset) Attrs() Attributes { return d.attrs }

// Consolidated reports whether metadata was read from .zmetadata
func (d *Dataset) Consolidated() bool { return d.consolidated != nil }

// Array opens the array called name within the group
func (d *Dataset) Array(name string) (*Array, error) {
	if d.consolidated != nil {
		meta, ok := d.consolidated.Array(name)
		if !ok {
			return nil, fmt.Errorf("%w: array %s in %s", ErrNotFound, name, d.path)
		}
		attrs := d.consolidated.Attrs(name)
		if attrs == nil {
			attrs = Attributes{}
		}
		return newArray(d.store, store.Join(d.path, name), meta, attrs)
	}
	return Open(d.store, store.Join(d.path, name))
}

// ArrayNames lists the arrays directly within the group
func (d *Dataset) ArrayNames() ([]string, error) {
	var names []string
	if d.consolidated != nil {
		for key := range d.consolidated.Metadata {
			if name, ok := arrayName(key); ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		return names, nil
	}

	keys, err := d.store.Keys(d.path)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		rel := strings.TrimPrefix(strings.TrimPrefix(key, d.path), "/")
		if name, ok := arrayName(rel); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// arrayName matches "<name>/.zarray" relative keys
func arrayName(rel string) (string, bool) {
	name := strings.TrimSuffix(rel, "/"+string(MTArray))
	if name == rel || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
