package zarr

import (
	"encoding/json"
	"testing"
)

// https://zarr.readthedocs.io/en/stable/spec/v2.html#metadata
const specExample = `{
  "chunks": [
    1000,
    1000
  ],
	"compressor": {
			"id": "blosc",
			"cname": "lz4",
			"clevel": 5,
			"shuffle": 1
	},
	"dtype": "<f8",
	"fill_value": "NaN",
	"filters": [
			{"id": "delta", "dtype": "<f8", "astype": "<f4"}
	],
	"order": "C",
	"shape": [
			10000,
			10000
	],
	"zarr_format": 2
}`

func TestMetadataSerialization(t *testing.T) {
	m := &ArrayMeta{}
	err := json.Unmarshal([]byte(specExample), m)
	if err != nil {
		t.Fatal(err)
	}
	if m.Compressor == nil || m.Compressor.ID != "blosc" || m.Compressor.Clevel != 5 {
		t.Errorf("unexpected compressor %#v", m.Compressor)
	}
	if len(m.Filters) != 1 || m.Filters[0].ID != "delta" || m.Filters[0].AsType != "<f4" {
		t.Errorf("unexpected filters %#v", m.Filters)
	}
	if m.Dtype.Dtype.ByteSize != 8 || !m.Dtype.IsBasic() {
		t.Errorf("unexpected dtype %#v", m.Dtype)
	}

	// filters are not supported by the reader
	if err := m.Validate(); err == nil {
		t.Error("expected validation error for filtered array")
	}
	if _, err := m.Compressor.Codec(); err == nil {
		t.Error("expected blosc to be unsupported")
	}
}

const structuredExample = `[["r", "|u1"], ["g", "|u1"], ["b", "|u1"], ["pos", "<f4", [2]]]`

func TestStructuredType(t *testing.T) {
	st := StructuredType{}
	if err := json.Unmarshal([]byte(`[`+structuredExample+`]`), &st); err != nil {
		t.Fatal(err)
	}
	if st.IsBasic() {
		t.Error("structured type reported as basic")
	}
	if len(st.Children) != 4 {
		t.Fatalf("expected 4 fields, got %d", len(st.Children))
	}
	if st.Children[0].Fieldname != "r" || st.Children[0].Dtype.ByteSize != 1 {
		t.Errorf("unexpected first field %#v", st.Children[0])
	}
	if st.Human() != "struct" {
		t.Errorf("expected struct, got %s", st.Human())
	}

	basic := StructuredType{}
	if err := json.Unmarshal([]byte(`"<i4"`), &basic); err != nil {
		t.Fatal(err)
	}
	if basic.Human() != "int" {
		t.Errorf("expected int, got %s", basic.Human())
	}
	data, err := json.Marshal(&basic)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"<i4"` {
		t.Errorf("expected \"<i4\", got %s", data)
	}
}

const consolidatedExample = `{
	"zarr_consolidated_format": 1,
	"metadata": {
		".zgroup": {"zarr_format": 2},
		".zattrs": {"source": "Reanalysis"},
		"lat/.zarray": {
			"zarr_format": 2, "shape": [361], "chunks": [361], "dtype": "<f4",
			"compressor": null, "fill_value": "NaN", "order": "C", "filters": null
		},
		"lat/.zattrs": {"units": "degrees_north"}
	}
}`

func TestConsolidatedMetadata(t *testing.T) {
	cm := &ConsolidatedMetadata{}
	if err := json.Unmarshal([]byte(consolidatedExample), cm); err != nil {
		t.Fatal(err)
	}
	if cm.ConsolidatedFormat != 1 {
		t.Errorf("expected consolidated format 1, got %d", cm.ConsolidatedFormat)
	}
	if len(cm.Metadata) != 4 {
		t.Errorf("expected 4 metadata entries, got %d", len(cm.Metadata))
	}
	lat, ok := cm.Array("lat")
	if !ok {
		t.Fatal("missing lat array")
	}
	if err := lat.Validate(); err != nil {
		t.Error(err)
	}
	if units, _ := cm.Attrs("lat").String("units"); units != "degrees_north" {
		t.Errorf("expected lat units, got %q", units)
	}

	if err := json.Unmarshal([]byte(`{"metadata": {"foo/bar": {}}}`), cm); err == nil {
		t.Error("expected error for invalid metadata key")
	}
}

func TestKeyMetaType(t *testing.T) {
	cases := map[string]bool{
		".zarray":         true,
		"a/b/.zattrs":     true,
		".zgroup":         true,
		".zmetadata":      false,
		"0.0":             false,
		"lat/.zarray.bak": false,
	}
	for key, want := range cases {
		if _, ok := KeyMetaType(key); ok != want {
			t.Errorf("%q: expected %t", key, want)
		}
	}
}
