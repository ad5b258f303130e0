package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/524D/mzfame/internal/align"
	"github.com/524D/mzfame/internal/detect"
)

func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := []byte(`
tolerance: 4.5
cluster_window: 1.5
ionizations:
  - name: PCI
    strategy: ci
    adducts:
      - {name: "[M+H]+", delta: 1}
      - {name: "[M+NH4]+", delta: 18}
    min_adduct_matches: 2
    min_files: 3
    label_offset: 1
`)
	c, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.Tolerance = 4.5
	want.ClusterWindow = 1.5
	want.Ionizations = []Ionization{{
		Name:     "PCI",
		Strategy: "ci",
		Adducts: []detect.Adduct{
			{Name: "[M+H]+", Delta: 1},
			{Name: "[M+NH4]+", Delta: 18},
		},
		MinAdductMatches: 2,
		MinFiles:         3,
		LabelOffset:      1,
	}}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	ion, ok := c.Ionization("pci")
	if !ok {
		t.Fatal("ionization not found")
	}
	if ap := c.AlignParams(ion); ap.Strategy != align.CI || ap.Tolerance != 4.5 || ap.Degree != 3 {
		t.Errorf("align params %+v", ap)
	}
	dp := c.DetectParams(ion)
	if dp.MinMatches != 2 || dp.MinMass != 1 || dp.MaxMass != 1000 || len(dp.Adducts) != 2 {
		t.Errorf("detect params %+v", dp)
	}
	cp := c.ClusterParams(nil)
	if cp.Window != 1.5 || cp.MinFiles["PCI"] != 3 || cp.LabelOffsets["PCI"] != 1 {
		t.Errorf("cluster params %+v", cp)
	}
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	var tests = []struct {
		name string
		yaml string
	}{
		{"unknown field", "tolerence: 3\n"},
		{"syntax", "tolerance: [\n"},
		{"negative workers", "workers: -1\n"},
		{"zero tolerance", "tolerance: 0\n"},
		{"negative window", "cluster_window: -1\n"},
		{"degree", "regression_degree: 0\n"},
		{"mass range", "min_mass: 500\nmax_mass: 100\n"},
		{"no ionizations", "ionizations: []\n"},
		{"strategy", "ionizations:\n  - {name: X, strategy: maldi, adducts: [{name: M, delta: 0}], min_adduct_matches: 1}\n"},
		{"no adducts", "ionizations:\n  - {name: X, strategy: ei, min_adduct_matches: 1}\n"},
		{"matches", "ionizations:\n  - {name: X, strategy: ei, adducts: [{name: M, delta: 0}], min_adduct_matches: 2}\n"},
		{"duplicate", "ionizations:\n  - {name: X, strategy: ei, adducts: [{name: M, delta: 0}], min_adduct_matches: 1}\n  - {name: X, strategy: ci, adducts: [{name: M, delta: 0}], min_adduct_matches: 1}\n"},
	}
	for _, tt := range tests {
		_, err := Parse([]byte(tt.yaml))
		if err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
	_, err := Parse([]byte("workers: -1\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("error %v is not ErrInvalid", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Write(&buf); err != nil {
		t.Fatal(err)
	}
	c, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("parse written config: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(Default(), c); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mzfame.yaml")
	if err := os.WriteFile(path, []byte("workers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Workers != 2 {
		t.Errorf("workers %d", c.Workers)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}

	lib, err := c.LoadLibrary()
	if err != nil || lib.Len() == 0 {
		t.Errorf("LoadLibrary: %v", err)
	}
}
