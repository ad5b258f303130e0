package main

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/524D/mzfame/internal/config"
	"github.com/524D/mzfame/internal/fame"
	"github.com/524D/mzfame/internal/spectrum"
	"github.com/524D/mzfame/internal/task"
)

func TestParseIntRange(t *testing.T) {
	// Test case 1: Valid input range
	min, max, err := parseIntRange("50:600", 1, 1000)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 50 || max != 600 {
		t.Errorf("Expected 50:600, got: %d:%d", min, max)
	}

	// Test case 2: Empty input range
	min, max, err = parseIntRange("", 1, 1000)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 1 || max != 1000 {
		t.Errorf("Expected defaults, got: %d:%d", min, max)
	}

	// Test case 3: Invalid input range
	min, max, err = parseIntRange("700:600", 1, 1000)
	if !errors.Is(err, ErrRangeSpec) {
		t.Errorf("Expected error: %v, got: %v", ErrRangeSpec, err)
	}
	if min != 600 || max != 600 {
		t.Errorf("Expected 600:600, got: %d:%d", min, max)
	}

	// Test case 4: Only max specified
	min, max, err = parseIntRange(":300", 1, 1000)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 1 || max != 300 {
		t.Errorf("Expected 1:300, got: %d:%d", min, max)
	}

	// Test case 5: Values outside the defaults are clipped
	min, max, err = parseIntRange("-5:5000", 1, 1000)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
	if min != 1 || max != 1000 {
		t.Errorf("Expected 1:1000, got: %d:%d", min, max)
	}

	// Test case 6: Malformed input is an error, not the default range
	for _, r := range []string{"abc", "50-600", "-:5", "5:-", "x1:2"} {
		if _, _, err := parseIntRange(r, 1, 1000); !errors.Is(err, ErrRangeSpec) {
			t.Errorf("%q: expected error: %v, got: %v", r, ErrRangeSpec, err)
		}
	}
}

func TestParseInputs(t *testing.T) {
	cfg := config.Default()
	got, err := parseInputs([]string{"EI=a.mzML", "ci=dir/b=1.mzML"}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := []input{{ionization: "EI", path: "a.mzML"}, {ionization: "CI", path: "dir/b=1.mzML"}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(input{})); diff != "" {
		t.Errorf("inputs mismatch (-want +got):\n%s", diff)
	}

	for _, arg := range []string{"a.mzML", "=a.mzML", "EI=", "FI=a.mzML"} {
		if _, err := parseInputs([]string{arg}, cfg); err == nil {
			t.Errorf("%q: expected error", arg)
		}
	}
}

// markerRun builds a run with all library markers eluting at rt+shift and
// one compound scan
func markerRun(lib *fame.Library, name, ion string, shift float64, markerPeaks func(fame.Marker) []spectrum.Peak,
	compoundRT float64, compound []spectrum.Peak) *spectrum.File {
	f := spectrum.NewFile(name, "", ion)
	idx := 0
	add := func(rt float64, peaks []spectrum.Peak) {
		f.AddScan(spectrum.NewScan(idx, 1, rt, peaks))
		idx++
	}
	for _, m := range lib.Markers() {
		if compoundRT > m.RT+shift-5 && compoundRT < m.RT+shift+5 {
			panic("compound elutes with " + m.Name)
		}
		add(m.RT+shift, markerPeaks(m))
		add(m.RT+shift+5, []spectrum.Peak{{Mz: 43, Intens: 30}})
	}
	add(compoundRT, compound)
	return f
}

func TestAnalyze(t *testing.T) {
	lib, err := fame.Default()
	if err != nil {
		t.Fatal(err)
	}
	ei := markerRun(lib, "run-ei", "EI", 5,
		func(m fame.Marker) []spectrum.Peak {
			p := make([]spectrum.Peak, len(m.Spectrum))
			for i, pk := range m.Spectrum {
				p[i] = spectrum.Peak{Mz: pk.Mz + 0.01, Intens: pk.Intens * 10}
			}
			return p
		},
		505, []spectrum.Peak{{Mz: 169.1, Intens: 300}, {Mz: 185.1, Intens: 500}, {Mz: 200.2, Intens: 900}})
	ci := markerRun(lib, "run-ci", "CI", 10,
		func(m fame.Marker) []spectrum.Peak {
			return []spectrum.Peak{
				{Mz: float64(m.Mass + 1), Intens: 1000},
				{Mz: float64(m.Mass - 31), Intens: 200},
				{Mz: 87, Intens: 150},
				{Mz: 74, Intens: 100},
			}
		},
		510, []spectrum.Peak{{Mz: 201.1, Intens: 800}, {Mz: 229.2, Intens: 200}})

	cfg := config.Default()
	cfg.Workers = 2
	a, err := analyze(context.Background(), cfg, lib, []*spectrum.File{ei, ci})
	if err != nil {
		t.Fatal(err)
	}
	for _, at := range a.aligns {
		if at.Status() != task.Finished {
			t.Fatalf("%s: %s %s", at.Name(), at.Status(), at.Message())
		}
		if n := len(at.Matches()); n != lib.Len() {
			t.Errorf("%s: %d markers located, want %d", at.Source().Name(), n, lib.Len())
		}
	}
	if a.cluster.Status() != task.Finished {
		t.Fatalf("cluster: %s %s", a.cluster.Status(), a.cluster.Message())
	}

	var found bool
	for _, r := range a.cluster.Rows() {
		if r.Mass != 200 {
			continue
		}
		found = true
		if r.Label != "m200" {
			t.Errorf("label %s", r.Label)
		}
		if diff := cmp.Diff(map[string]int{"EI": 1, "CI": 1}, r.Ionizations); diff != "" {
			t.Errorf("ionizations (-want +got):\n%s", diff)
		}
		if math.Abs(r.RT-500) > 3 {
			t.Errorf("corrected RT %f, want about 500", r.RT)
		}
		if r.RI == spectrum.NoRetentionIndex {
			t.Errorf("row without retention index")
		}
	}
	if !found {
		t.Errorf("no row for mass 200 in %d rows", len(a.cluster.Rows()))
	}
}

func TestAnalyzeDuplicateNames(t *testing.T) {
	lib, err := fame.Default()
	if err != nil {
		t.Fatal(err)
	}
	files := []*spectrum.File{spectrum.NewFile("a", "", "EI"), spectrum.NewFile("a", "", "CI")}
	if _, err := analyze(context.Background(), config.Default(), lib, files); !errors.Is(err, spectrum.ErrDuplicateFileName) {
		t.Errorf("got %v, want %v", err, spectrum.ErrDuplicateFileName)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCmd(t *testing.T) {
	out, err := execute(t, "config")
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Parse([]byte(out))
	if err != nil {
		t.Fatalf("output is not a valid configuration: %v\n%s", err, out)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigCmdFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mzfame.yaml")
	if err := os.WriteFile(path, []byte("cluster_window: 4.5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "--config", path, "config")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "cluster_window: 4.5") {
		t.Errorf("override missing:\n%s", out)
	}
}

func TestLibraryCmd(t *testing.T) {
	out, err := execute(t, "library")
	if err != nil {
		t.Fatal(err)
	}
	lib, err := fame.Load(strings.NewReader(out), strings.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	if lib.Len() != 13 {
		t.Errorf("%d markers", lib.Len())
	}
}

func TestAnalyzeCmdErrors(t *testing.T) {
	for _, args := range [][]string{
		{"analyze"},
		{"analyze", "XX=a.mzML"},
		{"analyze", "--mass-range", "600:500", "EI=a.mzML"},
		{"analyze", "--mass-range", "abc", "EI=a.mzML"},
		{"analyze", "EI=" + filepath.Join(t.TempDir(), "missing.mzML")},
		{"--log-level", "loud", "config"},
	} {
		if _, err := execute(t, args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}
