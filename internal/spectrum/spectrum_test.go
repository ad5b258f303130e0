package spectrum

import (
	"errors"
	"testing"
)

func TestNewScanBasePeak(t *testing.T) {
	s := NewScan(0, 1, 12.5, []Peak{{Mz: 74.02, Intens: 100}, {Mz: 87.04, Intens: 60}, {Mz: 43.0, Intens: 30}})
	bp := s.BasePeak()
	if bp.Nominal() != 74 || bp.Intens != 100 {
		t.Errorf("BasePeak: got %+v, want m/z 74 intensity 100", bp)
	}
	if s.RI != NoRetentionIndex || s.Aligned() {
		t.Errorf("new scan must not be aligned, RI %f", s.RI)
	}
	s.SetRetention(13, 262320)
	if !s.Aligned() || s.RT != 13 || s.RawRT != 12.5 {
		t.Errorf("SetRetention: got RT %f RawRT %f", s.RT, s.RawRT)
	}
	s.ResetRetention()
	if s.Aligned() || s.RT != 12.5 {
		t.Errorf("ResetRetention: got RT %f RI %f", s.RT, s.RI)
	}
}

func TestEmptyScan(t *testing.T) {
	s := NewScan(3, 1, 1, nil)
	if s.BasePeak().Intens != 0 {
		t.Errorf("empty scan base peak intensity %f", s.BasePeak().Intens)
	}
}

func TestFileScans(t *testing.T) {
	f := NewFile("a", "/tmp/a.mzML", "EI")
	f.AddScan(NewScan(0, 1, 1, nil))
	f.AddScan(NewScan(1, 2, 1.1, nil))
	f.AddScan(NewScan(2, 1, 2, nil))

	if f.NumScans() != 3 {
		t.Fatalf("NumScans: %d", f.NumScans())
	}
	ms1 := f.ScansAtLevel(1)
	if len(ms1) != 2 || ms1[0].Index != 0 || ms1[1].Index != 2 {
		t.Errorf("ScansAtLevel(1): got %d scans", len(ms1))
	}
	for _, s := range f.Scans() {
		if s.File != f {
			t.Errorf("scan %d not owned by file", s.Index)
		}
	}
	if _, err := f.Scan(3); !errors.Is(err, ErrInvalidScanIndex) {
		t.Errorf("Scan(3): error %v, should be ErrInvalidScanIndex", err)
	}
	lo, hi := f.RTRange()
	if lo != 1 || hi != 2 {
		t.Errorf("RTRange: got %f:%f", lo, hi)
	}
}

func TestCheckUniqueNames(t *testing.T) {
	a := NewFile("a", "", "EI")
	b := NewFile("b", "", "CI")
	if err := CheckUniqueNames([]*File{a, b}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	a2 := NewFile("a", "", "CI")
	err := CheckUniqueNames([]*File{a, b, a2})
	if !errors.Is(err, ErrDuplicateFileName) {
		t.Errorf("expected ErrDuplicateFileName, got %v", err)
	}
}
