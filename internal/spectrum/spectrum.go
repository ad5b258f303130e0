// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package spectrum holds the in-memory representation of an acquired
// chromatography-MS run: files, scans and peaks.
package spectrum

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// NoRetentionIndex is stored in Scan.RI until a retention index
// correction has been fitted for the file
const NoRetentionIndex = float64(-1)

var (
	// ErrInvalidScanIndex means an invalid scan index is supplied
	ErrInvalidScanIndex = errors.New("spectrum: invalid scan index")
	// ErrDuplicateFileName means two files of one run share a name
	ErrDuplicateFileName = errors.New("spectrum: duplicate file name")
)

// Peak contains the actual ms peak info
type Peak struct {
	Mz     float64
	Intens float64
}

// Nominal returns the integer (truncated) m/z of the peak. Deconvoluted
// spectra are unit resolution, so this is the mass used for matching.
func (p Peak) Nominal() int {
	return int(p.Mz)
}

// Scan is a single spectrum of a file.
//
// RT and RI are written in place by retention alignment and read by
// detection. Readers must wait for the alignment of the owning file to
// complete before reading them; the scan itself does no locking.
type Scan struct {
	Index   int     // Position of the scan in the file
	MSLevel int     // 1 for full scans
	RawRT   float64 // Retention time as acquired (seconds)
	RT      float64 // Retention time, corrected by alignment (seconds)
	RI      float64 // Retention index, NoRetentionIndex if not fitted
	Peaks   []Peak
	File    *File

	basePeak Peak
}

// NewScan creates a scan and determines its base peak
func NewScan(index, msLevel int, rt float64, peaks []Peak) *Scan {
	s := &Scan{
		Index:   index,
		MSLevel: msLevel,
		RawRT:   rt,
		RT:      rt,
		RI:      NoRetentionIndex,
		Peaks:   peaks,
	}
	for _, p := range peaks {
		if p.Intens > s.basePeak.Intens {
			s.basePeak = p
		}
	}
	return s
}

// BasePeak returns the most intense peak. For an empty scan the
// returned peak has zero intensity.
func (s *Scan) BasePeak() Peak {
	return s.basePeak
}

// Aligned reports whether a retention index was written for the scan
func (s *Scan) Aligned() bool {
	return s.RI != NoRetentionIndex
}

// SetRetention stores the corrected retention time and index
func (s *Scan) SetRetention(rt, ri float64) {
	s.RT = rt
	s.RI = ri
}

// ResetRetention restores the acquired retention time and clears the index
func (s *Scan) ResetRetention() {
	s.RT = s.RawRT
	s.RI = NoRetentionIndex
}

// Source is what the analysis tasks need from a spectrum file
type Source interface {
	Name() string
	Ionization() string
	Scans() []*Scan
	ScansAtLevel(msLevel int) []*Scan
}

// File is an ordered collection of scans acquired under one ionization
// mode. It implements Source.
type File struct {
	name       string
	path       string
	ionization string
	scans      []*Scan
}

// NewFile creates an empty file
func NewFile(name, path, ionization string) *File {
	return &File{name: name, path: path, ionization: ionization}
}

// AddScan appends a scan and makes the file its owner
func (f *File) AddScan(s *Scan) {
	s.File = f
	f.scans = append(f.scans, s)
}

// Name returns the name of the file, unique within a run
func (f *File) Name() string { return f.name }

// Path returns the location the file was read from (may be empty)
func (f *File) Path() string { return f.path }

// Ionization returns the ionization tag, e.g. "EI" or "CI"
func (f *File) Ionization() string { return f.ionization }

// NumScans returns the number of scans
func (f *File) NumScans() int { return len(f.scans) }

// Scans returns all scans in acquisition order
func (f *File) Scans() []*Scan { return f.scans }

// Scan returns the scan with the given index
func (f *File) Scan(scanIndex int) (*Scan, error) {
	if scanIndex < 0 || scanIndex >= len(f.scans) {
		return nil, ErrInvalidScanIndex
	}
	return f.scans[scanIndex], nil
}

// ScansAtLevel returns the scans of a given MS level in acquisition order
func (f *File) ScansAtLevel(msLevel int) []*Scan {
	scans := make([]*Scan, 0, len(f.scans))
	for _, s := range f.scans {
		if s.MSLevel == msLevel {
			scans = append(scans, s)
		}
	}
	return scans
}

// RTRange returns the lowest and highest acquired retention time
func (f *File) RTRange() (float64, float64) {
	if len(f.scans) == 0 {
		return 0, 0
	}
	lo, hi := math.MaxFloat64, -math.MaxFloat64
	for _, s := range f.scans {
		lo = math.Min(lo, s.RawRT)
		hi = math.Max(hi, s.RawRT)
	}
	return lo, hi
}

// CheckUniqueNames returns ErrDuplicateFileName when two files share a
// name. Files are compared by identity everywhere else, but result
// output is keyed by name, so names must not collide.
func CheckUniqueNames(files []*File) error {
	seen := make(map[string]struct{}, len(files))
	for _, f := range files {
		if _, dup := seen[f.name]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateFileName, f.name)
		}
		seen[f.name] = struct{}{}
	}
	return nil
}

// SortByRT sorts scans by their current retention time
func SortByRT(scans []*Scan) {
	sort.SliceStable(scans, func(i, j int) bool { return scans[i].RT < scans[j].RT })
}
