// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package fame contains the library of FAME retention markers and the
// spectral similarity score used to recognise them.
package fame

import (
	"embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/524D/mzfame/internal/spectrum"
)

//go:embed tables/*.tsv
var tables embed.FS

const (
	defaultTable   = "tables/fame_default.tsv"
	preferredTable = "tables/fame_preferred.tsv"
)

// Number of columns in a marker table
const tableColumns = 9

var (
	// ErrUnknownMarker means a marker name is not in the library
	ErrUnknownMarker = errors.New("fame: unknown marker")
	// ErrInvalidTable means a marker table could not be parsed
	ErrInvalidTable = errors.New("fame: invalid marker table")
)

// Marker is a reference compound with known retention time and index
type Marker struct {
	Name          string
	RT            float64 // Library retention time (seconds)
	RI            float64 // Library retention index
	Mass          int     // Nominal mass of the molecular ion
	Spectrum      []spectrum.Peak
	Qualifier     int     // Qualifying ion
	RatioMin      float64 // Lower bound of qualifier intensity, percent of base peak
	RatioMax      float64 // Upper bound, 0 disables the check
	MinSimilarity float64 // Minimum similarity (0-1000) to accept a candidate
}

// QualifierOK checks the intensity of the qualifying ion relative to the
// base peak of the candidate spectrum
func (m *Marker) QualifierOK(peaks []spectrum.Peak) bool {
	if m.RatioMax <= 0 || m.Qualifier <= 0 {
		return true
	}
	var base, qual float64
	for _, p := range peaks {
		if p.Intens > base {
			base = p.Intens
		}
		if p.Nominal() == m.Qualifier {
			qual += p.Intens
		}
	}
	if base == 0 {
		return false
	}
	ratio := 100 * qual / base
	return ratio >= m.RatioMin && ratio <= m.RatioMax
}

// Library is an immutable set of markers ordered by retention time
type Library struct {
	markers []Marker
	byName  map[string]int
}

var (
	defaultLib     *Library
	defaultLibErr  error
	defaultLibOnce sync.Once
)

// Default returns the built-in library. It is loaded once and shared
// by all callers; it must not be modified.
func Default() (*Library, error) {
	defaultLibOnce.Do(func() {
		var pref, def io.ReadCloser
		pref, defaultLibErr = tables.Open(preferredTable)
		if defaultLibErr != nil {
			return
		}
		defer pref.Close()
		def, defaultLibErr = tables.Open(defaultTable)
		if defaultLibErr != nil {
			return
		}
		defer def.Close()
		defaultLib, defaultLibErr = Load(pref, def)
	})
	return defaultLib, defaultLibErr
}

// LoadFiles loads a library from a preferred and a fallback table file.
// An empty file name selects the corresponding built-in table.
func LoadFiles(preferredFile, fallbackFile string) (*Library, error) {
	if preferredFile == "" && fallbackFile == "" {
		return Default()
	}
	open := func(name, builtin string) (io.ReadCloser, error) {
		if name == "" {
			return tables.Open(builtin)
		}
		return os.Open(name)
	}
	pref, err := open(preferredFile, preferredTable)
	if err != nil {
		return nil, fmt.Errorf("open preferred marker table: %w", err)
	}
	defer pref.Close()
	fallback, err := open(fallbackFile, defaultTable)
	if err != nil {
		return nil, fmt.Errorf("open fallback marker table: %w", err)
	}
	defer fallback.Close()
	return Load(pref, fallback)
}

// Load reads two marker tables. An entry in the preferred table replaces
// the entry with the same name in the fallback table.
func Load(preferred, fallback io.Reader) (*Library, error) {
	fb, err := readTable(fallback)
	if err != nil {
		return nil, fmt.Errorf("fallback table: %w", err)
	}
	pr, err := readTable(preferred)
	if err != nil {
		return nil, fmt.Errorf("preferred table: %w", err)
	}
	merged := make(map[string]Marker, len(fb)+len(pr))
	for _, m := range fb {
		merged[m.Name] = m
	}
	for _, m := range pr {
		merged[m.Name] = m
	}
	markers := make([]Marker, 0, len(merged))
	for _, m := range merged {
		markers = append(markers, m)
	}
	return New(markers), nil
}

// New creates a library from markers
func New(markers []Marker) *Library {
	lib := &Library{
		markers: make([]Marker, len(markers)),
		byName:  make(map[string]int, len(markers)),
	}
	copy(lib.markers, markers)
	sort.SliceStable(lib.markers, func(i, j int) bool { return lib.markers[i].RT < lib.markers[j].RT })
	for i, m := range lib.markers {
		lib.byName[m.Name] = i
	}
	return lib
}

// Len returns the number of markers
func (l *Library) Len() int { return len(l.markers) }

// Markers returns the markers ordered by library retention time.
// The slice is shared and must not be modified.
func (l *Library) Markers() []Marker { return l.markers }

// Marker looks up a marker by name
func (l *Library) Marker(name string) (*Marker, error) {
	i, ok := l.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarker, name)
	}
	return &l.markers[i], nil
}

// Similarity scores a candidate spectrum against the reference spectrum
// of the named marker (0-1000). It is safe for concurrent use.
func (l *Library) Similarity(markerName string, candidate []spectrum.Peak) (float64, error) {
	m, err := l.Marker(markerName)
	if err != nil {
		return 0, err
	}
	return Similarity(m.Spectrum, candidate), nil
}

// readTable parses a tab separated marker table. Lines starting with
// '#' are comments, a line starting with "name" is a header.
func readTable(r io.Reader) ([]Marker, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = tableColumns

	var markers []Marker
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTable, err)
		}
		if strings.EqualFold(rec[0], "name") {
			continue
		}
		m, err := parseMarker(rec)
		if err != nil {
			line, _ := cr.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidTable, line, err)
		}
		markers = append(markers, m)
	}
	return markers, nil
}

func parseMarker(rec []string) (Marker, error) {
	var m Marker
	var err error
	m.Name = strings.TrimSpace(rec[0])
	if m.Name == "" {
		return m, errors.New("empty marker name")
	}
	floats := []*float64{&m.RT, &m.RI, nil, nil, &m.RatioMin, &m.RatioMax, &m.MinSimilarity}
	for i, p := range floats {
		if p == nil {
			continue
		}
		*p, err = strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return m, fmt.Errorf("column %d: %v", i+2, err)
		}
	}
	m.Mass, err = strconv.Atoi(strings.TrimSpace(rec[3]))
	if err != nil {
		return m, fmt.Errorf("mass: %v", err)
	}
	m.Qualifier, err = strconv.Atoi(strings.TrimSpace(rec[4]))
	if err != nil {
		return m, fmt.Errorf("qualifier: %v", err)
	}
	m.Spectrum, err = ParseSpectrum(rec[8])
	if err != nil {
		return m, err
	}
	return m, nil
}

// ParseSpectrum parses whitespace separated "mass:intensity" pairs
func ParseSpectrum(s string) ([]spectrum.Peak, error) {
	fields := strings.Fields(s)
	peaks := make([]spectrum.Peak, 0, len(fields))
	for _, tok := range fields {
		mz, intens, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("invalid peak %q", tok)
		}
		var p spectrum.Peak
		var err error
		p.Mz, err = strconv.ParseFloat(mz, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peak mass %q", tok)
		}
		p.Intens, err = strconv.ParseFloat(intens, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid peak intensity %q", tok)
		}
		peaks = append(peaks, p)
	}
	if len(peaks) == 0 {
		return nil, errors.New("empty spectrum")
	}
	return peaks, nil
}
