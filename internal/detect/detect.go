// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package detect finds candidate ion masses in deconvoluted spectra by
// matching a table of adducts and neutral losses against each scan.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/524D/mzfame/internal/logging"
	"github.com/524D/mzfame/internal/spectrum"
	"github.com/524D/mzfame/internal/task"
)

// Default search range of nominal masses
const (
	DefaultMinMass = 1
	DefaultMaxMass = 1000
)

// ErrInvalidParams means the detection parameters cannot be used
var ErrInvalidParams = errors.New("detect: invalid parameters")

// Adduct is an ion type or neutral loss, relative to the nominal mass of
// the molecule
type Adduct struct {
	Name  string `yaml:"name"`
	Delta int    `yaml:"delta"`
}

// MassCandidate is a nominal mass supported by enough adducts in one scan
type MassCandidate struct {
	File       *spectrum.File
	ScanIndex  int
	RT         float64 // Corrected when the file was aligned
	RI         float64
	Mass       int
	Ionization string
	Adducts    []string // Names of the matching adducts
}

// Params configure a detection
type Params struct {
	Adducts    []Adduct
	MinMatches int // Minimum number of matching adducts
	MinMass    int
	MaxMass    int
}

// Validate checks the parameters and fills in the default mass range
func (p *Params) Validate() error {
	if len(p.Adducts) == 0 {
		return fmt.Errorf("%w: no adducts", ErrInvalidParams)
	}
	if p.MinMatches < 1 {
		return fmt.Errorf("%w: minimum matches %d", ErrInvalidParams, p.MinMatches)
	}
	if p.MinMass == 0 && p.MaxMass == 0 {
		p.MinMass, p.MaxMass = DefaultMinMass, DefaultMaxMass
	}
	if p.MinMass < 1 || p.MaxMass < p.MinMass {
		return fmt.Errorf("%w: mass range %d:%d", ErrInvalidParams, p.MinMass, p.MaxMass)
	}
	return nil
}

// Task detects mass candidates in one file. When an alignment task is
// given, detection starts after it is terminal so that it reads the
// corrected retention times. If the alignment did not finish, every scan
// is reset to its acquired retention time first.
type Task struct {
	*task.Handle

	file *spectrum.File
	par  Params
	log  *slog.Logger

	candidates []MassCandidate
}

// New creates a detection task. alignment may be nil.
func New(file *spectrum.File, par Params, alignment *task.Handle) *Task {
	t := &Task{
		file: file,
		par:  par,
		log:  logging.New("detect").With("file", file.Name()),
	}
	var deps []*task.Handle
	if alignment != nil {
		deps = append(deps, alignment)
	}
	t.Handle = task.New("detect "+file.Name(), t.run, deps...)
	return t
}

// File returns the file being searched
func (t *Task) File() *spectrum.File { return t.file }

// Candidates returns the detected candidates once the task is terminal,
// nil before. Candidates of a canceled or failed task are incomplete.
func (t *Task) Candidates() []MassCandidate {
	if !t.Status().Terminal() {
		return nil
	}
	return t.candidates
}

func (t *Task) run(ctx context.Context, h *task.Handle) error {
	if err := t.par.Validate(); err != nil {
		return err
	}
	for _, d := range h.Deps() {
		if st := d.Status(); st != task.Finished {
			// An interrupted alignment leaves a mix of corrected and raw times
			t.log.Warn("alignment not finished, resetting to acquired retention times",
				"alignment", d.Name(), "status", st.String())
			for _, s := range t.file.Scans() {
				s.ResetRetention()
			}
			break
		}
	}

	scans := t.file.ScansAtLevel(1)
	masses := make(map[int]struct{}, 256)
	for i, s := range scans {
		if err := ctx.Err(); err != nil {
			return err
		}
		clear(masses)
		for _, p := range s.Peaks {
			if p.Intens > 0 {
				masses[p.Nominal()] = struct{}{}
			}
		}
		t.candidates = append(t.candidates, t.scanCandidates(s, masses)...)
		h.SetProgress(float64(i+1) / float64(len(scans)))
	}
	t.log.Info("mass candidates detected", "scans", len(scans), "candidates", len(t.candidates))
	h.SetMessage("%d candidates", len(t.candidates))
	return nil
}

// scanCandidates tests every nominal mass in the search range against
// the adduct table. This is scans x masses x adducts per file, bounded
// by the unit mass range.
func (t *Task) scanCandidates(s *spectrum.Scan, masses map[int]struct{}) []MassCandidate {
	if len(masses) == 0 {
		return nil
	}
	var out []MassCandidate
	for m := t.par.MinMass; m <= t.par.MaxMass; m++ {
		var hits []string
		for _, a := range t.par.Adducts {
			ion := m + a.Delta
			if ion <= 0 {
				continue
			}
			if _, ok := masses[ion]; ok {
				hits = append(hits, a.Name)
			}
		}
		if len(hits) >= t.par.MinMatches {
			out = append(out, MassCandidate{
				File:       t.file,
				ScanIndex:  s.Index,
				RT:         s.RT,
				RI:         s.RI,
				Mass:       m,
				Ionization: t.file.Ionization(),
				Adducts:    hits,
			})
		}
	}
	return out
}
