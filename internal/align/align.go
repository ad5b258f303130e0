// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package align corrects retention time drift of a file using FAME
// markers. Markers are located in the file, a regression from observed
// retention time to library retention index is fitted, and every scan
// gets a corrected retention index and retention time.
package align

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/524D/mzfame/internal/fame"
	"github.com/524D/mzfame/internal/logging"
	"github.com/524D/mzfame/internal/regression"
	"github.com/524D/mzfame/internal/spectrum"
	"github.com/524D/mzfame/internal/task"
)

// Strategy selects how markers are located
type Strategy int

const (
	// EI locates markers by their McLafferty base peaks and a vote over
	// the rigidly shifted library retention times
	EI Strategy = iota
	// CI locates markers one by one by their protonated molecular ion
	CI
)

func (s Strategy) String() string {
	switch s {
	case EI:
		return "ei"
	case CI:
		return "ci"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy converts "ei" or "ci" into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "ei":
		return EI, nil
	case "ci":
		return CI, nil
	}
	return EI, fmt.Errorf("unknown alignment strategy %q", s)
}

// ErrInsufficientLibraryData means less than 2 markers were found, so no
// correction could be fitted. The file is left uncorrected.
var ErrInsufficientLibraryData = errors.New("align: fewer than 2 markers resolved")

// Base peaks of FAME electron ionization spectra
var eiDiagnosticMasses = [...]int{74, 87}

// Candidates below this fraction of the most intense candidate are dropped
const minRelIntensity = 0.01

// Params configure an alignment
type Params struct {
	Strategy  Strategy
	Tolerance float64 // Symmetric retention time window (seconds)
	Degree    int     // Degree of the correction polynomial
}

// Match is a marker that was located in the file
type Match struct {
	Marker    string
	ScanIndex int
	RT        float64 // Observed (acquired) retention time
	LibraryRT float64
	LibraryRI float64
	Score     float64 // Similarity to the library spectrum (0-1000)
	Votes     int     // Other markers confirming the shift (EI only)
}

// Task aligns one file.
//
// Scans are corrected in place. When the task is canceled during the
// write back, some scans carry corrected values and others do not;
// callers must not use the retention data of a canceled alignment.
type Task struct {
	*task.Handle

	src spectrum.Source
	lib *fame.Library
	par Params
	log *slog.Logger

	matches []Match
	fit     *regression.Fit
}

// New creates an alignment task for src
func New(src spectrum.Source, lib *fame.Library, par Params) *Task {
	t := &Task{
		src: src,
		lib: lib,
		par: par,
		log: logging.New("align").With("file", src.Name()),
	}
	t.Handle = task.New("align "+src.Name(), t.run)
	return t
}

// Source returns the aligned file
func (t *Task) Source() spectrum.Source { return t.src }

// Matches returns the located markers. It returns nil until the task is
// terminal.
func (t *Task) Matches() []Match {
	if !t.Status().Terminal() {
		return nil
	}
	return t.matches
}

// Fit returns the retention time to retention index fit, nil if the task
// is not terminal or no fit was possible
func (t *Task) Fit() *regression.Fit {
	if !t.Status().Terminal() {
		return nil
	}
	return t.fit
}

func (t *Task) run(ctx context.Context, h *task.Handle) error {
	var err error
	switch t.par.Strategy {
	case EI:
		t.matches, err = t.matchEI(ctx, h)
	case CI:
		t.matches, err = t.matchCI(ctx, h)
	default:
		return fmt.Errorf("unknown strategy %v", t.par.Strategy)
	}
	if err != nil {
		return err
	}
	return t.correct(ctx, h)
}

// matchEI locates markers by shift voting.
// For every marker i and candidate s, s is assumed to be marker i and the
// library retention times are shifted by s.RT - RT[i]. The candidates that
// confirm the most other markers survive; the one most similar to the
// library spectrum is accepted if it elutes after the previous marker.
// A marker whose best candidate confirms no other marker (zero votes) is
// not located at all; similarity alone never places a marker.
func (t *Task) matchEI(ctx context.Context, h *task.Handle) ([]Match, error) {
	markers := t.lib.Markers()
	cands := eiCandidates(t.src.ScansAtLevel(1))
	t.log.Debug("EI marker candidates", "count", len(cands))

	var matches []Match
	prevRT := -math.MaxFloat64
	for i := range markers {
		m := &markers[i]
		votes, err := shiftVotes(ctx, cands, markers, i, t.par.Tolerance)
		if err != nil {
			return matches, err
		}
		maxVotes := 0
		for _, v := range votes {
			if v > maxVotes {
				maxVotes = v
			}
		}
		h.SetProgress(0.5 * float64(i+1) / float64(len(markers)))
		if maxVotes == 0 {
			continue
		}

		best, bestScore := -1, -1.0
		for k, s := range cands {
			if votes[k] != maxVotes {
				continue
			}
			if err := ctx.Err(); err != nil {
				return matches, err
			}
			if !m.QualifierOK(s.Peaks) {
				continue
			}
			score, err := t.lib.Similarity(m.Name, s.Peaks)
			if err != nil {
				return matches, err
			}
			if score < m.MinSimilarity {
				continue
			}
			if score > bestScore {
				best, bestScore = k, score
			}
		}
		if best < 0 {
			continue
		}
		s := cands[best]
		if s.RawRT <= prevRT {
			t.log.Debug("marker out of order", "marker", m.Name, "rt", s.RawRT, "previous", prevRT)
			continue
		}
		prevRT = s.RawRT
		matches = append(matches, Match{
			Marker:    m.Name,
			ScanIndex: s.Index,
			RT:        s.RawRT,
			LibraryRT: m.RT,
			LibraryRI: m.RI,
			Score:     bestScore,
			Votes:     maxVotes,
		})
	}
	return matches, nil
}

// matchCI locates markers one at a time by their [M+H]+ base peak.
// The library spectra are EI spectra, so the minimum similarity of a
// marker is not applied; the score only ranks candidates.
func (t *Task) matchCI(ctx context.Context, h *task.Handle) ([]Match, error) {
	markers := t.lib.Markers()
	ms1 := t.src.ScansAtLevel(1)

	var matches []Match
	prevRT := -math.MaxFloat64
	for i := range markers {
		m := &markers[i]
		var cands []*spectrum.Scan
		for _, s := range ms1 {
			bp := s.BasePeak()
			if bp.Intens > 0 && bp.Nominal() == m.Mass+1 {
				cands = append(cands, s)
			}
		}
		cands = filterLowIntensity(cands)

		var best *spectrum.Scan
		bestScore := -1.0
		for _, s := range cands {
			if err := ctx.Err(); err != nil {
				return matches, err
			}
			if s.RawRT <= prevRT {
				continue
			}
			score, err := t.lib.Similarity(m.Name, s.Peaks)
			if err != nil {
				return matches, err
			}
			if score > bestScore {
				best, bestScore = s, score
			}
		}
		h.SetProgress(0.5 * float64(i+1) / float64(len(markers)))
		if best == nil {
			continue
		}
		prevRT = best.RawRT
		matches = append(matches, Match{
			Marker:    m.Name,
			ScanIndex: best.Index,
			RT:        best.RawRT,
			LibraryRT: m.RT,
			LibraryRI: m.RI,
			Score:     bestScore,
		})
	}
	return matches, nil
}

// correct fits the correction and writes it onto every scan. Without
// enough markers all scans are reset to their acquired retention time.
func (t *Task) correct(ctx context.Context, h *task.Handle) error {
	scans := t.src.Scans()
	if len(t.matches) < 2 {
		t.log.Warn("retention index not corrected", "error", ErrInsufficientLibraryData,
			"markers", len(t.matches))
		h.SetMessage("%v (%d found)", ErrInsufficientLibraryData, len(t.matches))
		for _, s := range scans {
			s.ResetRetention()
		}
		return nil
	}

	rts := make([]float64, len(t.matches))
	ris := make([]float64, len(t.matches))
	for i, m := range t.matches {
		rts[i] = m.RT
		ris[i] = m.LibraryRI
	}
	fit, err := regression.New(rts, ris, t.par.Degree)
	if err != nil {
		return fmt.Errorf("fit retention index: %w", err)
	}
	t.fit = fit

	// Maps a retention index back onto the library time scale, so that
	// corrected retention times of different files are comparable
	libFit, err := libraryFit(t.lib, t.par.Degree)
	if err != nil {
		t.log.Warn("retention time not corrected", "error", err)
	}

	for i, s := range scans {
		if err := ctx.Err(); err != nil {
			return err
		}
		ri := fit.Evaluate(s.RawRT)
		rt := s.RawRT
		if libFit != nil {
			rt = libFit.Evaluate(ri)
		}
		s.SetRetention(rt, ri)
		if i%256 == 0 {
			h.SetProgress(0.5 + 0.5*float64(i+1)/float64(len(scans)))
		}
	}
	t.log.Info("retention index corrected", "markers", len(t.matches),
		"degree", fit.Degree(), "rmse", fit.RMSE())
	h.SetMessage("%d markers, degree %d", len(t.matches), fit.Degree())
	return nil
}

func libraryFit(lib *fame.Library, degree int) (*regression.Fit, error) {
	markers := lib.Markers()
	ris := make([]float64, len(markers))
	rts := make([]float64, len(markers))
	for i, m := range markers {
		ris[i] = m.RI
		rts[i] = m.RT
	}
	return regression.New(ris, rts, degree)
}

// eiCandidates returns the MS1 scans whose base peak is one of the
// diagnostic FAME masses, ordered by retention time
func eiCandidates(scans []*spectrum.Scan) []*spectrum.Scan {
	var cands []*spectrum.Scan
	for _, s := range scans {
		bp := s.BasePeak()
		if bp.Intens <= 0 {
			continue
		}
		for _, m := range eiDiagnosticMasses {
			if bp.Nominal() == m {
				cands = append(cands, s)
				break
			}
		}
	}
	cands = filterLowIntensity(cands)
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].RawRT < cands[j].RawRT })
	return cands
}

// filterLowIntensity removes scans with a base peak below minRelIntensity
// of the most intense base peak. The slice is filtered in place.
func filterLowIntensity(scans []*spectrum.Scan) []*spectrum.Scan {
	max := 0.0
	for _, s := range scans {
		max = math.Max(max, s.BasePeak().Intens)
	}
	k := 0
	for _, s := range scans {
		if s.BasePeak().Intens >= minRelIntensity*max {
			scans[k] = s
			k++
		}
	}
	return scans[:k]
}

// shiftVotes returns, for each candidate, the number of other markers that
// find a candidate within tol when the candidate is taken to be marker i.
// Candidates must be ordered by retention time.
func shiftVotes(ctx context.Context, cands []*spectrum.Scan, markers []fame.Marker,
	i int, tol float64) ([]int, error) {
	votes := make([]int, len(cands))
	for k, s := range cands {
		if err := ctx.Err(); err != nil {
			return votes, err
		}
		shift := s.RawRT - markers[i].RT
		for j := range markers {
			if j == i {
				continue
			}
			target := markers[j].RT + shift
			if anyInWindow(cands, target-tol, target+tol) {
				votes[k]++
			}
		}
	}
	return votes, nil
}

// anyInWindow reports whether a candidate elutes within [lo, hi]
func anyInWindow(cands []*spectrum.Scan, lo, hi float64) bool {
	i := sort.Search(len(cands), func(i int) bool { return cands[i].RawRT >= lo })
	return i < len(cands) && cands[i].RawRT <= hi
}
