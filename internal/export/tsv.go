// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package export writes analysis results as tab separated text and as
// SQLite databases.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/524D/mzfame/internal/align"
	"github.com/524D/mzfame/internal/cluster"
	"github.com/524D/mzfame/internal/fame"
	"github.com/524D/mzfame/internal/spectrum"
)

var rowHeader = []string{"label", "mass", "rt", "ri", "files", "ionizations", "members"}

var libraryHeader = []string{"name", "rt", "ri", "mass", "qualifier", "ratio_min", "ratio_max",
	"min_similarity", "spectrum"}

var matchHeader = []string{"file", "marker", "scan", "rt", "library_rt", "library_ri", "score", "votes"}

// FileMatches are the markers located in one file
type FileMatches struct {
	File    string
	Matches []align.Match
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 3, 64)
}

// formatRI returns an empty string for unaligned values
func formatRI(ri float64) string {
	if ri == spectrum.NoRetentionIndex {
		return ""
	}
	return formatFloat(ri)
}

// Ionizations formats distinct file counts as "CI:1,EI:2"
func Ionizations(counts map[string]int) string {
	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ":" + strconv.Itoa(counts[n])
	}
	return strings.Join(parts, ",")
}

// Members formats the members of a row as "file:scan,scan;file:scan"
func Members(row *cluster.ResultRow) string {
	parts := make([]string, len(row.Files))
	for i, fm := range row.Files {
		scans := make([]string, len(fm.Members))
		for k, m := range fm.Members {
			scans[k] = strconv.Itoa(m.ScanIndex)
		}
		name := ""
		if fm.File != nil {
			name = fm.File.Name()
		}
		parts[i] = name + ":" + strings.Join(scans, ",")
	}
	return strings.Join(parts, ";")
}

// WriteRows writes result rows as a tab separated table with a header
func WriteRows(w io.Writer, rows []cluster.ResultRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(rowHeader); err != nil {
		return err
	}
	for i := range rows {
		r := &rows[i]
		rec := []string{
			r.Label,
			strconv.Itoa(r.Mass),
			formatFloat(r.RT),
			formatRI(r.RI),
			strconv.Itoa(len(r.Files)),
			Ionizations(r.Ionizations),
			Members(r),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// WriteMatches writes the located markers of all files
func WriteMatches(w io.Writer, files []FileMatches) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(matchHeader); err != nil {
		return err
	}
	for _, fm := range files {
		for _, m := range fm.Matches {
			rec := []string{
				fm.File,
				m.Marker,
				strconv.Itoa(m.ScanIndex),
				formatFloat(m.RT),
				formatFloat(m.LibraryRT),
				formatFloat(m.LibraryRI),
				formatFloat(m.Score),
				strconv.Itoa(m.Votes),
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write marker matches: %w", err)
	}
	return nil
}

// WriteLibrary writes the markers in the marker table format, so the
// output can be edited and loaded as a preferred table
func WriteLibrary(w io.Writer, lib *fame.Library) error {
	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(libraryHeader); err != nil {
		return err
	}
	g := func(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
	for _, m := range lib.Markers() {
		peaks := make([]string, len(m.Spectrum))
		for i, p := range m.Spectrum {
			peaks[i] = g(p.Mz) + ":" + g(p.Intens)
		}
		rec := []string{
			m.Name,
			g(m.RT),
			g(m.RI),
			strconv.Itoa(m.Mass),
			strconv.Itoa(m.Qualifier),
			g(m.RatioMin),
			g(m.RatioMax),
			g(m.MinSimilarity),
			strings.Join(peaks, " "),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
