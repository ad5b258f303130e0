// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package cluster combines the mass candidates of many files into result
// rows. Candidates of equal nominal mass that elute within a time window
// of each other form one cluster; clusters found in enough files of
// every ionization mode become rows.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/524D/mzfame/internal/detect"
	"github.com/524D/mzfame/internal/fame"
	"github.com/524D/mzfame/internal/logging"
	"github.com/524D/mzfame/internal/spectrum"
	"github.com/524D/mzfame/internal/task"
)

// Cluster is a retention time interval of one nominal mass.
// [Min, Max] is the union of [RT-w, RT+w] of all members.
type Cluster struct {
	Mass    int
	Min     float64
	Max     float64
	Members []detect.MassCandidate
}

func (c *Cluster) overlaps(lo, hi float64) bool {
	return lo <= c.Max && hi >= c.Min
}

func (c *Cluster) absorb(o *Cluster) {
	c.Min = math.Min(c.Min, o.Min)
	c.Max = math.Max(c.Max, o.Max)
	c.Members = append(c.Members, o.Members...)
}

// FileMembers are the members of a row that come from one file
type FileMembers struct {
	File    *spectrum.File
	Members []detect.MassCandidate
}

// ResultRow is an accepted cluster
type ResultRow struct {
	Mass        int
	Label       string  // Marker name, or "m<mass>"
	RT          float64 // Mean retention time of the members
	RI          float64 // Mean retention index, NoRetentionIndex if no member has one
	Files       []FileMembers
	Ionizations map[string]int // Distinct files per ionization
}

// Params configure clustering
type Params struct {
	Window   float64        // Half width of the retention time window (seconds)
	MinFiles map[string]int // Minimum distinct files per ionization

	// Library, when set, labels rows that coincide with a marker. A row
	// matches when its mass equals the marker mass plus the offset of one
	// of its ionizations (e.g. 1 for [M+H]+ based modes).
	Library      *fame.Library
	LabelOffsets map[string]int
}

// Clusters groups candidates per nominal mass into non-overlapping
// clusters. The result does not depend on the order of cands: clusters
// are ordered by mass and interval, members by file name and scan.
func Clusters(ctx context.Context, cands []detect.MassCandidate, window float64) ([]Cluster, error) {
	byMass := make(map[int][]detect.MassCandidate)
	for _, c := range cands {
		byMass[c.Mass] = append(byMass[c.Mass], c)
	}
	massList := make([]int, 0, len(byMass))
	for m := range byMass {
		massList = append(massList, m)
	}
	sort.Ints(massList)

	var out []Cluster
	for _, m := range massList {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		clusters := stabilize(stream(m, byMass[m], window), len(byMass[m]))
		for i := range clusters {
			sortMembers(clusters[i].Members)
		}
		out = append(out, clusters...)
	}
	return out, nil
}

// stream adds candidates one at a time, each to the first cluster its
// window overlaps
func stream(mass int, cands []detect.MassCandidate, w float64) []*Cluster {
	var clusters []*Cluster
	for _, c := range cands {
		lo, hi := c.RT-w, c.RT+w
		var into *Cluster
		for _, cl := range clusters {
			if cl.overlaps(lo, hi) {
				into = cl
				break
			}
		}
		if into == nil {
			into = &Cluster{Mass: mass, Min: lo, Max: hi}
			clusters = append(clusters, into)
		}
		into.Min = math.Min(into.Min, lo)
		into.Max = math.Max(into.Max, hi)
		into.Members = append(into.Members, c)
	}
	return clusters
}

// stabilize merges overlapping clusters until none overlap. Every merge
// removes a cluster, so n passes always suffice.
func stabilize(clusters []*Cluster, n int) []Cluster {
	for pass := 0; pass < n; pass++ {
		sort.Slice(clusters, func(i, j int) bool { return clusters[i].Min < clusters[j].Min })
		merged := clusters[:0]
		changed := false
		for _, c := range clusters {
			if k := len(merged); k > 0 && merged[k-1].overlaps(c.Min, c.Max) {
				merged[k-1].absorb(c)
				changed = true
				continue
			}
			merged = append(merged, c)
		}
		clusters = merged
		if !changed {
			break
		}
	}
	out := make([]Cluster, len(clusters))
	for i, c := range clusters {
		out[i] = *c
	}
	return out
}

func sortMembers(m []detect.MassCandidate) {
	sort.Slice(m, func(i, j int) bool {
		a, b := m[i], m[j]
		if an, bn := fileName(a.File), fileName(b.File); an != bn {
			return an < bn
		}
		if a.ScanIndex != b.ScanIndex {
			return a.ScanIndex < b.ScanIndex
		}
		return a.RT < b.RT
	})
}

func fileName(f *spectrum.File) string {
	if f == nil {
		return ""
	}
	return f.Name()
}

// Accept reports whether c is found in enough distinct files of every
// configured ionization. Files are counted by identity.
func (p Params) Accept(c *Cluster) bool {
	counts := fileCounts(c.Members)
	for ion, min := range p.MinFiles {
		if counts[ion] < min {
			return false
		}
	}
	return true
}

func fileCounts(members []detect.MassCandidate) map[string]int {
	seen := make(map[*spectrum.File]struct{})
	counts := make(map[string]int)
	for _, m := range members {
		if _, ok := seen[m.File]; ok {
			continue
		}
		seen[m.File] = struct{}{}
		counts[m.Ionization]++
	}
	return counts
}

// Row converts an accepted cluster into a result row
func (p Params) Row(c *Cluster) ResultRow {
	rts := make([]float64, 0, len(c.Members))
	var ris []float64
	for _, m := range c.Members {
		rts = append(rts, m.RT)
		if m.RI != spectrum.NoRetentionIndex {
			ris = append(ris, m.RI)
		}
	}
	row := ResultRow{
		Mass:        c.Mass,
		RT:          stat.Mean(rts, nil),
		RI:          spectrum.NoRetentionIndex,
		Ionizations: fileCounts(c.Members),
	}
	if len(ris) > 0 {
		row.RI = stat.Mean(ris, nil)
	}

	// Members are sorted by file name, so each file is one run
	for _, m := range c.Members {
		if k := len(row.Files); k > 0 && row.Files[k-1].File == m.File {
			row.Files[k-1].Members = append(row.Files[k-1].Members, m)
			continue
		}
		row.Files = append(row.Files, FileMembers{File: m.File, Members: []detect.MassCandidate{m}})
	}
	row.Label = p.label(row)
	return row
}

func (p Params) label(row ResultRow) string {
	if p.Library != nil {
		for _, mk := range p.Library.Markers() {
			if math.Abs(row.RT-mk.RT) > p.Window {
				continue
			}
			for ion := range row.Ionizations {
				if row.Mass == mk.Mass+p.LabelOffsets[ion] {
					return mk.Name
				}
			}
		}
	}
	return fmt.Sprintf("m%d", row.Mass)
}

// Rows clusters cands and returns the accepted rows ordered by mean
// retention time, then mass
func Rows(ctx context.Context, cands []detect.MassCandidate, p Params) ([]ResultRow, error) {
	clusters, err := Clusters(ctx, cands, p.Window)
	if err != nil {
		return nil, err
	}
	var rows []ResultRow
	for i := range clusters {
		if p.Accept(&clusters[i]) {
			rows = append(rows, p.Row(&clusters[i]))
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RT != rows[j].RT {
			return rows[i].RT < rows[j].RT
		}
		return rows[i].Mass < rows[j].Mass
	})
	return rows, nil
}

// Task clusters the output of a set of detection tasks. It starts once
// every detection task is terminal and only uses finished ones.
type Task struct {
	*task.Handle

	detections []*detect.Task
	par        Params
	log        *slog.Logger

	rows []ResultRow
}

// New creates a clustering task over detections
func New(detections []*detect.Task, par Params) *Task {
	t := &Task{
		detections: detections,
		par:        par,
		log:        logging.New("cluster"),
	}
	deps := make([]*task.Handle, len(detections))
	for i, d := range detections {
		deps[i] = d.Handle
	}
	t.Handle = task.New("cluster", t.run, deps...)
	return t
}

// Rows returns the result rows once the task is terminal, nil before
func (t *Task) Rows() []ResultRow {
	if !t.Status().Terminal() {
		return nil
	}
	return t.rows
}

func (t *Task) run(ctx context.Context, h *task.Handle) error {
	if t.par.Window < 0 {
		return fmt.Errorf("negative cluster window %g", t.par.Window)
	}
	var cands []detect.MassCandidate
	used := 0
	for _, d := range t.detections {
		if st := d.Status(); st != task.Finished {
			t.log.Warn("skipping detection", "task", d.Name(), "status", st.String())
			continue
		}
		cands = append(cands, d.Candidates()...)
		used++
	}
	h.SetProgress(0.1)

	rows, err := Rows(ctx, cands, t.par)
	if err != nil {
		return err
	}
	t.rows = rows
	t.log.Info("clustering done", "files", used, "candidates", len(cands), "rows", len(rows))
	h.SetMessage("%d rows from %d files", len(rows), used)
	return nil
}
