// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/524D/mzfame/internal/align"
	"github.com/524D/mzfame/internal/cluster"
	"github.com/524D/mzfame/internal/config"
	"github.com/524D/mzfame/internal/detect"
	"github.com/524D/mzfame/internal/fame"
	"github.com/524D/mzfame/internal/logging"
	"github.com/524D/mzfame/internal/mzml"
	"github.com/524D/mzfame/internal/spectrum"
	"github.com/524D/mzfame/internal/task"
)

// input is a command line argument of the form ION=file.mzML
type input struct {
	ionization string
	path       string
}

func parseInputs(args []string, cfg *config.Config) ([]input, error) {
	inputs := make([]input, 0, len(args))
	for _, a := range args {
		ion, path, ok := strings.Cut(a, "=")
		if !ok || ion == "" || path == "" {
			return nil, fmt.Errorf("argument %q: expected ION=file.mzML", a)
		}
		p, ok := cfg.Ionization(ion)
		if !ok {
			return nil, fmt.Errorf("argument %q: unknown ionization %s", a, ion)
		}
		inputs = append(inputs, input{ionization: p.Name, path: path})
	}
	return inputs, nil
}

// loadFiles reads the input files in parallel
func loadFiles(ctx context.Context, inputs []input, workers int) ([]*spectrum.File, error) {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	log := logging.New("load")
	files := make([]*spectrum.File, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := mzml.ReadFile(in.path, "", in.ionization)
			if err != nil {
				return err
			}
			log.Info("file read", "file", f.Name(), "ionization", in.ionization, "scans", f.NumScans())
			files[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// analysis holds the tasks of one run
type analysis struct {
	files   []*spectrum.File
	aligns  []*align.Task
	detects []*detect.Task
	cluster *cluster.Task
}

// analyze aligns, searches and clusters files. Task failures are
// reported in the task status; only setup errors and cancellation of
// ctx are returned.
func analyze(ctx context.Context, cfg *config.Config, lib *fame.Library,
	files []*spectrum.File) (*analysis, error) {
	log := logging.New("analyze")
	if err := spectrum.CheckUniqueNames(files); err != nil {
		return nil, err
	}

	a := &analysis{files: files}
	present := make(map[string]bool)
	for _, f := range files {
		ion, ok := cfg.Ionization(f.Ionization())
		if !ok {
			return nil, fmt.Errorf("file %s: unknown ionization %s", f.Name(), f.Ionization())
		}
		present[ion.Name] = true
		at := align.New(f, lib, cfg.AlignParams(ion))
		a.aligns = append(a.aligns, at)
		a.detects = append(a.detects, detect.New(f, cfg.DetectParams(ion), at.Handle))
	}

	par := cfg.ClusterParams(lib)
	for ion := range par.MinFiles {
		if !present[ion] {
			log.Warn("no files for ionization, not required in results", "ionization", ion)
			delete(par.MinFiles, ion)
		}
	}
	a.cluster = cluster.New(a.detects, par)

	c := task.NewCoordinator(ctx, cfg.Workers)
	for i := range files {
		c.Submit(a.aligns[i].Handle, a.detects[i].Handle)
	}
	c.Submit(a.cluster.Handle)
	if err := c.Wait(); err != nil {
		return a, err
	}

	for _, t := range c.Tasks() {
		if t.Status() != task.Finished {
			log.Warn("task not finished", "task", t.Name(), "status", t.Status().String(), "message", t.Message())
		}
	}
	return a, nil
}
