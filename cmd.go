// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/524D/mzfame/internal/config"
	"github.com/524D/mzfame/internal/detect"
	"github.com/524D/mzfame/internal/export"
	"github.com/524D/mzfame/internal/logging"
)

type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

type analyzeFlags struct {
	out           string
	dbPath        string
	markersPath   string
	workers       int
	tolerance     float64
	clusterWindow float64
	degree        int
	massRange     string
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:   "mzfame",
		Short: progName + " - FAME aligned candidate search in GC-MS runs",
		Long: `mzfame corrects the retention time drift of GC-MS runs using FAME
retention markers, searches every scan for ion masses supported by a
set of adducts, and combines the results of runs acquired under
several ionization modes into one table.`,
		Version:       progVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logging.ParseLevel(rf.logLevel)
			if err != nil {
				return err
			}
			logging.Init(level, rf.logFormat, cmd.ErrOrStderr())
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&rf.configPath, "config", "", "YAML configuration `file`")
	pf.StringVar(&rf.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	pf.StringVar(&rf.logFormat, "log-format", "text", "log format: text or json")

	root.AddCommand(newAnalyzeCmd(&rf), newLibraryCmd(&rf), newConfigCmd(&rf))
	return root
}

func loadConfig(rf *rootFlags) (*config.Config, error) {
	if rf.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(rf.configPath)
}

func newAnalyzeCmd(rf *rootFlags) *cobra.Command {
	var af analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [flags] ION=file.mzML ...",
		Short: "Align, search and cluster mzML files",
		Long: `Analyze aligns the retention time of every file to the FAME marker
library, detects candidate masses per scan and clusters them over all
files. Each argument names the ionization mode of a file, which must be
one of the ionizations of the configuration (default EI and CI).

Examples:
  mzfame analyze EI=run1_ei.mzML CI=run1_ci.mzML
  mzfame analyze --out result.tsv --db result.db --mass-range 50:600 EI=a.mzML EI=b.mzML CI=c.mzML`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			if err := af.apply(cmd, cfg); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runAnalyze(ctx, cfg, &af, args, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&af.out, "out", "o", "", "result table `file` (default stdout)")
	f.StringVar(&af.dbPath, "db", "", "SQLite `file` to store results and marker matches")
	f.StringVar(&af.markersPath, "markers", "", "`file` for the table of located markers")
	f.IntVar(&af.workers, "workers", 0, "number of parallel tasks (0: one per CPU)")
	f.Float64Var(&af.tolerance, "tolerance", 0, "marker retention time window in seconds")
	f.Float64Var(&af.clusterWindow, "cluster-window", 0, "half width of a result cluster in seconds")
	f.IntVar(&af.degree, "degree", 0, "degree of the retention correction polynomial")
	f.StringVar(&af.massRange, "mass-range", "", "nominal mass `range` to search, e.g. 50:600")
	return cmd
}

// apply overrides configuration values with the flags that were set
func (af *analyzeFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.Workers = af.workers
	}
	if f.Changed("tolerance") {
		cfg.Tolerance = af.tolerance
	}
	if f.Changed("cluster-window") {
		cfg.ClusterWindow = af.clusterWindow
	}
	if f.Changed("degree") {
		cfg.RegressionDegree = af.degree
	}
	if af.massRange != "" {
		lo, hi, err := parseIntRange(af.massRange, detect.DefaultMinMass, detect.DefaultMaxMass)
		if err != nil {
			return fmt.Errorf("--mass-range %s: %w", af.massRange, err)
		}
		cfg.MinMass, cfg.MaxMass = lo, hi
	}
	return cfg.Validate()
}

func runAnalyze(ctx context.Context, cfg *config.Config, af *analyzeFlags, args []string, stdout io.Writer) error {
	log := logging.New("mzfame")
	inputs, err := parseInputs(args, cfg)
	if err != nil {
		return err
	}
	lib, err := cfg.LoadLibrary()
	if err != nil {
		return err
	}
	files, err := loadFiles(ctx, inputs, cfg.Workers)
	if err != nil {
		return err
	}
	a, err := analyze(ctx, cfg, lib, files)
	if err != nil {
		return err
	}
	rows := a.cluster.Rows()
	log.Info("analysis done", "files", len(files), "rows", len(rows))

	out := stdout
	if af.out != "" {
		fo, err := os.Create(af.out)
		if err != nil {
			return err
		}
		defer fo.Close()
		out = fo
	}
	if err := export.WriteRows(out, rows); err != nil {
		return err
	}

	var matches []export.FileMatches
	for _, at := range a.aligns {
		matches = append(matches, export.FileMatches{File: at.Source().Name(), Matches: at.Matches()})
	}
	if af.markersPath != "" {
		fm, err := os.Create(af.markersPath)
		if err != nil {
			return err
		}
		defer fm.Close()
		if err := export.WriteMatches(fm, matches); err != nil {
			return err
		}
	}
	if af.dbPath != "" {
		db, err := export.NewDB(af.dbPath)
		if err != nil {
			return err
		}
		if err := db.WriteRows(rows); err != nil {
			db.Abort()
			return err
		}
		for _, m := range matches {
			if err := db.WriteMatches(m.File, m.Matches); err != nil {
				db.Abort()
				return err
			}
		}
		if err := db.Close(); err != nil {
			return err
		}
	}
	return nil
}

func newLibraryCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "library",
		Short: "Print the FAME marker library",
		Long: `Print the effective FAME marker library as a tab separated table.
The output can be edited and used as preferred table in the configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			lib, err := cfg.LoadLibrary()
			if err != nil {
				return err
			}
			return export.WriteLibrary(cmd.OutOrStdout(), lib)
		},
	}
}

func newConfigCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rf)
			if err != nil {
				return err
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	}
}
