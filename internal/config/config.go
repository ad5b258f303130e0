// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package config holds the analysis parameters and reads them from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/524D/mzfame/internal/align"
	"github.com/524D/mzfame/internal/cluster"
	"github.com/524D/mzfame/internal/detect"
	"github.com/524D/mzfame/internal/fame"
)

// ErrInvalid means a configuration value is out of range
var ErrInvalid = errors.New("config: invalid value")

// Ionization holds the parameters of one ionization mode
type Ionization struct {
	Name             string          `yaml:"name"`
	Strategy         string          `yaml:"strategy"` // Marker search, "ei" or "ci"
	Adducts          []detect.Adduct `yaml:"adducts"`
	MinAdductMatches int             `yaml:"min_adduct_matches"`
	MinFiles         int             `yaml:"min_files"`
	LabelOffset      int             `yaml:"label_offset,omitempty"` // Added to marker masses when labelling rows
}

// Library names user marker tables; empty names select the built-in ones
type Library struct {
	Preferred string `yaml:"preferred"`
	Fallback  string `yaml:"fallback"`
}

// Config contains all analysis parameters
type Config struct {
	Workers          int          `yaml:"workers"`           // 0: one per CPU
	Tolerance        float64      `yaml:"tolerance"`         // Marker search window (seconds)
	ClusterWindow    float64      `yaml:"cluster_window"`    // Half width of a result cluster (seconds)
	RegressionDegree int          `yaml:"regression_degree"` // Degree of the retention correction
	MinMass          int          `yaml:"min_mass"`
	MaxMass          int          `yaml:"max_mass"`
	Library          Library      `yaml:"library"`
	Ionizations      []Ionization `yaml:"ionizations"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Workers:          0,
		Tolerance:        3,
		ClusterWindow:    2,
		RegressionDegree: 3,
		MinMass:          detect.DefaultMinMass,
		MaxMass:          detect.DefaultMaxMass,
		Ionizations: []Ionization{
			{
				Name:     "EI",
				Strategy: "ei",
				Adducts: []detect.Adduct{
					{Name: "M+", Delta: 0},
					{Name: "[M-CH3]+", Delta: -15},
					{Name: "[M-OCH3]+", Delta: -31},
				},
				MinAdductMatches: 2,
				MinFiles:         1,
			},
			{
				Name:     "CI",
				Strategy: "ci",
				Adducts: []detect.Adduct{
					{Name: "[M+H]+", Delta: 1},
					{Name: "[M+C2H5]+", Delta: 29},
					{Name: "[M+C3H5]+", Delta: 41},
				},
				MinAdductMatches: 2,
				MinFiles:         1,
			},
		},
	}
}

// Load reads a YAML file. Values missing from the file keep their
// defaults; a list of ionizations replaces the default list.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Write encodes the configuration as YAML
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks all values
func (c *Config) Validate() error {
	switch {
	case c.Workers < 0:
		return fmt.Errorf("%w: workers %d", ErrInvalid, c.Workers)
	case c.Tolerance <= 0:
		return fmt.Errorf("%w: tolerance %g", ErrInvalid, c.Tolerance)
	case c.ClusterWindow < 0:
		return fmt.Errorf("%w: cluster_window %g", ErrInvalid, c.ClusterWindow)
	case c.RegressionDegree < 1:
		return fmt.Errorf("%w: regression_degree %d", ErrInvalid, c.RegressionDegree)
	case c.MinMass < 1 || c.MaxMass < c.MinMass:
		return fmt.Errorf("%w: mass range %d:%d", ErrInvalid, c.MinMass, c.MaxMass)
	case len(c.Ionizations) == 0:
		return fmt.Errorf("%w: no ionizations", ErrInvalid)
	}
	seen := make(map[string]bool)
	for _, ion := range c.Ionizations {
		if ion.Name == "" {
			return fmt.Errorf("%w: ionization without name", ErrInvalid)
		}
		if seen[ion.Name] {
			return fmt.Errorf("%w: duplicate ionization %s", ErrInvalid, ion.Name)
		}
		seen[ion.Name] = true
		if _, err := align.ParseStrategy(ion.Strategy); err != nil {
			return fmt.Errorf("%w: ionization %s: %v", ErrInvalid, ion.Name, err)
		}
		if len(ion.Adducts) == 0 {
			return fmt.Errorf("%w: ionization %s has no adducts", ErrInvalid, ion.Name)
		}
		if ion.MinAdductMatches < 1 || ion.MinAdductMatches > len(ion.Adducts) {
			return fmt.Errorf("%w: ionization %s: min_adduct_matches %d with %d adducts",
				ErrInvalid, ion.Name, ion.MinAdductMatches, len(ion.Adducts))
		}
		if ion.MinFiles < 0 {
			return fmt.Errorf("%w: ionization %s: min_files %d", ErrInvalid, ion.Name, ion.MinFiles)
		}
	}
	return nil
}

// Ionization returns the parameters of an ionization mode. Names are
// compared case-insensitively.
func (c *Config) Ionization(name string) (*Ionization, bool) {
	for i := range c.Ionizations {
		if strings.EqualFold(c.Ionizations[i].Name, name) {
			return &c.Ionizations[i], true
		}
	}
	return nil, false
}

// AlignParams returns the alignment parameters of ion
func (c *Config) AlignParams(ion *Ionization) align.Params {
	s, _ := align.ParseStrategy(ion.Strategy)
	return align.Params{Strategy: s, Tolerance: c.Tolerance, Degree: c.RegressionDegree}
}

// DetectParams returns the detection parameters of ion
func (c *Config) DetectParams(ion *Ionization) detect.Params {
	return detect.Params{
		Adducts:    ion.Adducts,
		MinMatches: ion.MinAdductMatches,
		MinMass:    c.MinMass,
		MaxMass:    c.MaxMass,
	}
}

// ClusterParams returns the clustering parameters. lib may be nil.
func (c *Config) ClusterParams(lib *fame.Library) cluster.Params {
	p := cluster.Params{
		Window:       c.ClusterWindow,
		MinFiles:     make(map[string]int, len(c.Ionizations)),
		Library:      lib,
		LabelOffsets: make(map[string]int),
	}
	for _, ion := range c.Ionizations {
		p.MinFiles[ion.Name] = ion.MinFiles
		if ion.LabelOffset != 0 {
			p.LabelOffsets[ion.Name] = ion.LabelOffset
		}
	}
	return p
}

// LoadLibrary loads the marker library named by the configuration
func (c *Config) LoadLibrary() (*fame.Library, error) {
	if c.Library.Preferred == "" && c.Library.Fallback == "" {
		return fame.Default()
	}
	return fame.LoadFiles(c.Library.Preferred, c.Library.Fallback)
}
