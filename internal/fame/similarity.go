// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package fame

import (
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/524D/mzfame/internal/spectrum"
)

// MaxSimilarity is the score of two identical spectra
const MaxSimilarity = 1000.0

// Similarity computes the cosine similarity of two spectra on a 0-1000
// scale. Both spectra are binned to nominal mass and normalised to
// percent of their base peak. The function only reads its arguments.
func Similarity(reference, candidate []spectrum.Peak) float64 {
	ref := nominalSpectrum(reference)
	cand := nominalSpectrum(candidate)
	if len(ref) == 0 || len(cand) == 0 {
		return 0
	}

	masses := make([]int, 0, len(ref)+len(cand))
	for m := range ref {
		masses = append(masses, m)
	}
	for m := range cand {
		if _, ok := ref[m]; !ok {
			masses = append(masses, m)
		}
	}
	sort.Ints(masses)

	a := make([]float64, len(masses))
	b := make([]float64, len(masses))
	for i, m := range masses {
		a[i] = ref[m]
		b[i] = cand[m]
	}
	normalize(a)
	normalize(b)

	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return MaxSimilarity * floats.Dot(a, b) / (na * nb)
}

// nominalSpectrum sums intensities per nominal mass, ignoring empty peaks
func nominalSpectrum(peaks []spectrum.Peak) map[int]float64 {
	s := make(map[int]float64, len(peaks))
	for _, p := range peaks {
		if p.Intens > 0 {
			s[p.Nominal()] += p.Intens
		}
	}
	return s
}

// normalize scales v to percent of its maximum
func normalize(v []float64) {
	max := floats.Max(v)
	if max > 0 {
		floats.Scale(100/max, v)
	}
}
