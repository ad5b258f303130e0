// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package regression fits polynomials that map one retention coordinate
// onto another, e.g. retention time onto retention index.
package regression

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTooFewPoints means less than 2 distinct x values were supplied
	ErrTooFewPoints = errors.New("regression: at least 2 distinct points needed")
	// ErrLengthMismatch means xs and ys differ in length
	ErrLengthMismatch = errors.New("regression: xs and ys differ in length")
)

// Fit is a least squares polynomial y = p(x).
// x values are centered and scaled before fitting to keep the
// Vandermonde matrix well conditioned.
type Fit struct {
	xs     []float64 // Strictly increasing
	ys     []float64
	degree int
	center float64
	scale  float64
	coef   []float64 // Coefficients in the scaled coordinate, lowest order first
}

type point struct {
	x, y float64
}

// New fits a polynomial of the given degree through (xs[i], ys[i]).
// Input may be unsorted and contain duplicate x values; points with
// equal x are merged by averaging y. The degree is clamped to
// [1, distinct points - 1], so 2 points always give a straight line.
func New(xs, ys []float64, degree int) (*Fit, error) {
	if len(xs) != len(ys) {
		return nil, ErrLengthMismatch
	}
	pts := make([]point, len(xs))
	for i := range xs {
		pts[i] = point{xs[i], ys[i]}
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].x < pts[j].x })

	f := &Fit{}
	n := 0
	for i := 0; i < len(pts); {
		j := i
		sum := 0.0
		for j < len(pts) && pts[j].x == pts[i].x {
			sum += pts[j].y
			j++
		}
		f.xs = append(f.xs, pts[i].x)
		f.ys = append(f.ys, sum/float64(j-i))
		n++
		i = j
	}
	if n < 2 {
		return nil, ErrTooFewPoints
	}

	if degree < 1 {
		degree = 1
	}
	if degree > n-1 {
		degree = n - 1
	}
	f.degree = degree

	f.center = (f.xs[0] + f.xs[n-1]) / 2
	f.scale = (f.xs[n-1] - f.xs[0]) / 2

	a := mat.NewDense(n, degree+1, nil)
	for i, x := range f.xs {
		t := (x - f.center) / f.scale
		p := 1.0
		for k := 0; k <= degree; k++ {
			a.Set(i, k, p)
			p *= t
		}
	}
	var c mat.VecDense
	err := c.SolveVec(a, mat.NewVecDense(n, f.ys))
	if err != nil {
		// An ill conditioned system still produces a usable solution
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, err
		}
	}
	f.coef = make([]float64, degree+1)
	for k := range f.coef {
		f.coef[k] = c.AtVec(k)
	}
	return f, nil
}

// Evaluate computes p(x). It is defined for any x; outside the fitted
// range the polynomial is extrapolated.
func (f *Fit) Evaluate(x float64) float64 {
	t := (x - f.center) / f.scale
	y := 0.0
	for k := len(f.coef) - 1; k >= 0; k-- {
		y = y*t + f.coef[k]
	}
	return y
}

// Degree returns the degree that was actually fitted
func (f *Fit) Degree() int {
	return f.degree
}

// Points returns the (merged, sorted) points the fit is based on
func (f *Fit) Points() ([]float64, []float64) {
	return f.xs, f.ys
}

// RMSE returns the root mean squared residual at the fitted points
func (f *Fit) RMSE() float64 {
	sum := 0.0
	for i, x := range f.xs {
		d := f.Evaluate(x) - f.ys[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(f.xs)))
}
