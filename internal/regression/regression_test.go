package regression

import (
	"errors"
	"math"
	"testing"
)

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestSelfConsistency(t *testing.T) {
	tests := []struct {
		name   string
		xs, ys []float64
		degree int
	}{
		{"two points", []float64{100, 200}, []float64{262320, 323120}, 1},
		{"three points quadratic", []float64{250, 300, 420}, []float64{262320, 323120, 381020}, 2},
		{"degree above points", []float64{250, 300, 420}, []float64{262320, 323120, 381020}, 5},
		{"fame series cubic", []float64{255.1, 308.7, 361.9, 459.3, 548.4, 629.8, 704.9},
			[]float64{262320, 323120, 381020, 487220, 582620, 668720, 747420}, 6},
		{"unsorted", []float64{3, 1, 2}, []float64{9, 1, 4}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := New(tt.xs, tt.ys, tt.degree)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			for i, x := range tt.xs {
				if got := f.Evaluate(x); !approx(got, tt.ys[i], 1e-6) {
					t.Errorf("Evaluate(%f) = %f, want %f", x, got, tt.ys[i])
				}
			}
		})
	}
}

func TestDegreeClamp(t *testing.T) {
	f, err := New([]float64{1, 2}, []float64{2, 4}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if f.Degree() != 1 {
		t.Errorf("Degree: got %d, want 1", f.Degree())
	}
	f, err = New([]float64{1, 2, 3}, []float64{2, 4, 6}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if f.Degree() != 1 {
		t.Errorf("Degree: got %d, want 1", f.Degree())
	}
}

func TestExtrapolation(t *testing.T) {
	f, err := New([]float64{10, 20}, []float64{100, 200}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Evaluate(40); !approx(got, 400, 1e-9) {
		t.Errorf("Evaluate(40) = %f, want 400", got)
	}
	if got := f.Evaluate(-10); !approx(got, -100, 1e-9) {
		t.Errorf("Evaluate(-10) = %f, want -100", got)
	}
}

func TestDuplicates(t *testing.T) {
	f, err := New([]float64{1, 1, 2, 3}, []float64{1, 3, 4, 6}, 2)
	if err != nil {
		t.Fatal(err)
	}
	xs, ys := f.Points()
	if len(xs) != 3 || ys[0] != 2 {
		t.Errorf("Points: got %v %v", xs, ys)
	}
	if got := f.Evaluate(1); !approx(got, 2, 1e-9) {
		t.Errorf("Evaluate(1) = %f, want 2", got)
	}
	if f.RMSE() > 1e-9 {
		t.Errorf("RMSE %g for interpolating fit", f.RMSE())
	}
}

func TestErrors(t *testing.T) {
	if _, err := New([]float64{1, 1}, []float64{1, 2}, 1); !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
	if _, err := New(nil, nil, 1); !errors.Is(err, ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
	if _, err := New([]float64{1, 2}, []float64{1}, 1); !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestLeastSquares(t *testing.T) {
	// A straight line through noisy points passes near their mean
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{0.1, 0.9, 2.1, 2.9, 4.0}
	f, err := New(xs, ys, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Evaluate(2); !approx(got, 2.0, 0.05) {
		t.Errorf("Evaluate(2) = %f, want about 2", got)
	}
}
