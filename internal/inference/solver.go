package inference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

var ErrSolver = errors.New("simplex solver failed")

// SimplexMinimizer minimises the linear functional wᵀq over the probability
// simplex {q : q >= 0, Σq = 1}. Implementations must not keep state between
// calls.
type SimplexMinimizer interface {
	Minimize(w []float64) ([]float64, error)
}

// LPSolver solves the problem as a linear program in standard form with the
// simplex method.
type LPSolver struct {
	// Tolerance is passed to the simplex method; zero selects 1e-10.
	Tolerance float64
}

func (s LPSolver) Minimize(w []float64) ([]float64, error) {
	if err := checkWeights(w); err != nil {
		return nil, err
	}
	if len(w) == 1 {
		return []float64{1}, nil
	}
	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-10
	}
	ones := make([]float64, len(w))
	for i := range ones {
		ones[i] = 1
	}
	a := mat.NewDense(1, len(w), ones)
	_, q, err := lp.Simplex(w, a, []float64{1}, tol, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSolver, err)
	}
	return q, nil
}

// VertexSolver returns the exact minimiser of a linear objective over the
// simplex: all mass on the first minimising coordinate.
type VertexSolver struct{}

func (VertexSolver) Minimize(w []float64) ([]float64, error) {
	if err := checkWeights(w); err != nil {
		return nil, err
	}
	q := make([]float64, len(w))
	q[floats.MinIdx(w)] = 1
	return q, nil
}

// SoftmaxSolver minimises wᵀq - Temperature·H(q) instead of the plain linear
// objective, which has the closed form q ∝ exp(-w/Temperature). It is only
// used when selected explicitly.
type SoftmaxSolver struct {
	Temperature float64
}

func (s SoftmaxSolver) Minimize(w []float64) ([]float64, error) {
	if err := checkWeights(w); err != nil {
		return nil, err
	}
	if s.Temperature <= 0 {
		return nil, fmt.Errorf("%w: softmax temperature must be positive, got %g", ErrSolver, s.Temperature)
	}
	q := make([]float64, len(w))
	for i, v := range w {
		q[i] = -v / s.Temperature
	}
	lse := floats.LogSumExp(q)
	for i := range q {
		q[i] = math.Exp(q[i] - lse)
	}
	return q, nil
}

func checkWeights(w []float64) error {
	if len(w) == 0 {
		return fmt.Errorf("%w: empty weight vector", ErrSolver)
	}
	for i, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight %d is %g", ErrSolver, i, v)
		}
	}
	return nil
}

// NewSolver maps a solver name to an implementation.
func NewSolver(name string, temperature float64) (SimplexMinimizer, error) {
	switch name {
	case "", "lp":
		return LPSolver{}, nil
	case "vertex", "argmin":
		return VertexSolver{}, nil
	case "softmax":
		return SoftmaxSolver{Temperature: temperature}, nil
	default:
		return nil, fmt.Errorf("unsupported solver: %s", name)
	}
}
