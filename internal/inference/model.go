package inference

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"cfeagent/internal/tensor"
)

const stochasticTolerance = 1e-6

var ErrInvalidModel = errors.New("invalid generative model")

// Model is the generative model (A, B, D) of a controllable hidden Markov
// chain. It is immutable once built; the floored logarithms used by every
// update equation are computed once.
type Model struct {
	A *tensor.Dense // [observations x states]
	B *tensor.Dense // [next state x state x action]
	D *tensor.Dense // [states]

	logA *tensor.Dense
	logB *tensor.Dense
	logD *tensor.Dense
}

// NewModel validates and copies A, B and D.
func NewModel(a, b, d *tensor.Dense) (*Model, error) {
	if a == nil || b == nil || d == nil {
		return nil, fmt.Errorf("%w: A, B and D are required", ErrInvalidModel)
	}
	if a.Rank() != 2 || b.Rank() != 3 || d.Rank() != 1 {
		return nil, fmt.Errorf("%w: ranks A=%d B=%d D=%d, want 2, 3, 1", ErrInvalidModel, a.Rank(), b.Rank(), d.Rank())
	}
	states := d.Dim(0)
	if a.Dim(1) != states || b.Dim(0) != states || b.Dim(1) != states {
		return nil, fmt.Errorf("%w: shapes A=%v B=%v D=%v disagree on states", ErrInvalidModel, a.Shape(), b.Shape(), d.Shape())
	}
	if err := checkDistribution("D", d.Data()); err != nil {
		return nil, err
	}
	for s := 0; s < states; s++ {
		if err := checkDistribution(fmt.Sprintf("A[:,%d]", s), a.Column(s)); err != nil {
			return nil, err
		}
	}
	col := make([]float64, states)
	for act := 0; act < b.Dim(2); act++ {
		for s := 0; s < states; s++ {
			for next := 0; next < states; next++ {
				col[next] = b.At(next, s, act)
			}
			if err := checkDistribution(fmt.Sprintf("B[:,%d,%d]", s, act), col); err != nil {
				return nil, err
			}
		}
	}

	m := &Model{A: a.Clone(), B: b.Clone(), D: d.Clone()}
	m.logA = tensor.Log(m.A)
	m.logB = tensor.Log(m.B)
	m.logD = tensor.Log(m.D)
	return m, nil
}

func checkDistribution(name string, p []float64) error {
	for _, v := range p {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("%w: %s has negative or NaN entries", ErrInvalidModel, name)
		}
	}
	if sum := floats.Sum(p); math.Abs(sum-1) > stochasticTolerance {
		return fmt.Errorf("%w: %s sums to %g", ErrInvalidModel, name, sum)
	}
	return nil
}

func (m *Model) Observations() int { return m.A.Dim(0) }
func (m *Model) States() int       { return m.D.Dim(0) }
func (m *Model) Actions() int      { return m.B.Dim(2) }
