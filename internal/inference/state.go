package inference

import (
	"errors"
	"fmt"

	"cfeagent/internal/tensor"
)

var ErrHorizon = errors.New("time horizon must be at least one")

// State is the variational posterior at one point of the fixed-point
// iteration. Updates never mutate a State in place; they return a successor
// with Version incremented.
type State struct {
	Version int
	// DHat is the posterior over the initial hidden state.
	DHat *tensor.Dense
	// BHat[τ] is the posterior over the state reached at τ+1 given the action
	// taken at τ, shaped [states x actions].
	BHat []*tensor.Dense
	// E[τ] is the posterior over the action taken at τ.
	E []*tensor.Dense
}

// NewState returns uniform beliefs over a horizon of T steps.
func NewState(m *Model, horizon int) (*State, error) {
	if horizon < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrHorizon, horizon)
	}
	dHat, err := tensor.Uniform([]int{m.States()}, 0)
	if err != nil {
		return nil, err
	}
	st := &State{
		DHat: dHat,
		BHat: make([]*tensor.Dense, horizon),
		E:    make([]*tensor.Dense, horizon),
	}
	for tau := 0; tau < horizon; tau++ {
		if st.BHat[tau], err = tensor.Uniform([]int{m.States(), m.Actions()}, 0); err != nil {
			return nil, err
		}
		if st.E[tau], err = tensor.Uniform([]int{m.Actions()}, 0); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *State) Horizon() int { return len(s.BHat) }

// next returns a deep copy of s carrying the following version number.
func (s *State) next() *State {
	out := &State{
		Version: s.Version + 1,
		DHat:    s.DHat.Clone(),
		BHat:    make([]*tensor.Dense, len(s.BHat)),
		E:       make([]*tensor.Dense, len(s.E)),
	}
	for i := range s.BHat {
		out.BHat[i] = s.BHat[i].Clone()
		out.E[i] = s.E[i].Clone()
	}
	return out
}

// PriorAt is the belief about the state entering step τ: DHat for τ = 0 and
// the action-marginal of BHat[τ-1] otherwise.
func (s *State) PriorAt(tau int) *tensor.Dense {
	if tau == 0 {
		return s.DHat
	}
	return tensor.Average(s.BHat[tau-1], s.E[tau-1], []int{1}, nil)
}
