package inference

import (
	"errors"
	"fmt"

	"cfeagent/internal/tensor"
)

var ErrInvalidPlan = errors.New("invalid fixed plan")

// UpdateActions recomputes the action posterior with the engine's strategy:
// the fixed plan when one is configured, the simplex-constrained optimisation
// otherwise.
func (e *Engine) UpdateActions(st *State, ev Evidence) (*State, error) {
	if e.plan != nil {
		return e.UpdateActionsFixed(st, e.plan)
	}
	return e.UpdateActionsOptimized(st, ev)
}

// UpdateActionsFixed collapses every E[τ] onto plan[τ].
func (e *Engine) UpdateActionsFixed(st *State, plan []int) (*State, error) {
	if len(plan) != st.Horizon() {
		return nil, fmt.Errorf("%w: %d actions for horizon %d", ErrInvalidPlan, len(plan), st.Horizon())
	}
	out := st.next()
	for tau, action := range plan {
		v, err := tensor.OneHot(e.model.Actions(), action)
		if err != nil {
			return nil, fmt.Errorf("%w: step %d: %w", ErrInvalidPlan, tau, err)
		}
		out.E[tau] = v
	}
	return out, nil
}

// UpdateActionsOptimized sets each E[τ] to the minimiser over the simplex of
// the expected-free-energy weights of step τ.
func (e *Engine) UpdateActionsOptimized(st *State, ev Evidence) (*State, error) {
	out := st.next()
	for tau := 0; tau < out.Horizon(); tau++ {
		w := e.actionWeights(out, ev, tau)
		q, err := e.solver.Minimize(w.Vector())
		if err != nil {
			return nil, fmt.Errorf("action posterior at step %d: %w", tau, err)
		}
		if len(q) != e.model.Actions() {
			return nil, fmt.Errorf("%w: step %d returned %d values for %d actions", ErrSolver, tau, len(q), e.model.Actions())
		}
		out.E[tau] = tensor.FromSlice(q, len(q))
	}
	return out, nil
}

// actionWeights returns w(τ), one scalar per action: the expected cost of the
// next-step evidence, the entropy of BHat[τ] and the negated transition prior
// out of the state after τ, all averaged under BHat[τ].
func (e *Engine) actionWeights(st *State, ev Evidence, tau int) *tensor.Dense {
	actions := e.model.Actions()
	s := tensor.Expand(tensor.Scale(-1, e.logEvidence(ev, tau+1)), actions, 1)
	s = tensor.Add(s, tensor.Log(st.BHat[tau]))
	s = tensor.Sub(s, e.transitionPrior(st, tau+1))
	return tensor.Average(s, st.BHat[tau], []int{0, 1}, []int{1})
}
