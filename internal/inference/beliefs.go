package inference

import (
	"cfeagent/internal/tensor"
)

// logEvidence is Aᵀ·log·z(τ): the log-likelihood of the evidence at τ under
// every hidden state.
func (e *Engine) logEvidence(ev Evidence, tau int) *tensor.Dense {
	return tensor.Average(e.model.logA, ev.At(tau), []int{0}, nil)
}

// lookAhead folds the belief about the state reached after step τ, weighted by
// the action posterior at τ, back onto the state entering τ.
func (e *Engine) lookAhead(st *State, tau int) *tensor.Dense {
	joint := tensor.WeightedProduct(st.BHat[tau], st.E[tau], []int{1})
	return tensor.Average(e.model.logB, joint, []int{0, 2}, nil)
}

// transitionPrior is the expected log transition out of the state entering τ,
// shaped [next state x action].
func (e *Engine) transitionPrior(st *State, tau int) *tensor.Dense {
	return tensor.Average(e.model.logB, st.PriorAt(tau), []int{1}, nil)
}

// UpdateBeliefs recomputes the posterior over the initial state and then every
// BHat[τ] in ascending order, each step seeing the already updated belief
// about the state it starts from.
func (e *Engine) UpdateBeliefs(st *State, ev Evidence) *State {
	out := st.next()
	horizon := out.Horizon()
	actions := e.model.Actions()

	s := tensor.Add(e.logEvidence(ev, 0), e.model.logD)
	if horizon > 1 {
		s = tensor.Add(s, e.lookAhead(out, 1))
	}
	out.DHat = tensor.SoftmaxAxis0(s)

	for tau := 0; tau < horizon; tau++ {
		s := tensor.Expand(e.logEvidence(ev, tau+1), actions, 1)
		if tau+1 != horizon {
			s = tensor.Add(s, tensor.Expand(e.lookAhead(out, tau+1), actions, 1))
		}
		s = tensor.Add(s, e.transitionPrior(out, tau))
		out.BHat[tau] = tensor.SoftmaxAxis0(s)
	}
	return out
}
