package inference

import (
	"cfeagent/internal/tensor"
)

// FreeEnergy evaluates the variational free energy of st: negated expected
// log-evidence, plus the KL complexity of the initial-state posterior, plus
// the action-weighted KL complexity of every transition posterior.
func (e *Engine) FreeEnergy(st *State, ev Evidence) float64 {
	fe := 0.0
	for tau := 0; tau < st.Horizon(); tau++ {
		fe -= inner(e.logEvidence(ev, tau), st.PriorAt(tau))
	}

	fe += inner(tensor.Sub(tensor.Log(st.DHat), e.model.logD), st.DHat)

	for tau := 0; tau < st.Horizon(); tau++ {
		diff := tensor.Sub(tensor.Log(st.BHat[tau]), e.transitionPrior(st, tau))
		joint := tensor.WeightedProduct(st.BHat[tau], st.E[tau], []int{1})
		fe += tensor.Average(diff, joint, []int{0, 1}, nil).Value()
	}
	return fe
}

// FreeEnergyWithConstant adds ⟨C, log C⟩ for every step past the recorded
// history. The term does not depend on the posterior, so it shifts the value
// without moving the minimiser.
func (e *Engine) FreeEnergyWithConstant(st *State, ev Evidence) float64 {
	fe := e.FreeEnergy(st, ev)
	negEntropy := inner(ev.Preference, tensor.Log(ev.Preference))
	for tau := ev.History.Len(); tau < st.Horizon(); tau++ {
		fe += negEntropy
	}
	return fe
}

func inner(x, y *tensor.Dense) float64 {
	return tensor.Average(x, y, []int{0}, nil).Value()
}
