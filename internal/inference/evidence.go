package inference

import (
	"fmt"

	"cfeagent/internal/tensor"
)

// History is the append-only sequence of one-hot observations seen so far.
type History struct {
	observations int
	entries      []*tensor.Dense
}

func NewHistory(observations int) *History {
	return &History{observations: observations}
}

// Append records observation index obs.
func (h *History) Append(obs int) error {
	v, err := tensor.OneHot(h.observations, obs)
	if err != nil {
		return fmt.Errorf("record observation: %w", err)
	}
	h.entries = append(h.entries, v)
	return nil
}

func (h *History) Len() int               { return len(h.entries) }
func (h *History) At(i int) *tensor.Dense { return h.entries[i] }
func (h *History) Observations() int      { return h.observations }

// Evidence resolves which observation vector enters the likelihood term at a
// given planning step.
type Evidence struct {
	History    *History
	Horizon    int
	Preference *tensor.Dense
}

// At returns z(τ): the zero vector for unobserved non-terminal steps, the
// preference distribution at or beyond the end of the recorded history, and
// the recorded observation otherwise.
func (ev Evidence) At(tau int) *tensor.Dense {
	l := ev.History.Len()
	switch {
	case l <= tau && tau < ev.Horizon-1:
		return tensor.New(ev.Preference.Len())
	case tau >= l:
		return ev.Preference
	default:
		return ev.History.At(tau)
	}
}
