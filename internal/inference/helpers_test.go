package inference

import (
	"testing"

	"github.com/stretchr/testify/require"

	"cfeagent/internal/tensor"
)

// deterministicModel has two states and two actions: action 0 always leads to
// state 0 and action 1 always to state 1. Observations identify the state.
func deterministicModel(t *testing.T) *Model {
	t.Helper()
	a := tensor.FromSlice([]float64{1, 0, 0, 1}, 2, 2)
	b := tensor.New(2, 2, 2)
	for s := 0; s < 2; s++ {
		b.Set(1, 0, s, 0)
		b.Set(1, 1, s, 1)
	}
	d := tensor.FromSlice([]float64{1, 0}, 2)
	m, err := NewModel(a, b, d)
	require.NoError(t, err)
	return m
}

// noisyModel is a small fully stochastic model with no zero entries.
func noisyModel(t *testing.T) *Model {
	t.Helper()
	a := tensor.FromSlice([]float64{
		0.9, 0.2,
		0.1, 0.8,
	}, 2, 2)
	b := tensor.New(2, 2, 2)
	columns := map[[2]int][2]float64{
		{0, 0}: {0.9, 0.1},
		{1, 0}: {0.7, 0.3},
		{0, 1}: {0.2, 0.8},
		{1, 1}: {0.1, 0.9},
	}
	for key, col := range columns {
		s, act := key[0], key[1]
		b.Set(col[0], 0, s, act)
		b.Set(col[1], 1, s, act)
	}
	d := tensor.FromSlice([]float64{0.6, 0.4}, 2)
	m, err := NewModel(a, b, d)
	require.NoError(t, err)
	return m
}

// descentModel is a 2-state, 2-action, 2-observation model on which the
// coordinate descent decreases the free energy at every sweep.
func descentModel(t *testing.T) *Model {
	t.Helper()
	a := tensor.FromSlice([]float64{
		0.9, 0.1,
		0.1, 0.9,
	}, 2, 2)
	b := tensor.New(2, 2, 2)
	columns := map[[2]int][2]float64{
		{0, 0}: {0.9, 0.1},
		{1, 0}: {0.9, 0.1},
		{0, 1}: {0.1, 0.9},
		{1, 1}: {0.7, 0.3},
	}
	for key, col := range columns {
		s, act := key[0], key[1]
		b.Set(col[0], 0, s, act)
		b.Set(col[1], 1, s, act)
	}
	d := tensor.FromSlice([]float64{0.8, 0.2}, 2)
	m, err := NewModel(a, b, d)
	require.NoError(t, err)
	return m
}

func evidenceFor(t *testing.T, m *Model, horizon, preferred int, observed ...int) Evidence {
	t.Helper()
	h := NewHistory(m.Observations())
	for _, o := range observed {
		require.NoError(t, h.Append(o))
	}
	c, err := tensor.OneHot(m.Observations(), preferred)
	require.NoError(t, err)
	return Evidence{History: h, Horizon: horizon, Preference: c}
}

func requireNormalised(t *testing.T, st *State) {
	t.Helper()
	sum := 0.0
	for _, v := range st.DHat.Data() {
		sum += v
	}
	require.InDelta(t, 1.0, sum, 1e-6, "d_hat")
	for tau, b := range st.BHat {
		for _, s := range tensor.SumAxis(b, 0).Data() {
			require.InDelta(t, 1.0, s, 1e-6, "b_hat[%d]", tau)
		}
		total := 0.0
		for _, v := range st.E[tau].Data() {
			total += v
		}
		require.InDelta(t, 1.0, total, 1e-6, "e[%d]", tau)
	}
}
