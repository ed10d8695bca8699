package inference

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrSampleIndex = errors.New("planning index outside the horizon")

// Sampler draws executed actions from the action posterior.
type Sampler struct {
	src rand.Source
}

func NewSampler(src rand.Source) *Sampler {
	return &Sampler{src: src}
}

// Sample draws one action index from E[index].
func (s *Sampler) Sample(st *State, index int) (int, error) {
	if index < 0 || index >= st.Horizon() {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrSampleIndex, index, st.Horizon())
	}
	weights := st.E[index].Vector()
	for i, w := range weights {
		if w < 0 {
			weights[i] = 0
		}
	}
	if floats.Sum(weights) <= 0 {
		return 0, fmt.Errorf("action posterior at step %d has no mass", index)
	}
	return int(distuv.NewCategorical(weights, s.src).Rand()), nil
}
