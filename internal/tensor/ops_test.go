package tensor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestOneHot(t *testing.T) {
	for n := 1; n <= 6; n++ {
		for i := 0; i < n; i++ {
			v, err := OneHot(n, i)
			require.NoError(t, err)
			require.Equal(t, []int{n}, v.Shape())
			assert.InDelta(t, 1.0, floats.Sum(v.Data()), 1e-12)
			for j := 0; j < n; j++ {
				want := 0.0
				if j == i {
					want = 1
				}
				assert.Equal(t, want, v.At(j))
			}
		}
	}
}

func TestOneHotRejectsOutOfRange(t *testing.T) {
	_, err := OneHot(3, 3)
	require.ErrorIs(t, err, ErrInvalidIndex)
	_, err = OneHot(3, -1)
	require.ErrorIs(t, err, ErrInvalidIndex)
	_, err = OneHot(0, 0)
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestUniformSumsToOneAlongDim(t *testing.T) {
	shapes := [][]int{{4}, {3, 2}, {2, 3, 5}, {2, 2, 2, 3}}
	for _, shape := range shapes {
		for dim := range shape {
			u, err := Uniform(shape, dim)
			require.NoError(t, err)
			sums := SumAxis(u, dim)
			for _, s := range sums.Data() {
				assert.InDelta(t, 1.0, s, 1e-12, "shape=%v dim=%d", shape, dim)
			}
		}
	}
}

func TestUniformRejectsBadAxis(t *testing.T) {
	_, err := Uniform([]int{2, 3}, 2)
	require.ErrorIs(t, err, ErrInvalidIndex)
	_, err = Uniform(nil, 0)
	require.ErrorIs(t, err, ErrInvalidShape)
}

func TestExpandRepeatsAlongNewAxis(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3}, 3)

	front := Expand(x, 2, 0)
	require.Equal(t, []int{2, 3}, front.Shape())
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, front.Data())

	back := Expand(x, 2, 1)
	require.Equal(t, []int{3, 2}, back.Shape())
	assert.Equal(t, []float64{1, 1, 2, 2, 3, 3}, back.Data())
}

func TestSumAxis(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, []float64{5, 7, 9}, SumAxis(x, 0).Data())
	assert.Equal(t, []float64{6, 15}, SumAxis(x, 1).Data())
	assert.Equal(t, 21.0, SumAxis(SumAxis(x, 1), 0).Value())
}

func TestTranspose(t *testing.T) {
	x := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	y := Transpose(x, []int{1, 0})
	require.Equal(t, []int{3, 2}, y.Shape())
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, x.At(i, j), y.At(j, i))
		}
	}
}

func TestAverageWithoutMatchIsScalarBroadcast(t *testing.T) {
	x := FromSlice([]float64{1, -2, 3, 0.5, 4, 6}, 3, 2)
	got := Average(x, Scalar(2.5), nil, nil)
	require.Equal(t, x.Shape(), got.Shape())
	for i, v := range x.Data() {
		assert.InDelta(t, 2.5*v, got.Data()[i], 1e-12)
	}
}

func TestAverageMarginalises(t *testing.T) {
	// Joint over (state, action) times a distribution over actions, reduced
	// over actions, is a matrix-vector product.
	b := FromSlice([]float64{0.2, 0.6, 0.8, 0.4}, 2, 2)
	e := FromSlice([]float64{0.25, 0.75}, 2)
	got := Average(b, e, []int{1}, nil)
	require.Equal(t, []int{2}, got.Shape())
	assert.InDelta(t, 0.2*0.25+0.6*0.75, got.At(0), 1e-12)
	assert.InDelta(t, 0.8*0.25+0.4*0.75, got.At(1), 1e-12)

	kept := Average(b, e, []int{1}, []int{1})
	assert.Equal(t, []int{2, 2}, kept.Shape())
}

func TestAverageKeepsListedAxes(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	x := randomDense(rng, 3, 4, 2)
	w := randomDense(rng, 3, 2)

	got := Average(x, w, []int{0, 2}, []int{2})
	require.Equal(t, []int{4, 2}, got.Shape())
	for s := 0; s < 4; s++ {
		for a := 0; a < 2; a++ {
			want := 0.0
			for n := 0; n < 3; n++ {
				want += x.At(n, s, a) * w.At(n, a)
			}
			assert.InDelta(t, want, got.At(s, a), 1e-12)
		}
	}
}

func TestWeightedProductMatchesNestedLoopReference(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := 0; trial < 25; trial++ {
		s := 1 + rng.IntN(5)
		a := 1 + rng.IntN(4)
		x1 := randomDense(rng, s, s, a)
		x2 := randomDense(rng, s, a)

		got := WeightedProduct(x1, x2, []int{0, 2})
		require.Equal(t, []int{s, s, a}, got.Shape())

		want := New(s, s, a)
		for i := 0; i < s; i++ {
			for j := 0; j < s; j++ {
				for k := 0; k < a; k++ {
					want.Set(x1.At(i, j, k)*x2.At(i, k), i, j, k)
				}
			}
		}
		require.True(t, AllClose(want, got, 1e-12), "trial %d: want %v got %v", trial, want, got)
	}
}

func TestWeightedProductOnMiddleAxis(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	x1 := randomDense(rng, 2, 3, 4)
	x2 := randomDense(rng, 3)
	got := WeightedProduct(x1, x2, []int{1})
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				assert.InDelta(t, x1.At(i, j, k)*x2.At(j), got.At(i, j, k), 1e-12)
			}
		}
	}
}

func TestWeightedProductPanicsOnShapeMismatch(t *testing.T) {
	x1 := New(2, 3)
	assert.Panics(t, func() { WeightedProduct(x1, New(3), []int{0}) })
	assert.Panics(t, func() { WeightedProduct(x1, New(2), []int{0, 1}) })
	assert.Panics(t, func() { WeightedProduct(x1, New(2, 2), []int{0, 0}) })
}

func TestSoftmaxAxis0NormalisesColumns(t *testing.T) {
	x := FromSlice([]float64{-1, 3, 0, 2, 7, -40}, 3, 2)
	y := SoftmaxAxis0(x)
	for _, s := range SumAxis(y, 0).Data() {
		assert.InDelta(t, 1.0, s, 1e-12)
	}
	assert.Greater(t, y.At(2, 0), y.At(1, 0))
}

func TestLogIsFloored(t *testing.T) {
	y := Log(FromSlice([]float64{0, 1}, 2))
	assert.InDelta(t, -36.84, y.At(0), 0.01)
	assert.Equal(t, 0.0, y.At(1))
}

func randomDense(rng *rand.Rand, shape ...int) *Dense {
	t := New(shape...)
	for i := range t.Data() {
		t.Data()[i] = rng.Float64()*2 - 1
	}
	return t
}
