// Package tensor implements the small dense-tensor algebra used by the
// inference engine: construction of categorical distributions, broadcasting
// along a new axis, and the weighted-product / average contraction that every
// belief update is written in.
package tensor

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// LogFloor bounds the argument of Log so that zero probabilities map to a
// large finite negative number instead of -Inf.
const LogFloor = 1e-16

var (
	ErrInvalidShape = errors.New("invalid tensor shape")
	ErrInvalidIndex = errors.New("invalid tensor index")
)

// Dense is a row-major tensor of float64. A zero-length shape is a scalar.
type Dense struct {
	shape   []int
	strides []int
	data    []float64
}

// New returns a zero tensor with the given shape. It panics on non-positive
// extents.
func New(shape ...int) *Dense {
	size := 1
	for _, n := range shape {
		if n <= 0 {
			panic(fmt.Sprintf("tensor: non-positive extent in shape %v", shape))
		}
		size *= n
	}
	return &Dense{
		shape:   append([]int(nil), shape...),
		strides: stridesOf(shape),
		data:    make([]float64, size),
	}
}

// FromSlice wraps a copy of data with the given shape.
func FromSlice(data []float64, shape ...int) *Dense {
	t := New(shape...)
	if len(data) != len(t.data) {
		panic(fmt.Sprintf("tensor: %d values do not fit shape %v", len(data), shape))
	}
	copy(t.data, data)
	return t
}

// Scalar returns a rank-0 tensor holding v.
func Scalar(v float64) *Dense {
	t := New()
	t.data[0] = v
	return t
}

func stridesOf(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

func (t *Dense) Shape() []int     { return append([]int(nil), t.shape...) }
func (t *Dense) Rank() int        { return len(t.shape) }
func (t *Dense) Len() int         { return len(t.data) }
func (t *Dense) Dim(axis int) int { return t.shape[axis] }

// Data exposes the backing slice in row-major order.
func (t *Dense) Data() []float64 { return t.data }

func (t *Dense) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v for shape %v", idx, t.shape))
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off += v * t.strides[i]
	}
	return off
}

func (t *Dense) At(idx ...int) float64     { return t.data[t.offset(idx)] }
func (t *Dense) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

// Value returns the single element of a rank-0 tensor.
func (t *Dense) Value() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor: Value on shape %v", t.shape))
	}
	return t.data[0]
}

// Vector returns a copy of the data of a rank-1 tensor.
func (t *Dense) Vector() []float64 {
	if t.Rank() != 1 {
		panic(fmt.Sprintf("tensor: Vector on shape %v", t.shape))
	}
	return append([]float64(nil), t.data...)
}

func (t *Dense) Clone() *Dense {
	return FromSlice(t.data, t.shape...)
}

// Column returns the rank-1 slice x[:, j] of a rank-2 tensor.
func (t *Dense) Column(j int) []float64 {
	if t.Rank() != 2 {
		panic(fmt.Sprintf("tensor: Column on shape %v", t.shape))
	}
	out := make([]float64, t.shape[0])
	for i := range out {
		out[i] = t.data[i*t.strides[0]+j]
	}
	return out
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func mustSameShape(op string, a, b *Dense) {
	if !sameShape(a.shape, b.shape) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %v vs %v", op, a.shape, b.shape))
	}
}

// Add returns the elementwise sum of tensors of identical shape.
func Add(x *Dense, ys ...*Dense) *Dense {
	out := x.Clone()
	for _, y := range ys {
		mustSameShape("add", out, y)
		floats.Add(out.data, y.data)
	}
	return out
}

// Sub returns x - y.
func Sub(x, y *Dense) *Dense {
	mustSameShape("sub", x, y)
	out := x.Clone()
	floats.Sub(out.data, y.data)
	return out
}

// Scale returns c*x.
func Scale(c float64, x *Dense) *Dense {
	out := x.Clone()
	floats.Scale(c, out.data)
	return out
}

// Log returns the elementwise natural logarithm with arguments floored at
// LogFloor.
func Log(x *Dense) *Dense {
	out := x.Clone()
	for i, v := range out.data {
		out.data[i] = math.Log(math.Max(v, LogFloor))
	}
	return out
}

// SoftmaxAxis0 normalises exp(x) along axis 0, independently for every
// combination of the remaining axes.
func SoftmaxAxis0(x *Dense) *Dense {
	if x.Rank() == 0 {
		panic("tensor: softmax of a scalar")
	}
	out := x.Clone()
	n := x.shape[0]
	inner := x.strides[0]
	col := make([]float64, n)
	for j := 0; j < inner; j++ {
		for i := 0; i < n; i++ {
			col[i] = x.data[i*inner+j]
		}
		lse := floats.LogSumExp(col)
		for i := 0; i < n; i++ {
			out.data[i*inner+j] = math.Exp(col[i] - lse)
		}
	}
	return out
}

// AllClose reports whether x and y have the same shape and every pair of
// elements differs by at most tol.
func AllClose(x, y *Dense, tol float64) bool {
	if !sameShape(x.shape, y.shape) {
		return false
	}
	return floats.EqualApprox(x.data, y.data, tol)
}

func (t *Dense) String() string {
	return fmt.Sprintf("Dense%v%v", t.shape, t.data)
}
