package tensor

import (
	"fmt"
	"sort"
)

// Uniform returns a tensor of the given shape filled with 1/shape[dim], i.e. a
// uniform categorical distribution along axis dim.
func Uniform(shape []int, dim int) (*Dense, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: uniform requires at least one axis", ErrInvalidShape)
	}
	if dim < 0 || dim >= len(shape) {
		return nil, fmt.Errorf("%w: uniform axis %d for rank %d", ErrInvalidIndex, dim, len(shape))
	}
	for _, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShape, shape)
		}
	}
	t := New(shape...)
	v := 1.0 / float64(shape[dim])
	for i := range t.data {
		t.data[i] = v
	}
	return t, nil
}

// OneHot returns the unit vector of length n with a one at index.
func OneHot(n, index int) (*Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: one-hot length %d", ErrInvalidShape, n)
	}
	if index < 0 || index >= n {
		return nil, fmt.Errorf("%w: one-hot index %d outside [0,%d)", ErrInvalidIndex, index, n)
	}
	t := New(n)
	t.data[index] = 1
	return t, nil
}

// Expand inserts a new axis at position axis and repeats the content of x n
// times along it.
func Expand(x *Dense, n, axis int) *Dense {
	if axis < 0 || axis > x.Rank() {
		panic(fmt.Sprintf("tensor: expand axis %d for rank %d", axis, x.Rank()))
	}
	shape := make([]int, 0, x.Rank()+1)
	shape = append(shape, x.shape[:axis]...)
	shape = append(shape, n)
	shape = append(shape, x.shape[axis:]...)
	out := New(shape...)

	outer := 1
	for _, d := range x.shape[:axis] {
		outer *= d
	}
	inner := len(x.data) / outer
	pos := 0
	for o := 0; o < outer; o++ {
		block := x.data[o*inner : (o+1)*inner]
		for r := 0; r < n; r++ {
			copy(out.data[pos:pos+inner], block)
			pos += inner
		}
	}
	return out
}

// Transpose permutes the axes of x: axis i of the result is axis perm[i] of x.
func Transpose(x *Dense, perm []int) *Dense {
	if len(perm) != x.Rank() || !isPermutation(perm) {
		panic(fmt.Sprintf("tensor: invalid permutation %v for rank %d", perm, x.Rank()))
	}
	shape := make([]int, len(perm))
	for i, p := range perm {
		shape[i] = x.shape[p]
	}
	out := New(shape...)
	idx := make([]int, len(shape))
	for pos := range out.data {
		src := 0
		for i, p := range perm {
			src += idx[i] * x.strides[p]
		}
		out.data[pos] = x.data[src]
		increment(idx, shape)
	}
	return out
}

// SumAxis sums x over one axis, removing it.
func SumAxis(x *Dense, axis int) *Dense {
	if axis < 0 || axis >= x.Rank() {
		panic(fmt.Sprintf("tensor: sum axis %d for rank %d", axis, x.Rank()))
	}
	shape := make([]int, 0, x.Rank()-1)
	shape = append(shape, x.shape[:axis]...)
	shape = append(shape, x.shape[axis+1:]...)
	out := New(shape...)

	n := x.shape[axis]
	inner := x.strides[axis]
	outer := len(x.data) / (n * inner)
	for o := 0; o < outer; o++ {
		for r := 0; r < n; r++ {
			base := (o*n + r) * inner
			for i := 0; i < inner; i++ {
				out.data[o*inner+i] += x.data[base+i]
			}
		}
	}
	return out
}

// WeightedProduct returns x1 ⊙ aligned(x2), where axis k of x2 corresponds to
// axis match[k] of x1. x2 must have rank len(match) and matching extents; the
// axes of x1 absent from match are broadcast into x2 (in x1's axis order,
// appended after the matched axes) and the result is permuted back into x1's
// axis order, so the returned tensor always has x1's shape.
func WeightedProduct(x1, x2 *Dense, match []int) *Dense {
	checkMatch(x1, x2, match)

	matched := make(map[int]int, len(match))
	for k, axis := range match {
		matched[axis] = k
	}
	var notMatched []int
	for i := 0; i < x1.Rank(); i++ {
		if _, ok := matched[i]; !ok {
			notMatched = append(notMatched, i)
		}
	}

	aligned := x2
	for _, axis := range notMatched {
		aligned = Expand(aligned, x1.shape[axis], aligned.Rank())
	}

	perm := make([]int, x1.Rank())
	for i := range perm {
		if k, ok := matched[i]; ok {
			perm[i] = k
			continue
		}
		perm[i] = len(match) + indexOf(notMatched, i)
	}
	aligned = Transpose(aligned, perm)

	out := x1.Clone()
	for i := range out.data {
		out.data[i] *= aligned.data[i]
	}
	return out
}

// Average computes WeightedProduct(x1, x2, match) and then sums over every
// axis of match that is not listed in keep. Reduction runs from the highest
// axis index down so that lower indices stay valid.
func Average(x1, x2 *Dense, match, keep []int) *Dense {
	out := WeightedProduct(x1, x2, match)

	kept := make(map[int]bool, len(keep))
	for _, axis := range keep {
		kept[axis] = true
	}
	reduce := make([]int, 0, len(match))
	for _, axis := range match {
		if !kept[axis] {
			reduce = append(reduce, axis)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(reduce)))
	for _, axis := range reduce {
		out = SumAxis(out, axis)
	}
	return out
}

func checkMatch(x1, x2 *Dense, match []int) {
	if x2.Rank() != len(match) {
		panic(fmt.Sprintf("tensor: weighted product needs rank(x2)=%d to equal len(match)=%d", x2.Rank(), len(match)))
	}
	seen := make(map[int]bool, len(match))
	for k, axis := range match {
		if axis < 0 || axis >= x1.Rank() || seen[axis] {
			panic(fmt.Sprintf("tensor: invalid match axes %v for rank %d", match, x1.Rank()))
		}
		seen[axis] = true
		if x1.shape[axis] != x2.shape[k] {
			panic(fmt.Sprintf("tensor: match axis %d has extent %d in x1 but %d in x2", axis, x1.shape[axis], x2.shape[k]))
		}
	}
}

func isPermutation(perm []int) bool {
	seen := make([]bool, len(perm))
	for _, p := range perm {
		if p < 0 || p >= len(perm) || seen[p] {
			return false
		}
		seen[p] = true
	}
	return true
}

func indexOf(values []int, v int) int {
	for i, x := range values {
		if x == v {
			return i
		}
	}
	return -1
}

// increment advances a row-major multi-index.
func increment(idx, shape []int) {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < shape[i] {
			return
		}
		idx[i] = 0
	}
}
