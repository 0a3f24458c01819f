// Package linalg contains batched linear-algebra primitives over tensor.Dense. Each primitive
// runs per batch element on gonum. The factorizations and MatMul go through the tensor
// capability table.
package linalg

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

func lastTwo(t *tensor.Dense) (int, int) {
	s := t.Shape()
	return s[len(s)-2], s[len(s)-1]
}

// MatMul multiplies the trailing matrices of a (*, n, k) and b (*, k, m), broadcasting the
// leading dimensions.
func MatMul(a, b *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("a", a, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("b", b, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	n, k := lastTwo(a)
	if kb, _ := lastTwo(b); kb != k {
		return nil, utils.NewShapeError("b", "(*, "+strconv.Itoa(k)+", M)", b.Shape())
	}
	_, m := lastTwo(b)
	batch, err := tensor.BroadcastBatch([]int{2, 2}, a, b)
	if err != nil {
		return nil, err
	}
	outs, err := tensor.Dispatch(tensor.OpMatMul, func(args []*tensor.Dense) ([]*tensor.Dense, error) {
		ea, err := args[0].Expand(batch, 2)
		if err != nil {
			return nil, err
		}
		eb, err := args[1].Expand(batch, 2)
		if err != nil {
			return nil, err
		}
		out, err := tensor.MapBlocks(batch, tensor.Shape{n, m}, func(bi int) []float64 {
			var prod mat.Dense
			prod.Mul(ea.Matrix(bi), eb.Matrix(bi))
			return tensor.MatrixData(&prod)
		}, args[0].Like()...)
		return []*tensor.Dense{out}, err
	}, a, b)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// Transpose swaps the last two dimensions.
func Transpose(a *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("input", a, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	r, c := lastTwo(a)
	batch := a.BatchShape(2)
	return tensor.MapBlocks(batch, tensor.Shape{c, r}, func(bi int) []float64 {
		return tensor.MatrixData(a.Matrix(bi).T())
	}, a.Like()...)
}

// Det returns the determinant of every trailing square matrix, shaped like the batch.
func Det(a *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("input", a, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	if r, c := lastTwo(a); r != c {
		return nil, utils.NewShapeError("input", "(*, N, N)", a.Shape())
	}
	return tensor.MapBlocks(a.BatchShape(2), tensor.Shape{}, func(bi int) []float64 {
		m := a.Matrix(bi)
		if !isFinite(m) {
			return []float64{math.NaN()}
		}
		return []float64{mat.Det(m)}
	}, a.Like()...)
}

// WeightedGram returns Σⱼ w rⱼ rⱼᵀ over the design rows of every batch element of (*, N)
// weights. design(b) yields the rows of element b grouped by correspondence, the same number
// of rows for each, and every row of correspondence i is scaled by its weight. The result is
// (*, k, k).
func WeightedGram(weights *tensor.Dense, k int, design func(b int) [][]float64) (*tensor.Dense, error) {
	if err := tensor.CheckShape("weights", weights, tensor.Any); err != nil {
		return nil, err
	}
	return tensor.MapBlocks(weights.BatchShape(1), tensor.Shape{k, k}, func(b int) []float64 {
		w, rows := weights.Block(b, 1), design(b)
		gram := make([]float64, k*k)
		if len(w) == 0 || len(rows) < len(w) {
			return gram
		}
		per := len(rows) / len(w)
		for j, r := range rows {
			wi := w[j/per]
			for a := 0; a < k; a++ {
				if r[a] == 0 {
					continue
				}
				wa := wi * r[a]
				for c := 0; c < k; c++ {
					gram[a*k+c] += wa * r[c]
				}
			}
		}
		return gram
	}, weights.Like()...)
}

// Scale multiplies every element by s.
func Scale(a *tensor.Dense, s float64) *tensor.Dense {
	return a.Map(func(v float64) float64 { return v * s })
}

func isFinite(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
