package linalg

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// SVD computes the full singular value decomposition A = U diag(S) Vᵀ of every trailing (m, n)
// matrix: U (*, m, m), S (*, min(m, n)) in descending order, V (*, n, n). Matrices holding NaN
// or Inf, or for which the factorization fails, yield NaN outputs.
func SVD(a *tensor.Dense) (u, s, v *tensor.Dense, err error) {
	if err := tensor.CheckShape("input", a, tensor.Any, tensor.Any); err != nil {
		return nil, nil, nil, err
	}
	m, n := lastTwo(a)
	k := min(m, n)
	batch := a.BatchShape(2)
	outs, err := tensor.Dispatch(tensor.OpSVD, func(args []*tensor.Dense) ([]*tensor.Dense, error) {
		in := args[0]
		nb := batch.NumElements()
		us, ss, vs := make([][]float64, nb), make([][]float64, nb), make([][]float64, nb)
		if err := tensor.ForEachBatch(nb, func(bi int) {
			us[bi], ss[bi], vs[bi] = svdBlock(in.Matrix(bi), m, n, k)
		}); err != nil {
			return nil, err
		}
		like := in.Like()
		uT, err := tensor.FromBlocks(batch, tensor.Shape{m, m}, us, like...)
		if err != nil {
			return nil, err
		}
		sT, err := tensor.FromBlocks(batch, tensor.Shape{k}, ss, like...)
		if err != nil {
			return nil, err
		}
		vT, err := tensor.FromBlocks(batch, tensor.Shape{n, n}, vs, like...)
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{uT, sT, vT}, nil
	}, a)
	if err != nil {
		return nil, nil, nil, err
	}
	return outs[0], outs[1], outs[2], nil
}

func svdBlock(a *mat.Dense, m, n, k int) (u, s, v []float64) {
	if !isFinite(a) {
		return nans(m * m), nans(k), nans(n * n)
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDFull); !ok {
		return nans(m * m), nans(k), nans(n * n)
	}
	var uMat, vMat mat.Dense
	svd.UTo(&uMat)
	svd.VTo(&vMat)
	return tensor.MatrixData(&uMat), svd.Values(nil), tensor.MatrixData(&vMat)
}

// NullVector returns the right singular vector of the smallest singular value of every trailing
// matrix, shaped (*, n). This is the least squares solution of A x = 0 with |x| = 1.
func NullVector(a *tensor.Dense) (*tensor.Dense, error) {
	_, _, v, err := SVD(a)
	if err != nil {
		return nil, err
	}
	n := v.Shape()[v.Dims()-1]
	return tensor.MapBlocks(v.BatchShape(2), tensor.Shape{n}, func(bi int) []float64 {
		vm := v.Matrix(bi)
		return mat.Col(nil, n-1, vm)
	}, v.Like()...)
}

// Solve solves A X = B for A (*, n, n) and B (*, n, k), broadcasting the leading dimensions.
// The mask is false where A is exactly singular or holds non-finite values; those solutions are
// zero. Ill-conditioned but non-singular systems are solved and reported valid.
func Solve(a, b *tensor.Dense) (*tensor.Dense, *tensor.Mask, error) {
	if err := tensor.CheckShape("A", a, tensor.Any, tensor.Any); err != nil {
		return nil, nil, err
	}
	n, c := lastTwo(a)
	if n != c {
		return nil, nil, utils.NewShapeError("A", "(*, N, N)", a.Shape())
	}
	if err := tensor.CheckShape("B", b, n, tensor.Any); err != nil {
		return nil, nil, err
	}
	_, k := lastTwo(b)
	batch, err := tensor.BroadcastBatch([]int{2, 2}, a, b)
	if err != nil {
		return nil, nil, err
	}
	outs, err := tensor.Dispatch(tensor.OpSolve, func(args []*tensor.Dense) ([]*tensor.Dense, error) {
		ea, err := args[0].Expand(batch, 2)
		if err != nil {
			return nil, err
		}
		eb, err := args[1].Expand(batch, 2)
		if err != nil {
			return nil, err
		}
		nb := batch.NumElements()
		xs, oks := make([][]float64, nb), make([][]float64, nb)
		if err := tensor.ForEachBatch(nb, func(bi int) {
			x, ok := solveBlock(ea.Matrix(bi), eb.Matrix(bi), n, k)
			xs[bi] = x
			oks[bi] = []float64{boolToFloat(ok)}
		}); err != nil {
			return nil, err
		}
		xT, err := tensor.FromBlocks(batch, tensor.Shape{n, k}, xs, args[0].Like()...)
		if err != nil {
			return nil, err
		}
		okT, err := tensor.FromBlocks(batch, tensor.Shape{}, oks, args[0].Like()...)
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{xT, okT}, nil
	}, a, b)
	if err != nil {
		return nil, nil, err
	}
	return outs[0], toMask(outs[1]), nil
}

func solveBlock(a, b *mat.Dense, n, k int) ([]float64, bool) {
	if !isFinite(a) || !isFinite(b) {
		return make([]float64, n*k), false
	}
	var lu mat.LU
	lu.Factorize(a)
	var x mat.Dense
	err := lu.SolveTo(&x, false, b)
	var cond mat.Condition
	switch {
	case err == nil:
	case errors.As(err, &cond) && !math.IsInf(float64(cond), 1):
		logging.Global().Sublogger("linalg").Debugw("solving ill-conditioned system", "cond", float64(cond))
	default:
		return make([]float64, n*k), false
	}
	out := tensor.MatrixData(&x)
	for _, v := range out {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return make([]float64, n*k), false
		}
	}
	return out, true
}

// Inverse inverts every trailing square matrix. The mask is false for singular matrices, whose
// inverse is NaN.
func Inverse(a *tensor.Dense) (*tensor.Dense, *tensor.Mask, error) {
	if err := tensor.CheckShape("input", a, tensor.Any, tensor.Any); err != nil {
		return nil, nil, err
	}
	n, c := lastTwo(a)
	if n != c {
		return nil, nil, utils.NewShapeError("input", "(*, N, N)", a.Shape())
	}
	batch := a.BatchShape(2)
	outs, err := tensor.Dispatch(tensor.OpInverse, func(args []*tensor.Dense) ([]*tensor.Dense, error) {
		nb := batch.NumElements()
		invs, oks := make([][]float64, nb), make([][]float64, nb)
		if err := tensor.ForEachBatch(nb, func(bi int) {
			m := args[0].Matrix(bi)
			oks[bi] = []float64{0}
			if !isFinite(m) {
				invs[bi] = nans(n * n)
				return
			}
			var inv mat.Dense
			err := inv.Inverse(m)
			var cond mat.Condition
			if err != nil && (!errors.As(err, &cond) || math.IsInf(float64(cond), 1)) {
				invs[bi] = nans(n * n)
				return
			}
			invs[bi] = tensor.MatrixData(&inv)
			oks[bi][0] = 1
		}); err != nil {
			return nil, err
		}
		invT, err := tensor.FromBlocks(batch, tensor.Shape{n, n}, invs, args[0].Like()...)
		if err != nil {
			return nil, err
		}
		okT, err := tensor.FromBlocks(batch, tensor.Shape{}, oks, args[0].Like()...)
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{invT, okT}, nil
	}, a)
	if err != nil {
		return nil, nil, err
	}
	return outs[0], toMask(outs[1]), nil
}

// EigReal computes the eigenvalues and right eigenvectors of every trailing square matrix.
// Values are split into real (*, n) and imaginary (*, n) parts; vectors (*, n, n) hold the real
// part of each eigenvector in the matching column. Failed decompositions yield NaN.
func EigReal(a *tensor.Dense) (re, im, vecs *tensor.Dense, err error) {
	if err := tensor.CheckShape("input", a, tensor.Any, tensor.Any); err != nil {
		return nil, nil, nil, err
	}
	n, c := lastTwo(a)
	if n != c {
		return nil, nil, nil, utils.NewShapeError("input", "(*, N, N)", a.Shape())
	}
	batch := a.BatchShape(2)
	outs, err := tensor.Dispatch(tensor.OpEig, func(args []*tensor.Dense) ([]*tensor.Dense, error) {
		nb := batch.NumElements()
		res, ims, vs := make([][]float64, nb), make([][]float64, nb), make([][]float64, nb)
		if err := tensor.ForEachBatch(nb, func(bi int) {
			res[bi], ims[bi], vs[bi] = eigBlock(args[0].Matrix(bi), n)
		}); err != nil {
			return nil, err
		}
		like := args[0].Like()
		reT, err := tensor.FromBlocks(batch, tensor.Shape{n}, res, like...)
		if err != nil {
			return nil, err
		}
		imT, err := tensor.FromBlocks(batch, tensor.Shape{n}, ims, like...)
		if err != nil {
			return nil, err
		}
		vT, err := tensor.FromBlocks(batch, tensor.Shape{n, n}, vs, like...)
		if err != nil {
			return nil, err
		}
		return []*tensor.Dense{reT, imT, vT}, nil
	}, a)
	if err != nil {
		return nil, nil, nil, err
	}
	return outs[0], outs[1], outs[2], nil
}

func eigBlock(a *mat.Dense, n int) (re, im, vecs []float64) {
	if !isFinite(a) {
		return nans(n), nans(n), nans(n * n)
	}
	var eig mat.Eigen
	if ok := eig.Factorize(a, mat.EigenRight); !ok {
		return nans(n), nans(n), nans(n * n)
	}
	values := eig.Values(nil)
	var cv mat.CDense
	eig.VectorsTo(&cv)
	re, im = make([]float64, n), make([]float64, n)
	for i, v := range values {
		re[i], im[i] = real(v), imag(v)
	}
	vecs = make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			vecs[i*n+j] = real(cv.At(i, j))
		}
	}
	return re, im, vecs
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toMask(t *tensor.Dense) *tensor.Mask {
	data := t.Data()
	out := make([]bool, len(data))
	for i, v := range data {
		out[i] = v != 0
	}
	m, err := tensor.NewMask(t.Shape(), out)
	if err != nil {
		panic(err)
	}
	return m
}
