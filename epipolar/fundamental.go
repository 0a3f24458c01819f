package epipolar

import (
	"math"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
)

// minFundamentalPoints is the smallest correspondence count for the eight point method.
const minFundamentalPoints = 8

// FindFundamental estimates (*, 3, 3) fundamental matrices from (*, N, 2) pixel
// correspondences with the weighted, normalized eight point method. Weights are (*, N); nil
// means uniform. The result has rank two and is scaled so that F[2][2] is one where possible.
func FindFundamental(points1, points2, weights *tensor.Dense) (*tensor.Dense, error) {
	w, err := checkCorrespondences(points1, points2, weights, minFundamentalPoints)
	if err != nil {
		return nil, err
	}
	p1, t1, err := linalg.NormalizePoints(points1, DefaultEps)
	if err != nil {
		return nil, err
	}
	p2, t2, err := linalg.NormalizePoints(points2, DefaultEps)
	if err != nil {
		return nil, err
	}
	gram, err := weightedGram(p1, p2, w, 9, epipolarRow)
	if err != nil {
		return nil, err
	}
	h, err := linalg.NullVector(gram)
	if err != nil {
		return nil, err
	}
	f, err := h.Reshape(h.BatchShape(1).Concat(3, 3)...)
	if err != nil {
		return nil, err
	}
	if f, err = enforceRankTwo(f); err != nil {
		return nil, err
	}
	// Undo the normalization: T2ᵀ F T1.
	t2t, err := linalg.Transpose(t2)
	if err != nil {
		return nil, err
	}
	if f, err = linalg.MatMul(t2t, f); err != nil {
		return nil, err
	}
	if f, err = linalg.MatMul(f, t1); err != nil {
		return nil, err
	}
	return NormalizeTransformation(f, DefaultEps)
}

// enforceRankTwo zeroes the smallest singular value of every matrix.
func enforceRankTwo(f *tensor.Dense) (*tensor.Dense, error) {
	u, s, v, err := linalg.SVD(f)
	if err != nil {
		return nil, err
	}
	return tensor.MapBlocks(f.BatchShape(2), tensor.Shape{3, 3}, func(b int) []float64 {
		um, vm, sv := u.Matrix(b), v.Matrix(b), s.Block(b, 1)
		out := make([]float64, 9)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out[3*i+j] = sv[0]*um.At(i, 0)*vm.At(j, 0) + sv[1]*um.At(i, 1)*vm.At(j, 1)
			}
		}
		return out
	}, f.Like()...)
}

// ComputeCorrespondEpilines returns the epipolar lines F x of (*, N, 2|3) points in the other
// image, shaped (*, N, 3) and scaled so that a² + b² = 1.
func ComputeCorrespondEpilines(points, fm *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShapeOneOf("points", points, []int{tensor.Any}, 2, 3); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("F_mat", fm, 3, 3); err != nil {
		return nil, err
	}
	var err error
	if points.Shape()[points.Dims()-1] == 2 {
		if points, err = linalg.ConvertPointsToHomogeneous(points); err != nil {
			return nil, err
		}
	}
	fmT, err := linalg.Transpose(fm)
	if err != nil {
		return nil, err
	}
	lines, err := linalg.MatMul(points, fmT)
	if err != nil {
		return nil, err
	}
	data := lines.Data()
	for i := 0; i+2 < len(data); i += 3 {
		nu := data[i]*data[i] + data[i+1]*data[i+1]
		if nu > 0 {
			s := 1 / math.Sqrt(nu)
			data[i] *= s
			data[i+1] *= s
			data[i+2] *= s
		}
	}
	return tensor.New(lines.Shape(), data, lines.Like()...)
}
