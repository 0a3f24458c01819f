// Package epipolar implements two-view geometry over batched tensors: epipolar distances,
// essential and fundamental matrix estimation, their decomposition into camera motion, and
// triangulation.
package epipolar

import (
	"math"
	"strconv"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// DefaultEps guards square roots and divisions in the distance metrics.
const DefaultEps = 1e-8

// pointLineEps matches the guard used for point to line distances.
const pointLineEps = 1e-9

// epipolarLines holds broadcast (B, N, 3) homogeneous points and their epipolar lines.
type epipolarLines struct {
	pts1     *tensor.Dense
	pts2     *tensor.Dense
	line1in2 *tensor.Dense
	line2in1 *tensor.Dense
}

// checkFundamental validates the inputs shared by every metric and broadcasts them to a common
// batch.
func checkFundamental(pts1, pts2, fm *tensor.Dense) (*tensor.Dense, *tensor.Dense, *tensor.Dense, error) {
	if err := tensor.CheckShape("Fm", fm, 3, 3); err != nil {
		return nil, nil, nil, err
	}
	if err := tensor.CheckShapeOneOf("pts1", pts1, []int{tensor.Any}, 2, 3); err != nil {
		return nil, nil, nil, err
	}
	if err := tensor.CheckShapeOneOf("pts2", pts2, []int{tensor.Any}, 2, 3); err != nil {
		return nil, nil, nil, err
	}
	var err error
	if pts1.Shape()[pts1.Dims()-1] == 2 {
		if pts1, err = linalg.ConvertPointsToHomogeneous(pts1); err != nil {
			return nil, nil, nil, err
		}
	}
	if pts2.Shape()[pts2.Dims()-1] == 2 {
		if pts2, err = linalg.ConvertPointsToHomogeneous(pts2); err != nil {
			return nil, nil, nil, err
		}
	}
	return pts1, pts2, fm, nil
}

// lines computes line1in2 = pts1 Fᵀ and line2in1 = pts2 F over the broadcast batch.
func lines(pts1, pts2, fm *tensor.Dense) (*epipolarLines, error) {
	pts1, pts2, fm, err := checkFundamental(pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	batch, err := tensor.BroadcastBatch([]int{2, 2, 2}, pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	n1, n2 := pts1.Shape()[pts1.Dims()-2], pts2.Shape()[pts2.Dims()-2]
	ns, err := tensor.BroadcastShapes(tensor.Shape{n1}, tensor.Shape{n2})
	if err != nil {
		return nil, utils.NewShapeError("pts2", "(*, "+strconv.Itoa(n1)+", 2|3)", pts2.Shape())
	}
	n := ns[0]
	if pts1, err = pts1.Expand(batch.Concat(n), 1); err != nil {
		return nil, err
	}
	if pts2, err = pts2.Expand(batch.Concat(n), 1); err != nil {
		return nil, err
	}
	fmT, err := linalg.Transpose(fm)
	if err != nil {
		return nil, err
	}
	line1in2, err := linalg.MatMul(pts1, fmT)
	if err != nil {
		return nil, err
	}
	line2in1, err := linalg.MatMul(pts2, fm)
	if err != nil {
		return nil, err
	}
	return &epipolarLines{pts1: pts1, pts2: pts2, line1in2: line1in2, line2in1: line2in1}, nil
}

// SampsonEpipolarDistance returns the Sampson distance of every correspondence given the
// fundamental matrices, shaped (*, N). Points are (*, N, 2) or homogeneous (*, N, 3); Fm is
// (*, 3, 3). When squared is false the result is sqrt(d + eps).
func SampsonEpipolarDistance(pts1, pts2, fm *tensor.Dense, squared bool, eps float64) (*tensor.Dense, error) {
	l, err := lines(pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	return l.reduce(squared, eps, func(num, n1, n2 float64) float64 {
		// (x'ᵀ F x)² / ((Fx)₁² + (Fx)₂² + (Fᵀx')₁² + (Fᵀx')₂²)
		return num / (n1 + n2)
	})
}

// SymmetricalEpipolarDistance returns the symmetrical epipolar distance of every correspondence
// given the fundamental matrices, shaped (*, N).
func SymmetricalEpipolarDistance(pts1, pts2, fm *tensor.Dense, squared bool, eps float64) (*tensor.Dense, error) {
	l, err := lines(pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	return l.reduce(squared, eps, func(num, n1, n2 float64) float64 {
		// (x'ᵀ F x)² (1 / ((Fx)₁² + (Fx)₂²) + 1 / ((Fᵀx')₁² + (Fᵀx')₂²))
		return num * (1.0/n1 + 1.0/n2)
	})
}

// reduce evaluates fn per correspondence with the squared algebraic residual and the squared
// norms of the first two coordinates of both epipolar lines.
func (l *epipolarLines) reduce(squared bool, eps float64, fn func(num, n1, n2 float64) float64) (*tensor.Dense, error) {
	p2 := l.pts2.Data()
	a, b := l.line1in2.Data(), l.line2in1.Data()
	rows := len(p2) / 3
	out := make([]float64, rows)
	for i := 0; i < rows; i++ {
		r := 3 * i
		dot := p2[r]*a[r] + p2[r+1]*a[r+1] + p2[r+2]*a[r+2]
		n1 := math.Pow(math.Hypot(a[r], a[r+1]), 2)
		n2 := math.Pow(math.Hypot(b[r], b[r+1]), 2)
		v := fn(dot*dot, n1, n2)
		if !squared {
			v = math.Sqrt(v + eps)
		}
		out[i] = v
	}
	return tensor.New(l.pts2.BatchShape(1), out, l.line1in2.Like()...)
}

// LeftToRightEpipolarDistance returns the distance from every point in the right image to the
// epipolar line of its match in the left image, shaped (*, N).
func LeftToRightEpipolarDistance(pts1, pts2, fm *tensor.Dense) (*tensor.Dense, error) {
	l, err := lines(pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	return linalg.PointLineDistance(l.pts2, l.line1in2, pointLineEps)
}

// RightToLeftEpipolarDistance returns the distance from every point in the left image to the
// epipolar line of its match in the right image, shaped (*, N).
func RightToLeftEpipolarDistance(pts1, pts2, fm *tensor.Dense) (*tensor.Dense, error) {
	l, err := lines(pts1, pts2, fm)
	if err != nil {
		return nil, err
	}
	return linalg.PointLineDistance(l.pts1, l.line2in1, pointLineEps)
}
