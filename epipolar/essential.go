package epipolar

import (
	"strconv"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// MaxEssentialSolutions is the fixed number of candidates FindEssential returns per batch
// element.
const MaxEssentialSolutions = 10

// minEssentialPoints is the smallest correspondence count the five point solver accepts.
const minEssentialPoints = 5

// Candidates is a fixed capacity bundle of essential matrices.
type Candidates struct {
	// E is (*, MaxEssentialSolutions, 3, 3).
	E *tensor.Dense
	// Valid is (*, MaxEssentialSolutions) and true for real solutions. Padding slots are false.
	Valid *tensor.Mask
}

// Count returns how many real solutions batch element b has.
func (c *Candidates) Count(b int) int {
	n := 0
	for _, ok := range c.Valid.Block(b, 1) {
		if ok {
			n++
		}
	}
	return n
}

func logger() logging.Logger {
	return logging.Global().Sublogger("epipolar")
}

// checkCorrespondences validates (*, N, 2) point sets of identical shape with at least minN
// points and returns the broadcast weights.
func checkCorrespondences(points1, points2, weights *tensor.Dense, minN int) (*tensor.Dense, error) {
	if err := tensor.CheckShape("points1", points1, tensor.Any, 2); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("points2", points2, tensor.Any, 2); err != nil {
		return nil, err
	}
	if !points1.Shape().Equal(points2.Shape()) {
		return nil, utils.NewShapeError("points2", points1.Shape().String(), points2.Shape())
	}
	if n := points1.Shape()[points1.Dims()-2]; n < minN {
		return nil, utils.NewShapeError("points1", "(*, N>="+strconv.Itoa(minN)+", 2)", points1.Shape())
	}
	shape := points1.BatchShape(1)
	w, ok := tensor.WeightsOrUniform(weights, shape, points1.Like()...)
	if !ok {
		logger().Warnw("weights do not broadcast against the correspondences, using uniform weights",
			"weights", weights.Shape().String(), "want", shape.String())
	}
	return w, nil
}

// weightedGram returns Σ wᵢ rᵢ rᵢᵀ for every batch element, where rows yields the design rows
// of correspondence i. The result is (*, k, k).
func weightedGram(
	points1, points2, weights *tensor.Dense,
	k int,
	rows func(x1, y1, x2, y2 float64) [][]float64,
) (*tensor.Dense, error) {
	return linalg.WeightedGram(weights, k, func(b int) [][]float64 {
		p1, p2 := points1.Block(b, 2), points2.Block(b, 2)
		var out [][]float64
		for i := 0; i+1 < len(p1); i += 2 {
			out = append(out, rows(p1[i], p1[i+1], p2[i], p2[i+1])...)
		}
		return out
	})
}

// epipolarRow is the design row of x2ᵀ E x1 = 0 for a row-major E.
func epipolarRow(x1, y1, x2, y2 float64) [][]float64 {
	return [][]float64{{x2 * x1, x2 * y1, x2, y2 * x1, y2 * y1, y2, x1, y1, 1}}
}

// FindEssentialCandidates estimates essential matrices from (*, N, 2) calibrated
// correspondences with the five point method. Weights are (*, N); nil means uniform. Every
// batch element gets MaxEssentialSolutions candidates of unit Frobenius norm. Degenerate input
// yields zero candidates rather than an error.
func FindEssentialCandidates(points1, points2, weights *tensor.Dense) (*Candidates, error) {
	w, err := checkCorrespondences(points1, points2, weights, minEssentialPoints)
	if err != nil {
		return nil, err
	}
	gram, err := weightedGram(points1, points2, w, 9, epipolarRow)
	if err != nil {
		return nil, err
	}
	// The four right singular vectors of the smallest singular values span the solution space.
	_, _, v, err := linalg.SVD(gram)
	if err != nil {
		return nil, err
	}
	e, valid, err := fivePoint(v)
	if err != nil {
		return nil, err
	}
	return &Candidates{E: e, Valid: valid}, nil
}

// FindEssential returns the (*, 10, 3, 3) candidate essential matrices of FindEssentialCandidates.
func FindEssential(points1, points2, weights *tensor.Dense) (*tensor.Dense, error) {
	c, err := FindEssentialCandidates(points1, points2, weights)
	if err != nil {
		return nil, err
	}
	return c.E, nil
}

func checkMatrices(names []string, ms ...*tensor.Dense) error {
	for i, m := range ms {
		if err := tensor.CheckShape(names[i], m, 3, 3); err != nil {
			return err
		}
	}
	return nil
}

// EssentialFromFundamental returns K2ᵀ F K1, broadcasting the batch dimensions.
func EssentialFromFundamental(fm, k1, k2 *tensor.Dense) (*tensor.Dense, error) {
	if err := checkMatrices([]string{"F_mat", "K1", "K2"}, fm, k1, k2); err != nil {
		return nil, err
	}
	k2t, err := linalg.Transpose(k2)
	if err != nil {
		return nil, err
	}
	e, err := linalg.MatMul(k2t, fm)
	if err != nil {
		return nil, err
	}
	return linalg.MatMul(e, k1)
}

// FundamentalFromEssential returns K2⁻ᵀ E K1⁻¹. Singular intrinsics give NaN.
func FundamentalFromEssential(em, k1, k2 *tensor.Dense) (*tensor.Dense, error) {
	if err := checkMatrices([]string{"E_mat", "K1", "K2"}, em, k1, k2); err != nil {
		return nil, err
	}
	k1inv, _, err := linalg.Inverse(k1)
	if err != nil {
		return nil, err
	}
	k2inv, _, err := linalg.Inverse(k2)
	if err != nil {
		return nil, err
	}
	k2invT, err := linalg.Transpose(k2inv)
	if err != nil {
		return nil, err
	}
	f, err := linalg.MatMul(k2invT, em)
	if err != nil {
		return nil, err
	}
	return linalg.MatMul(f, k1inv)
}

func checkPose(rName string, r *tensor.Dense, tName string, t *tensor.Dense) error {
	if err := tensor.CheckShape(rName, r, 3, 3); err != nil {
		return err
	}
	return tensor.CheckShape(tName, t, 3, 1)
}

// RelativeCameraMotion returns the motion from the first camera to the second given both
// world to camera poses: R = R2 R1ᵀ and t = t2 - R t1. Each argument broadcasts on its own.
func RelativeCameraMotion(r1, t1, r2, t2 *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if err := checkPose("R1", r1, "t1", t1); err != nil {
		return nil, nil, err
	}
	if err := checkPose("R2", r2, "t2", t2); err != nil {
		return nil, nil, err
	}
	r1t, err := linalg.Transpose(r1)
	if err != nil {
		return nil, nil, err
	}
	r, err := linalg.MatMul(r2, r1t)
	if err != nil {
		return nil, nil, err
	}
	rt1, err := linalg.MatMul(r, t1)
	if err != nil {
		return nil, nil, err
	}
	t, err := tensor.Sub(t2, rt1)
	if err != nil {
		return nil, nil, err
	}
	return r, t, nil
}

// EssentialFromRt returns [t]× R for the relative motion between two poses.
func EssentialFromRt(r1, t1, r2, t2 *tensor.Dense) (*tensor.Dense, error) {
	r, t, err := RelativeCameraMotion(r1, t1, r2, t2)
	if err != nil {
		return nil, err
	}
	tx, err := linalg.CrossProductMatrix(t)
	if err != nil {
		return nil, err
	}
	return linalg.MatMul(tx, r)
}

// NormalizeTransformation divides every trailing matrix by its bottom right element plus eps,
// leaving matrices whose bottom right element is within eps of zero unchanged.
func NormalizeTransformation(m *tensor.Dense, eps float64) (*tensor.Dense, error) {
	if err := tensor.CheckShape("input", m, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	shape := m.Shape()
	inner := tensor.Shape{shape[len(shape)-2], shape[len(shape)-1]}
	return tensor.MapBlocks(m.BatchShape(2), inner, func(b int) []float64 {
		blk := m.Block(b, 2)
		last := blk[len(blk)-1]
		if last > eps || last < -eps {
			for i := range blk {
				blk[i] /= last + eps
			}
		}
		return blk
	}, m.Like()...)
}
