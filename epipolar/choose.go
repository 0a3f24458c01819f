package epipolar

import (
	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// triangulation carries points together with the per point outcome of the cheirality test,
// so that rejected points keep their slot.
type triangulation struct {
	// points is (*, 4, N, 3).
	points *tensor.Dense
	// valid is (*, 4, N).
	valid *tensor.Mask
}

// votes returns, for batch element b, how many valid points each hypothesis has.
func (t *triangulation) votes(b, n int) [4]int {
	var counts [4]int
	v := t.valid.Block(b, 2)
	for h := range counts {
		for _, ok := range v[h*n : (h+1)*n] {
			if ok {
				counts[h]++
			}
		}
	}
	return counts
}

// MotionFromEssentialChooseSolution picks, per batch element, the motion hypothesis of E that
// puts the most correspondences in front of both cameras. E, K1 and K2 are (*, 3, 3); x1 and
// x2 are (*, N, 2) pixel coordinates. The optional (*, N) mask restricts which points vote;
// every point is triangulated regardless. It returns R (*, 3, 3), t (*, 3, 1) and the points
// triangulated under the chosen motion, X (*, N, 3). Ties go to the earliest hypothesis.
func MotionFromEssentialChooseSolution(
	em, k1, k2, x1, x2 *tensor.Dense,
	mask *tensor.Mask,
) (r, t, x *tensor.Dense, err error) {
	if err := checkMatrices([]string{"E_mat", "K1", "K2"}, em, k1, k2); err != nil {
		return nil, nil, nil, err
	}
	if err := tensor.CheckShape("x1", x1, tensor.Any, 2); err != nil {
		return nil, nil, nil, err
	}
	if err := tensor.CheckShape("x2", x2, tensor.Any, 2); err != nil {
		return nil, nil, nil, err
	}
	batch, n, err := broadcastPoints(x1, x2, em, k1, k2)
	if err != nil {
		return nil, nil, nil, err
	}
	valid := tensor.FullMask(batch.Concat(n), true)
	if mask != nil {
		ms := mask.Shape()
		if len(ms) == 0 || ms[len(ms)-1] != n {
			return nil, nil, nil, utils.NewShapeError("mask", "(*, N)", ms)
		}
		if valid, err = mask.Expand(batch, 1); err != nil {
			return nil, nil, nil, err
		}
	}

	if em, err = em.Expand(batch, 2); err != nil {
		return nil, nil, nil, err
	}
	rs, ts, err := MotionFromEssential(em)
	if err != nil {
		return nil, nil, nil, err
	}
	tri, err := triangulateHypotheses(rs, ts, k1, k2, x1, x2, valid)
	if err != nil {
		return nil, nil, nil, err
	}

	nb := batch.NumElements()
	best := make([]int, nb)
	for b := range best {
		counts := tri.votes(b, n)
		for h := 1; h < 4; h++ {
			if counts[h] > counts[best[b]] {
				best[b] = h
			}
		}
	}
	like := em.Like()
	pick := func(src *tensor.Dense, inner tensor.Shape) (*tensor.Dense, error) {
		size := inner.NumElements()
		return tensor.MapBlocks(batch, inner, func(b int) []float64 {
			blk := src.Block(b, len(inner)+1)
			return blk[best[b]*size : (best[b]+1)*size]
		}, like...)
	}
	if r, err = pick(rs, tensor.Shape{3, 3}); err != nil {
		return nil, nil, nil, err
	}
	if t, err = pick(ts, tensor.Shape{3, 1}); err != nil {
		return nil, nil, nil, err
	}
	if x, err = pick(tri.points, tensor.Shape{n, 3}); err != nil {
		return nil, nil, nil, err
	}
	return r, t, x, nil
}

// triangulateHypotheses triangulates every correspondence under each of the four (*, 4)
// motions and marks the points with positive depth in both cameras that the mask lets vote.
func triangulateHypotheses(rs, ts, k1, k2, x1, x2 *tensor.Dense, mask *tensor.Mask) (*triangulation, error) {
	batch := rs.BatchShape(3)
	// The first camera sits at the origin.
	p1, err := ProjectionFromKRt(k1, linalg.EyeLike(3, k1, 2), linalg.VecLike(3, k1, 2))
	if err != nil {
		return nil, err
	}
	if p1, err = addAxis(p1, 2); err != nil {
		return nil, err
	}
	k2h, err := addAxis(k2, 2)
	if err != nil {
		return nil, err
	}
	p2, err := ProjectionFromKRt(k2h, rs, ts)
	if err != nil {
		return nil, err
	}
	x1h, err := addAxis(x1, 2)
	if err != nil {
		return nil, err
	}
	x2h, err := addAxis(x2, 2)
	if err != nil {
		return nil, err
	}
	points, err := TriangulatePoints(p1, p2, x1h, x2h)
	if err != nil {
		return nil, err
	}
	identity := linalg.EyeLike(3, points, 2)
	origin := linalg.VecLike(3, points, 2)
	depth1, err := DepthFromPoint(identity, origin, points)
	if err != nil {
		return nil, err
	}
	depth2, err := DepthFromPoint(rs, ts, points)
	if err != nil {
		return nil, err
	}

	n := points.Shape()[points.Dims()-2]
	hypotheses := batch.Concat(4, n)
	m, a, c := mask.Data(), depth1.Data(), depth2.Data()
	valid := make([]bool, len(a))
	for i := range valid {
		// mask is (*, N) and repeats over the four hypotheses.
		b, p := i/(4*n), i%n
		valid[i] = a[i] > 0 && c[i] > 0 && m[b*n+p]
	}
	vm, err := tensor.NewMask(hypotheses, valid)
	if err != nil {
		return nil, err
	}
	return &triangulation{points: points, valid: vm}, nil
}

// addAxis inserts a unit dimension before the last trailing dimensions.
func addAxis(d *tensor.Dense, trailing int) (*tensor.Dense, error) {
	shape := d.Shape()
	cut := len(shape) - trailing
	out := append(append(shape[:cut:cut], 1), shape[cut:]...)
	return d.Reshape(out...)
}
