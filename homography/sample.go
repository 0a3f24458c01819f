package homography

import (
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// sampleTriples are the four ways to pick three of four points.
var sampleTriples = [4][3]int{{0, 1, 2}, {0, 1, 3}, {0, 2, 3}, {1, 2, 3}}

// SampleIsValidForHomography reports, per batch element of two (*, 4, 2) minimal samples,
// whether a homography can map one onto the other: every triple of points must keep its
// orientation, and no triple may be collinear on either side.
func SampleIsValidForHomography(points1, points2 *tensor.Dense) (*tensor.Mask, error) {
	if err := tensor.CheckShape("points1", points1, 4, 2); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("points2", points2, 4, 2); err != nil {
		return nil, err
	}
	if !points1.Shape().Equal(points2.Shape()) {
		return nil, utils.NewShapeError("points2", points1.Shape().String(), points2.Shape())
	}
	batch := points1.BatchShape(2)
	valid := make([]bool, batch.NumElements())
	if err := tensor.ForEachBatch(len(valid), func(b int) {
		p1, p2 := points1.Block(b, 2), points2.Block(b, 2)
		valid[b] = true
		for _, tri := range sampleTriples {
			left, right := orientation(p1, tri), orientation(p2, tri)
			if left == 0 || left != right {
				valid[b] = false
				return
			}
		}
	}); err != nil {
		return nil, err
	}
	return tensor.NewMask(batch, valid)
}

// orientation is the sign of (b × c) · a for the homogeneous points a, b, c of a triple.
func orientation(pts []float64, tri [3]int) int {
	ax, ay := pts[2*tri[0]], pts[2*tri[0]+1]
	bx, by := pts[2*tri[1]], pts[2*tri[1]+1]
	cx, cy := pts[2*tri[2]], pts[2*tri[2]+1]
	// b × c with unit third coordinates.
	v := ax*(by-cy) + ay*(cx-bx) + (bx*cy - by*cx)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
