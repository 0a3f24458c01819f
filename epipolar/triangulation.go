package epipolar

import (
	"strconv"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// homogeneousEps guards the division when leaving homogeneous coordinates.
const homogeneousEps = 1e-8

// ProjectionFromKRt returns the (*, 3, 4) projection matrices K [R | t].
func ProjectionFromKRt(k, r, t *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("K", k, 3, 3); err != nil {
		return nil, err
	}
	if err := checkPose("R", r, "t", t); err != nil {
		return nil, err
	}
	batch, err := tensor.BroadcastBatch([]int{2, 2}, r, t)
	if err != nil {
		return nil, err
	}
	er, err := r.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	et, err := t.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	rt, err := tensor.MapBlocks(batch, tensor.Shape{3, 4}, func(b int) []float64 {
		rb, tb := er.Block(b, 2), et.Block(b, 2)
		out := make([]float64, 0, 12)
		for i := 0; i < 3; i++ {
			out = append(out, rb[3*i:3*i+3]...)
			out = append(out, tb[i])
		}
		return out
	}, r.Like()...)
	if err != nil {
		return nil, err
	}
	return linalg.MatMul(k, rt)
}

// TriangulatePoints reconstructs (*, N, 3) points from their (*, N, 2) projections through
// the (*, 3, 4) cameras P1 and P2 with the linear DLT method.
func TriangulatePoints(p1, p2, points1, points2 *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("P1", p1, 3, 4); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("P2", p2, 3, 4); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("points1", points1, tensor.Any, 2); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("points2", points2, tensor.Any, 2); err != nil {
		return nil, err
	}
	batch, n, err := broadcastPoints(points1, points2, p1, p2)
	if err != nil {
		return nil, err
	}
	ep1, err := p1.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	ep2, err := p2.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	ex1, err := points1.Expand(batch.Concat(n), 1)
	if err != nil {
		return nil, err
	}
	ex2, err := points2.Expand(batch.Concat(n), 1)
	if err != nil {
		return nil, err
	}
	// One 4x4 system per point: x P[2] - P[0] and y P[2] - P[1] for both views.
	systems, err := tensor.MapBlocks(batch, tensor.Shape{n, 4, 4}, func(b int) []float64 {
		c1, c2 := ep1.Block(b, 2), ep2.Block(b, 2)
		x1, x2 := ex1.Block(b, 2), ex2.Block(b, 2)
		out := make([]float64, 0, n*16)
		for i := 0; i < n; i++ {
			out = appendDLTRows(out, c1, x1[2*i], x1[2*i+1])
			out = appendDLTRows(out, c2, x2[2*i], x2[2*i+1])
		}
		return out
	}, p1.Like()...)
	if err != nil {
		return nil, err
	}
	hom, err := linalg.NullVector(systems)
	if err != nil {
		return nil, err
	}
	return linalg.ConvertPointsFromHomogeneous(hom, homogeneousEps)
}

func appendDLTRows(out, p []float64, x, y float64) []float64 {
	for _, r := range [2]struct {
		coord float64
		row   int
	}{{x, 0}, {y, 1}} {
		for j := 0; j < 4; j++ {
			out = append(out, r.coord*p[8+j]-p[4*r.row+j])
		}
	}
	return out
}

// broadcastPoints broadcasts the batch of two (*, N, D) point sets against extra (*, r, c)
// tensors and their point counts against each other.
func broadcastPoints(points1, points2 *tensor.Dense, others ...*tensor.Dense) (tensor.Shape, int, error) {
	trailing := make([]int, 0, 2+len(others))
	all := append([]*tensor.Dense{points1, points2}, others...)
	for range all {
		trailing = append(trailing, 2)
	}
	batch, err := tensor.BroadcastBatch(trailing, all...)
	if err != nil {
		return nil, 0, err
	}
	n1 := points1.Shape()[points1.Dims()-2]
	n2 := points2.Shape()[points2.Dims()-2]
	ns, err := tensor.BroadcastShapes(tensor.Shape{n1}, tensor.Shape{n2})
	if err != nil {
		d := points2.Shape()[points2.Dims()-1]
		return nil, 0, utils.NewShapeError("points2",
			"(*, "+strconv.Itoa(n1)+", "+strconv.Itoa(d)+")", points2.Shape())
	}
	return batch, ns[0], nil
}

// DepthFromPoint returns the depth of (*, N, 3) world points in the camera (R, t), shaped
// (*, N).
func DepthFromPoint(r, t, x *tensor.Dense) (*tensor.Dense, error) {
	if err := checkPose("R", r, "t", t); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("X", x, tensor.Any, 3); err != nil {
		return nil, err
	}
	batch, err := tensor.BroadcastBatch([]int{2, 2, 2}, r, t, x)
	if err != nil {
		return nil, err
	}
	n := x.Shape()[x.Dims()-2]
	er, err := r.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	et, err := t.Expand(batch, 2)
	if err != nil {
		return nil, err
	}
	ex, err := x.Expand(batch.Concat(n), 1)
	if err != nil {
		return nil, err
	}
	return tensor.MapBlocks(batch, tensor.Shape{n}, func(b int) []float64 {
		rb, tb, xb := er.Block(b, 2), et.Block(b, 2), ex.Block(b, 2)
		out := make([]float64, n)
		for i := range out {
			p := xb[3*i : 3*i+3]
			out[i] = rb[6]*p[0] + rb[7]*p[1] + rb[8]*p[2] + tb[2]
		}
		return out
	}, x.Like()...)
}
