package homography

import (
	"math"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
)

// pointLineEps guards the line normalization in LineSegmentTransferErrorOneWay.
const pointLineEps = 1e-9

// euclidean drops the last coordinate of (*, N, 3) points; (*, N, 2) points pass through.
func euclidean(name string, pts *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShapeOneOf(name, pts, []int{tensor.Any}, 2, 3); err != nil {
		return nil, err
	}
	if pts.Shape()[pts.Dims()-1] == 3 {
		return linalg.ConvertPointsFromHomogeneous(pts, DefaultEps)
	}
	return pts, nil
}

// OnewayTransferError returns the (*, N) squared distance between H points1 and points2, or the
// distance itself unless squared, computed as sqrt(d² + eps). Points are (*, N, 2|3).
func OnewayTransferError(points1, points2, h *tensor.Dense, squared bool, eps float64) (*tensor.Dense, error) {
	if err := tensor.CheckShape("H", h, 3, 3); err != nil {
		return nil, err
	}
	p1, err := euclidean("pts1", points1)
	if err != nil {
		return nil, err
	}
	p2, err := euclidean("pts2", points2)
	if err != nil {
		return nil, err
	}
	p1in2, err := linalg.TransformPoints(h, p1)
	if err != nil {
		return nil, err
	}
	diff, err := tensor.Sub(p1in2, p2)
	if err != nil {
		return nil, err
	}
	d := diff.Data()
	out := make([]float64, len(d)/2)
	for i := range out {
		dx, dy := d[2*i], d[2*i+1]
		out[i] = dx*dx + dy*dy
		if !squared {
			out[i] = math.Sqrt(out[i] + eps)
		}
	}
	return tensor.New(diff.BatchShape(1), out, diff.Like()...)
}

// SymmetricTransferError adds the one way error of H from points1 to points2 and of H⁻¹ back.
// The sum is squared unless squared is false, in which case sqrt(sum + eps) is returned.
func SymmetricTransferError(points1, points2, h *tensor.Dense, squared bool, eps float64) (*tensor.Dense, error) {
	if err := tensor.CheckShape("H", h, 3, 3); err != nil {
		return nil, err
	}
	there, err := OnewayTransferError(points1, points2, h, true, eps)
	if err != nil {
		return nil, err
	}
	hinv, _, err := linalg.Inverse(h)
	if err != nil {
		return nil, err
	}
	back, err := OnewayTransferError(points2, points1, hinv, true, eps)
	if err != nil {
		return nil, err
	}
	sum, err := tensor.Add(there, back)
	if err != nil {
		return nil, err
	}
	if squared {
		return sum, nil
	}
	return sum.Map(func(v float64) float64 { return math.Sqrt(v + eps) }), nil
}

// LineSegmentTransferErrorOneWay maps the endpoints of (*, N, 2, 2) segments ls1 through H and
// measures their distance to the infinite lines through the matching segments of ls2. The
// result is the (*, N) sum of both squared endpoint distances, or its square root unless
// squared.
func LineSegmentTransferErrorOneWay(ls1, ls2, h *tensor.Dense, squared bool) (*tensor.Dense, error) {
	if err := tensor.CheckShape("H", h, 3, 3); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("ls1", ls1, tensor.Any, 2, 2); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("ls2", ls2, tensor.Any, 2, 2); err != nil {
		return nil, err
	}
	start1, end1, err := endpoints(ls1)
	if err != nil {
		return nil, err
	}
	lines2, err := tensor.MapBlocks(ls2.BatchShape(2), tensor.Shape{3}, func(b int) []float64 {
		s := ls2.Block(b, 2)
		l := lineThrough(s[0], s[1], s[2], s[3])
		return l[:]
	}, ls2.Like()...)
	if err != nil {
		return nil, err
	}
	var dists [2]*tensor.Dense
	for i, pts := range []*tensor.Dense{start1, end1} {
		in2, err := linalg.TransformPoints(h, pts)
		if err != nil {
			return nil, err
		}
		if dists[i], err = linalg.PointLineDistance(in2, lines2, pointLineEps); err != nil {
			return nil, err
		}
	}
	sq, err := tensor.Mul(dists[0], dists[0])
	if err != nil {
		return nil, err
	}
	sqEnd, err := tensor.Mul(dists[1], dists[1])
	if err != nil {
		return nil, err
	}
	if sq, err = tensor.Add(sq, sqEnd); err != nil {
		return nil, err
	}
	if squared {
		return sq, nil
	}
	return sq.Map(math.Sqrt), nil
}

// endpoints splits (*, N, 2, 2) segments into (*, N, 2) start and end points.
func endpoints(ls *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	batch := ls.BatchShape(2)
	start, err := tensor.MapBlocks(batch, tensor.Shape{2}, func(b int) []float64 {
		return ls.Block(b, 2)[:2]
	}, ls.Like()...)
	if err != nil {
		return nil, nil, err
	}
	end, err := tensor.MapBlocks(batch, tensor.Shape{2}, func(b int) []float64 {
		return ls.Block(b, 2)[2:]
	}, ls.Like()...)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}
