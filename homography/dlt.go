// Package homography estimates planar homographies from point and line segment correspondences
// with the weighted direct linear transform, and scores them with transfer errors.
package homography

import (
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// Solver selects how the DLT normal equations are solved.
type Solver string

const (
	// SolverSVD takes the right singular vector of the smallest singular value.
	SolverSVD Solver = "svd"
	// SolverLU solves AᵀWA h = 1 and falls back to SolverSVD when the system is singular.
	SolverLU Solver = "lu"
)

// DefaultEps guards the normalizations and the final division by H[2][2].
const DefaultEps = 1e-8

// minCorrespondences is the smallest number of points or lines that determines a homography.
const minCorrespondences = 4

// ParseSolver returns the solver named s. The empty string is SolverLU.
func ParseSolver(s string) (Solver, error) {
	switch Solver(s) {
	case "", SolverLU:
		return SolverLU, nil
	case SolverSVD:
		return SolverSVD, nil
	default:
		return "", errors.Errorf("unknown solver %q, expected %q or %q", s, SolverSVD, SolverLU)
	}
}

func logger() logging.Logger {
	return logging.Global().Sublogger("homography")
}

// checkWeights broadcasts weights against the (*, N) correspondence batch, falling back to
// uniform weights with a warning.
func checkWeights(weights *tensor.Dense, shape tensor.Shape, like *tensor.Dense) *tensor.Dense {
	w, ok := tensor.WeightsOrUniform(weights, shape, like.Like()...)
	if !ok {
		logger().Warnw("weights do not broadcast against the correspondences, using uniform weights",
			"weights", weights.Shape().String(), "want", shape.String())
	}
	return w
}

// FindHomographyDLT estimates (*, 3, 3) homographies mapping points1 onto points2, both
// (*, N, 2) with N >= 4, by the Hartley-normalized weighted DLT. Weights are (*, N); nil means
// uniform. NaN input yields NaN output rather than an error.
func FindHomographyDLT(points1, points2, weights *tensor.Dense, solver Solver) (*tensor.Dense, error) {
	solver, err := ParseSolver(string(solver))
	if err != nil {
		return nil, err
	}
	if err := checkPoints(points1, points2); err != nil {
		return nil, err
	}
	w := checkWeights(weights, points1.BatchShape(1), points1)
	p1, t1, err := linalg.NormalizePoints(points1, DefaultEps)
	if err != nil {
		return nil, err
	}
	p2, t2, err := linalg.NormalizePoints(points2, DefaultEps)
	if err != nil {
		return nil, err
	}
	gram, err := linalg.WeightedGram(w, 9, func(b int) [][]float64 {
		a, c := p1.Block(b, 2), p2.Block(b, 2)
		rows := make([][]float64, 0, len(a))
		for i := 0; i+1 < len(a); i += 2 {
			rows = append(rows, pointRows(a[i], a[i+1], c[i], c[i+1])...)
		}
		return rows
	})
	if err != nil {
		return nil, err
	}
	h, err := solve(gram, solver)
	if err != nil {
		return nil, err
	}
	return denormalize(h, t1, t2)
}

func checkPoints(points1, points2 *tensor.Dense) error {
	if err := tensor.CheckShape("points1", points1, tensor.Any, 2); err != nil {
		return err
	}
	if err := tensor.CheckShape("points2", points2, tensor.Any, 2); err != nil {
		return err
	}
	if !points1.Shape().Equal(points2.Shape()) {
		return utils.NewShapeError("points2", points1.Shape().String(), points2.Shape())
	}
	if n := points1.Shape()[points1.Dims()-2]; n < minCorrespondences {
		return utils.NewShapeError("points1", "(*, N>="+strconv.Itoa(minCorrespondences)+", 2)", points1.Shape())
	}
	return nil
}

// pointRows are the two DLT equations of x2 ~ H x1 for a row-major H.
func pointRows(x1, y1, x2, y2 float64) [][]float64 {
	return [][]float64{
		{0, 0, 0, -x1, -y1, -1, y2 * x1, y2 * y1, y2},
		{x1, y1, 1, 0, 0, 0, -x2 * x1, -x2 * y1, -x2},
	}
}

// solve returns the (*, 9) solution of the normal equations of every batch element.
func solve(gram *tensor.Dense, solver Solver) (*tensor.Dense, error) {
	svd, err := linalg.NullVector(gram)
	if err != nil {
		return nil, err
	}
	if solver == SolverSVD {
		return svd, nil
	}
	ones := tensor.Ones(gram.BatchShape(2).Concat(9, 1), gram.Like()...)
	sol, ok, err := linalg.Solve(gram, ones)
	if err != nil {
		return nil, err
	}
	valid := ok.Data()
	fallbacks := 0
	out, err := tensor.MapBlocks(gram.BatchShape(2), tensor.Shape{9}, func(b int) []float64 {
		if !valid[b] {
			return svd.Block(b, 1)
		}
		return sol.Block(b, 2)
	}, gram.Like()...)
	if err != nil {
		return nil, err
	}
	for _, v := range valid {
		if !v {
			fallbacks++
		}
	}
	if fallbacks > 0 {
		logger().Debugw("singular DLT system, using the SVD solution", "count", fallbacks)
	}
	return out, nil
}

// denormalize reshapes (*, 9) solutions into homographies of the original coordinates,
// T2⁻¹ H T1, scaled so that H[2][2] is one.
func denormalize(h, t1, t2 *tensor.Dense) (*tensor.Dense, error) {
	hm, err := h.Reshape(h.BatchShape(1).Concat(3, 3)...)
	if err != nil {
		return nil, err
	}
	t2inv, _, err := linalg.Inverse(t2)
	if err != nil {
		return nil, err
	}
	if hm, err = linalg.MatMul(t2inv, hm); err != nil {
		return nil, err
	}
	if hm, err = linalg.MatMul(hm, t1); err != nil {
		return nil, err
	}
	return tensor.MapBlocks(hm.BatchShape(2), tensor.Shape{3, 3}, func(b int) []float64 {
		m := hm.Matrix(b)
		m.Scale(1/(m.At(2, 2)+DefaultEps), m)
		return tensor.MatrixData(m)
	}, hm.Like()...)
}

// FindHomographyLinesDLT estimates (*, 3, 3) homographies from (*, N, 2, 2) line segment
// correspondences, each a start and an end point, with N >= 4. A (N, 2, 2) input is treated as
// a batch of one. Every endpoint of a segment in the first image must land on the infinite line
// through its match in the second image.
func FindHomographyLinesDLT(ls1, ls2, weights *tensor.Dense) (*tensor.Dense, error) {
	ls1, ls2, err := checkSegments(ls1, ls2)
	if err != nil {
		return nil, err
	}
	w := checkWeights(weights, ls1.BatchShape(2), ls1)
	// Start and end points of a side are normalized together.
	p1, t1, err := linalg.NormalizePoints(segmentsAsPoints(ls1), DefaultEps)
	if err != nil {
		return nil, err
	}
	p2, t2, err := linalg.NormalizePoints(segmentsAsPoints(ls2), DefaultEps)
	if err != nil {
		return nil, err
	}
	gram, err := linalg.WeightedGram(w, 9, func(b int) [][]float64 {
		a, c := p1.Block(b, 2), p2.Block(b, 2)
		rows := make([][]float64, 0, len(a)/2)
		for i := 0; i+3 < len(a); i += 4 {
			l := lineThrough(c[i], c[i+1], c[i+2], c[i+3])
			rows = append(rows, lineRow(l, a[i], a[i+1]), lineRow(l, a[i+2], a[i+3]))
		}
		return rows
	})
	if err != nil {
		return nil, err
	}
	h, err := solve(gram, SolverSVD)
	if err != nil {
		return nil, err
	}
	return denormalize(h, t1, t2)
}

// checkSegments validates (*, N, 2, 2) segment sets of equal shape, promoting (N, 2, 2) to a
// batch of one.
func checkSegments(ls1, ls2 *tensor.Dense) (*tensor.Dense, *tensor.Dense, error) {
	if err := tensor.CheckShape("ls1", ls1, tensor.Any, 2, 2); err != nil {
		return nil, nil, err
	}
	if err := tensor.CheckShape("ls2", ls2, tensor.Any, 2, 2); err != nil {
		return nil, nil, err
	}
	if !ls1.Shape().Equal(ls2.Shape()) {
		return nil, nil, utils.NewShapeError("ls2", ls1.Shape().String(), ls2.Shape())
	}
	if n := ls1.Shape()[ls1.Dims()-3]; n < minCorrespondences {
		return nil, nil, utils.NewShapeError("ls1", "(*, N>="+strconv.Itoa(minCorrespondences)+", 2, 2)", ls1.Shape())
	}
	if ls1.Dims() == 3 {
		var err error
		if ls1, err = ls1.Reshape(append([]int{1}, ls1.Shape()...)...); err != nil {
			return nil, nil, err
		}
		if ls2, err = ls2.Reshape(append([]int{1}, ls2.Shape()...)...); err != nil {
			return nil, nil, err
		}
	}
	return ls1, ls2, nil
}

// segmentsAsPoints views (*, N, 2, 2) segments as (*, 2N, 2) points, start before end.
func segmentsAsPoints(ls *tensor.Dense) *tensor.Dense {
	shape := ls.Shape()
	n := shape[len(shape)-3]
	pts, err := ls.Reshape(append(ls.BatchShape(3), 2*n, 2)...)
	if err != nil {
		panic(err)
	}
	return pts
}

// lineThrough returns the homogeneous line (a, b, c) through two points.
func lineThrough(xs, ys, xe, ye float64) [3]float64 {
	return [3]float64{ys - ye, xe - xs, xs*ye - xe*ys}
}

// lineRow is the DLT equation lᵀ H p = 0 for a row-major H.
func lineRow(l [3]float64, x, y float64) []float64 {
	return []float64{
		l[0] * x, l[0] * y, l[0],
		l[1] * x, l[1] * y, l[1],
		l[2] * x, l[2] * y, l[2],
	}
}

// Estimate fits a single homography mapping pts1 onto pts2. Weights may be nil.
func Estimate(pts1, pts2 []r2.Point, weights []float64, solver Solver) (*Matrix, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.Errorf("point slices differ in length: %d vs %d", len(pts1), len(pts2))
	}
	var w *tensor.Dense
	if weights != nil {
		w = tensor.MustNew(tensor.Shape{len(weights)}, weights)
	}
	h, err := FindHomographyDLT(tensor.FromR2Points(pts1), tensor.FromR2Points(pts2), w, solver)
	if err != nil {
		return nil, err
	}
	return NewMatrix(h.Data())
}
