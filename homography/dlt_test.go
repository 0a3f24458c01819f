package homography

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

var testHomography = Matrix{
	{1.2, 0.1, 5},
	{-0.05, 0.9, -3},
	{1e-3, 2e-3, 1},
}

func randomPoints(rng *rand.Rand, scale float64, shape ...int) *tensor.Dense {
	s := tensor.Shape(shape)
	data := make([]float64, s.NumElements())
	for i := range data {
		data[i] = scale * rng.Float64()
	}
	return tensor.MustNew(s, data)
}

// warp maps every point of a (*, N, 2) tensor through h.
func warp(h *Matrix, pts *tensor.Dense) *tensor.Dense {
	data := pts.Data()
	for i := 0; i+1 < len(data); i += 2 {
		p := h.Apply(r2.Point{X: data[i], Y: data[i+1]})
		data[i], data[i+1] = p.X, p.Y
	}
	return tensor.MustNew(pts.Shape(), data)
}

// assertMapsOnto checks that every batch element of h maps src onto dst within tol.
func assertMapsOnto(t *testing.T, h, src, dst *tensor.Dense, tol float64) {
	t.Helper()
	ms, err := MatricesFromTensor(h)
	test.That(t, err, test.ShouldBeNil)
	n := src.Shape()[src.Dims()-2]
	test.That(t, len(ms)*n*2, test.ShouldEqual, src.Len())
	s, d := src.Data(), dst.Data()
	for b, m := range ms {
		for i := 0; i < n; i++ {
			off := 2 * (b*n + i)
			got := m.Apply(r2.Point{X: s[off], Y: s[off+1]})
			test.That(t, got.X, test.ShouldAlmostEqual, d[off], tol*math.Max(1, math.Abs(d[off])))
			test.That(t, got.Y, test.ShouldAlmostEqual, d[off+1], tol*math.Max(1, math.Abs(d[off+1])))
		}
	}
}

func TestFindHomographyDLTShape(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, solver := range []Solver{SolverSVD, SolverLU, ""} {
		for _, tc := range []struct{ batch, n int }{{1, 4}, {2, 5}, {3, 6}} {
			p1 := randomPoints(rng, 1, tc.batch, tc.n, 2)
			p2 := randomPoints(rng, 1, tc.batch, tc.n, 2)
			h, err := FindHomographyDLT(p1, p2, tensor.Ones(tensor.Shape{tc.batch, tc.n}), solver)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{tc.batch, 3, 3})

			noWeights, err := FindHomographyDLT(p1, p2, nil, solver)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, tensor.AllClose(h, noWeights, 1e-9), test.ShouldBeTrue)
		}
	}
}

func TestFindHomographyDLTClean(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for _, solver := range []Solver{SolverSVD, SolverLU} {
		for _, batch := range []int{1, 2, 5} {
			src := randomPoints(rng, 100, batch, 10, 2)
			dst := warp(&testHomography, src)
			h, err := FindHomographyDLT(src, dst, tensor.Ones(tensor.Shape{batch, 10}), solver)
			test.That(t, err, test.ShouldBeNil)
			assertMapsOnto(t, h, src, dst, 1e-6)
			for b := 0; b < batch; b++ {
				test.That(t, h.At(b, 2, 2), test.ShouldAlmostEqual, 1, 1e-6)
				test.That(t, h.At(b, 0, 1), test.ShouldAlmostEqual, testHomography[0][1], 1e-6)
			}
		}
	}
}

func TestFindHomographyDLTIdentity(t *testing.T) {
	pts := tensor.MustNew(tensor.Shape{1, 4, 2}, []float64{0, 0, 0, 1, 1, 1, 1, 0})
	for _, solver := range []Solver{SolverSVD, SolverLU} {
		h, err := FindHomographyDLT(pts, pts, nil, solver)
		test.That(t, err, test.ShouldBeNil)
		want := tensor.MustNew(tensor.Shape{1, 3, 3}, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		test.That(t, tensor.AllClose(h, want, 1e-6), test.ShouldBeTrue)
	}
}

func TestFindHomographyDLTNaN(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, solver := range []Solver{SolverSVD, SolverLU} {
		p1 := randomPoints(rng, 1, 1, 4, 2).Data()
		p1[0] = math.NaN()
		p2 := randomPoints(rng, 1, 1, 4, 2)
		h, err := FindHomographyDLT(tensor.MustNew(tensor.Shape{1, 4, 2}, p1), p2, tensor.Ones(tensor.Shape{1, 4}), solver)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 3})
		test.That(t, math.IsNaN(h.At(0, 0, 0)), test.ShouldBeTrue)
	}
}

func TestFindHomographyDLTWeights(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	src := randomPoints(rng, 50, 1, 12, 2)
	dst := warp(&testHomography, src).Data()
	// Corrupt two correspondences and switch them off.
	dst[0] += 30
	dst[5] -= 25
	w := tensor.Ones(tensor.Shape{1, 12}).Data()
	w[0], w[2] = 0, 0
	h, err := FindHomographyDLT(src, tensor.MustNew(tensor.Shape{1, 12, 2}, dst), tensor.MustNew(tensor.Shape{1, 12}, w), SolverSVD)
	test.That(t, err, test.ShouldBeNil)
	assertMapsOnto(t, h, sliceFrom(src, 3), sliceFrom(warp(&testHomography, src), 3), 1e-6)

	logs := logging.ReplaceGlobalForTest(t)
	_, err = FindHomographyDLT(src, warp(&testHomography, src), tensor.Ones(tensor.Shape{1, 7}), SolverLU)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logs.FilterMessageSnippet("uniform weights").Len(), test.ShouldEqual, 1)
}

// sliceFrom drops the first k points of a (1, N, 2) tensor.
func sliceFrom(pts *tensor.Dense, k int) *tensor.Dense {
	n := pts.Shape()[1]
	return tensor.MustNew(tensor.Shape{1, n - k, 2}, pts.Data()[2*k:])
}

func TestFindHomographyDLTErrors(t *testing.T) {
	pts := tensor.Zeros(tensor.Shape{1, 4, 2})
	_, err := FindHomographyDLT(nil, pts, nil, SolverSVD)
	test.That(t, errors.Is(err, utils.ErrType), test.ShouldBeTrue)
	_, err = FindHomographyDLT(pts, tensor.Zeros(tensor.Shape{1, 5, 2}), nil, SolverSVD)
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
	_, err = FindHomographyDLT(tensor.Zeros(tensor.Shape{1, 3, 2}), tensor.Zeros(tensor.Shape{1, 3, 2}), nil, SolverSVD)
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
	_, err = FindHomographyDLT(pts, pts, nil, Solver("qr"))
	test.That(t, err, test.ShouldBeError, errors.New(`unknown solver "qr", expected "svd" or "lu"`))
}

// segments builds (*, N, 2, 2) segments from start and end points of equal shape.
func segments(starts, ends *tensor.Dense) *tensor.Dense {
	s, e := starts.Data(), ends.Data()
	out := make([]float64, 0, 2*len(s))
	for i := 0; i+1 < len(s); i += 2 {
		out = append(out, s[i], s[i+1], e[i], e[i+1])
	}
	shape := starts.Shape()
	return tensor.MustNew(append(shape[:len(shape)-1], 2, 2), out)
}

func TestFindHomographyLinesDLT(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	for _, tc := range []struct{ batch, n int }{{1, 4}, {2, 5}, {3, 6}} {
		ls1 := segments(randomPoints(rng, 1, tc.batch, tc.n, 2), randomPoints(rng, 1, tc.batch, tc.n, 2))
		ls2 := segments(randomPoints(rng, 1, tc.batch, tc.n, 2), randomPoints(rng, 1, tc.batch, tc.n, 2))
		h, err := FindHomographyLinesDLT(ls1, ls2, tensor.Ones(tensor.Shape{tc.batch, tc.n}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{tc.batch, 3, 3})
		noWeights, err := FindHomographyLinesDLT(ls1, ls2, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tensor.AllClose(h, noWeights, 1e-9), test.ShouldBeTrue)
	}

	t.Run("unbatched", func(t *testing.T) {
		ls := segments(randomPoints(rng, 1, 4, 2), randomPoints(rng, 1, 4, 2))
		h, err := FindHomographyLinesDLT(ls, ls, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 3})
	})

	t.Run("clean", func(t *testing.T) {
		for _, batch := range []int{1, 2, 5} {
			starts, ends := randomPoints(rng, 100, batch, 10, 2), randomPoints(rng, 100, batch, 10, 2)
			ls1 := segments(starts, ends)
			ls2 := segments(warp(&testHomography, starts), warp(&testHomography, ends))
			h, err := FindHomographyLinesDLT(ls1, ls2, nil)
			test.That(t, err, test.ShouldBeNil)
			assertMapsOnto(t, h, starts, warp(&testHomography, starts), 1e-6)
		}
	})

	t.Run("nan", func(t *testing.T) {
		starts := randomPoints(rng, 1, 1, 4, 2).Data()
		starts[0] = math.NaN()
		ls1 := segments(tensor.MustNew(tensor.Shape{1, 4, 2}, starts), randomPoints(rng, 1, 1, 4, 2))
		ls2 := segments(randomPoints(rng, 1, 1, 4, 2), randomPoints(rng, 1, 1, 4, 2))
		h, err := FindHomographyLinesDLT(ls1, ls2, tensor.Ones(tensor.Shape{1, 4}))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 3})
	})

	t.Run("errors", func(t *testing.T) {
		_, err := FindHomographyLinesDLT(tensor.Zeros(tensor.Shape{1, 4, 2}), tensor.Zeros(tensor.Shape{1, 4, 2}), nil)
		test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
		_, err = FindHomographyLinesDLT(tensor.Zeros(tensor.Shape{1, 3, 2, 2}), tensor.Zeros(tensor.Shape{1, 3, 2, 2}), nil)
		test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
		_, err = FindHomographyLinesDLT(tensor.Zeros(tensor.Shape{1, 4, 2, 2}), nil, nil)
		test.That(t, errors.Is(err, utils.ErrType), test.ShouldBeTrue)
	})
}

func TestEstimate(t *testing.T) {
	var pts1, pts2 []r2.Point
	for _, p := range []r2.Point{{X: 10, Y: 20}, {X: 200, Y: 15}, {X: 180, Y: 160}, {X: 25, Y: 140}, {X: 90, Y: 80}} {
		pts1 = append(pts1, p)
		pts2 = append(pts2, testHomography.Apply(p))
	}
	h, err := Estimate(pts1, pts2, nil, SolverLU)
	test.That(t, err, test.ShouldBeNil)
	for i := range pts1 {
		got := h.Apply(pts1[i])
		test.That(t, got.X, test.ShouldAlmostEqual, pts2[i].X, 1e-6)
		test.That(t, got.Y, test.ShouldAlmostEqual, pts2[i].Y, 1e-6)
	}
	_, err = Estimate(pts1, pts2[:4], nil, SolverLU)
	test.That(t, err, test.ShouldNotBeNil)
}
