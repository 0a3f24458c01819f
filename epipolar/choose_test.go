package epipolar

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

func TestProjectionAndTriangulation(t *testing.T) {
	s := newTwoViewScene(t, 10, 21)
	p1, err := ProjectionFromKRt(s.k1, s.r1, s.t1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p1.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 4})
	p2, err := ProjectionFromKRt(s.k2, s.r2, s.t2)
	test.That(t, err, test.ShouldBeNil)

	x, err := TriangulatePoints(p1, p2, s.x1, s.x2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, x.Shape(), test.ShouldResemble, tensor.Shape{1, 10, 3})
	test.That(t, tensor.AllClose(x, s.world, 1e-6), test.ShouldBeTrue)

	depth, err := DepthFromPoint(s.r1, s.t1, x)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, depth.Shape(), test.ShouldResemble, tensor.Shape{1, 10})
	for _, d := range depth.Data() {
		test.That(t, d, test.ShouldBeGreaterThan, 3)
	}

	_, err = ProjectionFromKRt(s.k1, s.r1, tensor.Zeros(tensor.Shape{1, 3}))
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
	_, err = TriangulatePoints(p1, p2, s.x1, tensor.Zeros(tensor.Shape{1, 7, 2}))
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
	_, err = DepthFromPoint(s.r1, s.t1, nil)
	test.That(t, errors.Is(err, utils.ErrType), test.ShouldBeTrue)
}

func randomMatrices(rng *rand.Rand, batch ...int) *tensor.Dense {
	return randomPoints(rng, append(batch, 3, 3)...)
}

func TestMotionFromEssentialChooseSolutionShape(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	for _, tc := range []struct{ batch, n int }{{1, 3}, {2, 3}, {2, 8}, {3, 2}} {
		em := randomMatrices(rng, tc.batch)
		k1 := randomMatrices(rng, tc.batch)
		k2 := randomMatrices(rng, 1)
		x1 := randomPoints(rng, tc.batch, tc.n, 2)
		x2 := randomPoints(rng, tc.batch, 1, 2)
		r, tr, x, err := MotionFromEssentialChooseSolution(em, k1, k2, x1, x2, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.Shape(), test.ShouldResemble, tensor.Shape{tc.batch, 3, 3})
		test.That(t, tr.Shape(), test.ShouldResemble, tensor.Shape{tc.batch, 3, 1})
		test.That(t, x.Shape(), test.ShouldResemble, tensor.Shape{tc.batch, tc.n, 3})
	}
}

// sliceInner returns points [1, n-1) of a (*, N, D) tensor.
func sliceInner(t *testing.T, d *tensor.Dense) *tensor.Dense {
	t.Helper()
	shape := d.Shape()
	n, dim := shape[len(shape)-2], shape[len(shape)-1]
	var out []float64
	for b := 0; b < d.NumBatch(2); b++ {
		blk := d.Block(b, 2)
		out = append(out, blk[dim:(n-1)*dim]...)
	}
	shape[len(shape)-2] = n - 2
	return tensor.MustNew(shape, out)
}

// innerMask marks points [1, n-1) of every batch element.
func innerMask(batch tensor.Shape, n int) *tensor.Mask {
	data := make([]bool, batch.NumElements()*n)
	for i := range data {
		p := i % n
		data[i] = p > 0 && p < n-1
	}
	m, err := tensor.NewMask(batch.Concat(n), data)
	if err != nil {
		panic(err)
	}
	return m
}

func TestMotionFromEssentialChooseSolutionMasking(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	em := randomMatrices(rng, 2)
	k1 := randomMatrices(rng, 2)
	k2 := randomMatrices(rng, 2)
	x1 := randomPoints(rng, 2, 10, 2)
	x2 := randomPoints(rng, 2, 10, 2)

	r, tr, x, err := MotionFromEssentialChooseSolution(em, k1, k2, sliceInner(t, x1), sliceInner(t, x2), nil)
	test.That(t, err, test.ShouldBeNil)
	rm, tm, xm, err := MotionFromEssentialChooseSolution(em, k1, k2, x1, x2, innerMask(tensor.Shape{2}, 10))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tensor.AllClose(r, rm, 1e-12), test.ShouldBeTrue)
	test.That(t, tensor.AllClose(tr, tm, 1e-12), test.ShouldBeTrue)
	// Masked out points are still triangulated in place.
	test.That(t, xm.Shape(), test.ShouldResemble, tensor.Shape{2, 10, 3})
	test.That(t, tensor.AllClose(x, sliceInner(t, xm), 1e-12), test.ShouldBeTrue)

	_, _, _, err = MotionFromEssentialChooseSolution(em, k1, k2, x1, x2, innerMask(tensor.Shape{2}, 9))
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
}

func TestMotionFromEssentialChooseSolutionUnbatched(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	for _, n := range []int{10, 15, 20} {
		em := randomMatrices(rng)
		k1 := randomMatrices(rng)
		k2 := randomMatrices(rng)
		x1 := randomPoints(rng, n, 2)
		x2 := randomPoints(rng, n, 2)

		r, tr, x, err := MotionFromEssentialChooseSolution(em, k1, k2, sliceInner(t, x1), sliceInner(t, x2), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, r.Shape(), test.ShouldResemble, tensor.Shape{3, 3})
		test.That(t, tr.Shape(), test.ShouldResemble, tensor.Shape{3, 1})
		test.That(t, x.Shape(), test.ShouldResemble, tensor.Shape{n - 2, 3})

		rm, tm, xm, err := MotionFromEssentialChooseSolution(em, k1, k2, x1, x2, innerMask(tensor.Shape{}, n))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, tensor.AllClose(r, rm, 1e-12), test.ShouldBeTrue)
		test.That(t, tensor.AllClose(tr, tm, 1e-12), test.ShouldBeTrue)
		test.That(t, tensor.AllClose(x, sliceInner(t, xm), 1e-12), test.ShouldBeTrue)
	}
}

func TestMotionFromEssentialChooseSolutionTwoView(t *testing.T) {
	s := newTwoViewScene(t, 20, 29)
	em, err := EssentialFromRt(s.r1, s.t1, s.r2, s.t2)
	test.That(t, err, test.ShouldBeNil)
	want, unit := s.unitMotion(t)

	r, tr, x, err := MotionFromEssentialChooseSolution(em, s.k1, s.k2, s.x1, s.x2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tensor.AllClose(r, want, 1e-4), test.ShouldBeTrue)
	test.That(t, tensor.AllClose(tr, unit, 1e-4), test.ShouldBeTrue)

	// The points are reconstructed in the first camera frame up to the scale of t.
	depth, err := DepthFromPoint(r, tr, x)
	test.That(t, err, test.ShouldBeNil)
	for _, d := range depth.Data() {
		test.That(t, d, test.ShouldBeGreaterThan, 0)
	}

	// Each batch element picks its own motion.
	swapped, err := EssentialFromRt(s.r2, s.t2, s.r1, s.t1)
	test.That(t, err, test.ShouldBeNil)
	both := tensor.MustNew(tensor.Shape{2, 3, 3}, append(em.Data(), swapped.Data()...))
	ks1 := tensor.MustNew(tensor.Shape{2, 3, 3}, append(s.k1.Data(), s.k2.Data()...))
	ks2 := tensor.MustNew(tensor.Shape{2, 3, 3}, append(s.k2.Data(), s.k1.Data()...))
	xs1 := tensor.MustNew(tensor.Shape{2, 20, 2}, append(s.x1.Data(), s.x2.Data()...))
	xs2 := tensor.MustNew(tensor.Shape{2, 20, 2}, append(s.x2.Data(), s.x1.Data()...))
	r, tr, _, err = MotionFromEssentialChooseSolution(both, ks1, ks2, xs1, xs2, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxAbsDiff(r.Block(0, 2), want.Data(), 1), test.ShouldBeLessThan, 1e-4)
	back, backT, err := RelativeCameraMotion(s.r2, s.t2, s.r1, s.t1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, maxAbsDiff(r.Block(1, 2), back.Data(), 1), test.ShouldBeLessThan, 1e-4)
	bt := backT.Data()
	norm := math.Sqrt(bt[0]*bt[0] + bt[1]*bt[1] + bt[2]*bt[2])
	for i := range bt {
		bt[i] /= norm
	}
	test.That(t, maxAbsDiff(tr.Block(1, 2), bt, 1), test.ShouldBeLessThan, 1e-4)
}
