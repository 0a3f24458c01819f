package epipolar

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// translationX is the fundamental matrix [e_x]× of a pure sideways motion.
var translationX = tensor.MustNew(tensor.Shape{1, 3, 3}, []float64{
	0, 0, 0,
	0, 0, -1,
	0, 1, 0,
})

func TestEpipolarDistances(t *testing.T) {
	pts1 := tensor.MustNew(tensor.Shape{1, 2, 2}, []float64{0, 0, 3, 2})
	pts2 := tensor.MustNew(tensor.Shape{1, 2, 2}, []float64{0, 1, 7, 2})

	t.Run("sampson", func(t *testing.T) {
		d, err := SampsonEpipolarDistance(pts1, pts2, translationX, true, DefaultEps)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.Shape(), test.ShouldResemble, tensor.Shape{1, 2})
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, 0.5, 1e-12)
		test.That(t, d.At(0, 1), test.ShouldAlmostEqual, 0, 1e-12)

		d, err = SampsonEpipolarDistance(pts1, pts2, translationX, false, DefaultEps)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, math.Sqrt(0.5+DefaultEps), 1e-12)
		test.That(t, d.At(0, 1), test.ShouldAlmostEqual, math.Sqrt(DefaultEps), 1e-12)
	})

	t.Run("symmetrical", func(t *testing.T) {
		d, err := SymmetricalEpipolarDistance(pts1, pts2, translationX, true, DefaultEps)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, 2, 1e-12)
		test.That(t, d.At(0, 1), test.ShouldAlmostEqual, 0, 1e-12)
	})

	t.Run("one sided", func(t *testing.T) {
		d, err := LeftToRightEpipolarDistance(pts1, pts2, translationX)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.Shape(), test.ShouldResemble, tensor.Shape{1, 2})
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, d.At(0, 1), test.ShouldAlmostEqual, 0, 1e-6)

		d, err = RightToLeftEpipolarDistance(pts1, pts2, translationX)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, 1, 1e-6)
		test.That(t, d.At(0, 1), test.ShouldAlmostEqual, 0, 1e-6)
	})

	t.Run("homogeneous points", func(t *testing.T) {
		h1 := tensor.MustNew(tensor.Shape{1, 2, 3}, []float64{0, 0, 1, 3, 2, 1})
		d, err := SampsonEpipolarDistance(h1, pts2, translationX, true, DefaultEps)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, d.At(0, 0), test.ShouldAlmostEqual, 0.5, 1e-12)
	})
}

func TestEpipolarDistanceBroadcast(t *testing.T) {
	pts1 := tensor.Zeros(tensor.Shape{4, 5, 2})
	pts2 := tensor.Ones(tensor.Shape{4, 5, 2})
	d, err := SampsonEpipolarDistance(pts1, pts2, translationX, true, DefaultEps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Shape(), test.ShouldResemble, tensor.Shape{4, 5})

	fms := tensor.Zeros(tensor.Shape{3, 1, 3, 3})
	d, err = SymmetricalEpipolarDistance(pts1, pts2, fms, true, DefaultEps)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.Shape(), test.ShouldResemble, tensor.Shape{3, 4, 5})
}

func TestEpipolarDistanceSceneIsZero(t *testing.T) {
	s := newTwoViewScene(t, 20, 1)
	for _, fn := range []func(p1, p2, fm *tensor.Dense, squared bool, eps float64) (*tensor.Dense, error){
		SampsonEpipolarDistance,
		SymmetricalEpipolarDistance,
	} {
		d, err := fn(s.x1, s.x2, s.fm, true, DefaultEps)
		test.That(t, err, test.ShouldBeNil)
		for _, v := range d.Data() {
			test.That(t, v, test.ShouldAlmostEqual, 0, 1e-4)
		}
	}
	d, err := LeftToRightEpipolarDistance(s.x1, s.x2, s.fm)
	test.That(t, err, test.ShouldBeNil)
	for _, v := range d.Data() {
		test.That(t, v, test.ShouldAlmostEqual, 0, 1e-4)
	}
}

func TestEpipolarDistanceErrors(t *testing.T) {
	pts := tensor.Zeros(tensor.Shape{1, 5, 2})

	_, err := SampsonEpipolarDistance(nil, pts, translationX, true, DefaultEps)
	test.That(t, errors.Is(err, utils.ErrType), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "pts1 type is not a tensor. Got <nil>")

	_, err = SampsonEpipolarDistance(pts, pts, tensor.Zeros(tensor.Shape{1, 2, 3}), true, DefaultEps)
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fm must be a (*, 3, 3) tensor. Got (1, 2, 3)")

	_, err = SymmetricalEpipolarDistance(tensor.Zeros(tensor.Shape{1, 5, 4}), pts, translationX, true, DefaultEps)
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)

	_, err = LeftToRightEpipolarDistance(pts, tensor.Zeros(tensor.Shape{1, 4, 2}), translationX)
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
}
