package homography

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

func TestNewMatrix(t *testing.T) {
	_, err := NewMatrix([]float64{})
	test.That(t, err, test.ShouldBeError, errors.New("input to NewMatrix must have length of 9. Has length of 0"))

	vals := []float64{
		2.32700501e-01, -8.33535395e-03, -3.61894025e+01,
		-1.90671303e-03, 2.35303232e-01, 8.38582614e+00,
		-6.39101664e-05, -4.64582754e-05, 1.00000000e+00,
	}
	h, err := NewMatrix(vals)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.At(1, 2), test.ShouldEqual, 8.38582614e+00)
	test.That(t, h.Tensor().Data(), test.ShouldResemble, vals)

	inv, err := h.Inverse()
	test.That(t, err, test.ShouldBeNil)
	pt := r2.Point{X: 320, Y: 240}
	back := inv.Apply(h.Apply(pt))
	test.That(t, back.X, test.ShouldAlmostEqual, pt.X, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, pt.Y, 1e-6)

	_, err = (&Matrix{}).Inverse()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMatricesFromTensor(t *testing.T) {
	h, err := shiftX.Expand(tensor.Shape{2, 2}, 2)
	test.That(t, err, test.ShouldBeNil)
	ms, err := MatricesFromTensor(h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(ms), test.ShouldEqual, 4)
	for _, m := range ms {
		test.That(t, m.Apply(r2.Point{X: 1, Y: 2}), test.ShouldResemble, r2.Point{X: 2, Y: 2})
	}

	_, err = MatricesFromTensor(tensor.Zeros(tensor.Shape{2, 3}))
	test.That(t, errors.Is(err, utils.ErrShape), test.ShouldBeTrue)
}
