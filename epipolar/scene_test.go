package epipolar

import (
	"math"
	"math/rand"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/tensor"
)

// twoViewScene is a noise free two camera setup with world points in front of both cameras.
type twoViewScene struct {
	k1, k2 *tensor.Dense // (1, 3, 3)
	r1, r2 *tensor.Dense // (1, 3, 3)
	t1, t2 *tensor.Dense // (1, 3, 1)
	fm     *tensor.Dense // (1, 3, 3)
	// x1 and x2 are (1, N, 2) pixel projections, n1 and n2 the same in normalized coordinates.
	x1, x2 *tensor.Dense
	n1, n2 *tensor.Dense
	// world is (1, N, 3).
	world *tensor.Dense
}

// rodrigues returns the rotation of angle |r| about r.
func rodrigues(rx, ry, rz float64) []float64 {
	theta := math.Sqrt(rx*rx + ry*ry + rz*rz)
	out := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	if theta == 0 {
		return out.RawMatrix().Data
	}
	kx, ky, kz := rx/theta, ry/theta, rz/theta
	k := mat.NewDense(3, 3, []float64{
		0, -kz, ky,
		kz, 0, -kx,
		-ky, kx, 0,
	})
	var k2, tmp mat.Dense
	k2.Mul(k, k)
	tmp.Scale(math.Sin(theta), k)
	out.Add(out, &tmp)
	tmp.Scale(1-math.Cos(theta), &k2)
	out.Add(out, &tmp)
	return out.RawMatrix().Data
}

func project(k, r, t []float64, p [3]float64) (px, norm [2]float64) {
	var c [3]float64
	for i := 0; i < 3; i++ {
		c[i] = r[3*i]*p[0] + r[3*i+1]*p[1] + r[3*i+2]*p[2] + t[i]
	}
	u := (k[0]*c[0] + k[1]*c[1] + k[2]*c[2]) / c[2]
	v := (k[3]*c[0] + k[4]*c[1] + k[5]*c[2]) / c[2]
	return [2]float64{u, v}, [2]float64{c[0] / c[2], c[1] / c[2]}
}

func newTwoViewScene(t *testing.T, n int, seed int64) *twoViewScene {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	k1 := []float64{500, 0, 320, 0, 500, 240, 0, 0, 1}
	k2 := []float64{520, 0, 310, 0, 510, 250, 0, 0, 1}
	r1 := rodrigues(0.05, -0.1, 0.02)
	t1 := []float64{0.1, -0.2, 0.3}
	r2 := rodrigues(-0.1, 0.25, 0.05)
	t2 := []float64{-1, 0.15, 0.2}

	var x1, x2, n1, n2, world []float64
	for i := 0; i < n; i++ {
		p := [3]float64{rng.Float64()*2 - 1, rng.Float64()*2 - 1, 4 + 2*rng.Float64()}
		px1, nm1 := project(k1, r1, t1, p)
		px2, nm2 := project(k2, r2, t2, p)
		x1 = append(x1, px1[:]...)
		x2 = append(x2, px2[:]...)
		n1 = append(n1, nm1[:]...)
		n2 = append(n2, nm2[:]...)
		world = append(world, p[:]...)
	}
	s := &twoViewScene{
		k1: tensor.MustNew(tensor.Shape{1, 3, 3}, k1),
		k2: tensor.MustNew(tensor.Shape{1, 3, 3}, k2),
		r1: tensor.MustNew(tensor.Shape{1, 3, 3}, r1),
		r2: tensor.MustNew(tensor.Shape{1, 3, 3}, r2),
		t1: tensor.MustNew(tensor.Shape{1, 3, 1}, t1),
		t2: tensor.MustNew(tensor.Shape{1, 3, 1}, t2),
		x1: tensor.MustNew(tensor.Shape{1, n, 2}, x1),
		x2: tensor.MustNew(tensor.Shape{1, n, 2}, x2),
		n1: tensor.MustNew(tensor.Shape{1, n, 2}, n1),
		n2: tensor.MustNew(tensor.Shape{1, n, 2}, n2),

		world: tensor.MustNew(tensor.Shape{1, n, 3}, world),
	}
	em, err := EssentialFromRt(s.r1, s.t1, s.r2, s.t2)
	test.That(t, err, test.ShouldBeNil)
	s.fm, err = FundamentalFromEssential(em, s.k1, s.k2)
	test.That(t, err, test.ShouldBeNil)
	return s
}

// unitMotion returns the relative motion of the scene with a unit translation.
func (s *twoViewScene) unitMotion(t *testing.T) (*tensor.Dense, *tensor.Dense) {
	t.Helper()
	r, tr, err := RelativeCameraMotion(s.r1, s.t1, s.r2, s.t2)
	test.That(t, err, test.ShouldBeNil)
	data := tr.Data()
	norm := math.Sqrt(data[0]*data[0] + data[1]*data[1] + data[2]*data[2])
	return r, tr.Map(func(v float64) float64 { return v / norm })
}

// frobeniusUnit scales a flat matrix to unit Frobenius norm.
func frobeniusUnit(m []float64) []float64 {
	var norm float64
	for _, v := range m {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(m))
	for i, v := range m {
		out[i] = v / norm
	}
	return out
}

// maxAbsDiff returns the largest elementwise difference of a and sign*b.
func maxAbsDiff(a, b []float64, sign float64) float64 {
	var out float64
	for i := range a {
		out = math.Max(out, math.Abs(a[i]-sign*b[i]))
	}
	return out
}

func randomPoints(rng *rand.Rand, shape ...int) *tensor.Dense {
	s := tensor.Shape(shape)
	data := make([]float64, s.NumElements())
	for i := range data {
		data[i] = rng.Float64()
	}
	return tensor.MustNew(s, data)
}
