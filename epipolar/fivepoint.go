package epipolar

import (
	"math"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
)

// poly is a polynomial of degree at most three in x, y, z. Coefficients follow monomials.
type poly [20]float64

// monomials lists the exponents of x, y, z for each poly coefficient. The ten cubic terms come
// first so that elimination leaves the quadratic basis in the last ten columns.
var monomials = [20][3]int{
	{3, 0, 0}, {2, 1, 0}, {1, 2, 0}, {0, 3, 0}, {2, 0, 1},
	{1, 1, 1}, {0, 2, 1}, {1, 0, 2}, {0, 1, 2}, {0, 0, 3},
	{2, 0, 0}, {1, 1, 0}, {0, 2, 0}, {1, 0, 1}, {0, 1, 1},
	{0, 0, 2}, {1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {0, 0, 0},
}

var monomialIndex = func() map[[3]int]int {
	idx := make(map[[3]int]int, len(monomials))
	for i, m := range monomials {
		idx[m] = i
	}
	return idx
}()

// Positions of x, y, z and the constant in a poly.
const (
	termX = 16
	termY = 17
	termZ = 18
	term1 = 19
)

func (p poly) add(q poly) poly {
	for i := range p {
		p[i] += q[i]
	}
	return p
}

func (p poly) scale(s float64) poly {
	for i := range p {
		p[i] *= s
	}
	return p
}

// mul multiplies two polynomials whose degrees sum to at most three.
func (p poly) mul(q poly) poly {
	var out poly
	for i, a := range p {
		if a == 0 {
			continue
		}
		for j, b := range q {
			if b == 0 {
				continue
			}
			e := [3]int{
				monomials[i][0] + monomials[j][0],
				monomials[i][1] + monomials[j][1],
				monomials[i][2] + monomials[j][2],
			}
			k, ok := monomialIndex[e]
			if !ok {
				panic("polynomial degree exceeds three")
			}
			out[k] += a * b
		}
	}
	return out
}

// polyMat is a 3x3 matrix of polynomials.
type polyMat [3][3]poly

// nullSpaceMatrix builds E = xX + yY + zZ + W from the four null space vectors, each a row-major
// 3x3 matrix.
func nullSpaceMatrix(x, y, z, w []float64) polyMat {
	var e polyMat
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			k := 3*i + j
			e[i][j][termX] = x[k]
			e[i][j][termY] = y[k]
			e[i][j][termZ] = z[k]
			e[i][j][term1] = w[k]
		}
	}
	return e
}

func (a polyMat) mul(b polyMat) polyMat {
	var out polyMat
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] = out[i][j].add(a[i][k].mul(b[k][j]))
			}
		}
	}
	return out
}

func (a polyMat) transpose() polyMat {
	var out polyMat
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[j][i]
		}
	}
	return out
}

func (a polyMat) det() poly {
	minor := func(r0, c0, r1, c1 int) poly {
		return a[r0][c0].mul(a[r1][c1]).add(a[r0][c1].mul(a[r1][c0]).scale(-1))
	}
	d := a[0][0].mul(minor(1, 1, 2, 2))
	d = d.add(a[0][1].mul(minor(1, 0, 2, 2)).scale(-1))
	return d.add(a[0][2].mul(minor(1, 0, 2, 1)))
}

// fivePointConstraints returns the ten cubic constraints on (x, y, z): det(E) = 0 and the nine
// entries of 2 E Eᵀ E - tr(E Eᵀ) E = 0, as a row-major 10x20 coefficient matrix.
func fivePointConstraints(x, y, z, w []float64) []float64 {
	e := nullSpaceMatrix(x, y, z, w)
	eet := e.mul(e.transpose())
	trace := eet[0][0].add(eet[1][1]).add(eet[2][2])
	eete := eet.mul(e)

	out := make([]float64, 0, 10*20)
	d := e.det()
	out = append(out, d[:]...)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			c := eete[i][j].scale(2).add(trace.mul(e[i][j]).scale(-1))
			out = append(out, c[:]...)
		}
	}
	return out
}

// actionMatrix builds the 10x10 matrix of multiplication by x on the quadratic basis
// (x², xy, y², xz, yz, z², x, y, z, 1), given the eliminated system cubic + B·basis = 0.
func actionMatrix(b []float64) []float64 {
	m := make([]float64, 100)
	for row, cubic := range []int{0, 1, 2, 4, 5, 7} {
		for j := 0; j < 10; j++ {
			m[row*10+j] = -b[cubic*10+j]
		}
	}
	m[6*10+0] = 1
	m[7*10+1] = 1
	m[8*10+3] = 1
	m[9*10+6] = 1
	return m
}

// essentialsFromEigen recovers at most ten unit-norm essential matrices from the eigen
// decomposition of the action matrix.
func essentialsFromEigen(re, im, vecs, x, y, z, w []float64) [][]float64 {
	const (
		imagTol  = 1e-10
		scaleTol = 1e-12
	)
	var out [][]float64
	for k := 0; k < 10; k++ {
		if math.IsNaN(re[k]) || math.Abs(im[k]) > imagTol*math.Max(1, math.Abs(re[k])) {
			continue
		}
		v9 := vecs[9*10+k]
		if math.Abs(v9) < scaleTol {
			continue
		}
		cx, cy, cz := vecs[6*10+k]/v9, vecs[7*10+k]/v9, vecs[8*10+k]/v9
		e := make([]float64, 9)
		var norm float64
		for i := range e {
			e[i] = cx*x[i] + cy*y[i] + cz*z[i] + w[i]
			norm += e[i] * e[i]
		}
		norm = math.Sqrt(norm)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			continue
		}
		for i := range e {
			e[i] /= norm
		}
		out = append(out, e)
	}
	return out
}

// fivePoint runs the polynomial stage for every batch element given the (B, 9, 9) singular
// vectors of the data matrix. It returns (B, 10, 3, 3) candidates and their (B, 10) validity.
func fivePoint(v *tensor.Dense) (*tensor.Dense, *tensor.Mask, error) {
	batch := v.BatchShape(2)
	nb := batch.NumElements()
	bases := make([][4][]float64, nb)
	lhs := make([][]float64, nb)
	rhs := make([][]float64, nb)
	if err := tensor.ForEachBatch(nb, func(b int) {
		vm := v.Matrix(b)
		var basis [4][]float64
		for i := range basis {
			basis[i] = make([]float64, 9)
			for r := 0; r < 9; r++ {
				basis[i][r] = vm.At(r, 5+i)
			}
		}
		bases[b] = basis
		a := fivePointConstraints(basis[0], basis[1], basis[2], basis[3])
		l, r := make([]float64, 0, 100), make([]float64, 0, 100)
		for row := 0; row < 10; row++ {
			l = append(l, a[row*20:row*20+10]...)
			r = append(r, a[row*20+10:row*20+20]...)
		}
		lhs[b], rhs[b] = l, r
	}); err != nil {
		return nil, nil, err
	}
	like := v.Like()
	lhsT, err := tensor.FromBlocks(batch, tensor.Shape{10, 10}, lhs, like...)
	if err != nil {
		return nil, nil, err
	}
	rhsT, err := tensor.FromBlocks(batch, tensor.Shape{10, 10}, rhs, like...)
	if err != nil {
		return nil, nil, err
	}
	eliminated, solved, err := linalg.Solve(lhsT, rhsT)
	if err != nil {
		return nil, nil, err
	}
	action, err := tensor.MapBlocks(batch, tensor.Shape{10, 10}, func(b int) []float64 {
		return actionMatrix(eliminated.Block(b, 2))
	}, like...)
	if err != nil {
		return nil, nil, err
	}
	re, im, vecs, err := linalg.EigReal(action)
	if err != nil {
		return nil, nil, err
	}

	ok := solved.Data()
	blocks := make([][]float64, nb)
	valid := make([]bool, nb*MaxEssentialSolutions)
	if err := tensor.ForEachBatch(nb, func(b int) {
		var sols [][]float64
		if ok[b] {
			basis := bases[b]
			sols = essentialsFromEigen(re.Block(b, 1), im.Block(b, 1), vecs.Block(b, 2),
				basis[0], basis[1], basis[2], basis[3])
		}
		blocks[b] = padSolutions(sols)
		for i := range sols {
			valid[b*MaxEssentialSolutions+i] = true
		}
	}); err != nil {
		return nil, nil, err
	}
	out, err := tensor.FromBlocks(batch, tensor.Shape{MaxEssentialSolutions, 3, 3}, blocks, like...)
	if err != nil {
		return nil, nil, err
	}
	mask, err := tensor.NewMask(batch.Concat(MaxEssentialSolutions), valid)
	if err != nil {
		return nil, nil, err
	}
	return out, mask, nil
}

// padSolutions lays out the solutions in a fixed block of MaxEssentialSolutions matrices. Free
// slots repeat the first solution, or stay zero when there is none.
func padSolutions(sols [][]float64) []float64 {
	out := make([]float64, 0, MaxEssentialSolutions*9)
	for i := 0; i < MaxEssentialSolutions; i++ {
		switch {
		case i < len(sols):
			out = append(out, sols[i]...)
		case len(sols) > 0:
			out = append(out, sols[0]...)
		default:
			out = append(out, make([]float64, 9)...)
		}
	}
	return out
}
