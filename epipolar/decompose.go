package epipolar

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/tensor"
)

// w90 is the rotation by 90 degrees about z used to split an essential matrix.
var w90 = mat.NewDense(3, 3, []float64{
	0, -1, 0,
	1, 0, 0,
	0, 0, 1,
})

// DecomposeEssentialMatrix splits (*, 3, 3) essential matrices into the two rotations
// R1 = U W Vᵀ and R2 = U Wᵀ Vᵀ and the translation direction t = U[:, 2] of shape (*, 3, 1).
func DecomposeEssentialMatrix(em *tensor.Dense) (r1, r2, t *tensor.Dense, err error) {
	if err := tensor.CheckShape("E_mat", em, 3, 3); err != nil {
		return nil, nil, nil, err
	}
	u, _, v, err := linalg.SVD(em)
	if err != nil {
		return nil, nil, nil, err
	}
	batch := em.BatchShape(2)
	nb := batch.NumElements()
	r1s, r2s, ts := make([][]float64, nb), make([][]float64, nb), make([][]float64, nb)
	if err := tensor.ForEachBatch(nb, func(b int) {
		um := u.Matrix(b)
		vt := mat.DenseCopyOf(v.Matrix(b).T())
		// Keep both factors proper rotations so that R1 and R2 are too.
		if mat.Det(um) < 0 {
			for i := 0; i < 3; i++ {
				um.Set(i, 2, -um.At(i, 2))
			}
		}
		if mat.Det(vt) < 0 {
			for j := 0; j < 3; j++ {
				vt.Set(2, j, -vt.At(2, j))
			}
		}
		var uw, rot mat.Dense
		uw.Mul(um, w90)
		rot.Mul(&uw, vt)
		r1s[b] = tensor.MatrixData(&rot)
		uw.Mul(um, w90.T())
		rot.Mul(&uw, vt)
		r2s[b] = tensor.MatrixData(&rot)
		ts[b] = mat.Col(nil, 2, um)
	}); err != nil {
		return nil, nil, nil, err
	}
	like := em.Like()
	if r1, err = tensor.FromBlocks(batch, tensor.Shape{3, 3}, r1s, like...); err != nil {
		return nil, nil, nil, err
	}
	if r2, err = tensor.FromBlocks(batch, tensor.Shape{3, 3}, r2s, like...); err != nil {
		return nil, nil, nil, err
	}
	if t, err = tensor.FromBlocks(batch, tensor.Shape{3, 1}, ts, like...); err != nil {
		return nil, nil, nil, err
	}
	return r1, r2, t, nil
}

// DecomposeEssentialMatrixNoSVD is DecomposeEssentialMatrix computed in closed form from E Eᵀ
// and cross products of the rows of E. It accepts (3, 3) or (*, 3, 3) input and returns the
// batch flattened to (B, 3, 3) and (B, 3, 1). The result matches the SVD route up to swapping
// R1 with R2 and the sign of t.
func DecomposeEssentialMatrixNoSVD(em *tensor.Dense) (r1, r2, t *tensor.Dense, err error) {
	if err := tensor.CheckShape("E_mat", em, 3, 3); err != nil {
		return nil, nil, nil, err
	}
	if em, err = em.Reshape(-1, 3, 3); err != nil {
		return nil, nil, nil, err
	}
	nb := em.NumBatch(2)
	r1s, r2s, ts := make([][]float64, nb), make([][]float64, nb), make([][]float64, nb)
	if err := tensor.ForEachBatch(nb, func(b int) {
		r1s[b], r2s[b], ts[b] = decomposeClosedForm(em.Block(b, 2))
	}); err != nil {
		return nil, nil, nil, err
	}
	batch := tensor.Shape{nb}
	like := em.Like()
	if r1, err = tensor.FromBlocks(batch, tensor.Shape{3, 3}, r1s, like...); err != nil {
		return nil, nil, nil, err
	}
	if r2, err = tensor.FromBlocks(batch, tensor.Shape{3, 3}, r2s, like...); err != nil {
		return nil, nil, nil, err
	}
	if t, err = tensor.FromBlocks(batch, tensor.Shape{3, 1}, ts, like...); err != nil {
		return nil, nil, nil, err
	}
	return r1, r2, t, nil
}

type vec3 [3]float64

func (a vec3) cross(b vec3) vec3 {
	return vec3{a[1]*b[2] - a[2]*b[1], a[2]*b[0] - a[0]*b[2], a[0]*b[1] - a[1]*b[0]}
}

// decomposeClosedForm recovers the twisted pair from a row-major essential matrix. With E
// scaled so that ½ tr(E Eᵀ) = 1 we have E Eᵀ = I - t tᵀ and R = cof(E) ∓ [t]× E.
func decomposeClosedForm(e []float64) (r1, r2, t []float64) {
	var eet [9]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				eet[3*i+j] += e[3*i+k] * e[3*j+k]
			}
		}
	}
	s := math.Sqrt((eet[0] + eet[4] + eet[8]) / 2)
	en := make([]float64, 9)
	for i := range e {
		en[i] = e[i] / s
	}
	for i := range eet {
		eet[i] /= s * s
	}

	// t tᵀ = I - E Eᵀ. The row with the largest diagonal is t scaled by its own entry.
	best := 0
	for i := 1; i < 3; i++ {
		if 1-eet[4*i] > 1-eet[4*best] {
			best = i
		}
	}
	var tv vec3
	for j := 0; j < 3; j++ {
		tv[j] = -eet[3*best+j]
	}
	tv[best]++
	norm := math.Sqrt(tv[best])
	for j := range tv {
		tv[j] /= norm
	}

	rows := [3]vec3{
		{en[0], en[1], en[2]},
		{en[3], en[4], en[5]},
		{en[6], en[7], en[8]},
	}
	cof := [3]vec3{rows[1].cross(rows[2]), rows[2].cross(rows[0]), rows[0].cross(rows[1])}

	tx := tv.skew()
	r1, r2 = make([]float64, 9), make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var txe float64
			for k := 0; k < 3; k++ {
				txe += tx[3*i+k] * en[3*k+j]
			}
			r1[3*i+j] = cof[i][j] - txe
			r2[3*i+j] = cof[i][j] + txe
		}
	}
	return r1, r2, tv[:]
}

func (v vec3) skew() []float64 {
	return []float64{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	}
}

// MotionFromEssential returns the four motion hypotheses of (*, 3, 3) essential matrices as
// Rs (*, 4, 3, 3) and ts (*, 4, 3, 1), ordered (R1, t), (R1, -t), (R2, t), (R2, -t).
func MotionFromEssential(em *tensor.Dense) (rs, ts *tensor.Dense, err error) {
	r1, r2, t, err := DecomposeEssentialMatrix(em)
	if err != nil {
		return nil, nil, err
	}
	batch := em.BatchShape(2)
	if rs, err = tensor.MapBlocks(batch, tensor.Shape{4, 3, 3}, func(b int) []float64 {
		a, c := r1.Block(b, 2), r2.Block(b, 2)
		out := make([]float64, 0, 36)
		for _, r := range [][]float64{a, a, c, c} {
			out = append(out, r...)
		}
		return out
	}, em.Like()...); err != nil {
		return nil, nil, err
	}
	if ts, err = tensor.MapBlocks(batch, tensor.Shape{4, 3, 1}, func(b int) []float64 {
		v := t.Block(b, 2)
		out := make([]float64, 0, 12)
		for _, sign := range []float64{1, -1, 1, -1} {
			out = append(out, sign*v[0], sign*v[1], sign*v[2])
		}
		return out
	}, em.Like()...); err != nil {
		return nil, nil, err
	}
	return rs, ts, nil
}
