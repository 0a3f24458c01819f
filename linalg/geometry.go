package linalg

import (
	"math"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// CrossProductMatrix returns the skew-symmetric matrix [v]× of every 3-vector so that
// [v]× w = v × w. Vectors may be laid out as (*, 3) or as columns (*, 3, 1); the result is
// (*, 3, 3) over the leading dimensions.
func CrossProductMatrix(v *tensor.Dense) (*tensor.Dense, error) {
	if v == nil {
		return nil, utils.NewTypeError("vector", v)
	}
	shape := v.Shape()
	trailing := 1
	switch {
	case len(shape) >= 2 && shape[len(shape)-2] == 3 && shape[len(shape)-1] == 1:
		trailing = 2
	case len(shape) >= 1 && shape[len(shape)-1] == 3:
	default:
		return nil, utils.NewShapeError("vector", "(*, 3) or (*, 3, 1)", shape)
	}
	return tensor.MapBlocks(v.BatchShape(trailing), tensor.Shape{3, 3}, func(bi int) []float64 {
		w := v.Block(bi, trailing)
		return skew(w[0], w[1], w[2])
	}, v.Like()...)
}

func skew(x, y, z float64) []float64 {
	return []float64{
		0, -z, y,
		z, 0, -x,
		-y, x, 0,
	}
}

// ConvertPointsToHomogeneous appends a one to every point: (*, N, D) -> (*, N, D+1).
func ConvertPointsToHomogeneous(points *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("points", points, tensor.Any); err != nil {
		return nil, err
	}
	shape := points.Shape()
	d := shape[len(shape)-1]
	rows := points.NumBatch(1)
	data := points.Data()
	out := make([]float64, 0, rows*(d+1))
	for i := 0; i < rows; i++ {
		out = append(out, data[i*d:(i+1)*d]...)
		out = append(out, 1)
	}
	shape[len(shape)-1] = d + 1
	return tensor.New(shape, out, points.Like()...)
}

// ConvertPointsFromHomogeneous divides every point by its last coordinate and drops it:
// (*, N, D) -> (*, N, D-1). Points whose last coordinate is within eps of zero are only
// truncated.
func ConvertPointsFromHomogeneous(points *tensor.Dense, eps float64) (*tensor.Dense, error) {
	if err := tensor.CheckShape("points", points, tensor.Any); err != nil {
		return nil, err
	}
	shape := points.Shape()
	d := shape[len(shape)-1]
	if d < 2 {
		return nil, utils.NewShapeError("points", "(*, D >= 2)", shape)
	}
	rows := points.NumBatch(1)
	data := points.Data()
	out := make([]float64, 0, rows*(d-1))
	for i := 0; i < rows; i++ {
		row := data[i*d : (i+1)*d]
		z := row[d-1]
		scale := 1.0
		if math.Abs(z) > eps {
			scale = 1 / (z + eps)
		}
		for _, v := range row[:d-1] {
			out = append(out, v*scale)
		}
	}
	shape[len(shape)-1] = d - 1
	return tensor.New(shape, out, points.Like()...)
}

// TransformPoints applies (*, D+1, D+1) projective transforms to (*, N, D) points.
func TransformPoints(trans, points *tensor.Dense) (*tensor.Dense, error) {
	if err := tensor.CheckShape("points", points, tensor.Any, tensor.Any); err != nil {
		return nil, err
	}
	d := points.Shape()[points.Dims()-1]
	if err := tensor.CheckShape("trans", trans, d+1, d+1); err != nil {
		return nil, err
	}
	hom, err := ConvertPointsToHomogeneous(points)
	if err != nil {
		return nil, err
	}
	transT, err := Transpose(trans)
	if err != nil {
		return nil, err
	}
	// Row vectors: x' = x Tᵀ.
	out, err := MatMul(hom, transT)
	if err != nil {
		return nil, err
	}
	return ConvertPointsFromHomogeneous(out, 1e-8)
}

// NormalizePoints applies Hartley's isotropic normalization to (*, N, 2) points: the centroid
// moves to the origin and the mean distance to it becomes √2. It returns the normalized points
// and the (*, 3, 3) transforms that produce them.
func NormalizePoints(points *tensor.Dense, eps float64) (*tensor.Dense, *tensor.Dense, error) {
	if err := tensor.CheckShape("points", points, tensor.Any, 2); err != nil {
		return nil, nil, err
	}
	batch := points.BatchShape(2)
	transform, err := tensor.MapBlocks(batch, tensor.Shape{3, 3}, func(bi int) []float64 {
		return normalizationBlock(points.Block(bi, 2), eps)
	}, points.Like()...)
	if err != nil {
		return nil, nil, err
	}
	normalized, err := TransformPoints(transform, points)
	if err != nil {
		return nil, nil, err
	}
	return normalized, transform, nil
}

func normalizationBlock(pts []float64, eps float64) []float64 {
	n := len(pts) / 2
	var mx, my float64
	for i := 0; i < n; i++ {
		mx += pts[2*i]
		my += pts[2*i+1]
	}
	mx /= float64(n)
	my /= float64(n)
	var dist float64
	for i := 0; i < n; i++ {
		dist += math.Hypot(pts[2*i]-mx, pts[2*i+1]-my)
	}
	dist /= float64(n)
	s := math.Sqrt2 / (dist + eps)
	return []float64{
		s, 0, -s * mx,
		0, s, -s * my,
		0, 0, 1,
	}
}

// PointLineDistance returns |a x + b y + c| / |(a, b)| for (*, N, 2|3) points against (*, N, 3)
// lines. Only the first two point coordinates are used.
func PointLineDistance(points, lines *tensor.Dense, eps float64) (*tensor.Dense, error) {
	if err := tensor.CheckShapeOneOf("point", points, []int{tensor.Any}, 2, 3); err != nil {
		return nil, err
	}
	if err := tensor.CheckShape("line", lines, tensor.Any, 3); err != nil {
		return nil, err
	}
	batch, err := tensor.BroadcastBatch([]int{1, 1}, points, lines)
	if err != nil {
		return nil, err
	}
	pd := points.Shape()[points.Dims()-1]
	ep, err := points.Expand(batch, 1)
	if err != nil {
		return nil, err
	}
	el, err := lines.Expand(batch, 1)
	if err != nil {
		return nil, err
	}
	pData, lData := ep.Data(), el.Data()
	n := batch.NumElements()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		x, y := pData[i*pd], pData[i*pd+1]
		a, b, c := lData[3*i], lData[3*i+1], lData[3*i+2]
		out[i] = math.Abs(a*x+b*y+c) / (math.Hypot(a, b) + eps)
	}
	return tensor.New(batch, out, points.Like()...)
}

// EyeLike returns n×n identities batched like the leading dimensions of like, which keeps
// trailing dimensions.
func EyeLike(n int, like *tensor.Dense, trailing int) *tensor.Dense {
	batch := like.BatchShape(trailing)
	eye := make([]float64, n*n)
	for i := 0; i < n; i++ {
		eye[i*n+i] = 1
	}
	out, err := tensor.MapBlocks(batch, tensor.Shape{n, n}, func(int) []float64 {
		return append([]float64{}, eye...)
	}, like.Like()...)
	if err != nil {
		panic(err)
	}
	return out
}

// VecLike returns zero (n, 1) column vectors batched like EyeLike.
func VecLike(n int, like *tensor.Dense, trailing int) *tensor.Dense {
	return tensor.Zeros(like.BatchShape(trailing).Concat(n, 1), like.Like()...)
}
