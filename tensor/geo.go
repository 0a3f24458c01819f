package tensor

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// FromR2Points packs points into an (N, 2) tensor.
func FromR2Points(pts []r2.Point, opts ...Option) *Dense {
	data := make([]float64, 0, 2*len(pts))
	for _, p := range pts {
		data = append(data, p.X, p.Y)
	}
	return wrap(Shape{len(pts), 2}, data, opts...)
}

// FromR3Vectors packs vectors into an (N, 3) tensor.
func FromR3Vectors(vs []r3.Vector, opts ...Option) *Dense {
	data := make([]float64, 0, 3*len(vs))
	for _, v := range vs {
		data = append(data, v.X, v.Y, v.Z)
	}
	return wrap(Shape{len(vs), 3}, data, opts...)
}

// ToR2Points unpacks the b-th (N, 2) block of a (*, N, 2) tensor.
func ToR2Points(d *Dense, b int) ([]r2.Point, error) {
	if d.Dims() < 2 || d.shape[d.Dims()-1] != 2 {
		return nil, errors.Errorf("want a (*, N, 2) tensor, got %v", d.shape)
	}
	blk := d.Block(b, 2)
	out := make([]r2.Point, len(blk)/2)
	for i := range out {
		out[i] = r2.Point{X: blk[2*i], Y: blk[2*i+1]}
	}
	return out, nil
}

// ToR3Vectors unpacks the b-th (N, 3) block of a (*, N, 3) tensor.
func ToR3Vectors(d *Dense, b int) ([]r3.Vector, error) {
	if d.Dims() < 2 || d.shape[d.Dims()-1] != 3 {
		return nil, errors.Errorf("want a (*, N, 3) tensor, got %v", d.shape)
	}
	blk := d.Block(b, 2)
	out := make([]r3.Vector, len(blk)/3)
	for i := range out {
		out[i] = r3.Vector{X: blk[3*i], Y: blk[3*i+1], Z: blk[3*i+2]}
	}
	return out, nil
}
