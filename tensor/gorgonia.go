package tensor

import (
	"github.com/pkg/errors"
	gorgonia "gorgonia.org/tensor"
)

// FromGorgonia copies a gorgonia dense tensor of float32 or float64 elements. Views are
// materialized first so the copy follows the logical layout.
func FromGorgonia(t *gorgonia.Dense) (*Dense, error) {
	if t == nil {
		return nil, errors.New("nil gorgonia tensor")
	}
	if t.RequiresIterator() {
		m, ok := t.Materialize().(*gorgonia.Dense)
		if !ok {
			return nil, errors.New("could not materialize gorgonia view")
		}
		t = m
	}
	shape := Shape(t.Shape()).Clone()
	switch t.Dtype() {
	case gorgonia.Float64:
		if t.IsScalar() {
			v, _ := t.Data().(float64) //nolint:errcheck
			return New(Shape{}, []float64{v})
		}
		data, ok := t.Data().([]float64)
		if !ok {
			return nil, errors.New("unexpected float64 backing")
		}
		return New(shape, data)
	case gorgonia.Float32:
		if t.IsScalar() {
			v, _ := t.Data().(float32) //nolint:errcheck
			return New(Shape{}, []float64{float64(v)}, WithDType(Float32))
		}
		data, ok := t.Data().([]float32)
		if !ok {
			return nil, errors.New("unexpected float32 backing")
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return New(shape, out, WithDType(Float32))
	default:
		return nil, errors.Errorf("unsupported gorgonia dtype %v", t.Dtype())
	}
}

// ToGorgonia copies d into a gorgonia dense tensor with a backing of d's data type.
func ToGorgonia(d *Dense) *gorgonia.Dense {
	shape := []int(d.Shape())
	if d.dtype == Float32 {
		backing := make([]float32, len(d.data))
		for i, v := range d.data {
			backing[i] = float32(v)
		}
		return gorgonia.New(gorgonia.WithShape(shape...), gorgonia.WithBacking(backing))
	}
	return gorgonia.New(gorgonia.WithShape(shape...), gorgonia.WithBacking(d.Data()))
}
