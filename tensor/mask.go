package tensor

import (
	"github.com/pkg/errors"

	"go.viam.com/mvg/utils"
)

// Mask is an immutable boolean array, used for per-correspondence validity and per-batch
// results such as solver success.
type Mask struct {
	shape Shape
	data  []bool
}

// NewMask copies data into a new mask of the given shape.
func NewMask(shape Shape, data []bool) (*Mask, error) {
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	m := &Mask{shape: shape.Clone(), data: make([]bool, len(data))}
	copy(m.data, data)
	return m, nil
}

// FullMask returns a mask with every element set to value.
func FullMask(shape Shape, value bool) *Mask {
	data := make([]bool, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return &Mask{shape: shape.Clone(), data: data}
}

// IsNil reports whether the receiver is a nil mask.
func (m *Mask) IsNil() bool {
	return m == nil
}

// Shape returns a copy of the mask's shape.
func (m *Mask) Shape() Shape {
	return m.shape.Clone()
}

// Dims returns the rank of the mask.
func (m *Mask) Dims() int {
	return len(m.shape)
}

// Len returns the number of elements.
func (m *Mask) Len() int {
	return len(m.data)
}

// Data returns a copy of the underlying storage.
func (m *Mask) Data() []bool {
	out := make([]bool, len(m.data))
	copy(out, m.data)
	return out
}

// At returns the element at the given multi-index.
func (m *Mask) At(idx ...int) bool {
	strides := m.shape.Strides()
	flat := 0
	for i, v := range idx {
		flat += v * strides[i]
	}
	return m.data[flat]
}

// Count returns the number of true elements.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}
	return n
}

// BatchShape returns the leading dimensions left once the last trailing dimensions are removed.
func (m *Mask) BatchShape(trailing int) Shape {
	if trailing > len(m.shape) {
		return Shape{}
	}
	return m.shape[:len(m.shape)-trailing].Clone()
}

// Block returns a copy of the b-th contiguous block spanning the last trailing dimensions.
func (m *Mask) Block(b, trailing int) []bool {
	size := m.shape[len(m.shape)-trailing:].NumElements()
	out := make([]bool, size)
	copy(out, m.data[b*size:(b+1)*size])
	return out
}

// Expand broadcasts the leading dimensions of m to batch.
func (m *Mask) Expand(batch Shape, trailing int) (*Mask, error) {
	src := m.BatchShape(trailing)
	if got, err := BroadcastShapes(src, batch); err != nil || !got.Equal(batch) {
		return nil, errors.Wrapf(utils.ErrShape, "cannot expand mask %v to batch %v", m.shape, batch)
	}
	inner := m.shape[len(m.shape)-trailing:]
	size := inner.NumElements()
	n := batch.NumElements()
	out := make([]bool, n*size)
	for b := 0; b < n; b++ {
		sb := broadcastIndex(batch, src, b)
		copy(out[b*size:(b+1)*size], m.data[sb*size:(sb+1)*size])
	}
	return &Mask{shape: batch.Concat(inner...), data: out}, nil
}

// Reshape returns a mask with the same data and a new shape.
func (m *Mask) Reshape(shape ...int) (*Mask, error) {
	if Shape(shape).NumElements() != len(m.data) {
		return nil, errors.Errorf("cannot reshape mask %v into %v", m.shape, Shape(shape))
	}
	return NewMask(Shape(shape), m.data)
}
