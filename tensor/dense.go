// Package tensor is the host tensor runtime the geometry packages are written against: immutable
// dense float arrays carrying a shape and dtype/device tags, with helpers to run kernels per
// batch element.
package tensor

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/utils"
)

// Dense is an immutable row-major array. Every operation returns a fresh tensor.
type Dense struct {
	shape  Shape
	data   []float64
	dtype  DataType
	device Device
}

// Option configures a tensor at construction.
type Option func(*Dense)

// WithDType tags the tensor with a data type.
func WithDType(dt DataType) Option {
	return func(d *Dense) {
		d.dtype = dt
	}
}

// WithDevice tags the tensor with a device.
func WithDevice(dev Device) Option {
	return func(d *Dense) {
		d.device = dev
	}
}

// New copies data into a new tensor of the given shape.
func New(shape Shape, data []float64, opts ...Option) (*Dense, error) {
	for i, dim := range shape {
		if dim < 0 {
			return nil, errors.Errorf("invalid dimension at index %d: %d", i, dim)
		}
	}
	if len(data) != shape.NumElements() {
		return nil, errors.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	d := &Dense{shape: shape.Clone(), data: make([]float64, len(data)), dtype: Float64, device: CPU}
	for _, opt := range opts {
		opt(d)
	}
	for i, v := range data {
		d.data[i] = d.dtype.round(v)
	}
	return d, nil
}

// MustNew is New but panics on error. Meant for literals in tests and examples.
func MustNew(shape Shape, data []float64, opts ...Option) *Dense {
	d, err := New(shape, data, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Full returns a tensor with every element set to value.
func Full(shape Shape, value float64, opts ...Option) *Dense {
	data := make([]float64, shape.NumElements())
	for i := range data {
		data[i] = value
	}
	return MustNew(shape, data, opts...)
}

// Zeros returns a zero-filled tensor.
func Zeros(shape Shape, opts ...Option) *Dense {
	return Full(shape, 0, opts...)
}

// Ones returns a tensor filled with ones.
func Ones(shape Shape, opts ...Option) *Dense {
	return Full(shape, 1, opts...)
}

// wrap takes ownership of data without copying.
func wrap(shape Shape, data []float64, opts ...Option) *Dense {
	d := &Dense{shape: shape, data: data, dtype: Float64, device: CPU}
	for _, opt := range opts {
		opt(d)
	}
	if d.dtype == Float32 {
		for i, v := range d.data {
			d.data[i] = d.dtype.round(v)
		}
	}
	return d
}

// IsNil reports whether the receiver is a nil tensor.
func (d *Dense) IsNil() bool {
	return d == nil
}

// Shape returns a copy of the tensor's shape.
func (d *Dense) Shape() Shape {
	return d.shape.Clone()
}

// Dims returns the rank of the tensor.
func (d *Dense) Dims() int {
	return len(d.shape)
}

// Len returns the number of elements.
func (d *Dense) Len() int {
	return len(d.data)
}

// DType returns the data type tag.
func (d *Dense) DType() DataType {
	return d.dtype
}

// Device returns the device tag.
func (d *Dense) Device() Device {
	return d.device
}

// Like returns the options that reproduce d's dtype and device on a new tensor.
func (d *Dense) Like() []Option {
	return []Option{WithDType(d.dtype), WithDevice(d.device)}
}

// Data returns a copy of the underlying row-major storage.
func (d *Dense) Data() []float64 {
	out := make([]float64, len(d.data))
	copy(out, d.data)
	return out
}

// At returns the element at the given multi-index.
func (d *Dense) At(idx ...int) float64 {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("index rank %d does not match tensor rank %d", len(idx), len(d.shape)))
	}
	strides := d.shape.Strides()
	flat := 0
	for i, v := range idx {
		if v < 0 || v >= d.shape[i] {
			panic(fmt.Sprintf("index %v out of range for shape %v", idx, d.shape))
		}
		flat += v * strides[i]
	}
	return d.data[flat]
}

// Reshape returns a tensor with the same data and a new shape. One dimension may be -1, in
// which case it is inferred.
func (d *Dense) Reshape(shape ...int) (*Dense, error) {
	newShape := Shape(shape).Clone()
	infer := -1
	known := 1
	for i, dim := range newShape {
		if dim == -1 {
			if infer >= 0 {
				return nil, errors.New("only one dimension can be inferred")
			}
			infer = i
			continue
		}
		known *= dim
	}
	if infer >= 0 {
		if known == 0 || len(d.data)%known != 0 {
			return nil, errors.Errorf("cannot reshape %v into %v", d.shape, Shape(shape))
		}
		newShape[infer] = len(d.data) / known
	}
	if newShape.NumElements() != len(d.data) {
		return nil, errors.Errorf("cannot reshape %v into %v", d.shape, Shape(shape))
	}
	return wrap(newShape, d.Data(), d.Like()...), nil
}

// Clone returns a deep copy.
func (d *Dense) Clone() *Dense {
	return wrap(d.shape.Clone(), d.Data(), d.Like()...)
}

// To returns a copy of the tensor placed on dev.
func (d *Dense) To(dev Device) *Dense {
	return wrap(d.shape.Clone(), d.Data(), WithDType(d.dtype), WithDevice(dev))
}

// Cast returns a copy of the tensor with a new data type.
func (d *Dense) Cast(dt DataType) *Dense {
	return wrap(d.shape.Clone(), d.Data(), WithDType(dt), WithDevice(d.device))
}

// Map returns a new tensor with fn applied to every element.
func (d *Dense) Map(fn func(float64) float64) *Dense {
	out := make([]float64, len(d.data))
	for i, v := range d.data {
		out[i] = fn(v)
	}
	return wrap(d.shape.Clone(), out, d.Like()...)
}

// BatchShape returns the leading dimensions that remain once the last trailing dimensions are
// taken off.
func (d *Dense) BatchShape(trailing int) Shape {
	if trailing > len(d.shape) {
		return Shape{}
	}
	return d.shape[:len(d.shape)-trailing].Clone()
}

// NumBatch returns the number of trailing blocks in the tensor.
func (d *Dense) NumBatch(trailing int) int {
	return d.BatchShape(trailing).NumElements()
}

// Block returns a copy of the b-th contiguous block spanning the last trailing dimensions.
func (d *Dense) Block(b, trailing int) []float64 {
	size := d.shape[len(d.shape)-trailing:].NumElements()
	out := make([]float64, size)
	copy(out, d.data[b*size:(b+1)*size])
	return out
}

// Matrix returns the b-th matrix spanned by the last two dimensions.
func (d *Dense) Matrix(b int) *mat.Dense {
	r, c := d.shape[len(d.shape)-2], d.shape[len(d.shape)-1]
	return mat.NewDense(r, c, d.Block(b, 2))
}

// Expand broadcasts the leading dimensions of d to batch, keeping the last trailing
// dimensions as they are.
func (d *Dense) Expand(batch Shape, trailing int) (*Dense, error) {
	src := d.BatchShape(trailing)
	if got, err := BroadcastShapes(src, batch); err != nil || !got.Equal(batch) {
		return nil, errors.Wrapf(utils.ErrShape, "cannot expand %v to batch %v", d.shape, batch)
	}
	inner := d.shape[len(d.shape)-trailing:]
	if src.Equal(batch) {
		return wrap(batch.Concat(inner...), d.Data(), d.Like()...), nil
	}
	size := inner.NumElements()
	n := batch.NumElements()
	out := make([]float64, n*size)
	for b := 0; b < n; b++ {
		sb := broadcastIndex(batch, src, b)
		copy(out[b*size:(b+1)*size], d.data[sb*size:(sb+1)*size])
	}
	return wrap(batch.Concat(inner...), out, d.Like()...), nil
}

// String renders the shape and tags, plus the data for small tensors.
func (d *Dense) String() string {
	if d == nil {
		return "<nil>"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dense%v %v@%v", d.shape, d.dtype, d.device)
	const maxPrinted = 32
	if len(d.data) <= maxPrinted {
		fmt.Fprintf(&sb, " %v", d.data)
	}
	return sb.String()
}

// FromBlocks assembles a tensor of shape batch+inner from one block per batch element.
func FromBlocks(batch, inner Shape, blocks [][]float64, opts ...Option) (*Dense, error) {
	n := batch.NumElements()
	if len(blocks) != n {
		return nil, errors.Errorf("got %d blocks for batch %v", len(blocks), batch)
	}
	size := inner.NumElements()
	out := make([]float64, 0, n*size)
	for i, blk := range blocks {
		if len(blk) != size {
			return nil, errors.Errorf("block %d has %d elements, want %d", i, len(blk), size)
		}
		out = append(out, blk...)
	}
	return wrap(batch.Concat(inner...), out, opts...), nil
}

// FromMatrices assembles a tensor of shape batch+(r, c) from equally sized matrices.
func FromMatrices(batch Shape, ms []*mat.Dense, opts ...Option) (*Dense, error) {
	if len(ms) == 0 {
		return nil, errors.New("no matrices given")
	}
	r, c := ms[0].Dims()
	blocks := make([][]float64, len(ms))
	for i, m := range ms {
		if mr, mc := m.Dims(); mr != r || mc != c {
			return nil, errors.Errorf("matrix %d is %dx%d, want %dx%d", i, mr, mc, r, c)
		}
		blocks[i] = MatrixData(m)
	}
	return FromBlocks(batch, Shape{r, c}, blocks, opts...)
}

// MatrixData flattens any gonum matrix row-major.
func MatrixData(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}

// BroadcastBatch broadcasts the leading dimensions of several tensors, where each tensor keeps
// the matching number of trailing dimensions.
func BroadcastBatch(trailing []int, ts ...*Dense) (Shape, error) {
	if len(trailing) != len(ts) {
		return nil, errors.New("one trailing count is needed per tensor")
	}
	shapes := make([]Shape, len(ts))
	for i, t := range ts {
		shapes[i] = t.BatchShape(trailing[i])
	}
	return BroadcastShapes(shapes...)
}

// AllClose reports whether a and b have the same shape and all elements are within tol.
// NaNs compare equal to each other.
func AllClose(a, b *Dense, tol float64) bool {
	if !a.shape.Equal(b.shape) {
		return false
	}
	for i := range a.data {
		x, y := a.data[i], b.data[i]
		if x != x && y != y { //nolint:gocritic
			continue
		}
		if diff := x - y; diff > tol || diff < -tol || diff != diff { //nolint:gocritic
			return false
		}
	}
	return true
}
