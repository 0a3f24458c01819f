package tensor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/mvg/utils"
)

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements in the tensor.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// Concat returns s followed by inner.
func (s Shape) Concat(inner ...int) Shape {
	out := make(Shape, 0, len(s)+len(inner))
	out = append(out, s...)
	return append(out, inner...)
}

// String renders the shape the way errors report it, e.g. "(2, 3, 3)".
func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, dim := range s {
		parts[i] = strconv.Itoa(dim)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Strides calculates row-major strides for the shape.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting over any number of shapes.
// Shapes are compared right to left; dimensions are compatible when equal or when one is 1,
// and missing dimensions are treated as 1.
func BroadcastShapes(shapes ...Shape) (Shape, error) {
	maxLen := 0
	for _, s := range shapes {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	result := make(Shape, maxLen)
	for i := range result {
		result[i] = 1
	}
	for _, s := range shapes {
		for i := 0; i < len(s); i++ {
			outIdx := maxLen - len(s) + i
			dim := s[i]
			switch {
			case dim == result[outIdx]:
			case result[outIdx] == 1:
				result[outIdx] = dim
			case dim == 1:
			default:
				return nil, errors.Wrapf(utils.ErrShape, "shapes not compatible for broadcasting: %v (dimension %d: %d vs %d)",
					shapes, outIdx, result[outIdx], dim)
			}
		}
	}
	return result, nil
}

// broadcastIndex maps flat index b of the broadcast shape out to the flat index of the
// same element in src, which must broadcast to out.
func broadcastIndex(out, src Shape, b int) int {
	if src.Equal(out) {
		return b
	}
	offset := len(out) - len(src)
	srcStrides := src.Strides()
	idx := 0
	for i := len(out) - 1; i >= 0; i-- {
		coord := b % out[i]
		b /= out[i]
		j := i - offset
		if j < 0 {
			continue
		}
		if src[j] != 1 {
			idx += coord * srcStrides[j]
		}
	}
	return idx
}
