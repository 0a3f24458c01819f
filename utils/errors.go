package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrType is returned when an argument is not a usable tensor.
	ErrType = errors.New("wrong input type")
	// ErrShape is returned when an argument has the wrong rank or trailing dimensions.
	ErrShape = errors.New("wrong input shape")
)

// NewTypeError is used when the named argument is not a tensor. A nil pointer of a
// tensor type is reported as nil since it carries no data.
func NewTypeError(name string, actual interface{}) error {
	got := fmt.Sprintf("%T", actual)
	if isNil(actual) {
		got = "<nil>"
	}
	return errors.Wrapf(ErrType, "%s type is not a tensor. Got %s", name, got)
}

// NewShapeError is used when the named argument does not have the expected shape.
func NewShapeError(name, expected string, actual fmt.Stringer) error {
	return errors.Wrapf(ErrShape, "%s must be a %s tensor. Got %s", name, expected, actual)
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	if n, ok := v.(interface{ IsNil() bool }); ok {
		return n.IsNil()
	}
	return false
}
