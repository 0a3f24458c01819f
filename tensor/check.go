package tensor

import (
	"strconv"
	"strings"

	"go.viam.com/mvg/utils"
)

// Any matches any size in CheckShape.
const Any = -1

// CheckShape returns a type error when t is nil, and a shape error unless t has at least
// len(dims) dimensions whose trailing sizes match dims. Any matches every size.
func CheckShape(name string, t *Dense, dims ...int) error {
	if t == nil {
		return utils.NewTypeError(name, t)
	}
	if len(t.shape) < len(dims) {
		return utils.NewShapeError(name, describe(dims), t.shape)
	}
	off := len(t.shape) - len(dims)
	for i, d := range dims {
		if d != Any && t.shape[off+i] != d {
			return utils.NewShapeError(name, describe(dims), t.shape)
		}
	}
	return nil
}

// CheckShapeOneOf is CheckShape where the last dimension may take any of lastDims.
func CheckShapeOneOf(name string, t *Dense, lead []int, lastDims ...int) error {
	if t == nil {
		return utils.NewTypeError(name, t)
	}
	for _, last := range lastDims {
		if CheckShape(name, t, append(append([]int{}, lead...), last)...) == nil {
			return nil
		}
	}
	alts := make([]string, len(lastDims))
	for i, last := range lastDims {
		alts[i] = strconv.Itoa(last)
	}
	want := describe(lead)
	want = strings.TrimSuffix(want, ")") + ", " + strings.Join(alts, "|") + ")"
	if len(lead) == 0 {
		want = "(*, " + strings.Join(alts, "|") + ")"
	}
	return utils.NewShapeError(name, want, t.shape)
}

func describe(dims []int) string {
	parts := []string{"*"}
	for _, d := range dims {
		if d == Any {
			parts = append(parts, "N")
			continue
		}
		parts = append(parts, strconv.Itoa(d))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
