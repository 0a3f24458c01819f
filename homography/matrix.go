package homography

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/tensor"
)

// Matrix is a 3x3 homography (represented as a 2D array) that maps points of one image plane
// onto another. Indices are [row][column].
type Matrix [3][3]float64

// NewMatrix builds a Matrix from 9 row-major values.
func NewMatrix(vals []float64) (*Matrix, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewMatrix must have length of 9. Has length of %d", len(vals))
	}
	var h Matrix
	for i := 0; i < 3; i++ {
		copy(h[i][:], vals[3*i:3*i+3])
	}
	return &h, nil
}

// MatricesFromTensor flattens the batch of a (*, 3, 3) tensor into Matrix values.
func MatricesFromTensor(h *tensor.Dense) ([]Matrix, error) {
	if err := tensor.CheckShape("H", h, 3, 3); err != nil {
		return nil, err
	}
	out := make([]Matrix, h.NumBatch(2))
	for b := range out {
		m, err := NewMatrix(h.Block(b, 2))
		if err != nil {
			return nil, err
		}
		out[b] = *m
	}
	return out, nil
}

// At returns the element at row, col.
func (h *Matrix) At(row, col int) float64 {
	return h[row][col]
}

// Apply maps pt through the homography.
func (h *Matrix) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the homography mapping the other way.
func (h *Matrix) Inverse() (*Matrix, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.dense()); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return NewMatrix(tensor.MatrixData(&inv))
}

// Tensor returns h as a (1, 3, 3) tensor.
func (h *Matrix) Tensor() *tensor.Dense {
	return tensor.MustNew(tensor.Shape{1, 3, 3}, tensor.MatrixData(h.dense()))
}

func (h *Matrix) dense() *mat.Dense {
	data := make([]float64, 0, 9)
	for i := 0; i < 3; i++ {
		data = append(data, h[i][:]...)
	}
	return mat.NewDense(3, 3, data)
}
