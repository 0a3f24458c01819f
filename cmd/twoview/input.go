package main

import (
	"encoding/json"
	"os"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/tensor"
)

// correspondences is the JSON input of every command. Points are pixels; k1 and k2 are
// row-major 3x3 intrinsics, k2 defaulting to k1.
type correspondences struct {
	Points1 [][2]float64    `json:"points1"`
	Points2 [][2]float64    `json:"points2"`
	Weights []float64       `json:"weights,omitempty"`
	K1      []float64       `json:"k1,omitempty"`
	K2      []float64       `json:"k2,omitempty"`
	Lines1  [][2][2]float64 `json:"lines1,omitempty"`
	Lines2  [][2][2]float64 `json:"lines2,omitempty"`
}

func readCorrespondences(path string) (*correspondences, error) {
	//nolint:gosec
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in correspondences
	if err := json.Unmarshal(buf, &in); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q", path)
	}
	if len(in.Points1) != len(in.Points2) {
		return nil, errors.Errorf("points1 has %d points but points2 has %d", len(in.Points1), len(in.Points2))
	}
	if len(in.Lines1) != len(in.Lines2) {
		return nil, errors.Errorf("lines1 has %d segments but lines2 has %d", len(in.Lines1), len(in.Lines2))
	}
	if in.Weights != nil && len(in.Weights) != len(in.Points1) && len(in.Weights) != len(in.Lines1) {
		return nil, errors.Errorf("got %d weights for %d points and %d lines", len(in.Weights), len(in.Points1), len(in.Lines1))
	}
	return &in, nil
}

func toR2(pts [][2]float64) []r2.Point {
	return lo.Map(pts, func(p [2]float64, _ int) r2.Point {
		return r2.Point{X: p[0], Y: p[1]}
	})
}

// points returns both point sets as (1, N, 2) tensors and the (1, N) weights, nil when unset.
func (in *correspondences) points(opts ...tensor.Option) (p1, p2, w *tensor.Dense, err error) {
	if len(in.Points1) == 0 {
		return nil, nil, nil, errors.New("input has no points")
	}
	n := len(in.Points1)
	if p1, err = tensor.FromR2Points(toR2(in.Points1), opts...).Reshape(1, n, 2); err != nil {
		return nil, nil, nil, err
	}
	if p2, err = tensor.FromR2Points(toR2(in.Points2), opts...).Reshape(1, n, 2); err != nil {
		return nil, nil, nil, err
	}
	if len(in.Weights) == n {
		w = tensor.MustNew(tensor.Shape{1, n}, in.Weights, opts...)
	}
	return p1, p2, w, nil
}

// segments returns both segment sets as (1, N, 2, 2) tensors.
func (in *correspondences) segments(opts ...tensor.Option) (ls1, ls2, w *tensor.Dense, err error) {
	n := len(in.Lines1)
	flatten := func(ls [][2][2]float64) []float64 {
		return lo.FlatMap(ls, func(s [2][2]float64, _ int) []float64 {
			return []float64{s[0][0], s[0][1], s[1][0], s[1][1]}
		})
	}
	if ls1, err = tensor.New(tensor.Shape{1, n, 2, 2}, flatten(in.Lines1), opts...); err != nil {
		return nil, nil, nil, err
	}
	if ls2, err = tensor.New(tensor.Shape{1, n, 2, 2}, flatten(in.Lines2), opts...); err != nil {
		return nil, nil, nil, err
	}
	if len(in.Weights) == n {
		w = tensor.MustNew(tensor.Shape{1, n}, in.Weights, opts...)
	}
	return ls1, ls2, w, nil
}

// intrinsics returns K1 and K2, K2 defaulting to K1.
func (in *correspondences) intrinsics() (k1, k2 *mat.Dense, err error) {
	if len(in.K1) != 9 {
		return nil, nil, errors.Errorf("k1 must have 9 values, got %d", len(in.K1))
	}
	k1 = mat.NewDense(3, 3, in.K1)
	switch len(in.K2) {
	case 0:
		return k1, k1, nil
	case 9:
		return k1, mat.NewDense(3, 3, in.K2), nil
	default:
		return nil, nil, errors.Errorf("k2 must have 9 values, got %d", len(in.K2))
	}
}
