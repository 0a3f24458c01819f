package homography

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"go.viam.com/mvg/tensor"
	"go.viam.com/mvg/utils"
)

// sampleIndices draws k distinct integers uniformly in [0, n).
func sampleIndices(k, n int) []int {
	dist := distuv.Uniform{Min: 0, Max: float64(n - 1)}
	seen := make(map[int]bool, k)
	z := make([]int, 0, k)
	for len(z) < k {
		val := int(math.Round(dist.Rand()))
		if val < 0 || val >= n || seen[val] {
			continue
		}
		seen[val] = true
		z = append(z, val)
	}
	return z
}

// DrawMinimalSamples draws numSamples random four point subsets of the (N, 2) correspondences,
// returned as (numSamples, 4, 2) tensors ready for SampleIsValidForHomography and
// FindHomographyDLT. The four indices of a sample are distinct.
func DrawMinimalSamples(points1, points2 *tensor.Dense, numSamples int) (*tensor.Dense, *tensor.Dense, error) {
	if err := tensor.CheckShape("points1", points1, tensor.Any, 2); err != nil {
		return nil, nil, err
	}
	if points1.Dims() != 2 {
		return nil, nil, utils.NewShapeError("points1", "(N, 2)", points1.Shape())
	}
	if err := tensor.CheckShape("points2", points2, tensor.Any, 2); err != nil {
		return nil, nil, err
	}
	if !points2.Shape().Equal(points1.Shape()) {
		return nil, nil, utils.NewShapeError("points2", points1.Shape().String(), points2.Shape())
	}
	n := points1.Shape()[0]
	if n < minCorrespondences {
		return nil, nil, errors.Errorf("need at least %d correspondences to sample, got %d", minCorrespondences, n)
	}
	if numSamples < 1 {
		return nil, nil, errors.Errorf("number of samples must be positive, got %d", numSamples)
	}

	d1, d2 := points1.Data(), points2.Data()
	s1 := make([][]float64, numSamples)
	s2 := make([][]float64, numSamples)
	for s := range s1 {
		s1[s] = make([]float64, 0, 2*minCorrespondences)
		s2[s] = make([]float64, 0, 2*minCorrespondences)
		for _, i := range sampleIndices(minCorrespondences, n) {
			s1[s] = append(s1[s], d1[2*i], d1[2*i+1])
			s2[s] = append(s2[s], d2[2*i], d2[2*i+1])
		}
	}
	inner := tensor.Shape{minCorrespondences, 2}
	out1, err := tensor.FromBlocks(tensor.Shape{numSamples}, inner, s1, points1.Like()...)
	if err != nil {
		return nil, nil, err
	}
	out2, err := tensor.FromBlocks(tensor.Shape{numSamples}, inner, s2, points2.Like()...)
	if err != nil {
		return nil, nil, err
	}
	return out1, out2, nil
}
