package homography

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/mvg/tensor"
)

const (
	// DefaultSoftInlierThreshold is the transfer error, in pixels, at which a correspondence
	// keeps exp(-1/2) of its weight.
	DefaultSoftInlierThreshold = 3.0
	// DefaultIterations counts the initial solve.
	DefaultIterations = 5
)

// Refiner fits a homography and then re-solves it Iterations-1 times, weighting every
// correspondence by exp(-err / (2 SoftInlierThreshold²)) of its transfer error under the
// previous estimate. There is no convergence check.
type Refiner struct {
	Solver              Solver
	SoftInlierThreshold float64
	Iterations          int
}

// DefaultRefiner returns a Refiner with the default threshold and iteration count.
func DefaultRefiner() Refiner {
	return Refiner{
		Solver:              SolverLU,
		SoftInlierThreshold: DefaultSoftInlierThreshold,
		Iterations:          DefaultIterations,
	}
}

func (r Refiner) validate() error {
	if _, err := ParseSolver(string(r.Solver)); err != nil {
		return err
	}
	if !(r.SoftInlierThreshold > 0) {
		return errors.Errorf("soft inlier threshold must be positive, got %v", r.SoftInlierThreshold)
	}
	if r.Iterations < 1 {
		return errors.Errorf("iterations must be at least 1, got %d", r.Iterations)
	}
	return nil
}

// softWeights turns (*, N) errors into re-weighting factors.
func (r Refiner) softWeights(errs *tensor.Dense) *tensor.Dense {
	denom := 2 * r.SoftInlierThreshold * r.SoftInlierThreshold
	return errs.Map(func(e float64) float64 { return math.Exp(-e / denom) })
}

// FitPoints runs the re-weighting loop on (*, N, 2) point correspondences using the unsquared
// symmetric transfer error.
func (r Refiner) FitPoints(points1, points2, weights *tensor.Dense) (*tensor.Dense, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	h, err := FindHomographyDLT(points1, points2, weights, r.Solver)
	if err != nil {
		return nil, err
	}
	for i := 1; i < r.Iterations; i++ {
		errs, err := SymmetricTransferError(points1, points2, h, false, DefaultEps)
		if err != nil {
			return nil, err
		}
		if h, err = FindHomographyDLT(points1, points2, r.softWeights(errs), r.Solver); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// FitLines runs the re-weighting loop on (*, N, 2, 2) segment correspondences using the
// unsquared one way line segment error. The line solver always uses the SVD.
func (r Refiner) FitLines(ls1, ls2, weights *tensor.Dense) (*tensor.Dense, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	ls1, ls2, err := checkSegments(ls1, ls2)
	if err != nil {
		return nil, err
	}
	h, err := FindHomographyLinesDLT(ls1, ls2, weights)
	if err != nil {
		return nil, err
	}
	for i := 1; i < r.Iterations; i++ {
		errs, err := LineSegmentTransferErrorOneWay(ls1, ls2, h, false)
		if err != nil {
			return nil, err
		}
		if h, err = FindHomographyLinesDLT(ls1, ls2, r.softWeights(errs)); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// FindHomographyDLTIterated is FitPoints of a Refiner using the LU solver.
func FindHomographyDLTIterated(
	points1, points2, weights *tensor.Dense,
	softInlierThreshold float64,
	nIter int,
) (*tensor.Dense, error) {
	return Refiner{Solver: SolverLU, SoftInlierThreshold: softInlierThreshold, Iterations: nIter}.
		FitPoints(points1, points2, weights)
}

// FindHomographyLinesDLTIterated is FitLines of a Refiner.
func FindHomographyLinesDLTIterated(
	ls1, ls2, weights *tensor.Dense,
	softInlierThreshold float64,
	nIter int,
) (*tensor.Dense, error) {
	return Refiner{SoftInlierThreshold: softInlierThreshold, Iterations: nIter}.FitLines(ls1, ls2, weights)
}
