package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/mvg/config"
	"go.viam.com/mvg/epipolar"
	"go.viam.com/mvg/homography"
	"go.viam.com/mvg/linalg"
	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
)

// runner carries what every command needs once the global flags are parsed.
type runner struct {
	conf    *config.Estimator
	logger  logging.Logger
	out     io.Writer
	npyPath string
}

func (r *runner) eps() float64 {
	return r.conf.Epsilon(epipolar.DefaultEps)
}

// formatMatrix renders row-major values one row per line.
func formatMatrix(vals []float64, cols int) string {
	rows := lo.Chunk(vals, cols)
	return strings.Join(lo.Map(rows, func(row []float64, _ int) string {
		return strings.Join(lo.Map(row, func(v float64, _ int) string {
			return fmt.Sprintf("% .6f", v)
		}), " ")
	}), "\n")
}

func finite(vals []float64) []float64 {
	return lo.Filter(vals, func(v float64, _ int) bool {
		return !math.IsNaN(v) && !math.IsInf(v, 0)
	})
}

var residualHeader = table.Row{"Residual", "Count", "Mean", "Median", "P90", "Max"}

// residualRow summarizes a set of per-correspondence errors. Non-finite values are dropped.
func residualRow(name string, residuals []float64) (table.Row, error) {
	vals := finite(residuals)
	if len(vals) == 0 {
		return table.Row{name, 0, "-", "-", "-", "-"}, nil
	}
	mean, err := stats.Mean(vals)
	if err != nil {
		return nil, err
	}
	median, err := stats.Median(vals)
	if err != nil {
		return nil, err
	}
	p90, err := stats.Percentile(vals, 90)
	if err != nil {
		return nil, err
	}
	maxVal, err := stats.Max(vals)
	if err != nil {
		return nil, err
	}
	return table.Row{
		name,
		len(vals),
		fmt.Sprintf("%.4g", mean),
		fmt.Sprintf("%.4g", median),
		fmt.Sprintf("%.4g", p90),
		fmt.Sprintf("%.4g", maxVal),
	}, nil
}

func (r *runner) render(t table.Writer) {
	fmt.Fprintln(r.out, t.Render())
}

// intrinsicsTensors packs K1 and K2 as (1, 3, 3) tensors.
func (r *runner) intrinsicsTensors(k1, k2 *mat.Dense) (*tensor.Dense, *tensor.Dense, error) {
	opts := r.conf.TensorOptions()
	kt1, err := tensor.FromMatrices(tensor.Shape{1}, []*mat.Dense{k1}, opts...)
	if err != nil {
		return nil, nil, err
	}
	kt2, err := tensor.FromMatrices(tensor.Shape{1}, []*mat.Dense{k2}, opts...)
	if err != nil {
		return nil, nil, err
	}
	return kt1, kt2, nil
}

// calibrate maps (1, N, 2) pixels to normalized camera coordinates.
func calibrate(pts, k *tensor.Dense) (*tensor.Dense, error) {
	kinv, ok, err := linalg.Inverse(k)
	if err != nil {
		return nil, err
	}
	if ok.Count() != ok.Len() {
		return nil, errors.New("intrinsics are singular")
	}
	return linalg.TransformPoints(kinv, pts)
}

func (r *runner) essential(in *correspondences) error {
	k1, k2, err := in.intrinsics()
	if err != nil {
		return err
	}
	kt1, kt2, err := r.intrinsicsTensors(k1, k2)
	if err != nil {
		return err
	}
	p1, p2, w, err := in.points(r.conf.TensorOptions()...)
	if err != nil {
		return err
	}
	n1, err := calibrate(p1, kt1)
	if err != nil {
		return err
	}
	n2, err := calibrate(p2, kt2)
	if err != nil {
		return err
	}
	candidates, err := epipolar.FindEssentialCandidates(n1, n2, w)
	if err != nil {
		return err
	}
	r.logger.Debugw("five point solutions", "count", candidates.Count(0))
	if candidates.Count(0) == 0 {
		return errors.New("no essential matrix fits the correspondences")
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "E", "Median Sampson"})
	valid := candidates.Valid.Data()
	best, bestMedian := -1, math.Inf(1)
	for i := 0; i < epipolar.MaxEssentialSolutions; i++ {
		if !valid[i] {
			continue
		}
		em := tensor.MustNew(tensor.Shape{1, 3, 3}, candidates.E.Block(i, 2), candidates.E.Like()...)
		d, err := epipolar.SampsonEpipolarDistance(n1, n2, em, false, r.eps())
		if err != nil {
			return err
		}
		median, err := stats.Median(finite(d.Data()))
		if err != nil {
			median = math.Inf(1)
		}
		if median < bestMedian {
			best, bestMedian = i, median
		}
		t.AppendRow(table.Row{i, formatMatrix(em.Data(), 3), fmt.Sprintf("%.4g", median)})
	}
	r.render(t)
	if best < 0 {
		return errors.New("no essential matrix fits the correspondences")
	}

	em := tensor.MustNew(tensor.Shape{1, 3, 3}, candidates.E.Block(best, 2), candidates.E.Like()...)
	rot, trans, x, err := epipolar.MotionFromEssentialChooseSolution(em, kt1, kt2, p1, p2, nil)
	if err != nil {
		return err
	}
	return r.renderMotion(fmt.Sprintf("candidate %d", best), rot, trans, x)
}

// renderMotion prints a chosen motion and the depths of its triangulated points.
func (r *runner) renderMotion(source string, rot, trans, x *tensor.Dense) error {
	depth, err := epipolar.DepthFromPoint(
		linalg.EyeLike(3, x, 2), linalg.VecLike(3, x, 2), x)
	if err != nil {
		return err
	}
	depths := depth.Data()
	inFront := lo.CountBy(depths, func(d float64) bool { return d > 0 })

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Source", "R", "t", "In front"})
	t.AppendRow(table.Row{
		source,
		formatMatrix(rot.Data(), 3),
		formatMatrix(trans.Data(), 1),
		fmt.Sprintf("%d/%d", inFront, len(depths)),
	})
	r.render(t)

	res := table.NewWriter()
	res.AppendHeader(residualHeader)
	row, err := residualRow("depth", depths)
	if err != nil {
		return err
	}
	res.AppendRow(row)
	r.render(res)
	return nil
}

func (r *runner) fundamental(in *correspondences) error {
	p1, p2, w, err := in.points(r.conf.TensorOptions()...)
	if err != nil {
		return err
	}
	fm, err := epipolar.FindFundamental(p1, p2, w)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"F"})
	t.AppendRow(table.Row{formatMatrix(fm.Data(), 3)})
	r.render(t)
	if err := r.saveNpy(fm); err != nil {
		return err
	}

	sampson, err := epipolar.SampsonEpipolarDistance(p1, p2, fm, false, r.eps())
	if err != nil {
		return err
	}
	symmetric, err := epipolar.SymmetricalEpipolarDistance(p1, p2, fm, false, r.eps())
	if err != nil {
		return err
	}
	res := table.NewWriter()
	res.AppendHeader(residualHeader)
	for _, d := range []struct {
		name string
		vals *tensor.Dense
	}{{"sampson", sampson}, {"symmetric", symmetric}} {
		row, err := residualRow(d.name, d.vals.Data())
		if err != nil {
			return err
		}
		res.AppendRow(row)
	}
	r.render(res)
	return nil
}

func (r *runner) pose(in *correspondences) error {
	k1, k2, err := in.intrinsics()
	if err != nil {
		return err
	}
	if !mat.Equal(k1, k2) {
		r.logger.Warnw("pose assumes both images share intrinsics, using k1")
	}
	pose, err := epipolar.EstimateRelativePose(toR2(in.Points1), toR2(in.Points2), k1)
	if err != nil {
		return err
	}
	rot, err := tensor.FromMatrices(tensor.Shape{}, []*mat.Dense{pose.Rotation})
	if err != nil {
		return err
	}
	trans, err := tensor.FromMatrices(tensor.Shape{}, []*mat.Dense{pose.Translation})
	if err != nil {
		return err
	}
	return r.renderMotion("eight point", rot, trans, tensor.FromR3Vectors(pose.Points))
}

func (r *runner) homography(in *correspondences, plotPath string) error {
	refiner := r.conf.Refiner()
	var h, residuals, oneShot *tensor.Dense
	var err error
	if len(in.Lines1) > 0 {
		ls1, ls2, w, err := in.segments(r.conf.TensorOptions()...)
		if err != nil {
			return err
		}
		if h, err = refiner.FitLines(ls1, ls2, w); err != nil {
			return err
		}
		if residuals, err = homography.LineSegmentTransferErrorOneWay(ls1, ls2, h, false); err != nil {
			return err
		}
	} else {
		p1, p2, w, err := in.points(r.conf.TensorOptions()...)
		if err != nil {
			return err
		}
		if err := r.checkSamples(p1, p2); err != nil {
			return err
		}
		if h, err = refiner.FitPoints(p1, p2, w); err != nil {
			return err
		}
		if residuals, err = homography.SymmetricTransferError(p1, p2, h, false, r.eps()); err != nil {
			return err
		}
		if oneShot, err = r.oneShotResiduals(in, p1, p2, refiner.Solver); err != nil {
			return err
		}
	}
	r.logger.Debugw("fitted homography", "solver", refiner.Solver, "iterations", refiner.Iterations)

	t := table.NewWriter()
	t.AppendHeader(table.Row{"H"})
	t.AppendRow(table.Row{formatMatrix(h.Data(), 3)})
	r.render(t)
	if err := r.saveNpy(h); err != nil {
		return err
	}

	res := table.NewWriter()
	res.AppendHeader(residualHeader)
	row, err := residualRow("transfer", residuals.Data())
	if err != nil {
		return err
	}
	res.AppendRow(row)
	if oneShot != nil {
		if row, err = residualRow("one shot", oneShot.Data()); err != nil {
			return err
		}
		res.AppendRow(row)
	}
	r.render(res)

	if plotPath == "" {
		return nil
	}
	return writeHistogram(plotPath, "transfer error", finite(residuals.Data()))
}

// oneShotResiduals fits a single unrefined DLT homography to the input points and returns its
// symmetric transfer error on p1 and p2, for comparison with the refined fit.
func (r *runner) oneShotResiduals(in *correspondences, p1, p2 *tensor.Dense, solver homography.Solver) (*tensor.Dense, error) {
	var weights []float64
	if len(in.Weights) == len(in.Points1) {
		weights = in.Weights
	}
	h, err := homography.Estimate(toR2(in.Points1), toR2(in.Points2), weights, solver)
	if err != nil {
		return nil, err
	}
	return homography.SymmetricTransferError(p1, p2, h.Tensor(), false, r.eps())
}

// saveNpy writes m to the --npy path, if one was given.
func (r *runner) saveNpy(m *tensor.Dense) error {
	if r.npyPath == "" {
		return nil
	}
	//nolint:gosec
	f, err := os.Create(r.npyPath)
	if err != nil {
		return err
	}
	if err := tensor.ToGorgonia(m).WriteNpy(f); err != nil {
		return multierr.Combine(err, f.Close())
	}
	return f.Close()
}

const minimalSamples = 64

// checkSamples logs how many random four point subsets of the (1, N, 2) correspondences are
// non-degenerate. Mostly degenerate input, such as points along a single line, gets a warning.
func (r *runner) checkSamples(p1, p2 *tensor.Dense) error {
	n := p1.Shape()[1]
	flat1, err := p1.Reshape(n, 2)
	if err != nil {
		return err
	}
	flat2, err := p2.Reshape(n, 2)
	if err != nil {
		return err
	}
	s1, s2, err := homography.DrawMinimalSamples(flat1, flat2, minimalSamples)
	if err != nil {
		return err
	}
	valid, err := homography.SampleIsValidForHomography(s1, s2)
	if err != nil {
		return err
	}
	r.logger.Debugw("minimal samples", "drawn", minimalSamples, "valid", valid.Count())
	if 2*valid.Count() < minimalSamples {
		r.logger.Warnw("most four point samples are degenerate", "valid", valid.Count(), "drawn", minimalSamples)
	}
	return nil
}

// writeHistogram saves a histogram of vals to path; the format follows the extension.
func writeHistogram(path, title string, vals []float64) error {
	if len(vals) == 0 {
		return errors.New("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "pixels"
	p.Y.Label.Text = "count"
	hist, err := plotter.NewHist(plotter.Values(vals), 16)
	if err != nil {
		return err
	}
	p.Add(hist)
	return p.Save(4*vg.Inch, 3*vg.Inch, path)
}
