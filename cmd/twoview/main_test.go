package main

import (
	"bytes"
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
	gorgonia "gorgonia.org/tensor"

	"go.viam.com/mvg/logging"
	"go.viam.com/mvg/tensor"
)

var intrinsics = []float64{800, 0, 320, 0, 800, 240, 0, 0, 1}

var trueHomography = [3][3]float64{
	{1.2, 0.1, 5},
	{-0.05, 0.9, -3},
	{1e-4, 2e-4, 1},
}

func warpPoint(p [2]float64) [2]float64 {
	h := trueHomography
	w := h[2][0]*p[0] + h[2][1]*p[1] + h[2][2]
	return [2]float64{
		(h[0][0]*p[0] + h[0][1]*p[1] + h[0][2]) / w,
		(h[1][0]*p[0] + h[1][1]*p[1] + h[1][2]) / w,
	}
}

func project(x, y, z float64) [2]float64 {
	return [2]float64{
		intrinsics[0]*x/z + intrinsics[2],
		intrinsics[4]*y/z + intrinsics[5],
	}
}

// twoViewScene sees n points between depth 4 and 8 from the origin and from a camera rotated
// about y and shifted mostly sideways.
func twoViewScene(n int) *correspondences {
	rng := rand.New(rand.NewSource(7))
	angle := 0.1
	c, s := math.Cos(angle), math.Sin(angle)
	t := [3]float64{-0.5, 0.05, 0.1}
	in := &correspondences{K1: intrinsics}
	for i := 0; i < n; i++ {
		x := rng.Float64()*2 - 1
		y := rng.Float64()*2 - 1
		z := 4 + rng.Float64()*4
		in.Points1 = append(in.Points1, project(x, y, z))
		x2 := c*x + s*z + t[0]
		y2 := y + t[1]
		z2 := -s*x + c*z + t[2]
		in.Points2 = append(in.Points2, project(x2, y2, z2))
	}
	return in
}

func planeScene(n int) *correspondences {
	rng := rand.New(rand.NewSource(11))
	in := &correspondences{}
	for i := 0; i < n; i++ {
		p := [2]float64{rng.Float64() * 640, rng.Float64() * 480}
		in.Points1 = append(in.Points1, p)
		in.Points2 = append(in.Points2, warpPoint(p))
	}
	return in
}

// jitter moves every point of the second view by up to amount pixels.
func jitter(in *correspondences, amount float64) *correspondences {
	rng := rand.New(rand.NewSource(3))
	for i := range in.Points2 {
		in.Points2[i][0] += (rng.Float64()*2 - 1) * amount
		in.Points2[i][1] += (rng.Float64()*2 - 1) * amount
	}
	return in
}

func lineScene() *correspondences {
	in := &correspondences{}
	for _, s := range [][2][2]float64{
		{{0, 0}, {100, 10}},
		{{50, 300}, {400, 320}},
		{{600, 20}, {610, 450}},
		{{10, 400}, {30, 20}},
		{{200, 200}, {350, 90}},
		{{500, 470}, {120, 460}},
	} {
		in.Lines1 = append(in.Lines1, s)
		in.Lines2 = append(in.Lines2, [2][2]float64{warpPoint(s[0]), warpPoint(s[1])})
	}
	return in
}

func writeInput(t *testing.T, in interface{}) string {
	t.Helper()
	buf, err := json.Marshal(in)
	test.That(t, err, test.ShouldBeNil)
	path := filepath.Join(t.TempDir(), "input.json")
	test.That(t, os.WriteFile(path, buf, 0o600), test.ShouldBeNil)
	return path
}

// run executes the tool and returns what it printed and logged.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	prevLogger := logging.Global()
	prevCaps := tensor.Capabilities()
	t.Cleanup(func() {
		logging.ReplaceGlobal(prevLogger)
		tensor.ReplaceCapabilities(prevCaps)
	})

	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"twoview"}, args...))
	return out.String(), errOut.String(), err
}

var fixedPoint = regexp.MustCompile(`-?\d+\.\d{6}`)

// printedMatrix reads the first 3x3 matrix from the output.
func printedMatrix(t *testing.T, out string) []float64 {
	t.Helper()
	first, _, _ := strings.Cut(out, "RESIDUAL")
	matches := fixedPoint.FindAllString(first, -1)
	test.That(t, len(matches), test.ShouldBeGreaterThanOrEqualTo, 9)
	vals := make([]float64, 9)
	for i := range vals {
		v, err := strconv.ParseFloat(matches[i], 64)
		test.That(t, err, test.ShouldBeNil)
		vals[i] = v
	}
	return vals
}

// readNpy loads a NumPy array written by the tool.
func readNpy(t *testing.T, path string) *tensor.Dense {
	t.Helper()
	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, f.Close(), test.ShouldBeNil)
	}()
	g := new(gorgonia.Dense)
	test.That(t, g.ReadNpy(f), test.ShouldBeNil)
	d, err := tensor.FromGorgonia(g)
	test.That(t, err, test.ShouldBeNil)
	return d
}

func assertTrueHomography(t *testing.T, out string) {
	t.Helper()
	got := printedMatrix(t, out)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, got[3*i+j], test.ShouldAlmostEqual, trueHomography[i][j], 1e-4)
		}
	}
}

func TestHomographyCommand(t *testing.T) {
	t.Run("points", func(t *testing.T) {
		out, _, err := run(t, "homography", "--input", writeInput(t, planeScene(20)))
		test.That(t, err, test.ShouldBeNil)
		assertTrueHomography(t, out)
		test.That(t, out, test.ShouldContainSubstring, "transfer")
		test.That(t, out, test.ShouldContainSubstring, "one shot")
	})

	t.Run("npy", func(t *testing.T) {
		npyPath := filepath.Join(t.TempDir(), "h.npy")
		_, _, err := run(t, "homography", "--npy", npyPath, "--input", writeInput(t, planeScene(20)))
		test.That(t, err, test.ShouldBeNil)
		h := readNpy(t, npyPath)
		test.That(t, h.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 3})
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				test.That(t, h.At(0, i, j), test.ShouldAlmostEqual, trueHomography[i][j], 1e-6)
			}
		}
	})

	t.Run("lines", func(t *testing.T) {
		out, _, err := run(t, "homography", "-i", writeInput(t, lineScene()))
		test.That(t, err, test.ShouldBeNil)
		assertTrueHomography(t, out)
	})

	t.Run("plot", func(t *testing.T) {
		plotPath := filepath.Join(t.TempDir(), "transfer.png")
		_, _, err := run(t, "homography", "--plot", plotPath, "--input", writeInput(t, jitter(planeScene(20), 0.5)))
		test.That(t, err, test.ShouldBeNil)
		info, err := os.Stat(plotPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
	})

	t.Run("debug", func(t *testing.T) {
		_, logs, err := run(t, "--debug", "homography", "--input", writeInput(t, planeScene(8)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, logs, test.ShouldContainSubstring, "fitted homography")
		test.That(t, logs, test.ShouldContainSubstring, "minimal samples")
	})

	t.Run("config", func(t *testing.T) {
		confPath := filepath.Join(t.TempDir(), "estimator.json")
		test.That(t, os.WriteFile(confPath, []byte(`{"solver": "svd", "iterations": 2, "log_level": "debug"}`), 0o600),
			test.ShouldBeNil)
		out, logs, err := run(t, "--config", confPath, "homography", "--input", writeInput(t, planeScene(12)))
		test.That(t, err, test.ShouldBeNil)
		assertTrueHomography(t, out)
		test.That(t, logs, test.ShouldContainSubstring, "svd")
	})
}

func TestEpipolarCommands(t *testing.T) {
	input := writeInput(t, twoViewScene(30))

	npyPath := filepath.Join(t.TempDir(), "f.npy")
	out, _, err := run(t, "fundamental", "--npy", npyPath, "--input", input)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "sampson")
	test.That(t, out, test.ShouldContainSubstring, "symmetric")
	fm := readNpy(t, npyPath)
	test.That(t, fm.Shape(), test.ShouldResemble, tensor.Shape{1, 3, 3})
	for i, v := range printedMatrix(t, out) {
		test.That(t, fm.Data()[i], test.ShouldAlmostEqual, v, 1e-6)
	}

	out, _, err = run(t, "essential", "--input", input)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "MEDIAN SAMPSON")
	test.That(t, out, test.ShouldContainSubstring, "30/30")

	out, _, err = run(t, "pose", "--input", input)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "eight point")
	test.That(t, out, test.ShouldContainSubstring, "30/30")
}

func TestCommandErrors(t *testing.T) {
	_, _, err := run(t, "homography")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "input")

	_, _, err = run(t, "--config", filepath.Join(t.TempDir(), "missing.json"), "homography", "--input", "x")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot load config")

	_, _, err = run(t, "fundamental", "--input", filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	mismatched := &correspondences{Points1: [][2]float64{{0, 0}}, Points2: nil}
	_, _, err = run(t, "fundamental", "--input", writeInput(t, mismatched))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "points2 has 0")

	noK := planeScene(10)
	_, _, err = run(t, "essential", "--input", writeInput(t, noK))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "k1 must have 9 values")
}
