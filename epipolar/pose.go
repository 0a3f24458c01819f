package epipolar

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/mvg/tensor"
)

// CamPose stores the 3x4 pose matrix as well as the rotation and translation it is made of.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
	// Points are the correspondences triangulated under the pose, in the first camera frame.
	Points []r3.Vector
}

// NewCamPoseFromMat creates a camera pose from a 3x4 [R | t] matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	t := mat.NewDense(3, 1, mat.Col(nil, 3, pose))
	rot := mat.DenseCopyOf(pose.Slice(0, 3, 0, 3))
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// TranslationVector returns the translation as a vector.
func (cp *CamPose) TranslationVector() r3.Vector {
	return r3.Vector{X: cp.Translation.At(0, 0), Y: cp.Translation.At(1, 0), Z: cp.Translation.At(2, 0)}
}

// EstimateRelativePose estimates the pose of the camera that saw pts2 relative to the camera
// that saw pts1. pts1 and pts2 are pixel matches between two images taken with the same
// intrinsics k, for instance successive frames or two cameras at the same time. The
// translation has unit norm.
func EstimateRelativePose(pts1, pts2 []r2.Point, k *mat.Dense) (*CamPose, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.New("the 2 sets of points don't have the same number of elements")
	}
	if len(pts1) < minFundamentalPoints {
		return nil, errors.Errorf("sets of points must have at least %d elements", minFundamentalPoints)
	}
	if r, c := k.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("intrinsics must be 3x3, got %dx%d", r, c)
	}
	x1, err := tensor.FromR2Points(pts1).Reshape(1, len(pts1), 2)
	if err != nil {
		return nil, err
	}
	x2, err := tensor.FromR2Points(pts2).Reshape(1, len(pts2), 2)
	if err != nil {
		return nil, err
	}
	kt, err := tensor.FromMatrices(tensor.Shape{1}, []*mat.Dense{k})
	if err != nil {
		return nil, err
	}

	fm, err := FindFundamental(x1, x2, nil)
	if err != nil {
		return nil, errors.Wrap(err, "estimating fundamental matrix")
	}
	em, err := EssentialFromFundamental(fm, kt, kt)
	if err != nil {
		return nil, err
	}
	r, t, x, err := MotionFromEssentialChooseSolution(em, kt, kt, x1, x2, nil)
	if err != nil {
		return nil, errors.Wrap(err, "choosing motion")
	}
	pose := mat.NewDense(3, 4, nil)
	pose.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r.Matrix(0))
	pose.Slice(0, 3, 3, 4).(*mat.Dense).Copy(t.Matrix(0))
	camPose := NewCamPoseFromMat(pose)
	if camPose.Points, err = tensor.ToR3Vectors(x, 0); err != nil {
		return nil, err
	}
	return camPose, nil
}
