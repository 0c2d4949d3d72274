package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage/transform"
)

// SolverConfiguration bounds the intrinsics estimation.
type SolverConfiguration struct {
	MaxIterations       int     `json:"max_iterations"`
	ConditionThreshold  float64 `json:"condition_threshold"`   // minimum relative singular value of the closed form system
	XTol                float64 `json:"x_tol"`                 // relative parameter step below which refinement stops
	FTol                float64 `json:"f_tol"`                 // relative cost decrease below which refinement stops
	MaxRejects          int     `json:"max_rejects"`           // consecutive rejected steps before giving up
	MaxFocalUncertainty float64 `json:"max_focal_uncertainty"` // largest focal length standard deviation, relative to its value
}

// DefaultSolverConfiguration returns the default solver parameters.
func DefaultSolverConfiguration() SolverConfiguration {
	return SolverConfiguration{
		MaxIterations:       100,
		ConditionThreshold:  1e-6,
		XTol:                1e-10,
		FTol:                1e-10,
		MaxRejects:          10,
		MaxFocalUncertainty: 0.05,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *SolverConfiguration) Validate(path string) error {
	switch {
	case cfg.MaxIterations < 1:
		return goutils.NewConfigValidationError(path, errors.New("max_iterations must be at least 1"))
	case cfg.ConditionThreshold <= 0 || cfg.ConditionThreshold >= 1:
		return goutils.NewConfigValidationError(path, errors.New("condition_threshold must be in (0, 1)"))
	case cfg.XTol <= 0:
		return goutils.NewConfigValidationError(path, errors.New("x_tol must be positive"))
	case cfg.FTol <= 0:
		return goutils.NewConfigValidationError(path, errors.New("f_tol must be positive"))
	case cfg.MaxRejects < 1:
		return goutils.NewConfigValidationError(path, errors.New("max_rejects must be at least 1"))
	case cfg.MaxFocalUncertainty <= 0:
		return goutils.NewConfigValidationError(path, errors.New("max_focal_uncertainty must be positive"))
	}
	return nil
}

// Solution is the full output of the solver. Only Intrinsics leaves the package through Result.
type Solution struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *transform.BrownConrady
	Poses      []transform.CamPose
	ViewErrors []float64 // per view RMS reprojection error, pixels
	RMS        float64
	// standard deviations of the refined focal lengths, pixels
	FxStdDev, FyStdDev float64
	Iterations         int
	Converged          bool
}

// Result returns the published part of the solution.
func (s *Solution) Result() Intrinsics {
	return NewIntrinsicsFromPinhole(s.Intrinsics)
}

// ErrorSummary describes the distribution of the per view reprojection errors.
type ErrorSummary struct {
	Mean   float64
	Median float64
	Max    float64
	StdDev float64
}

// ErrorSummary computes statistics over the per view reprojection errors.
func (s *Solution) ErrorSummary() (ErrorSummary, error) {
	data := stats.Float64Data(s.ViewErrors)
	mean, err := data.Mean()
	if err != nil {
		return ErrorSummary{}, err
	}
	median, err := data.Median()
	if err != nil {
		return ErrorSummary{}, err
	}
	maxErr, err := data.Max()
	if err != nil {
		return ErrorSummary{}, err
	}
	sd, err := data.StandardDeviation()
	if err != nil {
		return ErrorSummary{}, err
	}
	return ErrorSummary{Mean: mean, Median: median, Max: maxErr, StdDev: sd}, nil
}

// Solve estimates the camera intrinsics from planar correspondences: one homography per view,
// Zhang's closed form initialization and a Levenberg-Marquardt refinement of the reprojection error.
func Solve(
	correspondences []Correspondence,
	width, height int,
	cfg SolverConfiguration,
	logger logging.Logger,
) (*Solution, error) {
	if len(correspondences) == 0 {
		return nil, ErrNoUsableViews
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid image size %dx%d", width, height)
	}

	views := make([]Correspondence, 0, len(correspondences))
	homographies := make([]*transform.Homography, 0, len(correspondences))
	for i, corr := range correspondences {
		h, err := planeHomography(corr)
		if err != nil {
			logger.Warnw("skipping view without a homography", "view", i, "error", err)
			continue
		}
		views = append(views, corr)
		homographies = append(homographies, h)
	}
	if len(views) == 0 {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "no view has a valid homography")
	}

	k, err := closedFormIntrinsics(homographies, width, height, cfg.ConditionThreshold)
	if err != nil {
		return nil, err
	}
	logger.Debugw("closed form intrinsics", "fx", k.Fx, "fy", k.Fy, "ppx", k.Ppx, "ppy", k.Ppy)

	poses := make([]transform.CamPose, len(views))
	for i, h := range homographies {
		pose, err := poseFromHomography(h, k)
		if err != nil {
			return nil, errors.Wrapf(ErrDegenerateConfiguration, "view %d: %v", i, err)
		}
		poses[i] = *pose
	}

	problem := newBundleProblem(views, k, &transform.BrownConrady{}, poses)
	sol, err := problem.refine(cfg, logger)
	if err != nil {
		return nil, err
	}
	sol.Intrinsics.Width = width
	sol.Intrinsics.Height = height
	if !sol.Converged {
		logger.Warnw("refinement stopped at the iteration cap", "iterations", sol.Iterations, "rms", sol.RMS)
	}
	logger.Debugw("refined calibration",
		"fx", sol.Intrinsics.Fx, "fy", sol.Intrinsics.Fy, "ppx", sol.Intrinsics.Ppx, "ppy", sol.Intrinsics.Ppy,
		"distortion", sol.Distortion.Parameters(), "rms", sol.RMS, "iterations", sol.Iterations)
	return sol, nil
}

// planeHomography maps the (x, y) coordinates of the planar object points to the image.
func planeHomography(corr Correspondence) (*transform.Homography, error) {
	src := make([]r2.Point, len(corr.ObjectPoints))
	for i, p := range corr.ObjectPoints {
		if p.Z != 0 {
			return nil, errors.Errorf("object point %d is not planar", i)
		}
		src[i] = r2.Point{X: p.X, Y: p.Y}
	}
	return transform.EstimateHomography(src, corr.ImagePoints)
}

// zhangRow is v_ij from Zhang's "A Flexible New Technique for Camera Calibration", with
// b = [B11, B12, B22, B13, B23, B33].
func zhangRow(h mat.Matrix, i, j int) []float64 {
	hi := [3]float64{h.At(0, i), h.At(1, i), h.At(2, i)}
	hj := [3]float64{h.At(0, j), h.At(1, j), h.At(2, j)}
	return []float64{
		hi[0] * hj[0],
		hi[0]*hj[1] + hi[1]*hj[0],
		hi[1] * hj[1],
		hi[2]*hj[0] + hi[0]*hj[2],
		hi[2]*hj[1] + hi[1]*hj[2],
		hi[2] * hj[2],
	}
}

// imageNormalization returns the affine transform centering the image and scaling it by (w+h)/2.
func imageNormalization(width, height int) (*mat.Dense, float64, r2.Point) {
	scale := float64(width+height) / 2
	center := r2.Point{X: float64(width) / 2, Y: float64(height) / 2}
	return mat.NewDense(3, 3, []float64{
		1 / scale, 0, -center.X / scale,
		0, 1 / scale, -center.Y / scale,
		0, 0, 1,
	}), scale, center
}

// closedFormIntrinsics solves for the image of the absolute conic with zero skew. A rank deficient
// system means the views do not constrain the intrinsics.
func closedFormIntrinsics(
	homographies []*transform.Homography,
	width, height int,
	conditionThreshold float64,
) (*transform.PinholeCameraIntrinsics, error) {
	t, scale, center := imageNormalization(width, height)
	v := mat.NewDense(2*len(homographies)+1, 6, nil)
	for i, h := range homographies {
		var hn mat.Dense
		hn.Mul(t, h.Matrix())
		hn.Scale(1/mat.Norm(&hn, 2), &hn)
		v11, v12, v22 := zhangRow(&hn, 0, 0), zhangRow(&hn, 0, 1), zhangRow(&hn, 1, 1)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v11[k] - v22[k]
		}
		v.SetRow(2*i, v12)
		v.SetRow(2*i+1, diff)
	}
	v.Set(2*len(homographies), 1, 1)

	b, ratio, err := transform.NullVector(v)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}
	if ratio < conditionThreshold {
		return nil, errors.Wrapf(ErrDegenerateConfiguration,
			"constraint system is rank deficient (condition %.3g)", ratio)
	}
	if b[0] < 0 {
		for k := range b {
			b[k] = -b[k]
		}
	}
	b11, b12, b22, b13, b23, b33 := b[0], b[1], b[2], b[3], b[4], b[5]
	den := b11*b22 - b12*b12
	if b11 <= 0 || den <= 0 {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "conic is not positive definite")
	}
	v0 := (b12*b13 - b11*b23) / den
	lambda := b33 - (b13*b13+v0*(b12*b13-b11*b23))/b11
	if lambda <= 0 {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "conic is not positive definite")
	}
	alpha := math.Sqrt(lambda / b11)
	beta := math.Sqrt(lambda * b11 / den)
	u0 := -b13 * alpha * alpha / lambda

	k := &transform.PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     alpha * scale,
		Fy:     beta * scale,
		Ppx:    u0*scale + center.X,
		Ppy:    v0*scale + center.Y,
	}
	if err := k.CheckValid(); err != nil {
		return nil, errors.Wrap(ErrDegenerateConfiguration, err.Error())
	}
	return k, nil
}

// poseFromHomography recovers the plane pose from H = K [r1 r2 t], with the plane in front of the camera.
func poseFromHomography(h *transform.Homography, k *transform.PinholeCameraIntrinsics) (*transform.CamPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k.GetCameraMatrix()); err != nil {
		return nil, err
	}
	var m mat.Dense
	m.Mul(&kInv, h.Matrix())
	col := func(j int) r3.Vector { return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)} }
	c1, c2, c3 := col(0), col(1), col(2)
	n1, n2 := c1.Norm(), c2.Norm()
	if n1 == 0 || n2 == 0 {
		return nil, errors.New("homography has a null column")
	}
	lambda := 2 / (n1 + n2)
	if c3.Z < 0 {
		lambda = -lambda
	}
	r1, r2, tr := c1.Mul(lambda), c2.Mul(lambda), c3.Mul(lambda)
	r3v := r1.Cross(r2)
	rot := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	nearest, err := transform.NearestRotation(rot)
	if err != nil {
		return nil, err
	}
	return transform.NewCamPoseFromMat(nearest, tr), nil
}
