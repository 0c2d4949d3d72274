package calibration

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage/transform"
	"go.viam.com/intrinsics/vision/detection/chessboard"
)

var (
	trueIntrinsics = &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 800, Fy: 800, Ppx: 320, Ppy: 240}
	testRotations  = []r3.Vector{
		{X: 0.35},
		{Y: 0.35},
		{X: 0.25, Y: -0.25, Z: 0.1},
		{X: -0.3, Y: 0.2, Z: -0.1},
		{X: 0.1, Y: 0.3, Z: 0.3},
		{X: -0.2, Y: -0.3},
	}
)

// syntheticCorrespondences projects the default pattern through k and dist from the given board
// orientations, with gaussian pixel noise of standard deviation sigma.
func syntheticCorrespondences(
	k *transform.PinholeCameraIntrinsics,
	dist *transform.BrownConrady,
	rotations []r3.Vector,
	sigma float64,
	seed int64,
) []Correspondence {
	rng := rand.New(rand.NewSource(seed))
	pattern := chessboard.DefaultPatternSpec()
	obj := pattern.ObjectPoints()
	out := make([]Correspondence, 0, len(rotations))
	for _, rv := range rotations {
		pose := chessboard.SyntheticPose(pattern, rv, 16)
		img := make([]r2.Point, len(obj))
		for i, p := range obj {
			px := project(k, dist, pose, p)
			img[i] = r2.Point{X: px.X + sigma*rng.NormFloat64(), Y: px.Y + sigma*rng.NormFloat64()}
		}
		out = append(out, Correspondence{ObjectPoints: obj, ImagePoints: img})
	}
	return out
}

func relErr(got, want float64) float64 {
	return math.Abs(got-want) / math.Abs(want)
}

func TestSolveExact(t *testing.T) {
	logger := logging.NewTestLogger(t)
	corrs := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:3], 0, 1)
	sol, err := Solve(corrs, 640, 480, DefaultSolverConfiguration(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Converged, test.ShouldBeTrue)
	test.That(t, relErr(sol.Intrinsics.Fx, 800), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(sol.Intrinsics.Fy, 800), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(sol.Intrinsics.Ppx, 320), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(sol.Intrinsics.Ppy, 240), test.ShouldBeLessThan, 1e-6)
	test.That(t, sol.Intrinsics.Width, test.ShouldEqual, 640)
	test.That(t, sol.Intrinsics.Height, test.ShouldEqual, 480)
	test.That(t, sol.RMS, test.ShouldBeLessThan, 1e-6)
	test.That(t, sol.Poses, test.ShouldHaveLength, 3)
	test.That(t, sol.ViewErrors, test.ShouldHaveLength, 3)
	for _, d := range sol.Distortion.Parameters() {
		test.That(t, d, test.ShouldAlmostEqual, 0, 1e-6)
	}
	// recovered poses reproduce the synthetic ones
	pattern := chessboard.DefaultPatternSpec()
	for i, rv := range testRotations[:3] {
		want := chessboard.SyntheticPose(pattern, rv, 16)
		test.That(t, sol.Poses[i].Rotation.Sub(want.Rotation).Norm(), test.ShouldBeLessThan, 1e-6)
		test.That(t, sol.Poses[i].Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 1e-5)
	}

	res := sol.Result()
	test.That(t, res.Fx, test.ShouldEqual, sol.Intrinsics.Fx)
	test.That(t, res.Oy, test.ShouldEqual, sol.Intrinsics.Ppy)
}

func TestSolveClosedFormOnly(t *testing.T) {
	corrs := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:2], 0, 1)
	homographies := make([]*transform.Homography, 0, len(corrs))
	for _, c := range corrs {
		h, err := planeHomography(c)
		test.That(t, err, test.ShouldBeNil)
		homographies = append(homographies, h)
	}
	k, err := closedFormIntrinsics(homographies, 640, 480, 1e-6)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, relErr(k.Fx, 800), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(k.Fy, 800), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(k.Ppx, 320), test.ShouldBeLessThan, 1e-6)
	test.That(t, relErr(k.Ppy, 240), test.ShouldBeLessThan, 1e-6)

	pose, err := poseFromHomography(homographies[0], k)
	test.That(t, err, test.ShouldBeNil)
	want := chessboard.SyntheticPose(chessboard.DefaultPatternSpec(), testRotations[0], 16)
	test.That(t, pose.Rotation.Sub(want.Rotation).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, pose.Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 1e-5)
}

func TestSolveWithDistortion(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dist := &transform.BrownConrady{RadialK1: -0.2, RadialK2: 0.05, TangentialP1: 0.001, TangentialP2: -0.0005}
	corrs := syntheticCorrespondences(trueIntrinsics, dist, testRotations, 0, 1)
	sol, err := Solve(corrs, 640, 480, DefaultSolverConfiguration(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, relErr(sol.Intrinsics.Fx, 800), test.ShouldBeLessThan, 1e-4)
	test.That(t, relErr(sol.Intrinsics.Fy, 800), test.ShouldBeLessThan, 1e-4)
	test.That(t, relErr(sol.Intrinsics.Ppx, 320), test.ShouldBeLessThan, 1e-4)
	test.That(t, relErr(sol.Intrinsics.Ppy, 240), test.ShouldBeLessThan, 1e-4)
	test.That(t, sol.Distortion.RadialK1, test.ShouldAlmostEqual, -0.2, 1e-3)
	test.That(t, sol.Distortion.TangentialP1, test.ShouldAlmostEqual, 0.001, 1e-4)
	test.That(t, sol.RMS, test.ShouldBeLessThan, 1e-3)
}

func TestSolveNoisy(t *testing.T) {
	logger := logging.NewTestLogger(t)
	few := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:3], 0.1, 7)
	solFew, err := Solve(few, 640, 480, DefaultSolverConfiguration(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solFew.Intrinsics.Fx, test.ShouldBeGreaterThan, 0)
	test.That(t, solFew.Intrinsics.Fy, test.ShouldBeGreaterThan, 0)
	test.That(t, solFew.Intrinsics.PrincipalPointInBounds(), test.ShouldBeTrue)
	test.That(t, relErr(solFew.Intrinsics.Fx, 800), test.ShouldBeLessThan, 0.01)
	test.That(t, solFew.FxStdDev, test.ShouldBeGreaterThan, 0)
	test.That(t, solFew.FxStdDev/solFew.Intrinsics.Fx, test.ShouldBeLessThan, 0.02)
	test.That(t, solFew.FyStdDev/solFew.Intrinsics.Fy, test.ShouldBeLessThan, 0.02)

	// adding varied views does not make the fit worse
	more := append(few, syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[3:], 0.1, 8)...)
	solMore, err := Solve(more, 640, 480, DefaultSolverConfiguration(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solMore.RMS, test.ShouldBeLessThan, solFew.RMS+0.03)
	test.That(t, relErr(solMore.Intrinsics.Fx, 800), test.ShouldBeLessThan, 0.01)

	summary, err := solMore.ErrorSummary()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, summary.Max, test.ShouldBeGreaterThanOrEqualTo, summary.Mean)
	test.That(t, summary.Mean, test.ShouldBeBetween, 0.05, 0.2)

	capped := DefaultSolverConfiguration()
	capped.MaxIterations = 1
	solCapped, err := Solve(few, 640, 480, capped, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, solCapped.Iterations, test.ShouldEqual, 1)
}

func TestSolveDegenerate(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := DefaultSolverConfiguration()

	_, err := Solve(nil, 640, 480, cfg, logger)
	test.That(t, errors.Is(err, ErrNoUsableViews), test.ShouldBeTrue)

	// identical homographies
	one := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:1], 0, 1)
	_, err = Solve([]Correspondence{one[0], one[0], one[0]}, 640, 480, cfg, logger)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)

	// a single view
	_, err = Solve(one, 640, 480, cfg, logger)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)

	// parallel planes at different positions
	pattern := chessboard.DefaultPatternSpec()
	obj := pattern.ObjectPoints()
	var parallel []Correspondence
	for _, shift := range []r3.Vector{{}, {X: 1.5, Y: -1, Z: 2}, {X: -2, Y: 0.5, Z: 5}} {
		pose := chessboard.SyntheticPose(pattern, r3.Vector{}, 16)
		pose.Translation = pose.Translation.Add(shift)
		img := make([]r2.Point, len(obj))
		for i, p := range obj {
			img[i] = project(trueIntrinsics, &transform.BrownConrady{}, pose, p)
		}
		parallel = append(parallel, Correspondence{ObjectPoints: obj, ImagePoints: img})
	}
	_, err = Solve(parallel, 640, 480, cfg, logger)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)

	// collinear points have no homography
	line := Correspondence{
		ObjectPoints: []r3.Vector{{}, {X: 1}, {X: 2}, {X: 3}, {X: 4}},
		ImagePoints:  []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: 1}, {X: 4, Y: 1}, {X: 5, Y: 1}},
	}
	_, err = Solve([]Correspondence{line, line}, 640, 480, cfg, logger)
	test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)

	_, err = Solve(one, 0, 480, cfg, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSolveNearlyParallelViews(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := DefaultSolverConfiguration()

	// boards tilted by about half a degree leave the focal length to the noise
	for seed := int64(1); seed <= 3; seed++ {
		corrs := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{},
			[]r3.Vector{{X: 0.01}, {Y: 0.01}}, 0.2, seed)
		sol, err := Solve(corrs, 640, 480, cfg, logger)
		test.That(t, sol, test.ShouldBeNil)
		test.That(t, errors.Is(err, ErrDegenerateConfiguration), test.ShouldBeTrue)
	}

	// the same noise on varied orientations is fine
	corrs := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:3], 0.2, 1)
	sol, err := Solve(corrs, 640, 480, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, relErr(sol.Intrinsics.Fx, 800), test.ShouldBeLessThan, 0.05)
}

func TestRefineDivergence(t *testing.T) {
	logger := logging.NewTestLogger(t)
	corrs := syntheticCorrespondences(trueIntrinsics, &transform.BrownConrady{}, testRotations[:3], 0, 1)
	poses := make([]transform.CamPose, len(corrs))
	pattern := chessboard.DefaultPatternSpec()
	for i, rv := range testRotations[:3] {
		poses[i] = chessboard.SyntheticPose(pattern, rv, 16)
	}

	bad := *trueIntrinsics
	bad.Fx = math.NaN()
	problem := newBundleProblem(corrs, &bad, &transform.BrownConrady{}, poses)
	_, err := problem.refine(DefaultSolverConfiguration(), logger)
	test.That(t, errors.Is(err, ErrSolverDivergence), test.ShouldBeTrue)

	// starting at the optimum converges immediately
	problem = newBundleProblem(corrs, trueIntrinsics, &transform.BrownConrady{}, poses)
	sol, err := problem.refine(DefaultSolverConfiguration(), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sol.Converged, test.ShouldBeTrue)
	test.That(t, sol.RMS, test.ShouldBeLessThan, 1e-9)
}

func TestSolverConfigurationValidate(t *testing.T) {
	cfg := DefaultSolverConfiguration()
	test.That(t, cfg.Validate("solver"), test.ShouldBeNil)
	cfg.ConditionThreshold = 0
	test.That(t, cfg.Validate("solver"), test.ShouldNotBeNil)
	cfg = DefaultSolverConfiguration()
	cfg.MaxRejects = 0
	test.That(t, cfg.Validate("solver"), test.ShouldNotBeNil)
	cfg = DefaultSolverConfiguration()
	cfg.MaxFocalUncertainty = 0
	test.That(t, cfg.Validate("solver"), test.ShouldNotBeNil)
}
