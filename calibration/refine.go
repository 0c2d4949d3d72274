package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/logging"
	"go.viam.com/intrinsics/rimage/transform"
)

const (
	// fx, fy, cx, cy, k1, k2, p1, p2
	numIntrinsicParams = 8
	// rotation vector and translation
	numPoseParams = 6

	initialDamping = 1e-3
	minDamping     = 1e-15
	maxDamping     = 1e15
)

// bundleProblem is the reprojection error minimization over the intrinsics, the distortion and
// one pose per view. Parameters are laid out as
// [fx fy cx cy k1 k2 p1 p2 | rx ry rz tx ty tz (view 0) | ...].
type bundleProblem struct {
	views  []Correspondence
	params []float64
}

func newBundleProblem(
	views []Correspondence,
	k *transform.PinholeCameraIntrinsics,
	dist *transform.BrownConrady,
	poses []transform.CamPose,
) *bundleProblem {
	params := make([]float64, numIntrinsicParams+numPoseParams*len(views))
	copy(params, []float64{
		k.Fx, k.Fy, k.Ppx, k.Ppy,
		dist.RadialK1, dist.RadialK2, dist.TangentialP1, dist.TangentialP2,
	})
	for i, p := range poses {
		off := numIntrinsicParams + numPoseParams*i
		copy(params[off:], []float64{
			p.Rotation.X, p.Rotation.Y, p.Rotation.Z,
			p.Translation.X, p.Translation.Y, p.Translation.Z,
		})
	}
	return &bundleProblem{views: views, params: params}
}

func (bp *bundleProblem) numResiduals() int {
	n := 0
	for _, v := range bp.views {
		n += 2 * len(v.ObjectPoints)
	}
	return n
}

// viewOffset is the index of the first residual of view i.
func (bp *bundleProblem) viewOffset(i int) int {
	n := 0
	for _, v := range bp.views[:i] {
		n += 2 * len(v.ObjectPoints)
	}
	return n
}

func intrinsicsFromParams(params []float64) (*transform.PinholeCameraIntrinsics, *transform.BrownConrady) {
	k := &transform.PinholeCameraIntrinsics{Fx: params[0], Fy: params[1], Ppx: params[2], Ppy: params[3]}
	dist := &transform.BrownConrady{
		RadialK1:     params[4],
		RadialK2:     params[5],
		TangentialP1: params[6],
		TangentialP2: params[7],
	}
	return k, dist
}

func poseFromParams(params []float64, view int) transform.CamPose {
	p := params[numIntrinsicParams+numPoseParams*view:]
	return transform.CamPose{
		Rotation:    r3.Vector{X: p[0], Y: p[1], Z: p[2]},
		Translation: r3.Vector{X: p[3], Y: p[4], Z: p[5]},
	}
}

// project maps an object point through the pose, the distortion and the pinhole model.
func project(
	k *transform.PinholeCameraIntrinsics,
	dist transform.Distorter,
	pose transform.CamPose,
	p r3.Vector,
) r2.Point {
	c := pose.Transform(p)
	xd, yd := dist.Transform(c.X/c.Z, c.Y/c.Z)
	return k.NormalizedToPixel(xd, yd)
}

// viewResiduals writes the residuals of view i for params into out.
func (bp *bundleProblem) viewResiduals(params []float64, i int, out []float64) {
	k, dist := intrinsicsFromParams(params)
	pose := poseFromParams(params, i)
	view := bp.views[i]
	for j, p := range view.ObjectPoints {
		px := project(k, dist, pose, p)
		out[2*j] = px.X - view.ImagePoints[j].X
		out[2*j+1] = px.Y - view.ImagePoints[j].Y
	}
}

func (bp *bundleProblem) residuals(params []float64) []float64 {
	out := make([]float64, bp.numResiduals())
	off := 0
	for i, v := range bp.views {
		n := 2 * len(v.ObjectPoints)
		bp.viewResiduals(params, i, out[off:off+n])
		off += n
	}
	return out
}

func finiteDifferenceStep(v float64) float64 {
	return 1e-6 * math.Max(math.Abs(v), 1)
}

// jacobian uses central differences. Pose parameters only touch the residuals of their own view.
func (bp *bundleProblem) jacobian(params []float64) *mat.Dense {
	m := bp.numResiduals()
	jac := mat.NewDense(m, len(params), nil)
	work := make([]float64, len(params))
	copy(work, params)

	for j := 0; j < numIntrinsicParams; j++ {
		h := finiteDifferenceStep(params[j])
		work[j] = params[j] + h
		plus := bp.residuals(work)
		work[j] = params[j] - h
		minus := bp.residuals(work)
		work[j] = params[j]
		for r := 0; r < m; r++ {
			jac.Set(r, j, (plus[r]-minus[r])/(2*h))
		}
	}
	for i, v := range bp.views {
		n := 2 * len(v.ObjectPoints)
		off := bp.viewOffset(i)
		plus, minus := make([]float64, n), make([]float64, n)
		for q := 0; q < numPoseParams; q++ {
			j := numIntrinsicParams + numPoseParams*i + q
			h := finiteDifferenceStep(params[j])
			work[j] = params[j] + h
			bp.viewResiduals(work, i, plus)
			work[j] = params[j] - h
			bp.viewResiduals(work, i, minus)
			work[j] = params[j]
			for r := 0; r < n; r++ {
				jac.Set(off+r, j, (plus[r]-minus[r])/(2*h))
			}
		}
	}
	return jac
}

func cost(res []float64) float64 {
	return 0.5 * floats.Dot(res, res)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// solveDamped solves (JᵀJ + mu*diag(JᵀJ)) delta = -Jᵀr with a Cholesky factorization, falling back to LU.
func solveDamped(jtj *mat.SymDense, jtr *mat.VecDense, mu float64) (*mat.VecDense, error) {
	n := jtj.SymmetricDim()
	a := mat.NewSymDense(n, nil)
	a.CopySym(jtj)
	for i := 0; i < n; i++ {
		d := jtj.At(i, i)
		a.SetSym(i, i, d+mu*math.Max(d, 1e-12))
	}
	rhs := mat.NewVecDense(n, nil)
	rhs.ScaleVec(-1, jtr)

	delta := mat.NewVecDense(n, nil)
	var chol mat.Cholesky
	if chol.Factorize(a) {
		if err := chol.SolveVecTo(delta, rhs); err == nil {
			return delta, nil
		}
	}
	if err := delta.SolveVec(a, rhs); err != nil {
		return nil, err
	}
	return delta, nil
}

// refine runs Levenberg-Marquardt with Marquardt scaling. The damping grows tenfold on every
// rejected step and shrinks tenfold on every accepted one.
func (bp *bundleProblem) refine(cfg SolverConfiguration, logger logging.Logger) (*Solution, error) {
	params := make([]float64, len(bp.params))
	copy(params, bp.params)
	res := bp.residuals(params)
	current := cost(res)
	if !isFinite(current) {
		return nil, errors.Wrap(ErrSolverDivergence, "initial reprojection error is not finite")
	}

	mu := initialDamping
	converged := false
	iter := 0
	for ; iter < cfg.MaxIterations && !converged; iter++ {
		if current == 0 {
			converged = true
			break
		}
		jac := bp.jacobian(params)
		jtj := mat.NewSymDense(len(params), nil)
		jtj.SymOuterK(1, jac.T())
		jtr := mat.NewVecDense(len(params), nil)
		jtr.MulVec(jac.T(), mat.NewVecDense(len(res), res))

		rejects := 0
		for {
			delta, err := solveDamped(jtj, jtr, mu)
			stepTol := cfg.XTol * (floats.Norm(params, 2) + cfg.XTol)
			if err == nil && mat.Norm(delta, 2) <= stepTol {
				converged = true
				break
			}
			if err == nil {
				candidate := make([]float64, len(params))
				floats.AddTo(candidate, params, delta.RawVector().Data)
				candRes := bp.residuals(candidate)
				candCost := cost(candRes)
				if isFinite(candCost) && candCost < current {
					decrease := current - candCost
					params, res, current = candidate, candRes, candCost
					mu = math.Max(mu/10, minDamping)
					if decrease <= cfg.FTol*(current+decrease) {
						converged = true
					}
					break
				}
			}
			rejects++
			mu = math.Min(mu*10, maxDamping)
			if rejects >= cfg.MaxRejects {
				// a flat valley along the focal lengths is a property of the views
				if sdFx, sdFy, ok := bp.focalStdDev(params, res); ok {
					if err := checkFocalUncertainty(params, sdFx, sdFy, cfg); err != nil {
						return nil, err
					}
				}
				return nil, errors.Wrapf(ErrSolverDivergence,
					"%d consecutive steps failed to reduce the reprojection error", rejects)
			}
		}
		logger.Debugw("levenberg-marquardt step", "iteration", iter, "cost", current, "damping", mu)
	}

	k, dist := intrinsicsFromParams(params)
	sdFx, sdFy, ok := bp.focalStdDev(params, res)
	if ok {
		if err := checkFocalUncertainty(params, sdFx, sdFy, cfg); err != nil {
			return nil, err
		}
	}
	if !ok || !isFinite(k.Fx) || !isFinite(k.Fy) || k.Fx <= 0 || k.Fy <= 0 {
		return nil, errors.Wrapf(ErrSolverDivergence, "refined focal lengths are invalid (%v, %v)", k.Fx, k.Fy)
	}
	poses := make([]transform.CamPose, len(bp.views))
	viewErrors := make([]float64, len(bp.views))
	total, count := 0., 0
	for i, v := range bp.views {
		poses[i] = poseFromParams(params, i)
		n := 2 * len(v.ObjectPoints)
		off := bp.viewOffset(i)
		sq := floats.Dot(res[off:off+n], res[off:off+n])
		viewErrors[i] = math.Sqrt(sq / float64(len(v.ObjectPoints)))
		total += sq
		count += len(v.ObjectPoints)
	}
	return &Solution{
		Intrinsics: k,
		Distortion: dist,
		Poses:      poses,
		ViewErrors: viewErrors,
		RMS:        math.Sqrt(total / float64(count)),
		FxStdDev:   sdFx,
		FyStdDev:   sdFy,
		Iterations: iter,
		Converged:  converged,
	}, nil
}

// focalStdDev estimates the standard deviations of fx and fy from the covariance s²(JᵀJ)⁻¹ of the
// fit at params, where s² is the residual variance. A singular JᵀJ gives infinite deviations. ok is
// false when the jacobian is not finite.
func (bp *bundleProblem) focalStdDev(params, res []float64) (sdFx, sdFy float64, ok bool) {
	inf := math.Inf(1)
	m, n := len(res), len(params)
	if m <= n {
		return inf, inf, true
	}
	jac := bp.jacobian(params)
	jtj := mat.NewSymDense(n, nil)
	jtj.SymOuterK(1, jac.T())

	// unit diagonal, so the factorization only sees the correlations
	scale := make([]float64, n)
	for i := range scale {
		d := jtj.At(i, i)
		if !isFinite(d) {
			return 0, 0, false
		}
		if d <= 0 {
			return inf, inf, true
		}
		scale[i] = 1 / math.Sqrt(d)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			jtj.SetSym(i, j, jtj.At(i, j)*scale[i]*scale[j])
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return inf, inf, true
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return inf, inf, true
	}
	variance := floats.Dot(res, res) / float64(m-n)
	sdFx = math.Sqrt(variance*math.Max(cov.At(0, 0), 0)) * scale[0]
	sdFy = math.Sqrt(variance*math.Max(cov.At(1, 1), 0)) * scale[1]
	return sdFx, sdFy, true
}

// checkFocalUncertainty reports views that leave the focal lengths unconstrained, such as boards
// seen from nearly the same orientation.
func checkFocalUncertainty(params []float64, sdFx, sdFy float64, cfg SolverConfiguration) error {
	rel := math.Max(sdFx/math.Abs(params[0]), sdFy/math.Abs(params[1]))
	if math.IsNaN(rel) || rel > cfg.MaxFocalUncertainty {
		return errors.Wrapf(ErrDegenerateConfiguration,
			"views do not constrain the focal length (relative standard deviation %.3g)", rel)
	}
	return nil
}
