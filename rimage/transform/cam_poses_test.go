package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestRotationVectorRoundTrip(t *testing.T) {
	for _, rv := range []r3.Vector{
		{},
		{X: 0.3},
		{Y: -0.4, Z: 0.1},
		{X: 0.2, Y: 0.25, Z: -1.2},
		{X: 0, Y: 0, Z: 3.0},
	} {
		m := RotationVectorToMatrix(rv)
		test.That(t, mat.Det(m), test.ShouldAlmostEqual, 1, 1e-9)
		back := MatrixToRotationVector(m)
		test.That(t, back.X, test.ShouldAlmostEqual, rv.X, 1e-9)
		test.That(t, back.Y, test.ShouldAlmostEqual, rv.Y, 1e-9)
		test.That(t, back.Z, test.ShouldAlmostEqual, rv.Z, 1e-9)
	}
}

func TestRotatePoint(t *testing.T) {
	p := RotatePoint(r3.Vector{Z: math.Pi / 2}, r3.Vector{X: 1})
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, p.Z, test.ShouldAlmostEqual, 0, 1e-12)

	rv := r3.Vector{X: 0.1, Y: -0.7, Z: 0.3}
	m := RotationVectorToMatrix(rv)
	v := r3.Vector{X: 1, Y: 2, Z: 3}
	q := RotatePoint(rv, v)
	test.That(t, q.X, test.ShouldAlmostEqual, m.At(0, 0)*v.X+m.At(0, 1)*v.Y+m.At(0, 2)*v.Z, 1e-12)
	test.That(t, q.Y, test.ShouldAlmostEqual, m.At(1, 0)*v.X+m.At(1, 1)*v.Y+m.At(1, 2)*v.Z, 1e-12)
	test.That(t, q.Z, test.ShouldAlmostEqual, m.At(2, 0)*v.X+m.At(2, 1)*v.Y+m.At(2, 2)*v.Z, 1e-12)

	pose := NewCamPoseFromMat(m, r3.Vector{Z: 10})
	out := pose.Transform(v)
	test.That(t, out.Z, test.ShouldAlmostEqual, q.Z+10, 1e-9)
}

func TestNearestRotation(t *testing.T) {
	m := RotationVectorToMatrix(r3.Vector{X: 0.2, Y: 0.1})
	noisy := mat.DenseCopyOf(m)
	noisy.Set(0, 1, noisy.At(0, 1)+0.01)
	noisy.Scale(3, noisy)
	rot, err := NearestRotation(noisy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Det(rot), test.ShouldAlmostEqual, 1, 1e-9)
	var rtr mat.Dense
	rtr.Mul(rot.T(), rot)
	test.That(t, mat.EqualApprox(&rtr, eye(3), 1e-9), test.ShouldBeTrue)
	test.That(t, rot.At(0, 1), test.ShouldAlmostEqual, m.At(0, 1), 1e-2)
}
