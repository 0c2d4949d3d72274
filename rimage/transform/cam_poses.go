package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// CamPose is the pose of a planar target relative to the camera: a rotation vector
// (axis times angle, radians) and a translation.
type CamPose struct {
	Rotation    r3.Vector `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// NewCamPoseFromMat creates a CamPose from a 3x3 rotation matrix and a translation.
func NewCamPoseFromMat(rot mat.Matrix, t r3.Vector) *CamPose {
	return &CamPose{Rotation: MatrixToRotationVector(rot), Translation: t}
}

// Transform maps a point from the target frame into the camera frame.
func (cp *CamPose) Transform(p r3.Vector) r3.Vector {
	return RotatePoint(cp.Rotation, p).Add(cp.Translation)
}

// RotationMatrix returns the 3x3 rotation matrix of the pose.
func (cp *CamPose) RotationMatrix() *mat.Dense {
	return RotationVectorToMatrix(cp.Rotation)
}

func rotationVectorToQuat(rv r3.Vector) quat.Number {
	if rv.Norm() == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Exp(quat.Number{Imag: rv.X / 2, Jmag: rv.Y / 2, Kmag: rv.Z / 2})
}

// RotatePoint rotates p by the rotation vector rv.
func RotatePoint(rv r3.Vector, p r3.Vector) r3.Vector {
	q := rotationVectorToQuat(rv)
	out := quat.Mul(quat.Mul(q, quat.Number{Imag: p.X, Jmag: p.Y, Kmag: p.Z}), quat.Conj(q))
	return r3.Vector{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// RotationVectorToMatrix converts a rotation vector to a 3x3 rotation matrix.
func RotationVectorToMatrix(rv r3.Vector) *mat.Dense {
	q := rotationVectorToQuat(rv)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	})
}

// MatrixToRotationVector converts a 3x3 rotation matrix to a rotation vector with angle in [0, pi].
func MatrixToRotationVector(m mat.Matrix) r3.Vector {
	q := matrixToQuat(m)
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	if n := quat.Abs(q); n > 0 {
		q = quat.Scale(1/n, q)
	}
	l := quat.Log(q)
	v := r3.Vector{X: 2 * l.Imag, Y: 2 * l.Jmag, Z: 2 * l.Kmag}
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) {
		return r3.Vector{}
	}
	return v
}

// matrixToQuat uses Shepperd's method, branching on the largest diagonal term.
func matrixToQuat(m mat.Matrix) quat.Number {
	m00, m11, m22 := m.At(0, 0), m.At(1, 1), m.At(2, 2)
	tr := m00 + m11 + m22
	switch {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		return quat.Number{
			Real: s / 4,
			Imag: (m.At(2, 1) - m.At(1, 2)) / s,
			Jmag: (m.At(0, 2) - m.At(2, 0)) / s,
			Kmag: (m.At(1, 0) - m.At(0, 1)) / s,
		}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		return quat.Number{
			Real: (m.At(2, 1) - m.At(1, 2)) / s,
			Imag: s / 4,
			Jmag: (m.At(0, 1) + m.At(1, 0)) / s,
			Kmag: (m.At(0, 2) + m.At(2, 0)) / s,
		}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		return quat.Number{
			Real: (m.At(0, 2) - m.At(2, 0)) / s,
			Imag: (m.At(0, 1) + m.At(1, 0)) / s,
			Jmag: s / 4,
			Kmag: (m.At(1, 2) + m.At(2, 1)) / s,
		}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		return quat.Number{
			Real: (m.At(1, 0) - m.At(0, 1)) / s,
			Imag: (m.At(0, 2) + m.At(2, 0)) / s,
			Jmag: (m.At(1, 2) + m.At(2, 1)) / s,
			Kmag: s / 4,
		}
	}
}
