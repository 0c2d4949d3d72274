package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// homographyRankTolerance is the smallest accepted ratio between the two smallest meaningful
// singular values of the DLT system.
const homographyRankTolerance = 1e-10

// ErrDegenerateHomography is returned when the point correspondences do not determine a unique homography.
var ErrDegenerateHomography = errors.New("point correspondences do not determine a unique homography")

// Homography is a 3x3 matrix used to transform a plane from one perspective to another.
// Indices are [row][column].
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a new Homography from 9 values in row-major order.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	data := make([]float64, 9)
	copy(data, vals)
	return &Homography{mat.NewDense(3, 3, data)}, nil
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Matrix returns a copy of the homography as a 3x3 matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// Apply maps a point through the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography.
func (h *Homography) Inverse() (*Homography, error) {
	var inv mat.Dense
	if err := inv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	return &Homography{&inv}, nil
}

// EstimateHomography computes the homography mapping src onto dst with the normalized direct linear
// transform. At least 4 correspondences are required. The result is scaled so that H[2][2] = 1
// when that entry is not vanishing, and to unit Frobenius norm otherwise.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets have different lengths: %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Errorf("need at least 4 correspondences to estimate a homography, got %d", len(src))
	}
	srcNorm, t1, err := normalizePoints(src)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	dstNorm, t2, err := normalizePoints(dst)
	if err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	h, ratio, err := NullVector(a)
	if err != nil {
		return nil, err
	}
	if ratio < homographyRankTolerance {
		return nil, ErrDegenerateHomography
	}
	hn := mat.NewDense(3, 3, h)

	// denormalize: H = T2^-1 * Hn * T1
	var t2Inv mat.Dense
	if err := t2Inv.Inverse(t2); err != nil {
		return nil, errors.Wrap(err, "cannot invert normalization")
	}
	var tmp, out mat.Dense
	tmp.Mul(&t2Inv, hn)
	out.Mul(&tmp, t1)

	if s := out.At(2, 2); math.Abs(s) > 1e-12 {
		out.Scale(1/s, &out)
	} else {
		out.Scale(1/mat.Norm(&out, 2), &out)
	}
	return &Homography{&out}, nil
}
