package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2:
// centroid at the origin and mean distance to the origin sqrt(2).
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, error) {
	nPoints := len(pts)
	if nPoints == 0 {
		return nil, nil, errors.New("cannot normalize an empty point set")
	}
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, errors.New("points are coincident")
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i, pt := range pts {
		pointsTransformed[i] = pt.Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, nil
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	Values []float64
}

// performSVD performs a full SVD on inputMatrix. Values are sorted in decreasing order.
func performSVD(inputMatrix mat.Matrix) (*matsSVD, error) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil, errors.New("failed to factorize matrix")
	}
	u, v := &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return &matsSVD{U: u, V: v, Values: svd.Values(nil)}, nil
}

// NullVector returns the right singular vector of m associated with its smallest singular value,
// together with the ratio of the second smallest to the largest singular value. A ratio close
// to zero means the null space of m has more than one dimension.
func NullVector(m mat.Matrix) ([]float64, float64, error) {
	res, err := performSVD(m)
	if err != nil {
		return nil, 0, err
	}
	_, c := m.Dims()
	vec := mat.Col(nil, c-1, res.V)
	vals := res.Values
	if len(vals) < c-1 || vals[0] == 0 {
		return vec, 0, nil
	}
	return vec, vals[c-2] / vals[0], nil
}

// NearestRotation projects a 3x3 matrix onto SO(3) in the Frobenius sense.
func NearestRotation(m mat.Matrix) (*mat.Dense, error) {
	res, err := performSVD(m)
	if err != nil {
		return nil, err
	}
	rot := mat.NewDense(3, 3, nil)
	rot.Mul(res.U, res.V.T())
	if mat.Det(rot) < 0 {
		fix := eye(3)
		fix.Set(2, 2, -1)
		var tmp mat.Dense
		tmp.Mul(res.U, fix)
		rot.Mul(&tmp, res.V.T())
	}
	return rot, nil
}
