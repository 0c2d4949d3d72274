package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned for missing or unusable pinhole parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics is a zero skew pinhole camera: focal lengths and principal point in
// pixels, for an image of Width x Height pixels.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckValid requires a non empty image, finite positive focal lengths and a finite principal point.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	switch {
	case params == nil:
		return errors.Wrap(ErrNoIntrinsics, "nil intrinsics")
	case params.Width <= 0 || params.Height <= 0:
		return errors.Wrapf(ErrNoIntrinsics, "image size %dx%d", params.Width, params.Height)
	case !finite(params.Fx) || params.Fx <= 0, !finite(params.Fy) || params.Fy <= 0:
		return errors.Wrapf(ErrNoIntrinsics, "focal lengths (%v, %v)", params.Fx, params.Fy)
	case !finite(params.Ppx) || !finite(params.Ppy):
		return errors.Wrapf(ErrNoIntrinsics, "principal point (%v, %v)", params.Ppx, params.Ppy)
	}
	return nil
}

// PrincipalPointInBounds reports whether the principal point lies inside the image.
func (params *PinholeCameraIntrinsics) PrincipalPointInBounds() bool {
	return params.Ppx >= 0 && params.Ppy >= 0 && params.Ppx < float64(params.Width) && params.Ppy < float64(params.Height)
}

// NormalizedToPixel maps normalized image coordinates (x/z, y/z) to pixel coordinates.
func (params *PinholeCameraIntrinsics) NormalizedToPixel(x, y float64) r2.Point {
	return r2.Point{X: x*params.Fx + params.Ppx, Y: y*params.Fy + params.Ppy}
}

// PointToPixel projects a point of the camera frame into the image. Points with z == 0 map to (-1, -1).
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) r2.Point {
	if z == 0 {
		return r2.Point{X: -1, Y: -1}
	}
	return params.NormalizedToPixel(x/z, y/z)
}

// GetCameraMatrix returns K = [[fx 0 ppx] [0 fy ppy] [0 0 1]], or nil for nil intrinsics.
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}
