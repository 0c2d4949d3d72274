package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/intrinsics/rimage/transform"
	"go.viam.com/intrinsics/utils"
)

const (
	syntheticDark   = 30
	syntheticLight  = 220
	syntheticSubpix = 8
)

// SyntheticPose places the board center at the given distance along the optical axis, rotated by
// the rotation vector rv.
func SyntheticPose(pattern PatternSpec, rv r3.Vector, distance float64) transform.CamPose {
	center := r3.Vector{
		X: float64(pattern.Cols-1) * pattern.SquareSize / 2,
		Y: float64(pattern.Rows-1) * pattern.SquareSize / 2,
	}
	t := r3.Vector{Z: distance}.Sub(transform.RotatePoint(rv, center))
	return transform.CamPose{Rotation: rv, Translation: t}
}

// RenderSyntheticBoard renders the pattern as seen by an ideal pinhole camera with intrinsics k
// from the given pose. The board has one square more than internal corners along each axis and
// sits on a light background. Each pixel averages 8x8 samples.
func RenderSyntheticBoard(
	pattern PatternSpec,
	k *transform.PinholeCameraIntrinsics,
	pose transform.CamPose,
) (*image.Gray, error) {
	if err := k.CheckValid(); err != nil {
		return nil, err
	}
	rot := pose.RotationMatrix()
	km := k.GetCameraMatrix()
	// plane to image homography K [r1 r2 t]
	vals := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			col := [3]float64{rot.At(0, c), rot.At(1, c), rot.At(2, c)}
			if c == 2 {
				col = [3]float64{pose.Translation.X, pose.Translation.Y, pose.Translation.Z}
			}
			vals[r*3+c] = km.At(r, 0)*col[0] + km.At(r, 1)*col[1] + km.At(r, 2)*col[2]
		}
	}
	h, err := transform.NewHomography(vals)
	if err != nil {
		return nil, err
	}
	inv, err := h.Inverse()
	if err != nil {
		return nil, errors.Wrap(err, "board plane passes through the camera center")
	}

	s := pattern.SquareSize
	maxX, maxY := float64(pattern.Cols)*s, float64(pattern.Rows)*s
	shade := func(p r2.Point) float64 {
		w := inv.At(2, 0)*p.X + inv.At(2, 1)*p.Y + inv.At(2, 2)
		if w <= 0 {
			return syntheticLight
		}
		b := inv.Apply(p)
		if b.X < -s || b.Y < -s || b.X >= maxX || b.Y >= maxY {
			return syntheticLight
		}
		if (int(math.Floor(b.X/s))+int(math.Floor(b.Y/s)))%2 == 0 {
			return syntheticDark
		}
		return syntheticLight
	}

	img := image.NewGray(image.Rect(0, 0, k.Width, k.Height))
	utils.ParallelForEachRow(k.Height, func(y int) {
		for x := 0; x < k.Width; x++ {
			sum := 0.
			for sy := 0; sy < syntheticSubpix; sy++ {
				for sx := 0; sx < syntheticSubpix; sx++ {
					sum += shade(r2.Point{
						X: float64(x) + (float64(sx)+0.5)/syntheticSubpix - 0.5,
						Y: float64(y) + (float64(sy)+0.5)/syntheticSubpix - 0.5,
					})
				}
			}
			img.Pix[y*img.Stride+x] = uint8(math.Round(sum / (syntheticSubpix * syntheticSubpix)))
		}
	})
	return img, nil
}

// ProjectPattern returns the exact pixel positions of the pattern corners for the given pose.
func ProjectPattern(pattern PatternSpec, k *transform.PinholeCameraIntrinsics, pose transform.CamPose) []r2.Point {
	obj := pattern.ObjectPoints()
	out := make([]r2.Point, len(obj))
	for i, p := range obj {
		c := pose.Transform(p)
		out[i] = k.PointToPixel(c.X, c.Y, c.Z)
	}
	return out
}
