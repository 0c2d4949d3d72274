package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/utils"
)

// ConvertToLuminanceFloat converts an image into a float64 luminance matrix with values in [0, 255].
// Rows of the matrix are image rows (y), columns are image columns (x).
func ConvertToLuminanceFloat(img image.Image) (*mat.Dense, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.Errorf("cannot convert empty image of size %dx%d", w, h)
	}
	data := make([]float64, w*h)
	switch im := img.(type) {
	case *image.Gray:
		utils.ParallelForEachRow(h, func(y int) {
			row := im.Pix[y*im.Stride : y*im.Stride+w]
			for x, v := range row {
				data[y*w+x] = float64(v)
			}
		})
	default:
		utils.ParallelForEachRow(h, func(y int) {
			for x := 0; x < w; x++ {
				r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				// ITU-R 601 luma, same weights as color.GrayModel
				data[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257.
			}
		})
	}
	return mat.NewDense(h, w, data), nil
}

// BilinearInterpolation returns the bilinearly interpolated value of m at the subpixel position
// (x, y). The second return value is false when the position is outside of the matrix.
func BilinearInterpolation(m *mat.Dense, x, y float64) (float64, bool) {
	h, w := m.Dims()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) || math.IsNaN(x) || math.IsNaN(y) {
		return 0, false
	}
	x0, y0 := int(x), int(y)
	x1, y1 := x0+1, y0+1
	if x1 > w-1 {
		x1 = w - 1
	}
	if y1 > h-1 {
		y1 = h - 1
	}
	dx, dy := x-float64(x0), y-float64(y0)
	raw := m.RawMatrix()
	at := func(c, r int) float64 { return raw.Data[r*raw.Stride+c] }
	top := at(x0, y0)*(1-dx) + at(x1, y0)*dx
	bottom := at(x0, y1)*(1-dx) + at(x1, y1)*dx
	return top*(1-dy) + bottom*dy, true
}
