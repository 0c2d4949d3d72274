package chessboard

import (
	"image"

	"github.com/fogleman/gg"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"

	"go.viam.com/intrinsics/rimage"
)

// rowColor spreads the rows of the pattern over the hue circle.
func rowColor(row, rows int) colorful.Color {
	return colorful.Hsv(300*float64(row)/float64(max(rows-1, 1)), 1, 0.9)
}

// DrawCorners draws the detected corners over a grayscale copy of img, joined in detection order
// and colored by row.
func DrawCorners(img image.Image, corners []r2.Point, pattern PatternSpec) image.Image {
	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(rimage.ToGray(img), 0, 0)
	dc.SetLineWidth(1)
	for k, pt := range corners {
		c := rowColor(k/pattern.Cols, pattern.Rows)
		if k > 0 {
			prev := corners[k-1]
			dc.SetColor(c)
			dc.DrawLine(prev.X, prev.Y, pt.X, pt.Y)
			dc.Stroke()
		}
		dc.SetColor(c)
		dc.DrawCircle(pt.X, pt.Y, 4)
		dc.Stroke()
	}
	return dc.Image()
}

// SaveCornersPNG draws the corners over img and saves the result to a png file.
func SaveCornersPNG(img image.Image, corners []r2.Point, pattern PatternSpec, outFile string) error {
	return gg.SavePNG(outFile, DrawCorners(img, corners, pattern))
}
