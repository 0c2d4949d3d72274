package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/rimage"
)

const (
	xCornerSamples      = 32
	xCornerHysteresis   = 0.1
	xCornerMaxAsymmetry = 0.25
)

// isXCorner samples the image on a circle around p and checks that it crosses four
// dark/bright sectors with opposite sectors of equal brightness.
func isXCorner(img *mat.Dense, p r2.Point, radius, minContrast float64) bool {
	samples := make([]float64, xCornerSamples)
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := range samples {
		theta := 2 * math.Pi * float64(k) / xCornerSamples
		v, ok := rimage.BilinearInterpolation(img, p.X+radius*math.Cos(theta), p.Y+radius*math.Sin(theta))
		if !ok {
			return false
		}
		samples[k] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	contrast := hi - lo
	if contrast < minContrast {
		return false
	}

	asymmetry := 0.
	for k := 0; k < xCornerSamples/2; k++ {
		asymmetry += math.Abs(samples[k] - samples[k+xCornerSamples/2])
	}
	if asymmetry/(xCornerSamples/2)/contrast > xCornerMaxAsymmetry {
		return false
	}

	mid := (hi + lo) / 2
	upper, lower := mid+xCornerHysteresis*contrast, mid-xCornerHysteresis*contrast
	start := -1
	for k, v := range samples {
		if v > upper || v < lower {
			start = k
			break
		}
	}
	if start < 0 {
		return false
	}
	bright := samples[start] > upper
	transitions := 0
	for n := 1; n <= xCornerSamples; n++ {
		v := samples[(start+n)%xCornerSamples]
		switch {
		case bright && v < lower:
			bright = false
			transitions++
		case !bright && v > upper:
			bright = true
			transitions++
		}
	}
	return transitions == 4
}
