package chessboard

import (
	"sort"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/rimage"
	"go.viam.com/intrinsics/utils"
)

// Saddle is a local maximum of the saddle response map.
type Saddle struct {
	Point r2.Point
	Score float64
}

// ComputeSaddleMap blurs the image and returns the negated determinant of its Hessian,
// clipped at zero. Chessboard X-junctions are strong saddles; straight edges have a rank one
// Hessian and give no response.
func ComputeSaddleMap(img *mat.Dense, sigma float64) *mat.Dense {
	blurred := rimage.GaussianBlurFloat64(img, sigma)
	h, w := blurred.Dims()
	src := blurred.RawMatrix()
	at := func(x, y int) float64 { return src.Data[y*src.Stride+x] }
	out := make([]float64, h*w)
	utils.ParallelForEachRow(h, func(y int) {
		if y == 0 || y == h-1 {
			return
		}
		for x := 1; x < w-1; x++ {
			c := at(x, y)
			ixx := at(x+1, y) - 2*c + at(x-1, y)
			iyy := at(x, y+1) - 2*c + at(x, y-1)
			ixy := (at(x+1, y+1) - at(x+1, y-1) - at(x-1, y+1) + at(x-1, y-1)) / 4
			if s := ixy*ixy - ixx*iyy; s > 0 {
				out[y*w+x] = s
			}
		}
	})
	return mat.NewDense(h, w, out)
}

// NonMaxSuppression returns the local maxima of s in a (2*winSize+1)^2 window. On plateaus the
// first pixel in raster order wins.
func NonMaxSuppression(s *mat.Dense, winSize int) []Saddle {
	h, w := s.Dims()
	raw := s.RawMatrix()
	at := func(x, y int) float64 { return raw.Data[y*raw.Stride+x] }
	rows := make([][]Saddle, h)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			v := at(x, y)
			if v <= 0 {
				continue
			}
			isMax := true
			for yy := max(0, y-winSize); yy <= min(h-1, y+winSize) && isMax; yy++ {
				for xx := max(0, x-winSize); xx <= min(w-1, x+winSize); xx++ {
					n := at(xx, yy)
					before := yy < y || (yy == y && xx < x)
					if n > v || (before && n == v) {
						isMax = false
						break
					}
				}
			}
			if isMax {
				rows[y] = append(rows[y], Saddle{Point: r2.Point{X: float64(x), Y: float64(y)}, Score: v})
			}
		}
	})
	var out []Saddle
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

// GetSaddlePoints returns the strongest saddle points of the image, sorted by decreasing score.
// Points weaker than cfg.ResponseRatio times the strongest one are dropped and at most
// cfg.MaxCandidates are kept.
func GetSaddlePoints(img *mat.Dense, cfg *DetectionConfiguration) []Saddle {
	saddleMap := ComputeSaddleMap(img, cfg.BlurSigma)
	peaks := NonMaxSuppression(saddleMap, cfg.NMSWindow)
	if len(peaks) == 0 {
		return nil
	}
	sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].Score > peaks[j].Score })
	thresh := peaks[0].Score * cfg.ResponseRatio
	out := make([]Saddle, 0, len(peaks))
	for _, p := range peaks {
		if p.Score < thresh || len(out) >= cfg.MaxCandidates {
			break
		}
		out = append(out, p)
	}
	return out
}
