package chessboard

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/rimage"
)

// SubpixelConfiguration stores the window and termination criteria of the corner refinement.
type SubpixelConfiguration struct {
	Window        int     `json:"window"` // half size of the search window
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"` // stop once a corner moves less than this, in pixels
}

// DefaultSubpixelConfiguration uses a 23x23 window and stops after 30 iterations or a 0.001px move.
func DefaultSubpixelConfiguration() SubpixelConfiguration {
	return SubpixelConfiguration{Window: 11, MaxIterations: 30, Epsilon: 0.001}
}

// Validate ensures all parts of the config are valid.
func (cfg *SubpixelConfiguration) Validate(path string) error {
	if cfg.Window < 1 {
		return utils.NewConfigValidationError(path, errors.New("window must be at least 1"))
	}
	if cfg.MaxIterations < 1 {
		return utils.NewConfigValidationError(path, errors.New("max_iterations must be at least 1"))
	}
	if cfg.Epsilon <= 0 {
		return utils.NewConfigValidationError(path, errors.New("epsilon must be positive"))
	}
	return nil
}

// imageGradients holds central difference gradients of an image.
type imageGradients struct {
	gx, gy *mat.Dense
}

func computeGradients(img *mat.Dense) (imageGradients, error) {
	diffX, diffY := rimage.GetCentralDifferenceX(), rimage.GetCentralDifferenceY()
	gx, err := rimage.ConvolveGrayFloat64(img, &diffX)
	if err != nil {
		return imageGradients{}, err
	}
	gy, err := rimage.ConvolveGrayFloat64(img, &diffY)
	if err != nil {
		return imageGradients{}, err
	}
	return imageGradients{gx: gx, gy: gy}, nil
}

// RefineCorners moves every corner to the point where the image gradients in its neighbourhood
// are orthogonal to the vectors pointing at it. Corners that cannot be refined keep their input position.
func RefineCorners(img *mat.Dense, corners []r2.Point, cfg SubpixelConfiguration) []r2.Point {
	out := make([]r2.Point, len(corners))
	grads, err := computeGradients(img)
	if err != nil {
		copy(out, corners)
		return out
	}
	for i, c := range corners {
		out[i] = grads.refine(c, cfg)
	}
	return out
}

// refine runs the iterative solve of sum_q w(q) g(q) g(q)^T (q - c) = 0 for one corner.
func (g imageGradients) refine(start r2.Point, cfg SubpixelConfiguration) r2.Point {
	win := cfg.Window
	coeff := 1. / float64(win*win)
	weights := make([]float64, 2*win+1)
	for k := range weights {
		d := float64(k - win)
		weights[k] = math.Exp(-d * d * coeff)
	}

	c := start
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		var a11, a12, a22, b1, b2 float64
		for dy := -win; dy <= win; dy++ {
			for dx := -win; dx <= win; dx++ {
				q := r2.Point{X: c.X + float64(dx), Y: c.Y + float64(dy)}
				gx, ok := rimage.BilinearInterpolation(g.gx, q.X, q.Y)
				if !ok {
					return start
				}
				gy, _ := rimage.BilinearInterpolation(g.gy, q.X, q.Y)
				w := weights[dx+win] * weights[dy+win]
				gxx, gxy, gyy := w*gx*gx, w*gx*gy, w*gy*gy
				a11 += gxx
				a12 += gxy
				a22 += gyy
				b1 += gxx*q.X + gxy*q.Y
				b2 += gxy*q.X + gyy*q.Y
			}
		}
		det := a11*a22 - a12*a12
		if trace := a11 + a22; det <= 1e-12*trace*trace {
			return start
		}
		next := r2.Point{X: (a22*b1 - a12*b2) / det, Y: (a11*b2 - a12*b1) / det}
		if math.IsNaN(next.X) || math.IsNaN(next.Y) || math.IsInf(next.X, 0) || math.IsInf(next.Y, 0) {
			return start
		}
		if math.Abs(next.X-start.X) > float64(win) || math.Abs(next.Y-start.Y) > float64(win) {
			return start
		}
		moved := next.Sub(c).Norm()
		c = next
		if moved < cfg.Epsilon {
			break
		}
	}
	return c
}
