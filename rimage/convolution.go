package rimage

import (
	"image"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/intrinsics/utils"
)

// Kernel is a convolution kernel. Content is indexed [row][column].
type Kernel struct {
	Content [][]float64
	Width   int
	Height  int
}

// Size returns the size of the kernel.
func (k *Kernel) Size() image.Point {
	return image.Point{k.Width, k.Height}
}

// At returns the kernel value at column x and row y.
func (k *Kernel) At(x, y int) float64 {
	return k.Content[y][x]
}

// GetCentralDifferenceX returns the Kernel of the central difference in the x direction.
func GetCentralDifferenceX() Kernel {
	return Kernel{[][]float64{{-0.5, 0, 0.5}}, 3, 1}
}

// GetCentralDifferenceY returns the Kernel of the central difference in the y direction.
func GetCentralDifferenceY() Kernel {
	return Kernel{[][]float64{{-0.5}, {0}, {0.5}}, 1, 3}
}

// GetGaussian1D returns a normalized 1D Gaussian of standard deviation sigma, truncated at 3 sigma.
func GetGaussian1D(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	if radius < 1 {
		radius = 1
	}
	weights := make([]float64, 2*radius+1)
	sum := 0.
	for i := -radius; i <= radius; i++ {
		w := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		weights[i+radius] = w
		sum += w
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// ConvolveGrayFloat64 convolves a float64 image with the kernel anchored at its center.
// Borders are replicated and there is no clamping of the output values.
func ConvolveGrayFloat64(m *mat.Dense, filter *Kernel) (*mat.Dense, error) {
	if filter.Width%2 == 0 || filter.Height%2 == 0 {
		return nil, errors.Errorf("kernel must have odd dimensions, got %dx%d", filter.Width, filter.Height)
	}
	h, w := m.Dims()
	src := m.RawMatrix()
	out := make([]float64, h*w)
	ax, ay := filter.Width/2, filter.Height/2
	utils.ParallelForEachPixel(w, h, func(x, y int) {
		sum := 0.
		for ky := 0; ky < filter.Height; ky++ {
			row := clampIndex(y+ky-ay, h) * src.Stride
			for kx := 0; kx < filter.Width; kx++ {
				sum += src.Data[row+clampIndex(x+kx-ax, w)] * filter.At(kx, ky)
			}
		}
		out[y*w+x] = sum
	})
	return mat.NewDense(h, w, out), nil
}

// GaussianBlurFloat64 blurs a float64 image with a separable Gaussian of standard deviation sigma.
// A non positive sigma returns a copy of the input.
func GaussianBlurFloat64(m *mat.Dense, sigma float64) *mat.Dense {
	if sigma <= 0 {
		return mat.DenseCopyOf(m)
	}
	weights := GetGaussian1D(sigma)
	radius := len(weights) / 2
	h, w := m.Dims()
	src := m.RawMatrix()
	tmp := make([]float64, h*w)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for i, wt := range weights {
				sum += src.Data[y*src.Stride+clampIndex(x+i-radius, w)] * wt
			}
			tmp[y*w+x] = sum
		}
	})
	out := make([]float64, h*w)
	utils.ParallelForEachRow(h, func(y int) {
		for x := 0; x < w; x++ {
			sum := 0.
			for i, wt := range weights {
				sum += tmp[clampIndex(y+i-radius, h)*w+x] * wt
			}
			out[y*w+x] = sum
		}
	})
	return mat.NewDense(h, w, out)
}
