package rimage

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
)

func TestConvertToLuminanceFloat(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 4, 3))
	gray.SetGray(2, 1, color.Gray{200})
	m, err := ConvertToLuminanceFloat(gray)
	test.That(t, err, test.ShouldBeNil)
	h, w := m.Dims()
	test.That(t, w, test.ShouldEqual, 4)
	test.That(t, h, test.ShouldEqual, 3)
	test.That(t, m.At(1, 2), test.ShouldEqual, 200.)
	test.That(t, m.At(0, 0), test.ShouldEqual, 0.)

	// color images go through the luma weights, with an offset bounds rectangle
	rgba := image.NewRGBA(image.Rect(10, 10, 12, 12))
	rgba.Set(11, 10, color.RGBA{255, 255, 255, 255})
	rgba.Set(10, 11, color.RGBA{255, 0, 0, 255})
	m, err = ConvertToLuminanceFloat(rgba)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.At(0, 1), test.ShouldAlmostEqual, 255., 1e-9)
	test.That(t, m.At(1, 0), test.ShouldAlmostEqual, 0.299*255, 1e-9)

	_, err = ConvertToLuminanceFloat(image.NewGray(image.Rect(0, 0, 0, 5)))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = ConvertToLuminanceFloat(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBilinearInterpolation(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 0, color.Gray{100})
	gray.SetGray(1, 1, color.Gray{100})
	m, err := ConvertToLuminanceFloat(gray)
	test.That(t, err, test.ShouldBeNil)

	v, ok := BilinearInterpolation(m, 0.25, 0.5)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 25.)

	v, ok = BilinearInterpolation(m, 1, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldAlmostEqual, 100.)

	_, ok = BilinearInterpolation(m, -0.1, 0)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = BilinearInterpolation(m, 0, 1.01)
	test.That(t, ok, test.ShouldBeFalse)
}
