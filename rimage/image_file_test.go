package rimage

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/lmittmann/ppm"
	"go.viam.com/test"
)

func TestDecodeImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 5, 4))
	src.SetGray(3, 2, color.Gray{77})
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, src), test.ShouldBeNil)

	img, err := DecodeImage(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 5)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 4)
	gray := ToGray(img)
	test.That(t, gray.GrayAt(3, 2).Y, test.ShouldEqual, uint8(77))

	_, err = DecodeImage(bytes.NewReader([]byte("definitely not an image")))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewImageFromFile(t *testing.T) {
	dir := t.TempDir()
	src := image.NewNRGBA(image.Rect(0, 0, 16, 8))
	for i := range src.Pix {
		src.Pix[i] = 255
	}

	var buf bytes.Buffer
	test.That(t, jpeg.Encode(&buf, src, &jpeg.Options{Quality: 95}), test.ShouldBeNil)
	fn := filepath.Join(dir, "white.jpg")
	test.That(t, os.WriteFile(fn, buf.Bytes(), 0o600), test.ShouldBeNil)

	img, err := NewImageFromFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Size(), test.ShouldResemble, image.Point{16, 8})
	test.That(t, ToGray(img).GrayAt(4, 4).Y, test.ShouldBeGreaterThan, uint8(250))

	_, err = NewImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)

	junk := filepath.Join(dir, "junk.png")
	test.That(t, os.WriteFile(junk, []byte("junk"), 0o600), test.ShouldBeNil)
	_, err = NewImageFromFile(junk)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "junk.png")
}

func TestToGray(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{0, 0, 0, 255})
	src.Set(1, 0, color.RGBA{255, 255, 255, 255})
	gray := ToGray(src)
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, uint8(0))
	test.That(t, gray.GrayAt(1, 0).Y, test.ShouldEqual, uint8(255))

	same := image.NewGray(image.Rect(0, 0, 1, 1))
	test.That(t, ToGray(same), test.ShouldEqual, same)
}

func TestDecodeImagePPM(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src.Set(1, 1, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	test.That(t, ppm.Encode(&buf, src), test.ShouldBeNil)

	img, err := DecodeImage(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Size(), test.ShouldResemble, image.Point{3, 2})
	r, g, b, _ := img.At(1, 1).RGBA()
	test.That(t, []uint32{r >> 8, g >> 8, b >> 8}, test.ShouldResemble, []uint32{10, 20, 30})
}
