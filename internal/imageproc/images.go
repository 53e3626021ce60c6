// Package imageproc decodes request images and prepares them for a vision
// encoder.
package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	MinSide = 8
	MaxSide = 8192

	// MaxPixels bounds both decoded images and resize targets.
	MaxPixels = MaxSide * MaxSide
)

// ErrTooLarge is returned for images whose source or resized size exceeds
// MaxPixels.
var ErrTooLarge = errors.New("image too large")

var (
	ImageNetStandardMean = [3]float32{0.5, 0.5, 0.5}
	ImageNetStandardSTD  = [3]float32{0.5, 0.5, 0.5}
	ClipDefaultMean      = [3]float32{0.48145466, 0.4578275, 0.40821073}
	ClipDefaultSTD       = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ClampSide bounds a requested shortest-side length to [MinSide, MaxSide].
func ClampSide(s int) int {
	return max(MinSide, min(MaxSide, s))
}

// Decode reads any registered format and returns an opaque RGB image.
// Alpha is dropped, not composited. The header is checked against
// MaxPixels before any pixel data is decoded.
func Decode(r io.Reader) (*image.RGBA, error) {
	var head bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &head))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decode image: empty %dx%d image", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%dx%d exceeds %d pixels: %w", cfg.Width, cfg.Height, MaxPixels, ErrTooLarge)
	}
	img, _, err := image.Decode(io.MultiReader(&head, r))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return ToRGB(img), nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(b []byte) (*image.RGBA, error) { return Decode(bytes.NewReader(b)) }

// DecodeFile opens and decodes the image at path.
func DecodeFile(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// ToRGB converts img to RGBA with every pixel fully opaque.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 255
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{c.R, c.G, c.B, 255})
		}
	}
	return dst
}

// ShortestSideSize returns the size that scales (w, h) so the shorter side
// is s, rounding the longer side to the nearest pixel.
func ShortestSideSize(w, h, s int) image.Point {
	if w <= h {
		return image.Pt(s, int(math.Round(float64(h)*float64(s)/float64(w))))
	}
	return image.Pt(int(math.Round(float64(w)*float64(s)/float64(h))), s)
}

// ResizeShortestSide scales img so its shorter side equals s, preserving
// aspect ratio with bicubic resampling. An image already at s is returned
// unchanged. A target above MaxPixels fails with ErrTooLarge before
// anything is allocated.
func ResizeShortestSide(img image.Image, s int) (image.Image, error) {
	b := img.Bounds()
	short, long := min(b.Dx(), b.Dy()), max(b.Dx(), b.Dy())
	if short <= 0 || s <= 0 {
		return nil, fmt.Errorf("cannot resize %dx%d image to side %d", b.Dx(), b.Dy(), s)
	}
	if short == s {
		return img, nil
	}
	if float64(long)*float64(s)/float64(short)*float64(s) > MaxPixels {
		return nil, fmt.Errorf("%dx%d at side %d exceeds %d pixels: %w", b.Dx(), b.Dy(), s, MaxPixels, ErrTooLarge)
	}
	return Resize(img, ShortestSideSize(b.Dx(), b.Dy(), s)), nil
}

// Resize scales img to exactly newSize with bicubic resampling.
func Resize(img image.Image, newSize image.Point) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, newSize.X, newSize.Y))
	draw.CatmullRom.Scale(dst, dst.Rect, img, img.Bounds(), draw.Src, nil)
	return dst
}

// Normalize rescales pixels to [0,1], standardises them per channel and
// returns them channel first (all R, then G, then B).
func Normalize(img image.Image, mean, std [3]float32) []float32 {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	out := make([]float32, 3*n)
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out[i] = (float32(r>>8)/255 - mean[0]) / std[0]
			out[n+i] = (float32(g>>8)/255 - mean[1]) / std[1]
			out[2*n+i] = (float32(bl>>8)/255 - mean[2]) / std[2]
			i++
		}
	}
	return out
}
