// Package imageutil converts scans into 8-bit luminance buffers and
// measures them. Segmentation, quality gating and recognition share it.
package imageutil

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Luminance returns img as an 8-bit grayscale buffer whose bounds start at
// the origin. Gray images are returned without copying.
func Luminance(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	return fromNRGBA(imaging.Grayscale(img))
}

// Crop cuts rect out of img and returns it as grayscale
func Crop(img image.Image, rect image.Rectangle) *image.Gray {
	return fromNRGBA(imaging.Crop(img, rect))
}

// Downscale resizes img so its longest side is at most maxSide pixels
func Downscale(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	if b.Dx() <= maxSide && b.Dy() <= maxSide {
		return img
	}
	if b.Dx() >= b.Dy() {
		return imaging.Resize(img, maxSide, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxSide, imaging.Lanczos)
}

// fromNRGBA keeps the red channel of an already desaturated image
func fromNRGBA(src *image.NRGBA) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcRow := src.Pix[y*src.Stride : y*src.Stride+w*4]
		dstRow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			dstRow[x] = srcRow[x*4]
		}
	}
	return dst
}

// BytesPerPixel estimates the stored bytes per pixel for img's color model
func BytesPerPixel(img image.Image) int {
	switch img.ColorModel() {
	case color.GrayModel, color.AlphaModel:
		return 1
	case color.Gray16Model, color.Alpha16Model:
		return 2
	case color.RGBAModel, color.NRGBAModel, color.CMYKModel:
		return 4
	case color.RGBA64Model, color.NRGBA64Model:
		return 8
	}
	if _, ok := img.(*image.Paletted); ok {
		return 1
	}
	return 3
}

// Stats are luminance statistics over a whole buffer
type Stats struct {
	Mean   float64
	StdDev float64
	// Below is the fraction of pixels darker than the requested cutoff.
	Below float64
}

// Measure computes luminance mean, standard deviation and the fraction of
// pixels with luminance below cutoff.
func Measure(g *image.Gray, cutoff uint8) Stats {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	n := w * h
	if n == 0 {
		return Stats{}
	}

	var sum, sumSq float64
	var below int
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, v := range row {
			f := float64(v)
			sum += f
			sumSq += f * f
			if v < cutoff {
				below++
			}
		}
	}

	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Stats{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Below:  float64(below) / float64(n),
	}
}
