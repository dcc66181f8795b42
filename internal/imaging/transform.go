// Package imaging holds the fixed stimulus transform and the codecs used to
// read raw bank images and write experiment images.
package imaging

import (
	"fmt"
	"image"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
)

const (
	// DefaultResize is the length of the shorter side after scaling.
	DefaultResize = 256
	// DefaultCrop is the edge of the square center crop.
	DefaultCrop = 224
)

// Transform scales an image so its shorter side equals Resize and then cuts a
// Crop x Crop square from the center.
type Transform struct {
	Resize int
	Crop   int
	// Scaler defaults to bilinear.
	Scaler xdraw.Scaler
}

// Default returns the 256/224 transform.
func Default() Transform {
	return Transform{Resize: DefaultResize, Crop: DefaultCrop}
}

// Validate rejects non-positive sizes.
func (t Transform) Validate() error {
	if t.Resize <= 0 || t.Crop <= 0 {
		return fmt.Errorf("transform sizes must be positive (resize=%d crop=%d)", t.Resize, t.Crop)
	}
	return nil
}

// Apply runs the transform and returns a new RGBA image of Crop x Crop.
func (t Transform) Apply(src image.Image) (*image.RGBA, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("empty image")
	}
	w, h := ScaledSize(b.Dx(), b.Dy(), t.Resize)
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	scaler := t.Scaler
	if scaler == nil {
		scaler = xdraw.BiLinear
	}
	scaler.Scale(scaled, scaled.Bounds(), src, b, xdraw.Src, nil)
	return CenterCrop(scaled, t.Crop), nil
}

// ScaledSize returns the dimensions after scaling the shorter side to size,
// truncating the longer side the same way torchvision does.
func ScaledSize(w, h, size int) (int, int) {
	if w <= h {
		return size, int(float64(size) * float64(h) / float64(w))
	}
	return int(float64(size) * float64(w) / float64(h)), size
}

// CenterCrop cuts a size x size square from the center of src. Regions of
// the square falling outside src stay zero (transparent black).
func CenterCrop(src image.Image, size int) *image.RGBA {
	b := src.Bounds()
	top := int(math.Round(float64(b.Dy()-size) / 2))
	left := int(math.Round(float64(b.Dx()-size) / 2))
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	origin := image.Pt(b.Min.X+left, b.Min.Y+top)
	draw.Draw(dst, dst.Bounds(), src, origin, draw.Src)
	return dst
}
