package imaging

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	_ "image/gif" // register decoder
)

// JPEGQuality is used for every JPEG written.
const JPEGQuality = 95

// Decode reads a JPEG, PNG or GIF image and reports its format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// Encode writes img using the codec matching name's extension. PNG names get
// PNG; everything else is written as JPEG, which is what the bank holds.
func Encode(w io.Writer, img image.Image, name string) error {
	switch Format(name) {
	case "png":
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
	default:
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
	}
	return nil
}

// Format is the output codec for name: "png" or "jpeg".
func Format(name string) string {
	if strings.EqualFold(filepath.Ext(name), ".png") {
		return "png"
	}
	return "jpeg"
}

// ContentType is the MIME type Encode produces for name.
func ContentType(name string) string {
	return "image/" + Format(name)
}
