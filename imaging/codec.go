// Package imaging is the raster toolkit shared by segmentation and
// restoration: PNG codecs, binary masks, morphology, blending, overlays,
// and the edge cleanup post-process. Masks are *image.Gray where any value
// above zero is foreground.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
)

// Codec errors.
var (
	ErrEmptyImage      = errors.New("imaging: empty image data")
	ErrImageDecodeFail = errors.New("imaging: failed to decode image")
	ErrInvalidSize     = errors.New("imaging: invalid image dimensions")
)

// pngMagic identifies PNG data by its signature bytes.
var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}

// IsPNG checks if the given data starts with PNG magic bytes.
// This is a pure function with no side effects.
func IsPNG(data []byte) bool {
	if len(data) < len(pngMagic) {
		return false
	}
	return bytes.Equal(data[:len(pngMagic)], pngMagic)
}

// Decode decodes image data from common formats (PNG, JPEG, GIF).
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageDecodeFail, err)
	}
	return img, nil
}

// EncodePNG encodes an image to PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: png encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ToRGBA converts any image to RGBA, normalizing the origin to (0,0).
// Returns the input unchanged when it is already a zero-origin *image.RGBA.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// CloneRGBA returns a deep copy of an RGBA image.
func CloneRGBA(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	return out
}

// NewMask allocates an all-background mask of the given size.
func NewMask(w, h int) *image.Gray {
	return image.NewGray(image.Rect(0, 0, w, h))
}
