package imaging

import (
	"image"
	"image/color"

	"layerforge/geometry"
)

// MaskFromAlpha extracts a binary mask from an RGBA image's alpha channel:
// any pixel with alpha > 0 becomes foreground (255).
func MaskFromAlpha(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.Pix[y*img.Stride+x*4+3] > 0 {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// Threshold binarizes a probability map: values >= cutoff become 255,
// everything else 0. cutoff is in [0,1] against the 0-255 gray range.
func Threshold(prob *image.Gray, cutoff float64) *image.Gray {
	b := prob.Bounds()
	limit := uint8(cutoff * 255)
	out := image.NewGray(b)
	for i, v := range prob.Pix {
		if v >= limit && v > 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// ApplyAlphaMask returns a copy of img whose alpha channel is the mask:
// foreground pixels keep alpha 255, background pixels become transparent.
func ApplyAlphaMask(img *image.RGBA, mask *image.Gray) *image.RGBA {
	out := CloneRGBA(img)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] > 0 {
				out.Pix[y*out.Stride+x*4+3] = 255
			} else {
				out.Pix[y*out.Stride+x*4+3] = 0
			}
		}
	}
	return out
}

// BoundingBox returns the tight box around foreground pixels.
// ok is false when the mask is empty.
func BoundingBox(mask *image.Gray) (box geometry.Box, ok bool) {
	b := mask.Bounds()
	minX, minY := b.Dx(), b.Dy()
	maxX, maxY := -1, -1

	for y := 0; y < b.Dy(); y++ {
		row := mask.Pix[y*mask.Stride : y*mask.Stride+b.Dx()]
		for x, v := range row {
			if v == 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < 0 {
		return geometry.Box{}, false
	}
	// Far edges are exclusive, preserving x1<x2 even for 1px masks.
	return geometry.Box{X1: minX, Y1: minY, X2: maxX + 1, Y2: maxY + 1}, true
}

// Area counts foreground pixels.
func Area(mask *image.Gray) int {
	n := 0
	for _, v := range mask.Pix {
		if v > 0 {
			n++
		}
	}
	return n
}

// IoU computes intersection-over-union between two same-size binary masks.
// Mask-over-mask IoU (not box IoU) is what exhaustive dedup uses: two masks
// with similar boxes but disjoint silhouettes must not collapse.
func IoU(a, b *image.Gray) float64 {
	inter, union := 0, 0
	for i := range a.Pix {
		av, bv := a.Pix[i] > 0, b.Pix[i] > 0
		if av && bv {
			inter++
		}
		if av || bv {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Intersect returns the pixel-wise AND of two same-size masks.
func Intersect(a, b *image.Gray) *image.Gray {
	out := image.NewGray(a.Bounds())
	for i := range a.Pix {
		if a.Pix[i] > 0 && b.Pix[i] > 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// Union returns the pixel-wise OR of two same-size masks.
func Union(a, b *image.Gray) *image.Gray {
	out := image.NewGray(a.Bounds())
	for i := range a.Pix {
		if a.Pix[i] > 0 || b.Pix[i] > 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// Subtract returns a minus b: foreground of a where b is background.
func Subtract(a, b *image.Gray) *image.Gray {
	out := image.NewGray(a.Bounds())
	for i := range a.Pix {
		if a.Pix[i] > 0 && b.Pix[i] == 0 {
			out.Pix[i] = 255
		}
	}
	return out
}

// CropRGBA extracts a zero-origin copy of the box region.
func CropRGBA(img *image.RGBA, box geometry.Box) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, box.Width(), box.Height()))
	for y := 0; y < box.Height(); y++ {
		srcOff := (box.Y1+y)*img.Stride + box.X1*4
		dstOff := y * out.Stride
		copy(out.Pix[dstOff:dstOff+box.Width()*4], img.Pix[srcOff:srcOff+box.Width()*4])
	}
	return out
}

// CropMask extracts a zero-origin copy of the box region of a mask.
func CropMask(mask *image.Gray, box geometry.Box) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, box.Width(), box.Height()))
	for y := 0; y < box.Height(); y++ {
		srcOff := (box.Y1+y)*mask.Stride + box.X1
		dstOff := y * out.Stride
		copy(out.Pix[dstOff:dstOff+box.Width()], mask.Pix[srcOff:srcOff+box.Width()])
	}
	return out
}

// overlayTint is the translucent red used for selection overlays.
var overlayTint = color.RGBA{R: 255, G: 0, B: 0, A: 90}

// RenderOverlay produces the selection visualization: translucent red where
// the mask is set, fully transparent elsewhere, at full canvas size.
func RenderOverlay(mask *image.Gray) *image.RGBA {
	b := mask.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if mask.Pix[y*mask.Stride+x] > 0 {
				off := y*out.Stride + x*4
				out.Pix[off] = overlayTint.R
				out.Pix[off+1] = overlayTint.G
				out.Pix[off+2] = overlayTint.B
				out.Pix[off+3] = overlayTint.A
			}
		}
	}
	return out
}
