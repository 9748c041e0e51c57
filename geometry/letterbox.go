package geometry

import (
	"image"
	"image/color"
	"image/draw"

	xdraw "golang.org/x/image/draw"
)

// letterboxPad is the neutral fill for the padded region of the model input.
// Mid-gray keeps the padding away from both mask polarity extremes.
var letterboxPad = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// LetterboxImage renders the image into the transform's model input space:
// content scaled with Catmull-Rom into the top-left corner, right/bottom
// padding filled with a neutral gray.
func (t *Transform) LetterboxImage(img image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, t.edge, t.edge))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: letterboxPad}, image.Point{}, draw.Src)

	cw, ch := t.ContentSize()
	xdraw.CatmullRom.Scale(dst, image.Rect(0, 0, cw, ch), img, img.Bounds(), xdraw.Src, nil)
	return dst
}

// MaskToImageSpace maps a model-space probability/binary mask back onto the
// original image grid. The padded region is discarded and the content region
// is resized with nearest-neighbor so binary masks stay binary.
func (t *Transform) MaskToImageSpace(mask *image.Gray) *image.Gray {
	cw, ch := t.ContentSize()

	content := mask.SubImage(image.Rect(0, 0, cw, ch))
	out := image.NewGray(image.Rect(0, 0, t.imageW, t.imageH))
	xdraw.NearestNeighbor.Scale(out, out.Bounds(), content, image.Rect(0, 0, cw, ch), xdraw.Src, nil)
	return out
}
