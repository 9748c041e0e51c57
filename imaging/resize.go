package imaging

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// sizeMultiple is the grid diffusion backends require: both output
// dimensions must be divisible by 8, with a floor of 8.
const sizeMultiple = 8

// ResizeLongEdge downscales an image/mask pair so the longest side is at
// most target, snapping both dimensions down to multiples of 8 (floor 8).
// Images scale with Catmull-Rom, masks with nearest-neighbor so they stay
// binary. Returns the inputs unchanged when the image already fits.
//
// The returned origW/origH let callers resize engine output back to the
// caller's canvas.
func ResizeLongEdge(img *image.RGBA, mask *image.Gray, target int) (outImg *image.RGBA, outMask *image.Gray, origW, origH int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if target <= 0 {
		return img, mask, w, h
	}

	long := w
	if h > long {
		long = h
	}
	if long <= target {
		return img, mask, w, h
	}

	scale := float64(target) / float64(long)
	nw := snapDim(int(float64(w)*scale + 0.5))
	nh := snapDim(int(float64(h)*scale + 0.5))

	outImg = image.NewRGBA(image.Rect(0, 0, nw, nh))
	xdraw.CatmullRom.Scale(outImg, outImg.Bounds(), img, b, xdraw.Src, nil)

	outMask = image.NewGray(image.Rect(0, 0, nw, nh))
	xdraw.NearestNeighbor.Scale(outMask, outMask.Bounds(), mask, mask.Bounds(), xdraw.Src, nil)

	return outImg, outMask, w, h
}

// ResizeRGBA scales an RGBA image to exactly w x h with Catmull-Rom.
func ResizeRGBA(img *image.RGBA, w, h int) *image.RGBA {
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img
	}
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

func snapDim(v int) int {
	v = (v / sizeMultiple) * sizeMultiple
	if v < sizeMultiple {
		v = sizeMultiple
	}
	return v
}
