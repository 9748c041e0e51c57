package imaging

import "image"

// BoxBlurRGB applies three box-blur passes of the given radius to the RGB
// channels, a close approximation of a Gaussian. Alpha is untouched.
func BoxBlurRGB(img *image.RGBA, radius int) *image.RGBA {
	out := CloneRGBA(img)
	if radius <= 0 {
		return out
	}
	for pass := 0; pass < 3; pass++ {
		out = boxBlurPass(out, radius)
	}
	return out
}

func boxBlurPass(img *image.RGBA, radius int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// Horizontal then vertical sliding windows.
	horiz := CloneRGBA(img)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, n int
			for dx := -radius; dx <= radius; dx++ {
				xx := x + dx
				if xx < 0 || xx >= w {
					continue
				}
				off := y*img.Stride + xx*4
				r += int(img.Pix[off])
				g += int(img.Pix[off+1])
				bl += int(img.Pix[off+2])
				n++
			}
			off := y*horiz.Stride + x*4
			horiz.Pix[off] = uint8(r / n)
			horiz.Pix[off+1] = uint8(g / n)
			horiz.Pix[off+2] = uint8(bl / n)
		}
	}

	out := CloneRGBA(horiz)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, bl, n int
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= h {
					continue
				}
				off := yy*horiz.Stride + x*4
				r += int(horiz.Pix[off])
				g += int(horiz.Pix[off+1])
				bl += int(horiz.Pix[off+2])
				n++
			}
			off := y*out.Stride + x*4
			out.Pix[off] = uint8(r / n)
			out.Pix[off+1] = uint8(g / n)
			out.Pix[off+2] = uint8(bl / n)
		}
	}
	return out
}

// BlurFillTransparent prepares an object layer for inpainting: transparent
// pixels are filled from a blurred copy of the visible content so the
// diffusion engine sees plausible context instead of hard black holes.
// The result is fully opaque RGB content; the original alpha is not kept.
func BlurFillTransparent(objectRGBA *image.RGBA) *image.RGBA {
	blurred := BoxBlurRGB(objectRGBA, 4)
	out := CloneRGBA(objectRGBA)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			off := y*out.Stride + x*4
			if out.Pix[off+3] == 0 {
				out.Pix[off] = blurred.Pix[off]
				out.Pix[off+1] = blurred.Pix[off+1]
				out.Pix[off+2] = blurred.Pix[off+2]
			}
			out.Pix[off+3] = 255
		}
	}
	return out
}

// MergeInpaintResult blends generated pixels back into the original layer,
// strictly inside the mask: masked pixels take the generated RGB and become
// opaque, everything else keeps the original's visible content. Pixels that
// are fully transparent have their RGB zeroed even outside the mask, so the
// unmasked region is visually unchanged but content hashes stay stable when
// an input carries stray color under zero alpha.
func MergeInpaintResult(original *image.RGBA, generated *image.RGBA, mask *image.Gray) *image.RGBA {
	out := CloneRGBA(original)
	b := out.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			off := y*out.Stride + x*4
			if mask.Pix[y*mask.Stride+x] > 0 {
				gOff := y*generated.Stride + x*4
				out.Pix[off] = generated.Pix[gOff]
				out.Pix[off+1] = generated.Pix[gOff+1]
				out.Pix[off+2] = generated.Pix[gOff+2]
				out.Pix[off+3] = 255
			}
			if out.Pix[off+3] == 0 {
				out.Pix[off] = 0
				out.Pix[off+1] = 0
				out.Pix[off+2] = 0
			}
		}
	}
	return out
}
