package imaging

import (
	"image"

	"layerforge/geometry"
)

// EstimateForeground separates the salient object inside an ROI from its
// local background using a color model: background color statistics come
// from the pixels just outside the ROI (optionally overridden by a hint
// point), and ROI pixels far from that background model are kept as
// foreground. The estimate never grows beyond the ROI.
//
// fgHint/bgHint are optional seed points in patch coordinates; either may
// be nil. A fg hint re-anchors the foreground distance threshold, a bg hint
// contributes to the background statistics.
func EstimateForeground(patch *image.RGBA, roi *image.Gray, fgHint, bgHint *geometry.Point) *image.Gray {
	b := patch.Bounds()
	w, h := b.Dx(), b.Dy()

	// Background model: mean color over non-ROI pixels.
	var br, bg_, bb, n float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if roi.Pix[y*roi.Stride+x] > 0 {
				continue
			}
			off := y*patch.Stride + x*4
			br += float64(patch.Pix[off])
			bg_ += float64(patch.Pix[off+1])
			bb += float64(patch.Pix[off+2])
			n++
		}
	}
	if bgHint != nil {
		if c, ok := sampleDisk(patch, *bgHint, 3); ok {
			// Hint dominates: treat it as half the evidence.
			br = br + c[0]*n
			bg_ = bg_ + c[1]*n
			bb = bb + c[2]*n
			n *= 2
		}
	}
	if n == 0 {
		// ROI covers the whole patch; nothing to separate against.
		return cloneGray(roi)
	}
	br /= n
	bg_ /= n
	bb /= n

	// Distance threshold: midpoint between the background model and either
	// the fg hint color or the mean ROI color.
	var fr, fg, fb float64
	if fgHint != nil {
		if c, ok := sampleDisk(patch, *fgHint, 3); ok {
			fr, fg, fb = c[0], c[1], c[2]
		}
	}
	if fr == 0 && fg == 0 && fb == 0 {
		var m float64
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if roi.Pix[y*roi.Stride+x] == 0 {
					continue
				}
				off := y*patch.Stride + x*4
				fr += float64(patch.Pix[off])
				fg += float64(patch.Pix[off+1])
				fb += float64(patch.Pix[off+2])
				m++
			}
		}
		if m == 0 {
			return NewMask(w, h)
		}
		fr /= m
		fg /= m
		fb /= m
	}

	threshold := colorDist2(fr, fg, fb, br, bg_, bb) / 4
	if threshold < 400 { // ~20 per-channel floor keeps noise out
		threshold = 400
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if roi.Pix[y*roi.Stride+x] == 0 {
				continue
			}
			off := y*patch.Stride + x*4
			d := colorDist2(float64(patch.Pix[off]), float64(patch.Pix[off+1]), float64(patch.Pix[off+2]), br, bg_, bb)
			if d > threshold {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}

	// Smooth speckle without leaving the ROI.
	return Intersect(Close(out, 1), roi)
}

// sampleDisk averages patch colors within a small disk around p.
func sampleDisk(patch *image.RGBA, p geometry.Point, radius int) ([3]float64, bool) {
	b := patch.Bounds()
	w, h := b.Dx(), b.Dy()
	cx, cy := int(p.X), int(p.Y)

	var r, g, bl, n float64
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			x, y := cx+dx, cy+dy
			if x < 0 || x >= w || y < 0 || y >= h || dx*dx+dy*dy > radius*radius {
				continue
			}
			off := y*patch.Stride + x*4
			r += float64(patch.Pix[off])
			g += float64(patch.Pix[off+1])
			bl += float64(patch.Pix[off+2])
			n++
		}
	}
	if n == 0 {
		return [3]float64{}, false
	}
	return [3]float64{r / n, g / n, bl / n}, true
}

func colorDist2(r1, g1, b1, r2, g2, b2 float64) float64 {
	dr, dg, db := r1-r2, g1-g2, b1-b2
	return dr*dr + dg*dg + db*db
}
