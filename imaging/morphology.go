package imaging

import "image"

// diskOffsets returns the pixel offsets of a disk-shaped structuring element
// with the given radius.
func diskOffsets(radius int) []image.Point {
	var pts []image.Point
	r2 := radius * radius
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= r2 {
				pts = append(pts, image.Point{X: dx, Y: dy})
			}
		}
	}
	return pts
}

// Dilate grows the foreground by a disk of the given radius.
func Dilate(mask *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return cloneGray(mask)
	}
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	offsets := diskOffsets(radius)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}
			for _, o := range offsets {
				xx, yy := x+o.X, y+o.Y
				if xx < 0 || xx >= w || yy < 0 || yy >= h {
					continue
				}
				out.Pix[yy*out.Stride+xx] = 255
			}
		}
	}
	return out
}

// Erode shrinks the foreground by a disk of the given radius.
func Erode(mask *image.Gray, radius int) *image.Gray {
	if radius <= 0 {
		return cloneGray(mask)
	}
	b := mask.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	offsets := diskOffsets(radius)

	for y := 0; y < h; y++ {
	next:
		for x := 0; x < w; x++ {
			if mask.Pix[y*mask.Stride+x] == 0 {
				continue
			}
			for _, o := range offsets {
				xx, yy := x+o.X, y+o.Y
				if xx < 0 || xx >= w || yy < 0 || yy >= h {
					continue next
				}
				if mask.Pix[yy*mask.Stride+xx] == 0 {
					continue next
				}
			}
			out.Pix[y*out.Stride+x] = 255
		}
	}
	return out
}

// Close runs dilate-then-erode, filling small holes in the foreground.
func Close(mask *image.Gray, radius int) *image.Gray {
	return Erode(Dilate(mask, radius), radius)
}

// AutoRestoreMask derives the "region to regenerate" for an object layer
// with no explicit mask: close the alpha silhouette, grow it, and keep only
// the grown band that was not part of the silhouette. The band is where the
// object was clipped by a neighboring extraction and needs filling.
//
// Kernel sizes scale with the short image side, clamped like the manual
// cleanup path so small crops don't vanish and large crops don't balloon.
func AutoRestoreMask(objectRGBA *image.RGBA) *image.Gray {
	alpha := MaskFromAlpha(objectRGBA)
	if Area(alpha) == 0 {
		b := objectRGBA.Bounds()
		return NewMask(b.Dx(), b.Dy())
	}

	b := alpha.Bounds()
	short := b.Dx()
	if b.Dy() < short {
		short = b.Dy()
	}

	closeR := short * 2 / 100
	if closeR < 1 {
		closeR = 1
	}
	if closeR > 12 {
		closeR = 12
	}
	growR := closeR + 2
	if growR > 16 {
		growR = 16
	}

	grown := Dilate(Close(alpha, closeR), growR)
	return Subtract(grown, alpha)
}

func cloneGray(g *image.Gray) *image.Gray {
	out := image.NewGray(g.Bounds())
	copy(out.Pix, g.Pix)
	return out
}
