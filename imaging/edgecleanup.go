package imaging

import (
	"fmt"
	"image"
)

// EdgeCleanupParams controls the optional alpha-edge post-process applied to
// extracted object layers. It only ever modifies the produced layer's edge
// band and alpha channel, never the base image.
type EdgeCleanupParams struct {
	Enabled   bool `json:"enabled"`
	Strength  int  `json:"strength"`   // 0-100, scales the edge band width
	FeatherPx int  `json:"feather_px"` // 0-6, alpha softening radius
	ErodePx   int  `json:"erode_px"`   // 0-6, silhouette shrink before cleanup
}

// DefaultEdgeCleanup returns the parameters the extraction flows use when
// the caller does not override them.
func DefaultEdgeCleanup() EdgeCleanupParams {
	return EdgeCleanupParams{Enabled: true, Strength: 60, FeatherPx: 1}
}

// Validate rejects out-of-range cleanup parameters.
func (p EdgeCleanupParams) Validate() error {
	if p.Strength < 0 || p.Strength > 100 {
		return fmt.Errorf("strength %d must be in [0,100]", p.Strength)
	}
	if p.FeatherPx < 0 || p.FeatherPx > 6 {
		return fmt.Errorf("feather_px %d must be in [0,6]", p.FeatherPx)
	}
	if p.ErodePx < 0 || p.ErodePx > 6 {
		return fmt.Errorf("erode_px %d must be in [0,6]", p.ErodePx)
	}
	return nil
}

// CleanEdges removes halo artifacts along a layer's mask boundary. Pixels in
// the edge band whose alpha is partial get their color pulled toward the
// nearest fully-opaque interior sample; optional feathering then softens the
// alpha ramp. Fully-opaque interior pixels are never modified.
func CleanEdges(rgba *image.RGBA, mask *image.Gray, params EdgeCleanupParams) *image.RGBA {
	if !params.Enabled || params.Strength <= 0 {
		return rgba
	}

	b := rgba.Bounds()
	w, h := b.Dx(), b.Dy()

	strength := clampInt(params.Strength, 0, 100)
	edgeWidth := 1 + (7*strength+50)/100

	working := cloneGray(mask)
	if params.ErodePx > 0 {
		working = Erode(working, clampInt(params.ErodePx, 0, 6))
	}

	// Edge band = dilation minus erosion of the silhouette.
	band := Subtract(Dilate(working, edgeWidth), Erode(working, edgeWidth))

	out := CloneRGBA(rgba)
	dirs := [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if band.Pix[y*band.Stride+x] == 0 {
				continue
			}
			off := y*out.Stride + x*4
			alpha := out.Pix[off+3]
			if alpha == 0 || alpha == 255 {
				continue
			}

			// Sample the first fully-opaque interior pixel along each axis.
			var sr, sg, sb, n int
			for _, d := range dirs {
				for step := 1; step <= edgeWidth; step++ {
					xx, yy := x+d[0]*step, y+d[1]*step
					if xx < 0 || xx >= w || yy < 0 || yy >= h {
						break
					}
					if working.Pix[yy*working.Stride+xx] > 0 && rgba.Pix[yy*rgba.Stride+xx*4+3] == 255 {
						iOff := yy*rgba.Stride + xx*4
						sr += int(rgba.Pix[iOff])
						sg += int(rgba.Pix[iOff+1])
						sb += int(rgba.Pix[iOff+2])
						n++
						break
					}
				}
			}
			if n == 0 {
				continue
			}

			repl := (1 - float64(alpha)/255) * float64(strength) / 100
			mix := func(orig uint8, sample int) uint8 {
				v := (1-repl)*float64(orig) + repl*float64(sample)/float64(n)
				if v < 0 {
					v = 0
				}
				if v > 255 {
					v = 255
				}
				return uint8(v)
			}
			out.Pix[off] = mix(out.Pix[off], sr)
			out.Pix[off+1] = mix(out.Pix[off+1], sg)
			out.Pix[off+2] = mix(out.Pix[off+2], sb)
		}
	}

	if params.FeatherPx > 0 {
		featherAlpha(out, working, clampInt(params.FeatherPx, 0, 6))
	}
	return out
}

// featherAlpha softens the alpha ramp inside the silhouette with a small
// box blur; pixels outside the silhouette stay fully transparent.
func featherAlpha(img *image.RGBA, mask *image.Gray, radius int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	src := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src[y*w+x] = img.Pix[y*img.Stride+x*4+3]
		}
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := y*img.Stride + x*4
			if mask.Pix[y*mask.Stride+x] == 0 {
				img.Pix[off+3] = 0
				continue
			}
			var sum, n int
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || xx >= w || yy < 0 || yy >= h {
						continue
					}
					sum += int(src[yy*w+xx])
					n++
				}
			}
			img.Pix[off+3] = uint8(sum / n)
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
