package exporter

import (
	"context"
	"image"
	"math"
	"sort"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"layerforge/imaging"
)

// AssetResolver fetches layer pixels and raw PNG bytes by asset id. The
// storage package's Store implements it.
type AssetResolver interface {
	LoadImage(ctx context.Context, id string) (*image.RGBA, error)
	ReadFile(ctx context.Context, id string) ([]byte, error)
}

// ComposeImage flattens the layers over the base canvas in z order.
// Invisible layers are skipped; includeBase controls whether the base image
// pixels or a transparent canvas form the bottom.
func ComposeImage(ctx context.Context, base *image.RGBA, layers []Layer, includeBase bool, resolve AssetResolver) (*image.RGBA, error) {
	b := base.Bounds()
	var canvas *image.RGBA
	if includeBase {
		canvas = imaging.CloneRGBA(base)
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	}

	ordered := append([]Layer(nil), layers...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ZIndex < ordered[j].ZIndex })

	for _, layer := range ordered {
		if !layer.Visible {
			continue
		}
		if err := layer.Validate(); err != nil {
			return nil, err
		}
		img, err := resolve.LoadImage(ctx, layer.AssetID)
		if err != nil {
			return nil, err
		}
		img = applyOpacity(img, layer.Opacity)
		transformed := transformLayer(img, layer.ScaleX, layer.ScaleY, layer.RotationDeg)

		// Anchor: the layer's x/y positions its scaled (unrotated) top-left
		// corner; rotation expands around the center.
		scaledW := math.Max(1, math.Round(float64(img.Bounds().Dx())*layer.ScaleX))
		scaledH := math.Max(1, math.Round(float64(img.Bounds().Dy())*layer.ScaleY))
		cx := layer.X + scaledW/2
		cy := layer.Y + scaledH/2
		x0 := int(math.Round(cx - float64(transformed.Bounds().Dx())/2))
		y0 := int(math.Round(cy - float64(transformed.Bounds().Dy())/2))

		compositeOver(canvas, transformed, image.Pt(x0, y0))
	}
	return canvas, nil
}

// applyOpacity scales the alpha channel; the color channels stay put.
func applyOpacity(img *image.RGBA, opacity float64) *image.RGBA {
	if opacity >= 1 {
		return img
	}
	out := imaging.CloneRGBA(img)
	if opacity <= 0 {
		for i := 3; i < len(out.Pix); i += 4 {
			out.Pix[i] = 0
		}
		return out
	}
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = uint8(float64(out.Pix[i]) * opacity)
	}
	return out
}

// transformLayer scales then rotates, expanding the canvas so nothing is
// clipped. Bicubic filtering on both steps.
func transformLayer(img *image.RGBA, scaleX, scaleY, rotationDeg float64) *image.RGBA {
	b := img.Bounds()
	w2 := int(math.Max(1, math.Round(float64(b.Dx())*scaleX)))
	h2 := int(math.Max(1, math.Round(float64(b.Dy())*scaleY)))
	if w2 != b.Dx() || h2 != b.Dy() {
		img = imaging.ResizeRGBA(img, w2, h2)
	}
	if deg := math.Mod(rotationDeg, 360); deg != 0 {
		img = rotate(img, deg)
	}
	return img
}

// rotate turns the image counter-clockwise by deg degrees around its center
// onto an expanded canvas that fits the rotated bounds.
func rotate(img *image.RGBA, deg float64) *image.RGBA {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	theta := deg * math.Pi / 180
	cos, sin := math.Cos(theta), math.Sin(theta)

	outW := int(math.Ceil(math.Abs(w*cos) + math.Abs(h*sin)))
	outH := int(math.Ceil(math.Abs(w*sin) + math.Abs(h*cos)))
	out := image.NewRGBA(image.Rect(0, 0, outW, outH))

	// Screen coordinates grow downward, so a counter-clockwise rotation
	// uses a positive sin on the x row.
	csx, csy := w/2, h/2
	cdx, cdy := float64(outW)/2, float64(outH)/2
	m := f64.Aff3{
		cos, sin, cdx - cos*csx - sin*csy,
		-sin, cos, cdy + sin*csx - cos*csy,
	}
	draw.CatmullRom.Transform(out, m, img, b, draw.Over, nil)
	return out
}

// compositeOver alpha-blends src over dst at the given offset.
func compositeOver(dst, src *image.RGBA, at image.Point) {
	sb := src.Bounds()
	db := dst.Bounds()
	for y := 0; y < sb.Dy(); y++ {
		dy := at.Y + y
		if dy < 0 || dy >= db.Dy() {
			continue
		}
		for x := 0; x < sb.Dx(); x++ {
			dx := at.X + x
			if dx < 0 || dx >= db.Dx() {
				continue
			}
			so := (sb.Min.Y+y)*src.Stride + (sb.Min.X+x)*4
			do := dy*dst.Stride + dx*4
			sa := uint32(src.Pix[so+3])
			if sa == 0 {
				continue
			}
			if sa == 255 {
				copy(dst.Pix[do:do+4], src.Pix[so:so+4])
				continue
			}
			inv := 255 - sa
			for c := 0; c < 4; c++ {
				dst.Pix[do+c] = uint8((uint32(src.Pix[so+c])*sa + uint32(dst.Pix[do+c])*inv) / 255)
			}
		}
	}
}
