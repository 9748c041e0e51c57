package restoration

import (
	"context"
	"fmt"
	"image"
	"time"

	"layerforge/core"
	"layerforge/geometry"
	"layerforge/imaging"
	"layerforge/logging"
)

// Padding around the working crop, in pixels. ROI split works tight to the
// box; overlap split needs more context around two silhouettes.
const (
	roiSplitPad     = 8
	overlapSplitPad = 16
)

// RoiSplit separates the region of interest into a foreground object layer
// and a background layer with the object inpainted away. Optional hint
// points (in image space) steer the foreground estimate. Both returned
// layers are full-canvas.
func (p *Pipeline) RoiSplit(ctx context.Context, base *image.RGBA, roi geometry.Box, fgHint, bgHint *geometry.Point, engine Engine, params Params) (fg, bg *image.RGBA, cacheHit bool, err error) {
	start := time.Now()
	baseB := base.Bounds()
	if !roi.Valid() {
		return nil, nil, false, core.InvalidInputf("roi must satisfy x1<x2, y1<y2, got %+v", roi)
	}
	if clamped := roi.Clamp(baseB.Dx(), baseB.Dy()); clamped != roi {
		return nil, nil, false, core.InvalidInputf("roi %+v outside %dx%d image", roi, baseB.Dx(), baseB.Dy())
	}
	for _, hint := range []*geometry.Point{fgHint, bgHint} {
		if hint != nil && !geometry.InBounds(*hint, baseB.Dx(), baseB.Dy()) {
			return nil, nil, false, core.InvalidInputf("hint point (%.1f,%.1f) outside image", hint.X, hint.Y)
		}
	}
	params, err = params.withDefaults(engine)
	if err != nil {
		return nil, nil, false, err
	}

	key := fingerprint("roi_split", engine, params, base, nil,
		boxKey(roi), pointKey(fgHint), pointKey(bgHint))
	layers, hit, err := p.cacheDo(ctx, key, params, func(ctx context.Context) ([]*image.RGBA, error) {
		padded := padBox(roi, roiSplitPad, baseB.Dx(), baseB.Dy())
		patch := imaging.CropRGBA(base, padded)

		roiMask := rectMaskIn(padded, roi)
		fgMask := imaging.EstimateForeground(patch, roiMask,
			translateHint(fgHint, padded), translateHint(bgHint, padded))
		if imaging.Area(fgMask) == 0 {
			return nil, core.NotFoundf("no foreground object found inside roi %+v", roi)
		}

		fgLayer := imaging.ApplyAlphaMask(base, placeMask(fgMask, padded, baseB.Dx(), baseB.Dy()))

		inpainted, err := p.inpaint(ctx, engine, params, patch, imaging.Dilate(fgMask, 2))
		if err != nil {
			return nil, err
		}
		bgLayer := imaging.CloneRGBA(base)
		pasteRGBA(bgLayer, inpainted, padded)
		return []*image.RGBA{fgLayer, bgLayer}, nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	p.logger.Info("roi split complete",
		logging.InferenceFields(string(engine), "", time.Since(start), hit)...)
	return layers[0], layers[1], hit, nil
}

// OverlapSplit resolves two overlapping object layers: layer A gets its
// region hidden behind B reconstructed by inpainting, layer B is returned
// byte-identical. Layers must share the same canvas size.
func (p *Pipeline) OverlapSplit(ctx context.Context, layerA, layerB *image.RGBA, engine Engine, params Params) (outA, outB *image.RGBA, cacheHit bool, err error) {
	start := time.Now()
	if !layerA.Bounds().Eq(layerB.Bounds()) {
		return nil, nil, false, core.InvalidInputf("layers must share a canvas: %v vs %v",
			layerA.Bounds().Size(), layerB.Bounds().Size())
	}
	params, err = params.withDefaults(engine)
	if err != nil {
		return nil, nil, false, err
	}
	maskA := imaging.MaskFromAlpha(layerA)
	maskB := imaging.MaskFromAlpha(layerB)
	boxA, okA := imaging.BoundingBox(maskA)
	boxB, okB := imaging.BoundingBox(maskB)
	if !okA || !okB {
		return nil, nil, false, core.InvalidInputf("both layers need opaque pixels")
	}

	key := fingerprint("overlap_split", engine, params, layerA, maskB, hashRGBA(layerB))
	layers, hit, err := p.cacheDo(ctx, key, params, func(ctx context.Context) ([]*image.RGBA, error) {
		b := layerA.Bounds()
		padded := padBox(unionBox(boxA, boxB), overlapSplitPad, b.Dx(), b.Dy())

		patchA := imaging.CropRGBA(layerA, padded)
		refinedA := imaging.EstimateForeground(patchA, imaging.CropMask(maskA, padded), nil, nil)
		hole := imaging.Intersect(refinedA, imaging.CropMask(maskB, padded))
		if imaging.Area(hole) == 0 {
			// Nothing hidden; hand both layers back untouched.
			return []*image.RGBA{imaging.CloneRGBA(layerA), imaging.CloneRGBA(layerB)}, nil
		}

		inpainted, err := p.inpaint(ctx, engine, params, patchA, imaging.Dilate(hole, 2))
		if err != nil {
			return nil, err
		}
		newA := imaging.CloneRGBA(layerA)
		pasteRGBA(newA, inpainted, padded)
		fullMaskA := imaging.Union(maskA, placeMask(hole, padded, b.Dx(), b.Dy()))
		newA = imaging.ApplyAlphaMask(newA, fullMaskA)
		newA = imaging.CleanEdges(newA, fullMaskA, imaging.DefaultEdgeCleanup())
		return []*image.RGBA{newA, imaging.CloneRGBA(layerB)}, nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	p.logger.Info("overlap split complete",
		logging.InferenceFields(string(engine), "", time.Since(start), hit)...)
	return layers[0], layers[1], hit, nil
}

// padBox grows a box by pad on every side and clamps it to the canvas.
func padBox(b geometry.Box, pad, w, h int) geometry.Box {
	return geometry.Box{X1: b.X1 - pad, Y1: b.Y1 - pad, X2: b.X2 + pad, Y2: b.Y2 + pad}.Clamp(w, h)
}

func unionBox(a, b geometry.Box) geometry.Box {
	return geometry.Box{
		X1: min(a.X1, b.X1),
		Y1: min(a.Y1, b.Y1),
		X2: max(a.X2, b.X2),
		Y2: max(a.Y2, b.Y2),
	}
}

// rectMaskIn builds a patch-sized mask with the inner box set.
func rectMaskIn(patch geometry.Box, inner geometry.Box) *image.Gray {
	m := imaging.NewMask(patch.Width(), patch.Height())
	for y := inner.Y1 - patch.Y1; y < inner.Y2-patch.Y1; y++ {
		if y < 0 || y >= patch.Height() {
			continue
		}
		for x := inner.X1 - patch.X1; x < inner.X2-patch.X1; x++ {
			if x < 0 || x >= patch.Width() {
				continue
			}
			m.Pix[y*m.Stride+x] = 255
		}
	}
	return m
}

// placeMask copies a patch-sized mask onto a full-canvas mask at the
// patch's offset.
func placeMask(m *image.Gray, at geometry.Box, w, h int) *image.Gray {
	full := imaging.NewMask(w, h)
	mb := m.Bounds()
	for y := 0; y < mb.Dy(); y++ {
		fy := at.Y1 + y
		if fy < 0 || fy >= h {
			continue
		}
		for x := 0; x < mb.Dx(); x++ {
			fx := at.X1 + x
			if fx < 0 || fx >= w {
				continue
			}
			full.Pix[fy*full.Stride+fx] = m.Pix[(mb.Min.Y+y)*m.Stride+(mb.Min.X+x)]
		}
	}
	return full
}

// pasteRGBA overwrites dst's box region with src pixels (same size as box).
func pasteRGBA(dst, src *image.RGBA, at geometry.Box) {
	sb := src.Bounds()
	for y := 0; y < sb.Dy() && at.Y1+y < dst.Bounds().Dy(); y++ {
		srcOff := (sb.Min.Y+y)*src.Stride + sb.Min.X*4
		dstOff := (at.Y1+y)*dst.Stride + at.X1*4
		copy(dst.Pix[dstOff:dstOff+sb.Dx()*4], src.Pix[srcOff:srcOff+sb.Dx()*4])
	}
}

func translateHint(p *geometry.Point, patch geometry.Box) *geometry.Point {
	if p == nil {
		return nil
	}
	return &geometry.Point{X: p.X - float64(patch.X1), Y: p.Y - float64(patch.Y1)}
}

func boxKey(b geometry.Box) string {
	return fmt.Sprintf("box:%d,%d,%d,%d", b.X1, b.Y1, b.X2, b.Y2)
}

func pointKey(p *geometry.Point) string {
	if p == nil {
		return "pt:nil"
	}
	return fmt.Sprintf("pt:%g,%g", p.X, p.Y)
}
