package restoration

import (
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	"go.uber.org/zap"

	"layerforge/core"
	"layerforge/geometry"
	"layerforge/imaging"
	"layerforge/logging"
	"layerforge/segmentation"
)

const (
	// DefaultDecomposeLayers caps how many objects one decomposition emits.
	DefaultDecomposeLayers = 5
	// minDecomposeSide is the smallest usable ROI edge in pixels.
	minDecomposeSide = 10
	// minAreaFraction drops specks relative to the ROI area.
	minAreaFraction = 0.01
	// decomposeDilate grows each extracted mask before its region is
	// inpainted away, so no fringe of the object survives underneath.
	decomposeDilate = 5
)

// DecomposeArea peels the region of interest into stacked layers: the
// background comes first, then each found object from largest to smallest.
// Extraction runs smallest-first so big objects are still intact while the
// small ones on top of them are lifted and inpainted away.
func (p *Pipeline) DecomposeArea(ctx context.Context, base *image.RGBA, roi geometry.Box, numLayers int, engine Engine, params Params) ([]*image.RGBA, bool, error) {
	start := time.Now()
	if p.finder == nil {
		return nil, false, core.WeightsUnavailable("segmentation backbone is not available",
			"run the precache tool to fetch segmentation weights")
	}
	baseB := base.Bounds()
	if !roi.Valid() || roi.Width() < minDecomposeSide || roi.Height() < minDecomposeSide {
		return nil, false, core.InvalidInputf(
			"roi must be at least %dx%d pixels, got %dx%d",
			minDecomposeSide, minDecomposeSide, roi.Width(), roi.Height())
	}
	if clamped := roi.Clamp(baseB.Dx(), baseB.Dy()); clamped != roi {
		return nil, false, core.InvalidInputf("roi %+v outside %dx%d image", roi, baseB.Dx(), baseB.Dy())
	}
	if numLayers <= 0 {
		numLayers = DefaultDecomposeLayers
	}
	params, err := params.withDefaults(engine)
	if err != nil {
		return nil, false, err
	}

	key := fingerprint("decompose_area", engine, params, base, nil,
		boxKey(roi), fmt.Sprintf("layers:%d", numLayers))
	layers, hit, err := p.cacheDo(ctx, key, params, func(ctx context.Context) ([]*image.RGBA, error) {
		return p.decompose(ctx, base, roi, numLayers, engine, params)
	})
	if err != nil {
		return nil, false, err
	}
	p.logger.Info("decompose complete",
		append(logging.InferenceFields(string(engine), "", time.Since(start), hit),
			zap.Int("layers", len(layers)),
		)...)
	return layers, hit, nil
}

func (p *Pipeline) decompose(ctx context.Context, base *image.RGBA, roi geometry.Box, numLayers int, engine Engine, params Params) ([]*image.RGBA, error) {
	baseB := base.Bounds()
	patch := imaging.CropRGBA(base, roi)
	found, err := p.finder.SegmentAllImage(ctx, patch, segmentation.DefaultExhaustiveConfig())
	if err != nil {
		return nil, err
	}

	minArea := int(minAreaFraction * float64(roi.Width()*roi.Height()))
	picked := make([]*segmentation.Result, 0, numLayers)
	for _, r := range found {
		if imaging.Area(r.Mask) > minArea {
			picked = append(picked, r)
		}
	}
	// Results arrive best-confidence first; keep the top N, then peel from
	// the smallest object upward.
	if len(picked) > numLayers {
		picked = picked[:numLayers]
	}
	sort.SliceStable(picked, func(i, j int) bool {
		return imaging.Area(picked[i].Mask) < imaging.Area(picked[j].Mask)
	})

	canvas := imaging.CloneRGBA(patch)
	objects := make([]*image.RGBA, 0, len(picked))
	for _, r := range picked {
		layer := imaging.ApplyAlphaMask(canvas, r.Mask)
		objects = append(objects, placeLayer(layer, roi, baseB.Dx(), baseB.Dy()))

		canvas, err = p.inpaint(ctx, engine, params, canvas, imaging.Dilate(r.Mask, decomposeDilate))
		if err != nil {
			return nil, err
		}
	}

	background := imaging.CloneRGBA(base)
	pasteRGBA(background, canvas, roi)

	// Background first, then objects from largest to smallest.
	layers := make([]*image.RGBA, 0, len(objects)+1)
	layers = append(layers, background)
	for i := len(objects) - 1; i >= 0; i-- {
		layers = append(layers, objects[i])
	}
	return layers, nil
}

// placeLayer positions a patch-sized transparent layer on a full canvas.
func placeLayer(patch *image.RGBA, at geometry.Box, w, h int) *image.RGBA {
	full := image.NewRGBA(image.Rect(0, 0, w, h))
	pb := patch.Bounds()
	for y := 0; y < pb.Dy() && at.Y1+y < h; y++ {
		srcOff := y * patch.Stride
		dstOff := (at.Y1+y)*full.Stride + at.X1*4
		copy(full.Pix[dstOff:dstOff+pb.Dx()*4], patch.Pix[srcOff:srcOff+pb.Dx()*4])
	}
	return full
}
