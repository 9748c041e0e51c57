package restoration

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"layerforge/core"
	"layerforge/imaging"
	"layerforge/logging"
	"layerforge/segmentation"
)

// ObjectFinder locates distinct objects inside an ad-hoc image crop. The
// segmentation package provides the production implementation.
type ObjectFinder interface {
	SegmentAllImage(ctx context.Context, img *image.RGBA, cfg segmentation.ExhaustiveConfig) ([]*segmentation.Result, error)
}

// Pipeline glues a diffusion runtime, the result cache, and the object
// finder into the four restoration operations. Safe for concurrent use.
type Pipeline struct {
	runtime Runtime
	finder  ObjectFinder
	cache   *ResultCache
	logger  *logging.Logger
}

// NewPipeline wires a pipeline. finder may be nil when area decomposition
// is not needed.
func NewPipeline(runtime Runtime, finder ObjectFinder, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		runtime: runtime,
		finder:  finder,
		cache:   NewResultCache(),
		logger:  logger,
	}
}

// Cache exposes the result cache for lifecycle management.
func (p *Pipeline) Cache() *ResultCache { return p.cache }

// Restore regenerates the damaged border band of an object layer. When
// mask is nil the band is derived from the layer's alpha silhouette.
// Pixels outside the mask are returned byte-identical to the input.
func (p *Pipeline) Restore(ctx context.Context, object *image.RGBA, mask *image.Gray, engine Engine, params Params) (*image.RGBA, bool, error) {
	start := time.Now()
	params, err := params.withDefaults(engine)
	if err != nil {
		return nil, false, err
	}
	if mask == nil {
		mask = imaging.AutoRestoreMask(object)
	} else if !mask.Bounds().Eq(object.Bounds()) {
		return nil, false, core.InvalidInputf("mask size %v does not match object size %v",
			mask.Bounds().Size(), object.Bounds().Size())
	}
	if imaging.Area(mask) == 0 {
		return nil, false, core.InvalidInputf("restoration mask is empty; the object layer needs opaque pixels")
	}

	key := fingerprint("restore_object", engine, params, object, mask)
	layers, hit, err := p.cacheDo(ctx, key, params, func(ctx context.Context) ([]*image.RGBA, error) {
		out, err := p.inpaint(ctx, engine, params, object, mask)
		if err != nil {
			return nil, err
		}
		return []*image.RGBA{out}, nil
	})
	if err != nil {
		return nil, false, err
	}
	p.logger.Info("restore complete",
		logging.InferenceFields(string(engine), "", time.Since(start), hit)...)
	return layers[0], hit, nil
}

// cacheDo routes through the result cache unless the seed is random, in
// which case every run is fresh.
func (p *Pipeline) cacheDo(ctx context.Context, key string, params Params, compute func(context.Context) ([]*image.RGBA, error)) ([]*image.RGBA, bool, error) {
	if params.Seed < 0 {
		layers, err := compute(ctx)
		return layers, false, err
	}
	return p.cache.Do(ctx, key, compute)
}

// inpaint is the shared diffusion step: acquire the engine, blur-fill the
// transparent pixels so the model sees no hard alpha edge, resize to the
// engine's working size, run, resize back, and merge so only masked pixels
// change.
func (p *Pipeline) inpaint(ctx context.Context, engine Engine, params Params, object *image.RGBA, mask *image.Gray) (*image.RGBA, error) {
	runner, err := p.runtime.Acquire(ctx, engine)
	if err != nil {
		return nil, err
	}

	prepared := imaging.BlurFillTransparent(object)
	workImg, workMask, origW, origH := imaging.ResizeLongEdge(prepared, mask, engine.spec().WorkEdge)

	generated, err := runner.Inpaint(ctx, workImg, workMask, params)
	if err != nil {
		if errors.Is(err, core.ErrResourceExhausted) {
			return nil, core.ResourceExhausted(
				fmt.Sprintf("engine %s ran out of device memory", engine),
				"lower steps",
				"retry with a smaller working size",
				fmt.Sprintf("switch to a lighter engine (%s)", EngineSD15),
			)
		}
		return nil, err
	}
	if gb := generated.Bounds(); gb.Dx() != origW || gb.Dy() != origH {
		generated = imaging.ResizeRGBA(generated, origW, origH)
	}
	return imaging.MergeInpaintResult(object, generated, mask), nil
}
