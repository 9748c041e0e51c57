package segmentation

import (
	"context"
	"image"
	"time"

	"layerforge/core"
	"layerforge/geometry"
	"layerforge/imaging"
	"layerforge/logging"
	"layerforge/metrics"
)

// ImageSource resolves an image id to decoded pixels. The storage layer
// implements it; tests use in-memory maps.
type ImageSource interface {
	LoadImage(ctx context.Context, imageID string) (*image.RGBA, error)
}

// Segmenter runs prompt-driven segmentation against a shared embedding
// cache. It is safe for concurrent use.
type Segmenter struct {
	source ImageSource
	cache  *EmbeddingCache
	logger *logging.Logger
}

// NewSegmenter wires a segmenter over an image source and embedding cache.
func NewSegmenter(source ImageSource, cache *EmbeddingCache, logger *logging.Logger) *Segmenter {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Segmenter{source: source, cache: cache, logger: logger}
}

// Cache exposes the embedding cache for lifecycle management.
func (s *Segmenter) Cache() *EmbeddingCache { return s.cache }

// Segment resolves the prompts to one object mask in original image space.
// Point and box coordinates are validated against the image bounds, mapped
// into model space for the decoder, and the winning probability map is
// mapped back, so a caller never sees model-space numbers.
func (s *Segmenter) Segment(ctx context.Context, imageID string, prompts []Prompt, opts Options) (*Result, error) {
	start := time.Now()
	img, err := s.source.LoadImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if err := validatePrompts(prompts, bounds.Dx(), bounds.Dy()); err != nil {
		return nil, err
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, core.InvalidInputf("threshold must be in [0,1], got %g", threshold)
	}
	if opts.EdgeCleanup != nil {
		if err := opts.EdgeCleanup.params().Validate(); err != nil {
			return nil, core.InvalidInputf("edge cleanup: %v", err)
		}
	}

	emb, tr, cacheHit, err := s.cache.GetOrCompute(ctx, imageID, img)
	if err != nil {
		return nil, err
	}
	metrics.ObserveEmbedding(cacheHit)

	req, err := buildDecodeRequest(prompts, tr, opts.Multimask)
	if err != nil {
		return nil, err
	}
	candidates, err := s.cache.backbone.Decode(ctx, emb, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, core.NotFoundf("no mask produced for image %s", imageID)
	}

	best := selectCandidate(candidates, threshold)
	result, err := s.finalize(img, tr, best, threshold, opts.EdgeCleanup)
	if err != nil {
		return nil, err
	}
	s.logger.Info("segment complete",
		logging.InferenceFields("segment", imageID, time.Since(start), cacheHit)...)
	return result, nil
}

// buildDecodeRequest maps every prompt coordinate into model space. Point
// lists refine a single object; at most one box and one text phrase apply.
func buildDecodeRequest(prompts []Prompt, tr *geometry.Transform, multimask bool) (DecodeRequest, error) {
	req := DecodeRequest{Multimask: multimask}
	for i, p := range prompts {
		switch p.Kind {
		case PromptPoint:
			req.Points = append(req.Points, tr.ToModelSpace(geometry.Point{X: p.X, Y: p.Y}))
			req.Labels = append(req.Labels, p.Label)
		case PromptBox:
			if req.Box != nil {
				return DecodeRequest{}, core.InvalidInputf("prompt %d: only one box prompt is allowed per request", i)
			}
			box := tr.BoxToModelSpace(p.Box)
			req.Box = &box
		case PromptText:
			if req.Text != "" {
				return DecodeRequest{}, core.InvalidInputf("prompt %d: only one text prompt is allowed per request", i)
			}
			req.Text = p.Text
		}
	}
	return req, nil
}

// selectCandidate picks the winner: highest confidence, then larger mask
// area at the given threshold, then lowest index. Deterministic for equal
// inputs.
func selectCandidate(candidates []Candidate, threshold float64) Candidate {
	best := 0
	bestArea := -1
	for i, c := range candidates {
		switch {
		case c.Confidence > candidates[best].Confidence:
			best, bestArea = i, -1
		case c.Confidence == candidates[best].Confidence && i != best:
			if bestArea < 0 {
				bestArea = thresholdArea(candidates[best].Prob, threshold)
			}
			if a := thresholdArea(c.Prob, threshold); a > bestArea {
				best, bestArea = i, a
			}
		}
	}
	return candidates[best]
}

func thresholdArea(prob *image.Gray, threshold float64) int {
	cut := uint8(threshold * 255)
	n := 0
	for _, px := range prob.Pix {
		if px > cut {
			n++
		}
	}
	return n
}

// finalize binarizes the model-space probability map, maps it back to the
// original image grid, and assembles the object crop and overlay.
func (s *Segmenter) finalize(img *image.RGBA, tr *geometry.Transform, cand Candidate, threshold float64, cleanup *EdgeCleanupRef) (*Result, error) {
	modelMask := imaging.Threshold(cand.Prob, threshold)
	mask := tr.MaskToImageSpace(modelMask)

	bbox, ok := imaging.BoundingBox(mask)
	if !ok {
		return nil, core.NotFoundf("mask is empty at threshold %g", threshold)
	}

	layer := imaging.ApplyAlphaMask(img, mask)
	if cleanup != nil {
		layer = imaging.CleanEdges(layer, mask, cleanup.params())
	}

	return &Result{
		Mask:       mask,
		BBox:       bbox,
		Confidence: cand.Confidence,
		Object:     imaging.CropRGBA(layer, bbox),
		Overlay:    imaging.RenderOverlay(mask),
	}, nil
}
