package segmentation

import (
	"context"
	"errors"
	"image"
	"sort"
	"time"

	"go.uber.org/zap"

	"layerforge/core"
	"layerforge/geometry"
	"layerforge/imaging"
	"layerforge/logging"
	"layerforge/metrics"
)

// ExhaustiveConfig tunes the segment-everything sweep.
type ExhaustiveConfig struct {
	// GridPoints is the number of probe points per axis.
	GridPoints int
	// BatchSize bounds how many grid points decode at once; peak memory
	// scales with it.
	BatchSize int
	// MinConfidence drops low-quality proposals before deduplication.
	MinConfidence float64
	// IoUThreshold is the mask overlap above which the lower-confidence
	// proposal is suppressed.
	IoUThreshold float64
}

// DefaultExhaustiveConfig matches the tuned production sweep.
func DefaultExhaustiveConfig() ExhaustiveConfig {
	return ExhaustiveConfig{
		GridPoints:    32,
		BatchSize:     64,
		MinConfidence: 0.88,
		IoUThreshold:  0.70,
	}
}

func (c ExhaustiveConfig) validate() error {
	if c.GridPoints < 1 {
		return core.InvalidInputf("grid_points must be at least 1, got %d", c.GridPoints)
	}
	if c.BatchSize < 1 {
		return core.InvalidInputf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return core.InvalidInputf("min_confidence must be in [0,1], got %g", c.MinConfidence)
	}
	if c.IoUThreshold <= 0 || c.IoUThreshold > 1 {
		return core.InvalidInputf("iou_threshold must be in (0,1], got %g", c.IoUThreshold)
	}
	return nil
}

type proposal struct {
	mask       *image.Gray
	confidence float64
	area       int
	index      int
}

// SegmentAll probes the whole image with a regular point grid and returns
// every distinct object found, best-confidence first. Between batches the
// raw probability maps are reduced to binary masks so memory stays bounded
// by BatchSize. Any resource-exhaustion error from the backbone aborts the
// entire sweep; no partial result is returned.
func (s *Segmenter) SegmentAll(ctx context.Context, imageID string, cfg ExhaustiveConfig) ([]*Result, error) {
	start := time.Now()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	img, err := s.source.LoadImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	emb, tr, cacheHit, err := s.cache.GetOrCompute(ctx, imageID, img)
	if err != nil {
		return nil, err
	}
	metrics.ObserveEmbedding(cacheHit)
	results, nProposals, err := s.sweep(ctx, img, emb, tr, cfg)
	if err != nil {
		return nil, err
	}
	s.logger.Info("segment-all complete",
		append(logging.InferenceFields("segment_all", imageID, time.Since(start), cacheHit),
			zap.Int("proposals", nProposals),
			zap.Int("objects", len(results)),
		)...)
	return results, nil
}

// SegmentAllImage runs the exhaustive sweep over an ad-hoc image that has
// no stored id, such as a region crop. The embedding is computed fresh and
// discarded.
func (s *Segmenter) SegmentAllImage(ctx context.Context, img *image.RGBA, cfg ExhaustiveConfig) ([]*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	emb, tr, err := s.cache.ComputeUncached(ctx, img)
	if err != nil {
		return nil, err
	}
	results, _, err := s.sweep(ctx, img, emb, tr, cfg)
	return results, err
}

func (s *Segmenter) sweep(ctx context.Context, img *image.RGBA, emb *Embedding, tr *geometry.Transform, cfg ExhaustiveConfig) ([]*Result, int, error) {
	grid := gridPoints(tr, cfg.GridPoints)
	proposals := make([]proposal, 0, len(grid)/4)
	for lo := 0; lo < len(grid); lo += cfg.BatchSize {
		hi := lo + cfg.BatchSize
		if hi > len(grid) {
			hi = len(grid)
		}
		batch, err := s.cache.backbone.DecodeBatch(ctx, emb, grid[lo:hi])
		if err != nil {
			if errors.Is(err, core.ErrResourceExhausted) {
				return nil, 0, core.ResourceExhausted(
					"exhaustive segmentation ran out of device memory",
					"reduce grid_points or batch_size",
					"free device memory via /reload_models",
				)
			}
			return nil, 0, err
		}
		for i, cands := range batch {
			if len(cands) == 0 {
				continue
			}
			best := selectCandidate(cands, DefaultThreshold)
			if best.Confidence < cfg.MinConfidence {
				continue
			}
			mask := imaging.Threshold(best.Prob, DefaultThreshold)
			area := imaging.Area(mask)
			if area == 0 {
				continue
			}
			proposals = append(proposals, proposal{
				mask:       mask,
				confidence: best.Confidence,
				area:       area,
				index:      lo + i,
			})
		}
	}

	kept := suppressDuplicates(proposals, cfg.IoUThreshold)
	results := make([]*Result, 0, len(kept))
	for _, p := range kept {
		r, err := s.finalize(img, tr, Candidate{Prob: p.mask, Confidence: p.confidence}, DefaultThreshold, nil)
		if err != nil {
			continue // proposal collapsed to nothing on the image grid
		}
		results = append(results, r)
	}
	return results, len(proposals), nil
}

// gridPoints lays a regular GridPoints x GridPoints lattice over the
// content region of model space, at cell centers so no probe lands on the
// padding. Ordering is row-major and deterministic.
func gridPoints(tr *geometry.Transform, n int) []geometry.Point {
	cw, ch := tr.ContentSize()
	pts := make([]geometry.Point, 0, n*n)
	for row := 0; row < n; row++ {
		y := (float64(row) + 0.5) * float64(ch) / float64(n)
		for col := 0; col < n; col++ {
			x := (float64(col) + 0.5) * float64(cw) / float64(n)
			pts = append(pts, geometry.Point{X: x, Y: y})
		}
	}
	return pts
}

// suppressDuplicates performs greedy mask NMS: proposals ordered by
// confidence desc, then area desc, then grid index asc; each survivor
// suppresses later proposals overlapping it above the IoU threshold.
func suppressDuplicates(proposals []proposal, iouThreshold float64) []proposal {
	sort.SliceStable(proposals, func(i, j int) bool {
		a, b := proposals[i], proposals[j]
		if a.confidence != b.confidence {
			return a.confidence > b.confidence
		}
		if a.area != b.area {
			return a.area > b.area
		}
		return a.index < b.index
	})
	kept := make([]proposal, 0, len(proposals))
	for _, p := range proposals {
		dup := false
		for _, k := range kept {
			if imaging.IoU(p.mask, k.mask) > iouThreshold {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, p)
		}
	}
	return kept
}
