package segmentation

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"layerforge/geometry"
	"layerforge/logging"
)

// EmbeddingCache memoizes backbone embeddings per image id. Concurrent
// requests for the same uncached id share a single Embed call: the first
// caller computes, the rest block on the entry until it resolves. A failed
// computation is evicted before waiters wake, so the next request retries
// instead of replaying the error forever.
type EmbeddingCache struct {
	backbone Backbone
	edge     int
	logger   *logging.Logger

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready chan struct{}
	emb   *Embedding
	tr    *geometry.Transform
	err   error
}

// NewEmbeddingCache wires a cache over the given backbone. edge <= 0 falls
// back to the standard model input size.
func NewEmbeddingCache(backbone Backbone, edge int, logger *logging.Logger) *EmbeddingCache {
	if edge <= 0 {
		edge = geometry.DefaultModelEdge
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &EmbeddingCache{
		backbone: backbone,
		edge:     edge,
		logger:   logger,
		entries:  make(map[string]*cacheEntry),
	}
}

// GetOrCompute returns the embedding and letterbox transform for imageID,
// computing it at most once until the cache is invalidated. The img argument
// is only consulted on a miss.
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, imageID string, img *image.RGBA) (*Embedding, *geometry.Transform, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[imageID]; ok {
		c.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, nil, false, ctx.Err()
		}
		if e.err != nil {
			return nil, nil, false, e.err
		}
		return e.emb, e.tr, true, nil
	}
	e := &cacheEntry{ready: make(chan struct{})}
	c.entries[imageID] = e
	c.mu.Unlock()

	e.emb, e.tr, e.err = c.compute(ctx, imageID, img)
	if e.err != nil {
		c.mu.Lock()
		if cur, ok := c.entries[imageID]; ok && cur == e {
			delete(c.entries, imageID)
		}
		c.mu.Unlock()
	}
	close(e.ready)
	if e.err != nil {
		return nil, nil, false, e.err
	}
	return e.emb, e.tr, false, nil
}

func (c *EmbeddingCache) compute(ctx context.Context, imageID string, img *image.RGBA) (*Embedding, *geometry.Transform, error) {
	bounds := img.Bounds()
	tr, err := geometry.NewTransform(bounds.Dx(), bounds.Dy(), c.edge)
	if err != nil {
		return nil, nil, err
	}
	input := tr.LetterboxImage(img)
	features, err := c.backbone.Embed(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("embed %s: %w", imageID, err)
	}
	cw, ch := tr.ContentSize()
	c.logger.Debug("embedding computed",
		zap.String("image_id", imageID),
		zap.Int("content_w", cw),
		zap.Int("content_h", ch),
	)
	return &Embedding{
		ImageID:  imageID,
		Features: features,
		Edge:     c.edge,
		ContentW: cw,
		ContentH: ch,
	}, tr, nil
}

// ComputeUncached embeds an ad-hoc image without touching the cache. Used
// for derived crops that have no stable image id.
func (c *EmbeddingCache) ComputeUncached(ctx context.Context, img *image.RGBA) (*Embedding, *geometry.Transform, error) {
	return c.compute(ctx, "adhoc", img)
}

// InvalidateAll drops every cached embedding, including in-flight entries.
// Entries are inserted into the map before their computation starts and are
// never re-inserted afterward, so replacing the map is enough to keep an
// in-flight computation from repopulating the cache.
func (c *EmbeddingCache) InvalidateAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*cacheEntry)
	return n
}

// Len reports the number of resident entries, including in-flight ones.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
