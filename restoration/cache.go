package restoration

import (
	"context"
	"image"
	"sync"
)

// ResultCache memoizes finished pipeline outputs by fingerprint. Identical
// concurrent requests share one computation. A computation keeps running
// even if every waiter gives up, so its result still lands in the cache;
// failures are never cached.
type ResultCache struct {
	mu      sync.Mutex
	entries map[string]*resultEntry
}

type resultEntry struct {
	ready  chan struct{}
	layers []*image.RGBA
	err    error
}

// NewResultCache builds an empty cache.
func NewResultCache() *ResultCache {
	return &ResultCache{entries: make(map[string]*resultEntry)}
}

// Do returns the cached layers for key, or runs compute exactly once to
// produce them. The bool reports whether the result came from the cache
// (including joining a computation another caller started). compute runs
// detached from ctx so an abandoned request still populates the cache;
// the waiting itself honors ctx.
func (c *ResultCache) Do(ctx context.Context, key string, compute func(context.Context) ([]*image.RGBA, error)) ([]*image.RGBA, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return c.wait(ctx, e, true)
	}
	e := &resultEntry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	go func() {
		layers, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			c.mu.Lock()
			if cur, ok := c.entries[key]; ok && cur == e {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		e.layers, e.err = layers, err
		close(e.ready)
	}()
	return c.wait(ctx, e, false)
}

func (c *ResultCache) wait(ctx context.Context, e *resultEntry, hit bool) ([]*image.RGBA, bool, error) {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
	if e.err != nil {
		return nil, false, e.err
	}
	return e.layers, hit, nil
}

// Len reports resident entries, including in-flight ones.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear empties the cache. In-flight computations finish but do not land.
func (c *ResultCache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]*resultEntry)
	return n
}
