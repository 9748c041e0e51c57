// Package lifecycle manages diffusion engine lifetimes: lazy loading with
// single-flight semantics, warmup probes, and full reloads that tear every
// handle down and clear the embedding cache.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"layerforge/logging"
	"layerforge/metrics"
	"layerforge/restoration"
)

// State of one engine handle.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
)

// Loader materializes an engine's runner from its weights. Implementations
// return core.ErrWeightsUnavailable when the weights are not on disk and
// core.ErrResourceExhausted when the device cannot fit the model.
type Loader interface {
	Load(ctx context.Context, engine restoration.Engine) (restoration.DiffusionRunner, error)
	// Unload releases a runner's device memory. Best effort.
	Unload(engine restoration.Engine, runner restoration.DiffusionRunner)
}

// handle is the per-engine state machine: unloaded -> loading -> ready.
// A failed load returns to unloaded and every waiter observes the error.
type handle struct {
	state  State
	runner restoration.DiffusionRunner
	ready  chan struct{}
	err    error
}

// Manager owns one handle per engine and implements restoration.Runtime.
type Manager struct {
	loader Loader
	logger *logging.Logger

	mu      sync.Mutex
	handles map[restoration.Engine]*handle

	// onReload hooks run during ReloadAll, after handles are torn down.
	// The segmentation embedding cache registers here.
	onReload []func() int
}

// NewManager builds a manager over the given loader.
func NewManager(loader Loader, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		loader:  loader,
		logger:  logger,
		handles: make(map[restoration.Engine]*handle),
	}
}

// OnReload registers a hook invoked by ReloadAll; the hook reports how many
// entries it dropped.
func (m *Manager) OnReload(hook func() int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReload = append(m.onReload, hook)
}

// Acquire returns a ready runner for the engine, loading it on first use.
// Concurrent callers during a load share one attempt; if it fails they all
// receive the error and the handle returns to unloaded, so a later call
// retries from scratch.
func (m *Manager) Acquire(ctx context.Context, engine restoration.Engine) (restoration.DiffusionRunner, error) {
	for {
		m.mu.Lock()
		h, ok := m.handles[engine]
		if ok && h.state == StateReady {
			m.mu.Unlock()
			return h.runner, nil
		}
		if ok && h.state == StateLoading {
			m.mu.Unlock()
			select {
			case <-h.ready:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if h.err != nil {
				// The shared load attempt failed; every waiter sees it.
				return nil, h.err
			}
			continue
		}
		h = &handle{state: StateLoading, ready: make(chan struct{})}
		m.handles[engine] = h
		m.mu.Unlock()

		start := time.Now()
		runner, err := m.loader.Load(ctx, engine)

		m.mu.Lock()
		if cur := m.handles[engine]; cur != h {
			// ReloadAll swept this handle mid-load; release and retry.
			m.mu.Unlock()
			if err == nil {
				m.loader.Unload(engine, runner)
			}
			close(h.ready)
			continue
		}
		if err != nil {
			h.err = err
			delete(m.handles, engine)
			m.mu.Unlock()
			close(h.ready)
			metrics.ModelLoads.WithLabelValues(string(engine), "error").Inc()
			m.logger.Error("engine load failed",
				zap.String("engine", string(engine)),
				zap.Error(err))
			return nil, err
		}
		h.state = StateReady
		h.runner = runner
		m.mu.Unlock()
		close(h.ready)
		metrics.ModelLoads.WithLabelValues(string(engine), "success").Inc()
		m.logger.Info("engine loaded",
			zap.String("engine", string(engine)),
			zap.Duration("elapsed", time.Since(start)))
		return runner, nil
	}
}

// States snapshots the current handle states for every known engine.
func (m *Manager) States() map[restoration.Engine]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[restoration.Engine]State, len(restoration.Engines()))
	for _, e := range restoration.Engines() {
		if h, ok := m.handles[e]; ok {
			out[e] = h.state
		} else {
			out[e] = StateUnloaded
		}
	}
	return out
}

// ReloadAll tears down every loaded handle, runs the registered reload
// hooks, and reports what was freed. In-flight loads are orphaned: when
// they finish they notice their handle is gone and release the runner.
func (m *Manager) ReloadAll() ReloadReport {
	m.mu.Lock()
	freed := 0
	for engine, h := range m.handles {
		if h.state == StateReady {
			m.loader.Unload(engine, h.runner)
			freed++
		}
	}
	m.handles = make(map[restoration.Engine]*handle)
	hooks := append([]func() int(nil), m.onReload...)
	m.mu.Unlock()

	cleared := 0
	for _, hook := range hooks {
		cleared += hook()
	}
	m.logger.Info("models reloaded",
		zap.Int("engines_freed", freed),
		zap.Int("cache_entries_cleared", cleared))
	return ReloadReport{EnginesFreed: freed, CacheEntriesCleared: cleared}
}

// ReloadReport summarizes one ReloadAll pass.
type ReloadReport struct {
	EnginesFreed        int `json:"engines_freed"`
	CacheEntriesCleared int `json:"cache_entries_cleared"`
}
