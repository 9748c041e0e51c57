// Package shutdown coordinates graceful teardown: a cancelable root
// context, SIGINT/SIGTERM handling with a forced exit on the second
// signal, and an ordered registry of cleanup functions.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"layerforge/logging"
)

// Func is one cleanup step. It must respect the context deadline.
type Func func(ctx context.Context) error

type entry struct {
	name     string
	priority int
	fn       Func
	seq      int
}

// Manager owns the process lifetime: components derive from Context() and
// register cleanup with Register(). Lower priorities run first, so flush
// loggers near 0 and close databases near the end.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	entries  []entry
	seq      int
	started  bool
	finished bool

	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(timeout time.Duration) Option {
	return func(m *Manager) { m.timeout = timeout }
}

// NewManager builds an idle manager; call Start to arm signal handling.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger,
		timeout: 30 * time.Second,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Context is canceled when a shutdown signal arrives.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a cleanup step. Lower priority runs first; equal priorities
// run in registration order.
func (m *Manager) Register(name string, priority int, fn Func) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry{name: name, priority: priority, fn: fn, seq: m.seq})
	m.seq++
}

// Start arms SIGINT/SIGTERM handling. The first signal cancels the context;
// the second exits immediately. Safe to call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		count := 0
		for sig := range m.sigChan {
			count++
			if count == 1 {
				m.logger.Info("shutdown signal received",
					zap.String("signal", sig.String()))
				m.cancel()
				continue
			}
			m.logger.Warn("second signal, exiting immediately")
			os.Exit(1)
		}
	}()
}

// Wait blocks until a shutdown signal cancels the context.
func (m *Manager) Wait() { <-m.ctx.Done() }

// Shutdown runs every registered cleanup step in priority order under one
// shared deadline. Idempotent; later calls return nil without re-running.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.finished {
		m.mu.Unlock()
		return nil
	}
	m.finished = true
	steps := make([]entry, len(m.entries))
	copy(steps, m.entries)
	m.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].seq < steps[j].seq
	})

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var failed int
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			failed++
			m.logger.Error("cleanup step failed",
				zap.String("step", step.name),
				zap.Error(err))
		}
	}

	signal.Stop(m.sigChan)
	m.logger.Info("shutdown complete",
		zap.Int("steps", len(steps)),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
	if failed > 0 {
		return fmt.Errorf("shutdown: %d of %d cleanup steps failed", failed, len(steps))
	}
	return nil
}

// Steps returns the registered cleanup names in execution order.
func (m *Manager) Steps() []string {
	m.mu.Lock()
	steps := make([]entry, len(m.entries))
	copy(steps, m.entries)
	m.mu.Unlock()

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].priority != steps[j].priority {
			return steps[i].priority < steps[j].priority
		}
		return steps[i].seq < steps[j].seq
	})
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}
