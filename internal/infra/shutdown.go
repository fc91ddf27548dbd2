package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownPhase orders teardown. Lower phases stop first.
type ShutdownPhase int

const (
	// PhaseIngress stops accepting inbound messages.
	PhaseIngress ShutdownPhase = iota
	// PhaseWorkers stops queue workers, the task sweeper and file watchers.
	PhaseWorkers
	// PhaseSinks flushes audit, tracing and event writers.
	PhaseSinks
	// PhaseConnections closes Postgres and Redis.
	PhaseConnections
	phaseCount
)

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseIngress:
		return "ingress"
	case PhaseWorkers:
		return "workers"
	case PhaseSinks:
		return "sinks"
	case PhaseConnections:
		return "connections"
	default:
		return fmt.Sprintf("phase-%d", p)
	}
}

// ShutdownFunc releases one component.
type ShutdownFunc func(ctx context.Context) error

type shutdownHandler struct {
	name string
	fn   ShutdownFunc
}

// ShutdownResult reports how one handler finished.
type ShutdownResult struct {
	Name     string
	Phase    ShutdownPhase
	Duration time.Duration
	Error    error
}

// ShutdownCoordinator runs registered handlers phase by phase. Handlers in
// the same phase run concurrently; the next phase starts once all of them
// have returned or timed out.
type ShutdownCoordinator struct {
	mu       sync.Mutex
	handlers [phaseCount][]shutdownHandler
	timeout  time.Duration
	logger   *slog.Logger
	once     sync.Once
	results  []ShutdownResult
}

// NewShutdownCoordinator creates a coordinator. timeout bounds each handler.
func NewShutdownCoordinator(timeout time.Duration, logger *slog.Logger) *ShutdownCoordinator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownCoordinator{timeout: timeout, logger: logger}
}

// Register adds fn to phase. Unknown phases run last.
func (c *ShutdownCoordinator) Register(name string, phase ShutdownPhase, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	if phase < 0 || phase >= phaseCount {
		phase = PhaseConnections
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[phase] = append(c.handlers[phase], shutdownHandler{name: name, fn: fn})
}

// RegisterCloser adapts a Close method.
func (c *ShutdownCoordinator) RegisterCloser(name string, phase ShutdownPhase, close func() error) {
	if close == nil {
		return
	}
	c.Register(name, phase, func(context.Context) error { return close() })
}

// Shutdown runs every phase once. Later calls return the first run's error.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		start := time.Now()
		for phase := ShutdownPhase(0); phase < phaseCount; phase++ {
			c.mu.Lock()
			handlers := append([]shutdownHandler(nil), c.handlers[phase]...)
			c.mu.Unlock()
			if len(handlers) == 0 {
				continue
			}
			c.logger.Info("shutdown phase", "phase", phase.String(), "handlers", len(handlers))
			c.results = append(c.results, c.runPhase(ctx, phase, handlers)...)
			if ctx.Err() != nil {
				c.logger.Warn("shutdown interrupted", "phase", phase.String(), "error", ctx.Err())
				break
			}
		}
		c.logger.Info("shutdown complete", "duration", time.Since(start))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for _, r := range c.results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Error))
		}
	}
	return errors.Join(errs...)
}

// Results returns what the last Shutdown observed.
func (c *ShutdownCoordinator) Results() []ShutdownResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ShutdownResult(nil), c.results...)
}

func (c *ShutdownCoordinator) runPhase(ctx context.Context, phase ShutdownPhase, handlers []shutdownHandler) []ShutdownResult {
	results := make([]ShutdownResult, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runHandler(ctx, phase, h)
		}()
	}
	wg.Wait()
	return results
}

func (c *ShutdownCoordinator) runHandler(ctx context.Context, phase ShutdownPhase, h shutdownHandler) ShutdownResult {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.fn(hctx) }()

	result := ShutdownResult{Name: h.name, Phase: phase}
	select {
	case err := <-done:
		result.Error = err
	case <-hctx.Done():
		result.Error = hctx.Err()
	}
	result.Duration = time.Since(start)
	if result.Error != nil {
		c.logger.Warn("shutdown handler failed", "handler", h.name, "phase", phase.String(), "error", result.Error)
	}
	return result
}
