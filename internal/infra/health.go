package infra

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ServiceHealth is the state of one dependency.
type ServiceHealth string

const (
	ServiceHealthHealthy   ServiceHealth = "healthy"
	ServiceHealthDegraded  ServiceHealth = "degraded"
	ServiceHealthUnhealthy ServiceHealth = "unhealthy"
)

// HealthCheckResult is the outcome of one check.
type HealthCheckResult struct {
	Name      string        `json:"name"`
	Status    ServiceHealth `json:"status"`
	Message   string        `json:"message,omitempty"`
	LatencyMS int64         `json:"latency_ms"`
	Critical  bool          `json:"critical"`
}

// HealthReport aggregates every registered check.
type HealthReport struct {
	Status    ServiceHealth       `json:"status"`
	Checks    []HealthCheckResult `json:"checks"`
	Timestamp time.Time           `json:"timestamp"`
}

// IsHealthy reports whether the service can take traffic. Degraded counts
// as healthy.
func (r HealthReport) IsHealthy() bool { return r.Status != ServiceHealthUnhealthy }

type healthCheck struct {
	name     string
	critical bool
	fn       func(ctx context.Context) error
}

// HealthChecks runs readiness probes against Postgres, Redis and the
// circuit breakers.
type HealthChecks struct {
	mu      sync.RWMutex
	checks  []healthCheck
	timeout time.Duration
	now     func() time.Time
}

// NewHealthChecks creates an empty set. timeout bounds each probe.
func NewHealthChecks(timeout time.Duration) *HealthChecks {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthChecks{timeout: timeout, now: time.Now}
}

// Register adds a probe. A failing critical probe makes the report
// unhealthy; a failing non-critical one only degrades it.
func (h *HealthChecks) Register(name string, critical bool, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, critical: critical, fn: fn})
}

// RegisterBreakers reports degraded while any breaker in set is open.
func (h *HealthChecks) RegisterBreakers(set *BreakerSet) {
	if set == nil {
		return
	}
	h.Register("circuit_breakers", false, func(context.Context) error {
		if open := set.OpenCircuits(); len(open) > 0 {
			return fmt.Errorf("%w: %s", ErrCircuitOpen, strings.Join(open, ", "))
		}
		return nil
	})
}

// CheckAll runs every probe concurrently.
func (h *HealthChecks) CheckAll(ctx context.Context) HealthReport {
	h.mu.RLock()
	checks := append([]healthCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]HealthCheckResult, len(checks))
	var g errgroup.Group
	for i, c := range checks {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	report := HealthReport{Status: ServiceHealthHealthy, Checks: results, Timestamp: h.now()}
	for _, r := range results {
		if r.Status == ServiceHealthHealthy {
			continue
		}
		if r.Critical {
			report.Status = ServiceHealthUnhealthy
			break
		}
		report.Status = ServiceHealthDegraded
	}
	return report
}

func (h *HealthChecks) run(ctx context.Context, c healthCheck) HealthCheckResult {
	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := h.now()
	err := c.fn(cctx)
	result := HealthCheckResult{
		Name:      c.name,
		Status:    ServiceHealthHealthy,
		LatencyMS: h.now().Sub(start).Milliseconds(),
		Critical:  c.critical,
	}
	if err != nil {
		result.Message = err.Error()
		result.Status = ServiceHealthUnhealthy
		if !c.critical {
			result.Status = ServiceHealthDegraded
		}
	}
	return result
}
