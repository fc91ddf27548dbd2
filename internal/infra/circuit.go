// Package infra holds circuit breakers, the resilient call wrapper,
// readiness checks and ordered shutdown.
package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/haasonsaas/nexushub/internal/faults"
)

// Circuit breaker states
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// CircuitBreaker errors
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker, usually the dependency it guards.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes needed to close.
	SuccessThreshold int

	// RecoveryTimeout is how long the circuit stays open before admitting a trial.
	RecoveryTimeout time.Duration

	// HalfOpenMaxCalls caps concurrent trial calls while half-open.
	HalfOpenMaxCalls int

	// IsFailure decides whether an error counts against the circuit.
	// Defaults to every error except context.Canceled.
	IsFailure func(error) bool

	// OnStateChange is called after the state changes, outside the lock.
	OnStateChange func(name, from, to string)
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = defaultIsFailure
	}
	return c
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           string
	failures        int
	successes       int
	halfOpenCalls   int
	lastFailure     time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return newCircuitBreaker(config, time.Now)
}

func newCircuitBreaker(config CircuitBreakerConfig, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		config:          config.withDefaults(),
		now:             now,
		state:           CircuitClosed,
		lastStateChange: now(),
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Execute runs the given function with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithResult runs a function that returns a value with circuit breaker protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.acquire(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	cb.record(err)
	return result, err
}

// acquire checks if execution is allowed and transitions state if needed.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	var changed *transition

	switch cb.state {
	case CircuitOpen:
		elapsed := cb.now().Sub(cb.lastStateChange)
		if elapsed < cb.config.RecoveryTimeout {
			retryAfter := cb.config.RecoveryTimeout - elapsed
			cb.mu.Unlock()
			return cb.openError(retryAfter)
		}
		changed = cb.transitionTo(CircuitHalfOpen)
		cb.halfOpenCalls++

	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.mu.Unlock()
			return cb.openError(0)
		}
		cb.halfOpenCalls++
	}

	cb.mu.Unlock()
	cb.notify(changed)
	return nil
}

func (cb *CircuitBreaker) openError(retryAfter time.Duration) error {
	return faults.Wrap(faults.KindCircuitOpen, ErrCircuitOpen, "dependency unavailable").
		WithProvider(cb.config.Name).
		WithRetryAfter(retryAfter)
}

// record records the result of an execution.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	var changed *transition

	if cb.state == CircuitHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}

	switch {
	case err == nil:
		changed = cb.recordSuccess()
	case cb.config.IsFailure(err):
		changed = cb.recordFailure()
	}

	cb.mu.Unlock()
	cb.notify(changed)
}

func (cb *CircuitBreaker) recordFailure() *transition {
	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			return cb.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		return cb.transitionTo(CircuitOpen)
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() *transition {
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			return cb.transitionTo(CircuitClosed)
		}
	}
	return nil
}

type transition struct {
	from, to string
}

// transitionTo changes the state. Callers hold the lock.
func (cb *CircuitBreaker) transitionTo(newState string) *transition {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = cb.now()
	cb.successes = 0
	cb.halfOpenCalls = 0
	if newState != CircuitOpen {
		cb.failures = 0
	}
	return &transition{from: oldState, to: newState}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t == nil || cb.config.OnStateChange == nil {
		return
	}
	cb.config.OnStateChange(cb.config.Name, t.from, t.to)
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.config.Name,
		State:           cb.state,
		Failures:        cb.failures,
		Successes:       cb.successes,
		LastFailure:     cb.lastFailure,
		LastStateChange: cb.lastStateChange,
	}
}

// Reset manually resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.transitionTo(CircuitClosed)
	cb.mu.Unlock()
	if changed.from != CircuitClosed {
		cb.notify(changed)
	}
}

// CircuitBreakerStats contains statistics about a circuit breaker.
type CircuitBreakerStats struct {
	Name            string
	State           string
	Failures        int
	Successes       int
	LastFailure     time.Time
	LastStateChange time.Time
}
