package infra

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/retry"
)

// Resilience composes the protections applied to one dependency call:
// the circuit breaker wraps the retry loop, and each attempt gets its own
// timeout. A nil Breaker or zero Timeout disables that layer.
type Resilience struct {
	Breaker *CircuitBreaker
	Retry   retry.Config
	Timeout time.Duration
}

// ResilientCall runs fn under r. The breaker records one outcome per logical
// call, so retried attempts do not trip it early.
func ResilientCall[T any](ctx context.Context, r Resilience, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := func(ctx context.Context) (T, error) {
		if r.Timeout <= 0 {
			return fn(ctx)
		}
		callCtx, cancel := context.WithTimeout(ctx, r.Timeout)
		defer cancel()

		v, err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, faults.Wrap(faults.KindNetwork, err, "call timed out after "+r.Timeout.String())
		}
		return v, err
	}

	retried := func(ctx context.Context) (T, error) {
		v, res := retry.DoWithValue(ctx, r.Retry, attempt)
		return v, res.Err
	}

	if r.Breaker == nil {
		return retried(ctx)
	}
	return ExecuteWithResult(r.Breaker, ctx, retried)
}
