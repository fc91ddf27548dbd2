package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/retry"
)

func quickRetry(n int) retry.Config {
	return retry.Config{MaxRetries: n, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestResilientCall_RetriesThenSucceeds(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	calls := 0
	got, err := ResilientCall(context.Background(), Resilience{Breaker: cb, Retry: quickRetry(3)}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", faults.FromStatus("openai", 502, "bad gateway")
		}
		return "ok", nil
	})

	if err != nil || got != "ok" {
		t.Fatalf("ResilientCall() = %q, %v", got, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("retried success must not open the breaker, got %s", cb.State())
	}
}

func TestResilientCall_TimeoutIsRetryableNetwork(t *testing.T) {
	calls := 0
	_, err := ResilientCall(context.Background(), Resilience{Retry: quickRetry(1), Timeout: 5 * time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if calls != 2 {
		t.Errorf("expected the timeout to be retried once, got %d calls", calls)
	}
	if faults.KindOf(err) != faults.KindNetwork {
		t.Errorf("expected network kind, got %s (%v)", faults.KindOf(err), err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded in chain, got %v", err)
	}
}

func TestResilientCall_OpenBreakerFailsFast(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	_ = cb.Execute(context.Background(), fail)

	calls := 0
	retried := false
	cfg := quickRetry(3)
	cfg.OnRetry = func(context.Context, error, int, time.Duration) { retried = true }

	_, err := ResilientCall(context.Background(), Resilience{Breaker: cb, Retry: cfg}, func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})

	if calls != 0 || retried {
		t.Errorf("open breaker must short-circuit before retries (calls=%d retried=%v)", calls, retried)
	}
	if faults.KindOf(err) != faults.KindCircuitOpen {
		t.Errorf("expected circuit_open, got %v", err)
	}
}

func TestResilientCall_ExhaustedRetriesCountOnce(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Hour})

	_, err := ResilientCall(context.Background(), Resilience{Breaker: cb, Retry: quickRetry(2)}, func(ctx context.Context) (int, error) {
		return 0, faults.New(faults.KindNetwork, "reset")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if cb.State() != CircuitClosed || cb.Stats().Failures != 1 {
		t.Errorf("expected one recorded failure, got state=%s failures=%d", cb.State(), cb.Stats().Failures)
	}
}
