// Package retry retries operations with exponential backoff, retrying only
// errors that classify as transient.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexushub/internal/backoff"
	"github.com/haasonsaas/nexushub/internal/faults"
)

// Classifier reports whether err is worth retrying and any explicit delay hint.
type Classifier func(err error) (retryable bool, retryAfter time.Duration)

// Config configures retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff factor.
	Multiplier float64
	// JitterFraction is the fraction of each delay added at random.
	JitterFraction float64
	// Classifier decides retryability. Defaults to faults.Classify.
	Classifier Classifier
	// OnRetry is called before each sleep with the failed attempt number (1-based).
	OnRetry func(ctx context.Context, err error, attempt int, delay time.Duration)
}

// DefaultConfig returns the configuration used for LLM calls.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialDelay:   time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// Policy returns the backoff policy described by the config.
func (c Config) Policy() backoff.Policy {
	return backoff.Policy{
		Initial:    c.InitialDelay,
		Max:        c.MaxDelay,
		Multiplier: c.Multiplier,
		Jitter:     c.JitterFraction,
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent, sleeps included.
	Duration time.Duration
}

// Do executes op until it succeeds, fails permanently, exhausts its retries,
// or ctx is done.
func Do(ctx context.Context, config Config, op func(ctx context.Context) error) Result {
	start := time.Now()
	result := Result{}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	classify := config.Classifier
	if classify == nil {
		classify = defaultClassifier
	}
	policy := config.Policy()

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if result.Err == nil {
				result.Err = err
			}
			break
		}

		result.Attempts = attempt + 1
		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if IsPermanent(err) {
			break
		}
		retryable, retryAfter := classify(err)
		if !retryable || attempt >= config.MaxRetries {
			break
		}

		delay := backoff.Compute(policy, attempt, retryAfter)
		if config.OnRetry != nil {
			config.OnRetry(ctx, err, attempt+1, delay)
		}
		if serr := backoff.Sleep(ctx, delay); serr != nil {
			result.Err = serr
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, config Config, op func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, config, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, result
}

func defaultClassifier(err error) (bool, time.Duration) {
	_, retryable, after := faults.Classify(err)
	return retryable, after
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
