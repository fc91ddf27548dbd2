// Package backoff computes exponential backoff delays with jitter and sleeps
// in a context-aware way.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Max caps every computed delay.
	Max time.Duration
	// Multiplier is the exponential factor applied per attempt.
	Multiplier float64
	// Jitter is the fraction of the delay added at random (0.0 to 1.0).
	Jitter float64
}

// DefaultPolicy returns the policy used for LLM calls.
// Initial: 1s, Max: 60s, Multiplier: 2, Jitter: 10%
func DefaultPolicy() Policy {
	return Policy{
		Initial:    time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Jitter:     0.1,
	}
}

// Compute returns the delay before retry number attempt (0-based). A positive
// retryAfter is treated as an upper bound on the exponential delay.
func Compute(policy Policy, attempt int, retryAfter time.Duration) time.Duration {
	return ComputeWithRand(policy, attempt, retryAfter, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with a caller-supplied random value in [0.0, 1.0).
//
//	base  = min(retryAfter, initial*multiplier^attempt, max)
//	delay = base + base*jitter*random
func ComputeWithRand(policy Policy, attempt int, retryAfter time.Duration, randomValue float64) time.Duration {
	policy = policy.normalized()
	exp := math.Max(float64(attempt), 0)

	base := float64(policy.Initial) * math.Pow(policy.Multiplier, exp)
	if retryAfter > 0 {
		base = math.Min(base, float64(retryAfter))
	}
	base = math.Min(base, float64(policy.Max))

	jitter := base * policy.Jitter * randomValue
	return time.Duration(base + jitter)
}

// MaxDelay is the largest value Compute can return for the policy.
func MaxDelay(policy Policy) time.Duration {
	policy = policy.normalized()
	return time.Duration(float64(policy.Max) * (1 + policy.Jitter))
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}
