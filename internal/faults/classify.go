package faults

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var retryAfterPattern = regexp.MustCompile(`(?i)retry[_-]after[:\s]+(\d+(?:\.\d+)?)`)

// Classify assigns a kind, a retryable flag and an optional retry-after hint
// to any error. Typed errors are trusted; everything else is classified by
// type and then by message patterns.
func Classify(err error) (Kind, bool, time.Duration) {
	if err == nil {
		return KindUnknown, false, 0
	}

	if fe, ok := As(err); ok {
		return fe.Kind, fe.Retryable(), fe.RetryAfter
	}

	if errors.Is(err, context.Canceled) {
		return KindUnknown, false, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork, true, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork, true, 0
	}

	msg := strings.ToLower(err.Error())

	if containsAny(msg, "connection", "timeout", "network", "dns", "refused") {
		return KindNetwork, true, 0
	}

	if containsAny(msg, "rate limit", "rate_limit", "429", "too many requests") {
		return KindRateLimit, true, parseRetryAfter(msg)
	}

	if containsAny(msg, "unauthorized", "forbidden", "401", "403", "authentication", "authorization") {
		return KindAuth, false, 0
	}

	if containsAny(msg, "api", "http") {
		return KindAPI, false, 0
	}

	return KindUnknown, false, 0
}

func parseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// ParseRetryAfterHeader parses a Retry-After header given in seconds.
func ParseRetryAfterHeader(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// Sanitize produces a message that is safe to store in user-visible logs and
// to feed back to the model. Anything that may reference identities is
// replaced with a generic message; everything else is truncated.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeMessage(err.Error())
}

// SanitizeMessage applies the Sanitize rules to a raw message.
func SanitizeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	lower := strings.ToLower(msg)
	if containsAny(lower, "tenant", "user", "customer", "id", "unauthorized", "forbidden") {
		return "Unable to retrieve data"
	}
	n := 0
	for i := range msg {
		if n == 200 {
			return msg[:i]
		}
		n++
	}
	return msg
}
