// Package ssrf validates outbound endpoints supplied by tenant configuration
// so tool calls cannot reach loopback, private or metadata addresses.
package ssrf

import "errors"

// ErrBlocked is matched by every rejection from this package.
var ErrBlocked = errors.New("ssrf: endpoint blocked")

// BlockedError describes why an endpoint was rejected.
type BlockedError struct {
	Endpoint string
	Reason   string
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	if e.Endpoint == "" {
		return "ssrf: " + e.Reason
	}
	return "ssrf: " + e.Reason + ": " + e.Endpoint
}

// Is makes errors.Is(err, ErrBlocked) true for any BlockedError.
func (e *BlockedError) Is(target error) bool {
	return target == ErrBlocked
}

func blocked(endpoint, reason string) error {
	return &BlockedError{Endpoint: endpoint, Reason: reason}
}
