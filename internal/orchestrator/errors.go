package orchestrator

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/faults"
)

// PublicError is what callers outside the core see. It carries a
// correlation id and an HTTP status but never the underlying cause, which
// stays in the server logs under the same id.
type PublicError struct {
	// Code is the HTTP status to report.
	Code int
	// Kind is the failure category of the cause.
	Kind faults.Kind
	// ErrorID correlates the response with server-side logs and events.
	ErrorID string
	// Headers are extra response headers, such as the rate limit set.
	Headers map[string]string

	cause error
}

func (e *PublicError) Error() string {
	return fmt.Sprintf("%s (error id: %s)", publicMessage(e.Code), e.ErrorID)
}

// Unwrap exposes the cause to errors.Is/As inside the process.
func (e *PublicError) Unwrap() error { return e.cause }

// Message returns the client-safe message for the error.
func (e *PublicError) Message() string { return publicMessage(e.Code) }

func publicMessage(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "invalid message"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate limit exceeded"
	case http.StatusServiceUnavailable:
		return "service temporarily unavailable"
	case http.StatusBadGateway:
		return "upstream provider error"
	default:
		return "internal error"
	}
}

func newErrorID() string { return uuid.NewString() }

// newPublicError maps a failure outside the LLM loop.
func newPublicError(err error, errorID string) *PublicError {
	kind := faults.KindOf(err)
	code := http.StatusInternalServerError
	switch kind {
	case faults.KindAuthzMismatch, faults.KindInvalidMessage, faults.KindRateLimit:
		code = kind.HTTPStatus()
	}
	return &PublicError{Code: code, Kind: kind, ErrorID: errorID, cause: err}
}

// llmPublicError maps a provider failure that survived the resilience stack.
func llmPublicError(err error, errorID string) *PublicError {
	kind := faults.KindOf(err)
	pe := &PublicError{Code: http.StatusInternalServerError, Kind: kind, ErrorID: errorID, cause: err}
	switch kind {
	case faults.KindCircuitOpen, faults.KindAuth:
		pe.Code = kind.HTTPStatus()
	case faults.KindRateLimit:
		pe.Code = kind.HTTPStatus()
		if fe, ok := faults.As(err); ok && fe.RetryAfter > 0 {
			pe.Headers = map[string]string{"Retry-After": strconv.Itoa(int(fe.RetryAfter.Seconds()))}
		}
	}
	return pe
}
