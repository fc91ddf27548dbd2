// Package faults defines the error taxonomy shared by the orchestration core.
//
// Every error that crosses a component boundary (provider adapters, tool
// providers, the MCP client, the orchestrator) is either a *Error or can be
// classified into one with Classify. The Kind drives retry decisions and the
// status surfaced to callers.
package faults

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind categorizes a failure.
type Kind string

const (
	// KindNetwork covers connection failures and timeouts.
	KindNetwork Kind = "network"

	// KindAPI indicates the remote API returned an error response.
	KindAPI Kind = "api_error"

	// KindAuth indicates authentication or authorization failure.
	KindAuth Kind = "auth_error"

	// KindRateLimit indicates the caller was throttled.
	KindRateLimit Kind = "rate_limit"

	// KindValidation indicates invalid input.
	KindValidation Kind = "validation"

	// KindBusinessLogic indicates a rule violation such as an invalid state transition.
	KindBusinessLogic Kind = "business_logic"

	// KindUnknown is the fallback for unclassified errors.
	KindUnknown Kind = "unknown"

	// KindConfig indicates a misconfigured tool, provider or endpoint.
	KindConfig Kind = "config"

	// KindAuthzMismatch indicates the message tenant differs from the authenticated tenant.
	KindAuthzMismatch Kind = "authz_mismatch"

	// KindInvalidMessage indicates required message fields are missing.
	KindInvalidMessage Kind = "invalid_message"

	// KindCircuitOpen indicates a dependency is failing fast.
	KindCircuitOpen Kind = "circuit_open"

	// KindToolNotFound indicates the model asked for a tool that is not registered.
	KindToolNotFound Kind = "tool_not_found"

	// KindPlanGenerationFailed indicates the planner produced no usable plan.
	KindPlanGenerationFailed Kind = "plan_generation_failed"
)

// DefaultRetryable reports whether errors of this kind are retryable when
// nothing more specific is known.
func (k Kind) DefaultRetryable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status an HTTP caller should see.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthzMismatch:
		return http.StatusForbidden
	case KindInvalidMessage, KindValidation:
		return http.StatusBadRequest
	case KindCircuitOpen:
		return http.StatusServiceUnavailable
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindAuth:
		return http.StatusBadGateway
	case KindBusinessLogic:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure.
type Error struct {
	// Kind categorizes the failure.
	Kind Kind

	// StatusCode is the upstream HTTP status, if any.
	StatusCode int

	// RetryAfter is an explicit server-provided delay hint.
	RetryAfter time.Duration

	// Provider names the dependency that failed (openai, gemini, mcp, ...).
	Provider string

	// Op is the operation that failed.
	Op string

	// Message is the human-readable description.
	Message string

	// Cause is the underlying error.
	Cause error

	retryable    bool
	retryableSet bool
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil && (e.Message == "" || !strings.Contains(e.Message, e.Cause.Error())) {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether retrying may succeed.
func (e *Error) Retryable() bool {
	if e.retryableSet {
		return e.retryable
	}
	if e.Kind == KindAPI {
		return e.StatusCode >= 500
	}
	return e.Kind.DefaultRetryable()
}

// WithRetryable overrides the retryable flag.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.retryable = retryable
	e.retryableSet = true
	return e
}

// WithStatus records the upstream status and reclassifies the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	if kind := KindForStatus(status); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithRetryAfter records an explicit retry delay.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithProvider records the failing dependency.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithOp records the failing operation.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// KindForStatus maps an HTTP status code to a Kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status >= 400:
		return KindAPI
	default:
		return KindUnknown
	}
}

// FromStatus builds an Error for an upstream HTTP failure.
func FromStatus(provider string, status int, msg string) *Error {
	e := &Error{Kind: KindAPI, Provider: provider, Message: msg}
	return e.WithStatus(status)
}

// As extracts a *Error from an error chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of err, classifying it when it is not a *Error.
func KindOf(err error) Kind {
	kind, _, _ := Classify(err)
	return kind
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	_, retryable, _ := Classify(err)
	return retryable
}
