package providers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/haasonsaas/nexushub/internal/faults"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// WrapError converts a vendor SDK or transport error into a *faults.Error.
//
// Status codes map through the shared taxonomy: 429 is a retryable rate
// limit, 401/403 are auth failures, 5xx are retryable API errors and other
// 4xx are not retryable. Errors that carry no status and no recognizable
// message default to retryable network failures.
func WrapError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	if fe, ok := faults.As(err); ok {
		if fe.Provider == "" {
			fe.Provider = provider
		}
		if fe.Op == "" {
			fe.Op = op
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return faults.Wrap(faults.KindNetwork, err, "request deadline exceeded").
			WithProvider(provider).WithOp(op)
	}

	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		if oaiAPI.HTTPStatusCode == 0 {
			return networkError(provider, op, err)
		}
		fe := faults.FromStatus(provider, oaiAPI.HTTPStatusCode, oaiAPI.Message).WithOp(op)
		fe.Cause = err
		return fe
	}

	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		if oaiReq.HTTPStatusCode == 0 {
			return networkError(provider, op, err)
		}
		fe := faults.FromStatus(provider, oaiReq.HTTPStatusCode, errorText(oaiReq.Err)).WithOp(op)
		fe.Cause = err
		return fe
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiFault(provider, op, genaiErr, err)
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) && genaiPtr != nil {
		return genaiFault(provider, op, *genaiPtr, err)
	}

	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		fe := faults.FromStatus(provider, antErr.StatusCode, anthropicMessage(antErr)).WithOp(op)
		fe.Cause = err
		if antErr.Response != nil {
			fe.WithRetryAfter(faults.ParseRetryAfterHeader(antErr.Response.Header.Get("Retry-After")))
		}
		return fe
	}

	kind, retryable, retryAfter := faults.Classify(err)
	if kind == faults.KindUnknown {
		return networkError(provider, op, err)
	}
	return faults.Wrap(kind, err, "").
		WithProvider(provider).
		WithOp(op).
		WithRetryable(retryable).
		WithRetryAfter(retryAfter)
}

func networkError(provider, op string, err error) error {
	return faults.Wrap(faults.KindNetwork, err, "").WithProvider(provider).WithOp(op)
}

func genaiFault(provider, op string, apiErr genai.APIError, cause error) error {
	if apiErr.Code == 0 {
		return networkError(provider, op, cause)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = apiErr.Status
	}
	fe := faults.FromStatus(provider, apiErr.Code, msg).WithOp(op)
	fe.Cause = cause
	return fe
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func anthropicMessage(err *anthropic.Error) string {
	if raw := err.RawJSON(); raw != "" {
		var body anthropicErrorBody
		if json.Unmarshal([]byte(raw), &body) == nil && body.Error.Message != "" {
			return body.Error.Message
		}
	}
	return ""
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimSpace(err.Error())
}
