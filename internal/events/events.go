// Package events records the operational event stream and the per-tool-call
// log for a tenant's conversations.
package events

import (
	"context"
	"time"

	"github.com/haasonsaas/nexushub/internal/identity"
)

// Type names an operational event.
type Type string

const (
	InboundMessage    Type = "inbound_message"
	OutboundMessage   Type = "outbound_message"
	LLMCallRetry      Type = "llm_call_retry"
	LLMCallCompleted  Type = "llm_call_completed"
	LLMCallFailed     Type = "llm_call_failed"
	ToolCallFallback  Type = "tool_call"
	PlanCreated       Type = "plan_created"
	PlanFailed        Type = "plan_generation_failed"
	ReflectionFailed  Type = "reflection_failed"
	ProcessingFailure Type = "error"
)

// Status values used by events and tool calls.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusRetry   = "retry"
)

// Event is one row of the event log.
type Event struct {
	TenantID       string
	ConversationID string
	MessageID      string
	Type           Type
	Provider       string
	Status         string
	Latency        time.Duration
	Cost           float64
	Payload        map[string]any
}

// ToolCall is one row of the tool-call log. Error is sanitized before it is
// stored.
type ToolCall struct {
	TenantID       string
	ConversationID string
	MessageID      string
	ToolID         string
	ToolName       string
	Provider       string
	Arguments      map[string]any
	Result         map[string]any
	Status         string
	Error          string
	Latency        time.Duration
	Cost           float64

	Execution          identity.ExecutionContext
	ArgumentOverrides  []string
	ValidationWarnings []string
	RejectionReason    string
}

// Logger persists events and tool calls.
type Logger interface {
	LogEvent(ctx context.Context, ev *Event) error
	LogToolCall(ctx context.Context, call *ToolCall) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) LogEvent(context.Context, *Event) error       { return nil }
func (Nop) LogToolCall(context.Context, *ToolCall) error { return nil }

// auditPayload builds the _audit object stored with a tool call.
func auditPayload(call *ToolCall) map[string]any {
	out := map[string]any{}
	if !call.Execution.IsZero() {
		out["user_external_id"] = call.Execution.UserExternalID()
		out["conversation_id"] = call.Execution.ConversationID()
		out["channel"] = call.Execution.Channel()
	}
	if len(call.ArgumentOverrides) > 0 {
		out["argument_overrides"] = call.ArgumentOverrides
	}
	if len(call.ValidationWarnings) > 0 {
		out["validation_warnings"] = call.ValidationWarnings
	}
	if call.RejectionReason != "" {
		out["rejection_reason"] = call.RejectionReason
	}
	return out
}
