package audit

import (
	"time"

	"github.com/haasonsaas/nexushub/internal/identity"
)

func withIdentity(e *Event, ec identity.ExecutionContext) *Event {
	e.TenantID = ec.TenantID()
	e.UserExternalID = ec.UserExternalID()
	e.ConversationID = ec.ConversationID()
	e.Channel = ec.Channel()
	return e
}

// ParamOverride records user-scoped arguments removed from a tool call.
func ParamOverride(ec identity.ExecutionContext, tool string, removed []string) *Event {
	return withIdentity(&Event{
		Type:     EventParamOverride,
		Level:    LevelWarn,
		ToolName: tool,
		Action:   "user_params_stripped",
		Details:  map[string]any{"removed_params": removed},
	}, ec)
}

// SuspiciousInput records non-blocking validation warnings on tool arguments.
func SuspiciousInput(ec identity.ExecutionContext, tool string, warnings []string) *Event {
	return withIdentity(&Event{
		Type:     EventSuspiciousInput,
		Level:    LevelWarn,
		ToolName: tool,
		Action:   "tool_args_flagged",
		Details:  map[string]any{"warnings": warnings},
	}, ec)
}

// SchemaViolation records tool arguments that do not match the declared
// parameters schema.
func SchemaViolation(ec identity.ExecutionContext, tool string, violations []string) *Event {
	return withIdentity(&Event{
		Type:     EventSchemaViolation,
		Level:    LevelWarn,
		ToolName: tool,
		Action:   "tool_args_invalid",
		Details:  map[string]any{"violations": violations},
	}, ec)
}

// OwnershipDenied records an MCP server that does not belong to the tenant.
func OwnershipDenied(ec identity.ExecutionContext, serverID, tool string) *Event {
	return withIdentity(&Event{
		Type:     EventOwnershipDenied,
		Level:    LevelError,
		ToolName: tool,
		Action:   "mcp_server_not_owned",
		Details:  map[string]any{"server_id": serverID},
	}, ec)
}

// EndpointBlocked records an endpoint rejected by SSRF checks.
func EndpointBlocked(ec identity.ExecutionContext, tool, endpoint, reason string) *Event {
	return withIdentity(&Event{
		Type:     EventEndpointBlocked,
		Level:    LevelWarn,
		ToolName: tool,
		Action:   "endpoint_blocked",
		Details:  map[string]any{"endpoint": endpoint},
		Error:    reason,
	}, ec)
}

// MCPCall records one MCP tools/call exchange.
func MCPCall(ec identity.ExecutionContext, server, tool, status string, latency time.Duration, errMsg string) *Event {
	level := LevelInfo
	if status != "success" {
		level = LevelWarn
	}
	return withIdentity(&Event{
		Type:     EventMCPCall,
		Level:    level,
		ToolName: tool,
		Action:   "tools_call",
		Duration: latency,
		Error:    errMsg,
		Details: map[string]any{
			"server":     server,
			"tool":       tool,
			"latency_ms": latency.Milliseconds(),
			"status":     status,
		},
	}, ec)
}

// HTTPToolCall records one custom HTTP tool request.
func HTTPToolCall(ec identity.ExecutionContext, tool, host string, statusCode int, latency time.Duration) *Event {
	level := LevelInfo
	if statusCode < 200 || statusCode > 299 {
		level = LevelWarn
	}
	return withIdentity(&Event{
		Type:     EventToolHTTPCall,
		Level:    level,
		ToolName: tool,
		Action:   "http_post",
		Duration: latency,
		Details: map[string]any{
			"host":        host,
			"status_code": statusCode,
		},
	}, ec)
}

// TenantMismatch records a message whose tenant differs from the
// authenticated tenant. Only the authenticated tenant is trusted.
func TenantMismatch(authenticatedTenantID, claimedTenantID, channel string) *Event {
	return &Event{
		Type:     EventTenantMismatch,
		Level:    LevelError,
		TenantID: authenticatedTenantID,
		Channel:  channel,
		Action:   "inbound_rejected",
		Details:  map[string]any{"claimed_tenant_id": claimedTenantID},
	}
}

// PromptInjection records injection patterns found in inbound user text.
// The message is still processed.
func PromptInjection(ec identity.ExecutionContext, categories []string) *Event {
	return withIdentity(&Event{
		Type:    EventPromptInjection,
		Level:   LevelWarn,
		Action:  "inbound_flagged",
		Details: map[string]any{"patterns": categories},
	}, ec)
}

// ToolNotFound records a model request for a tool outside the tenant's set.
func ToolNotFound(ec identity.ExecutionContext, tool string) *Event {
	return withIdentity(&Event{
		Type:     EventToolNotFound,
		Level:    LevelWarn,
		ToolName: tool,
		Action:   "tool_call_skipped",
	}, ec)
}

// PromptRejected records a tenant system prompt that failed validation.
func PromptRejected(tenantID string, codes []string) *Event {
	return &Event{
		Type:     EventPromptRejected,
		Level:    LevelWarn,
		TenantID: tenantID,
		Action:   "tenant_prompt_skipped",
		Details:  map[string]any{"issues": codes},
	}
}
