// Package identity derives the authentication-only execution context that
// tools and providers may trust.
//
// An ExecutionContext can only be created by Build, which takes the tenant
// id established by authentication and the validated inbound message. Its
// fields are unexported so nothing downstream (model output, tool argument
// resolution) can alter it.
package identity

import (
	"log/slog"
	"strings"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Identity header names injected into outbound tool calls.
const (
	HeaderTenantID       = "X-Tenant-ID"
	HeaderUserExternalID = "X-User-External-ID"
	HeaderConversationID = "X-Conversation-ID"
)

// ExecutionContext is the immutable identity of the party a request acts for.
type ExecutionContext struct {
	tenantID       string
	userExternalID string
	conversationID string
	channel        string
}

// Build validates the inbound message against the authenticated tenant and
// returns the execution context.
func Build(authenticatedTenantID string, msg *models.CanonicalMessage) (ExecutionContext, error) {
	authenticatedTenantID = strings.TrimSpace(authenticatedTenantID)
	if authenticatedTenantID == "" {
		return ExecutionContext{}, faults.New(faults.KindInvalidMessage, "authenticated tenant is required")
	}
	if msg == nil {
		return ExecutionContext{}, faults.New(faults.KindInvalidMessage, "message is required")
	}
	if msg.TenantID != authenticatedTenantID {
		return ExecutionContext{}, faults.New(faults.KindAuthzMismatch, "message tenant does not match authenticated tenant")
	}
	userID := strings.TrimSpace(msg.From.ExternalID)
	if userID == "" {
		return ExecutionContext{}, faults.New(faults.KindInvalidMessage, "sender external id is required")
	}

	return ExecutionContext{
		tenantID:       authenticatedTenantID,
		userExternalID: userID,
		conversationID: msg.ConversationID,
		channel:        string(msg.Channel),
	}, nil
}

// TenantID returns the authenticated tenant id.
func (c ExecutionContext) TenantID() string { return c.tenantID }

// UserExternalID returns the sender's channel-specific id.
func (c ExecutionContext) UserExternalID() string { return c.userExternalID }

// ConversationID returns the conversation id, possibly empty.
func (c ExecutionContext) ConversationID() string { return c.conversationID }

// Channel returns the channel the message arrived on.
func (c ExecutionContext) Channel() string { return c.channel }

// IsZero reports whether the context was never built.
func (c ExecutionContext) IsZero() bool { return c.tenantID == "" }

// WithConversation returns a copy bound to a resolved conversation id. The
// orchestrator calls this once after get-or-create; identity fields are
// carried over unchanged.
func (c ExecutionContext) WithConversation(conversationID string) ExecutionContext {
	c.conversationID = conversationID
	return c
}

// Headers returns the identity headers for outbound tool requests.
func (c ExecutionContext) Headers() map[string]string {
	h := map[string]string{
		HeaderTenantID:       c.tenantID,
		HeaderUserExternalID: c.userExternalID,
	}
	if c.conversationID != "" {
		h[HeaderConversationID] = c.conversationID
	}
	return h
}

// Map returns the non-sensitive fields for audit payloads.
func (c ExecutionContext) Map() map[string]string {
	return map[string]string{
		"tenant_id":        c.tenantID,
		"user_external_id": c.userExternalID,
		"conversation_id":  c.conversationID,
		"channel":          c.channel,
	}
}

// LogAttrs returns slog attributes describing the context.
func (c ExecutionContext) LogAttrs() []slog.Attr {
	return []slog.Attr{
		slog.String("tenant_id", c.tenantID),
		slog.String("user_external_id", c.userExternalID),
		slog.String("conversation_id", c.conversationID),
		slog.String("channel", c.channel),
	}
}
