package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/nexushub/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// DefaultHistoryLimit is the number of messages loaded for prompt history.
const DefaultHistoryLimit = 10

// LLMTrace is the request/response pair of one provider call.
type LLMTrace struct {
	TenantID       string
	ConversationID string
	MessageID      string
	Provider       string
	Model          string
	Request        json.RawMessage
	Response       json.RawMessage
}

// StatsUpdate carries optional overrides for a conversation stats refresh.
// Nil counts are recomputed from the messages and tool_call_logs tables.
type StatsUpdate struct {
	TotalMessages *int
	ToolCalls     *int
	Resolved      *bool
}

// Store is the tenant-scoped conversation repository used by the
// orchestrator.
type Store interface {
	// ResolveChannelID returns the id of the tenant's active channel of the
	// given type, or "" when none is registered.
	ResolveChannelID(ctx context.Context, tenantID string, channel models.ChannelType) (string, error)
	GetOrCreateConversation(ctx context.Context, tenantID, channelID, externalThreadID string) (string, error)
	InsertMessage(ctx context.Context, msg *models.CanonicalMessage, channelID string) (string, error)
	// RecentMessages returns up to limit messages in chronological order.
	RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.CanonicalMessage, error)
	InsertLLMTrace(ctx context.Context, trace *LLMTrace) error
	UpdateConversationStats(ctx context.Context, tenantID, conversationID string, update StatsUpdate) error
}
