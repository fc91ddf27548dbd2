package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// ConversationStats is the aggregate kept per conversation.
type ConversationStats struct {
	TotalMessages int
	ToolCalls     int
	Resolved      bool
}

// MemoryStore provides an in-memory Store for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	channels      map[string]string // tenant|type -> channel id
	conversations map[string]string // tenant|channel|thread -> conversation id
	convTenants   map[string]string // conversation id -> tenant
	messages      map[string][]models.CanonicalMessage
	traces        []LLMTrace
	stats         map[string]ConversationStats
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels:      make(map[string]string),
		conversations: make(map[string]string),
		convTenants:   make(map[string]string),
		messages:      make(map[string][]models.CanonicalMessage),
		stats:         make(map[string]ConversationStats),
		now:           time.Now,
	}
}

// AddChannel registers an active channel for a tenant.
func (s *MemoryStore) AddChannel(tenantID string, channel models.ChannelType, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[tenantID+"|"+string(channel)] = id
}

func (s *MemoryStore) ResolveChannelID(ctx context.Context, tenantID string, channel models.ChannelType) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[tenantID+"|"+string(channel)], nil
}

func (s *MemoryStore) GetOrCreateConversation(ctx context.Context, tenantID, channelID, externalThreadID string) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "|" + channelID + "|" + externalThreadID
	if externalThreadID != "" && channelID != "" {
		if id, ok := s.conversations[key]; ok {
			return id, nil
		}
	}
	id := uuid.NewString()
	if externalThreadID != "" && channelID != "" {
		s.conversations[key] = id
	}
	s.convTenants[id] = tenantID
	return id, nil
}

func (s *MemoryStore) InsertMessage(ctx context.Context, msg *models.CanonicalMessage, channelID string) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("message is required")
	}
	if msg.TenantID == "" {
		return "", ErrTenantRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.convTenants[msg.ConversationID]; ok && owner != msg.TenantID {
		return "", ErrNotFound
	}
	stored := *msg
	stored.ID = uuid.NewString()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = s.now()
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], stored)
	return stored.ID, nil
}

func (s *MemoryStore) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.CanonicalMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if owner, ok := s.convTenants[conversationID]; ok && owner != tenantID {
		return nil, nil
	}
	all := s.messages[conversationID]
	start := 0
	if len(all) > limit {
		start = len(all) - limit
	}
	out := make([]models.CanonicalMessage, len(all)-start)
	copy(out, all[start:])
	return out, nil
}

func (s *MemoryStore) InsertLLMTrace(ctx context.Context, trace *LLMTrace) error {
	if trace == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traces = append(s.traces, *trace)
	return nil
}

func (s *MemoryStore) UpdateConversationStats(ctx context.Context, tenantID, conversationID string, update StatsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats[conversationID]
	if update.TotalMessages != nil {
		stats.TotalMessages = *update.TotalMessages
	} else {
		stats.TotalMessages = len(s.messages[conversationID])
	}
	if update.ToolCalls != nil {
		stats.ToolCalls = *update.ToolCalls
	}
	if update.Resolved != nil {
		stats.Resolved = *update.Resolved
	}
	s.stats[conversationID] = stats
	return nil
}

// Traces returns a copy of the recorded LLM traces.
func (s *MemoryStore) Traces() []LLMTrace {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]LLMTrace(nil), s.traces...)
}

// Stats returns the stats recorded for a conversation.
func (s *MemoryStore) Stats(conversationID string) (ConversationStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[conversationID]
	return stats, ok
}

// Messages returns every stored message of a conversation.
func (s *MemoryStore) Messages(conversationID string) []models.CanonicalMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CanonicalMessage(nil), s.messages[conversationID]...)
}
