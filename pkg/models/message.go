package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ChannelType represents the channel an inbound message arrived on.
type ChannelType string

const (
	ChannelWeb      ChannelType = "web"
	ChannelWhatsApp ChannelType = "whatsapp"
	ChannelSlack    ChannelType = "slack"
	ChannelEmail    ChannelType = "email"
	ChannelTelegram ChannelType = "telegram"
)

// Direction indicates if a message is inbound or outbound.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// PartyType identifies who sent or receives a message.
type PartyType string

const (
	PartyUser PartyType = "user"
	PartyBot  PartyType = "bot"
)

// Role indicates the author of an LLM conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageParty is one side of a message exchange.
type MessageParty struct {
	Type        PartyType `json:"type"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name,omitempty"`
}

// MessageContent is the body of a message. Only text is supported.
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CanonicalMessage is the normalized envelope shared by every channel adapter.
type CanonicalMessage struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	ConversationID  string         `json:"conversation_id"`
	Channel         ChannelType    `json:"channel"`
	Direction       Direction      `json:"direction"`
	SourceMessageID string         `json:"source_message_id,omitempty"`
	From            MessageParty   `json:"from"`
	To              MessageParty   `json:"to"`
	Content         MessageContent `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// MetadataString returns a string metadata value or "" when absent.
func (m *CanonicalMessage) MetadataString(key string) string {
	if m == nil || m.Metadata == nil {
		return ""
	}
	v, ok := m.Metadata[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// IsFromBot reports whether the message was authored by the assistant.
func (m *CanonicalMessage) IsFromBot() bool {
	return m.From.Type == PartyBot
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}
