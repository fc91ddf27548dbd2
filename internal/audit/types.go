// Package audit records security-relevant events on an asynchronous,
// non-blocking channel. Producers never wait on the sink: when the buffer is
// full the event is dropped and counted.
package audit

import (
	"time"
)

// EventType categorizes audit events.
type EventType string

const (
	// Security events
	EventParamOverride   EventType = "security.param_override"
	EventOwnershipDenied EventType = "security.ownership_denied"
	EventEndpointBlocked EventType = "security.endpoint_blocked"
	EventSuspiciousInput EventType = "security.suspicious_input"
	EventSchemaViolation EventType = "security.schema_violation"
	EventTenantMismatch  EventType = "security.tenant_mismatch"
	EventPromptRejected  EventType = "security.prompt_rejected"
	EventPromptInjection EventType = "security.prompt_injection"

	// Tool events
	EventMCPCall      EventType = "mcp.call"
	EventToolHTTPCall EventType = "tool.http_call"
	EventToolNotFound EventType = "tool.not_found"
)

// Level represents audit log severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Level     Level     `json:"level"`
	Timestamp time.Time `json:"timestamp"`

	// TenantID and UserExternalID come from the execution context, never
	// from model output.
	TenantID       string `json:"tenant_id,omitempty"`
	UserExternalID string `json:"user_external_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Channel        string `json:"channel,omitempty"`

	ToolName string         `json:"tool_name,omitempty"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
	Error    string         `json:"error,omitempty"`
	TraceID  string         `json:"trace_id,omitempty"`
}

// OutputFormat specifies the audit log output format.
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config configures the audit logger.
type Config struct {
	// Enabled determines if audit logging is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Level is the minimum level to log.
	Level Level `json:"level" yaml:"level"`

	// Format specifies the output format.
	Format OutputFormat `json:"format" yaml:"format"`

	// Output specifies where to write logs.
	// Supported: "stdout", "stderr", "file:/path/to/file.log"
	Output string `json:"output" yaml:"output"`

	// EventTypes filters which event types to log (empty = all).
	EventTypes []EventType `json:"event_types" yaml:"event_types"`

	// BufferSize is the capacity of the event channel.
	BufferSize int `json:"buffer_size" yaml:"buffer_size"`

	// RedisStream, when set, mirrors events to this Redis stream.
	RedisStream string `json:"redis_stream" yaml:"redis_stream"`
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Level:      LevelInfo,
		Format:     FormatJSON,
		Output:     "stdout",
		BufferSize: 1000,
	}
}
