package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/storage"
)

// PostgresLogger writes to the event_logs and tool_call_logs tables.
type PostgresLogger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresLogger creates a logger on an open database handle.
func NewPostgresLogger(db *sql.DB, logger *slog.Logger) *PostgresLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresLogger{db: db, logger: logger.With("component", "events")}
}

// LogEvent inserts one event row.
func (l *PostgresLogger) LogEvent(ctx context.Context, ev *Event) error {
	if ev == nil {
		return nil
	}
	payload, err := marshalObject(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	status := ev.Status
	if status == "" {
		status = StatusSuccess
	}

	err = storage.WithTenant(ctx, l.db, ev.TenantID, func(q storage.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO event_logs (
				tenant_id, conversation_id, message_id, event_type, provider,
				status, latency_ms, cost, payload
			 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb)`,
			ev.TenantID,
			nullString(ev.ConversationID),
			nullString(ev.MessageID),
			string(ev.Type),
			nullString(ev.Provider),
			status,
			ev.Latency.Milliseconds(),
			ev.Cost,
			payload,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("log event %s: %w", ev.Type, err)
	}
	return nil
}

// LogToolCall inserts one tool-call row. If the insert fails the call is
// recorded as a tool_call event instead.
func (l *PostgresLogger) LogToolCall(ctx context.Context, call *ToolCall) error {
	if call == nil {
		return nil
	}
	audit := auditPayload(call)
	sanitized := faults.SanitizeMessage(call.Error)

	summary := make(map[string]any, len(call.Result)+1)
	for k, v := range call.Result {
		summary[k] = v
	}
	summary["_audit"] = audit

	args, err := marshalObject(call.Arguments)
	if err != nil {
		return fmt.Errorf("marshal tool arguments: %w", err)
	}
	result, err := marshalObject(summary)
	if err != nil {
		return fmt.Errorf("marshal tool result: %w", err)
	}

	err = storage.WithTenant(ctx, l.db, call.TenantID, func(q storage.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO tool_call_logs (
				tenant_id, conversation_id, message_id, tool_id, tool_name, provider,
				arguments, result_summary, status, error_message, latency_ms, cost
			 ) VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb,$8::jsonb,$9,$10,$11,$12)`,
			call.TenantID,
			nullString(call.ConversationID),
			nullString(call.MessageID),
			nullString(call.ToolID),
			call.ToolName,
			call.Provider,
			args,
			result,
			call.Status,
			nullString(sanitized),
			call.Latency.Milliseconds(),
			call.Cost,
		)
		return err
	})
	if err == nil {
		return nil
	}

	l.logger.Warn("tool call log insert failed, falling back to event log",
		"tool", call.ToolName,
		"error", err,
	)
	payload := map[string]any{
		"tool_name":      call.ToolName,
		"arguments":      call.Arguments,
		"result_summary": call.Result,
		"error_message":  sanitized,
	}
	for k, v := range audit {
		payload[k] = v
	}
	return l.LogEvent(ctx, &Event{
		TenantID:       call.TenantID,
		ConversationID: call.ConversationID,
		MessageID:      call.MessageID,
		Type:           ToolCallFallback,
		Provider:       call.Provider,
		Status:         call.Status,
		Latency:        call.Latency,
		Cost:           call.Cost,
		Payload:        payload,
	})
}

func marshalObject(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
