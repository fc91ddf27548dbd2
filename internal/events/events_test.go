package events

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// jsonArg matches a JSON payload argument by decoding it.
type jsonArg struct {
	check func(map[string]any) bool
}

func (a jsonArg) Match(v driver.Value) bool {
	var raw []byte
	switch b := v.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		return false
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return false
	}
	return a.check(m)
}

func setupLogger(t *testing.T) (*PostgresLogger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPostgresLogger(db, nil), mock
}

func testExecution(t *testing.T) identity.ExecutionContext {
	t.Helper()
	ec, err := identity.Build("tenant-1", &models.CanonicalMessage{
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Channel:        models.ChannelWeb,
		From:           models.MessageParty{Type: models.PartyUser, ExternalID: "user-42"},
	})
	if err != nil {
		t.Fatalf("identity.Build() error = %v", err)
	}
	return ec
}

func TestPostgresLogger_LogEvent(t *testing.T) {
	logger, mock := setupLogger(t)
	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(
			"tenant-1",
			"conv-1",
			nil,
			"llm_call_completed",
			"openai",
			"success",
			int64(1500),
			0.25,
			jsonArg{check: func(m map[string]any) bool { return m["model"] == "gpt-4o" }},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := logger.LogEvent(context.Background(), &Event{
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		Type:           LLMCallCompleted,
		Provider:       "openai",
		Latency:        1500 * time.Millisecond,
		Cost:           0.25,
		Payload:        map[string]any{"model": "gpt-4o"},
	})
	if err != nil {
		t.Fatalf("LogEvent() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_LogToolCallSanitizesAndAudits(t *testing.T) {
	logger, mock := setupLogger(t)
	ec := testExecution(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tool_call_logs").
		WithArgs(
			"tenant-1",
			"conv-1",
			"msg-1",
			nil,
			"lookup_order",
			"mcp",
			jsonArg{check: func(m map[string]any) bool { return m["order"] == "A1" }},
			jsonArg{check: func(m map[string]any) bool {
				audit, ok := m["_audit"].(map[string]any)
				if !ok {
					return false
				}
				overrides, _ := audit["argument_overrides"].([]any)
				return audit["user_external_id"] == "user-42" &&
					audit["channel"] == "web" &&
					len(overrides) == 1 && overrides[0] == "customer_id"
			}},
			"failure",
			"Unable to retrieve data",
			int64(40),
			0.0,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := logger.LogToolCall(context.Background(), &ToolCall{
		TenantID:          "tenant-1",
		ConversationID:    "conv-1",
		MessageID:         "msg-1",
		ToolName:          "lookup_order",
		Provider:          "mcp",
		Arguments:         map[string]any{"order": "A1"},
		Status:            StatusFailure,
		Error:             "customer 77 forbidden",
		Latency:           40 * time.Millisecond,
		Execution:         ec,
		ArgumentOverrides: []string{"customer_id"},
	})
	if err != nil {
		t.Fatalf("LogToolCall() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresLogger_LogToolCallFallsBackToEvent(t *testing.T) {
	logger, mock := setupLogger(t)

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO tool_call_logs").WillReturnError(errors.New(`relation "tool_call_logs" does not exist`))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs("tenant-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO event_logs").
		WithArgs(
			"tenant-1",
			nil,
			nil,
			"tool_call",
			"internal_rag",
			"success",
			int64(0),
			0.0,
			jsonArg{check: func(m map[string]any) bool { return m["tool_name"] == "kb_search" }},
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := logger.LogToolCall(context.Background(), &ToolCall{
		TenantID: "tenant-1",
		ToolName: "kb_search",
		Provider: "internal_rag",
		Status:   StatusSuccess,
		Result:   map[string]any{"count": 2},
	})
	if err != nil {
		t.Fatalf("LogToolCall() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestMemoryRecordsSanitizedErrors(t *testing.T) {
	mem := NewMemory()
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "identity mention", in: "Unauthorized for tenant acme", want: "Unable to retrieve data"},
		{name: "truncated", in: string(long), want: string(long[:200])},
		{name: "plain", in: "timeout talking to backend", want: "timeout talking to backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = mem.LogToolCall(context.Background(), &ToolCall{ToolName: tt.name, Error: tt.in})
			calls := mem.ToolCalls()
			if got := calls[len(calls)-1].Error; got != tt.want {
				t.Errorf("Error = %q, want %q", got, tt.want)
			}
		})
	}

	_ = mem.LogEvent(context.Background(), &Event{Type: InboundMessage})
	_ = mem.LogEvent(context.Background(), &Event{Type: OutboundMessage})
	if types := mem.Types(); len(types) != 2 || types[1] != OutboundMessage {
		t.Errorf("Types() = %v", types)
	}
}
