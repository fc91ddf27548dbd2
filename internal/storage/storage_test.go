package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/nexushub/pkg/models"
)

func setupMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := NewPostgresStore(db)
	store.newID = func() string { return "generated-id" }
	return store, mock
}

func expectTenantScope(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config").
		WithArgs(tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestWithTenant(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectExec("UPDATE things").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := WithTenant(context.Background(), store.db, "tenant-1", func(q Querier) error {
			_, err := q.ExecContext(context.Background(), "UPDATE things SET x = 1")
			return err
		})
		if err != nil {
			t.Fatalf("WithTenant() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := WithTenant(context.Background(), store.db, "tenant-1", func(q Querier) error {
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("WithTenant() error = %v, want boom", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("requires tenant", func(t *testing.T) {
		store, mock := setupMockStore(t)
		err := WithTenant(context.Background(), store.db, "", func(q Querier) error { return nil })
		if !errors.Is(err, ErrTenantRequired) {
			t.Fatalf("WithTenant() error = %v, want ErrTenantRequired", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unexpected database use: %v", err)
		}
	})
}

func TestPostgresStore_ResolveChannelID(t *testing.T) {
	tests := []struct {
		name  string
		setup func(sqlmock.Sqlmock)
		want  string
	}{
		{
			name: "active channel",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id FROM channels").
					WithArgs("tenant-1", "web").
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("chan-1"))
			},
			want: "chan-1",
		},
		{
			name: "no channel",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT id FROM channels").
					WithArgs("tenant-1", "web").
					WillReturnError(sql.ErrNoRows)
			},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockStore(t)
			expectTenantScope(mock, "tenant-1")
			tt.setup(mock)
			mock.ExpectCommit()

			got, err := store.ResolveChannelID(context.Background(), "tenant-1", models.ChannelWeb)
			if err != nil {
				t.Fatalf("ResolveChannelID() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ResolveChannelID() = %q, want %q", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_GetOrCreateConversation(t *testing.T) {
	t.Run("existing thread", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectQuery("SELECT id FROM conversations").
			WithArgs("tenant-1", "chan-1", "thread-9").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("conv-1"))
		mock.ExpectCommit()

		got, err := store.GetOrCreateConversation(context.Background(), "tenant-1", "chan-1", "thread-9")
		if err != nil {
			t.Fatalf("GetOrCreateConversation() error = %v", err)
		}
		if got != "conv-1" {
			t.Errorf("conversation = %q, want conv-1", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("new thread", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectQuery("SELECT id FROM conversations").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectExec("INSERT INTO conversations").
			WithArgs("generated-id", "tenant-1", "chan-1", "thread-9").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		got, err := store.GetOrCreateConversation(context.Background(), "tenant-1", "chan-1", "thread-9")
		if err != nil {
			t.Fatalf("GetOrCreateConversation() error = %v", err)
		}
		if got != "generated-id" {
			t.Errorf("conversation = %q, want generated-id", got)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("no thread skips lookup", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectExec("INSERT INTO conversations").
			WithArgs("generated-id", "tenant-1", nil, nil).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if _, err := store.GetOrCreateConversation(context.Background(), "tenant-1", "", ""); err != nil {
			t.Fatalf("GetOrCreateConversation() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestPostgresStore_InsertMessage(t *testing.T) {
	store, mock := setupMockStore(t)
	expectTenantScope(mock, "tenant-1")
	mock.ExpectExec("INSERT INTO messages").
		WithArgs(
			"generated-id",
			"tenant-1",
			"conv-1",
			"chan-1",
			"inbound",
			"src-1",
			"user",
			"user-42",
			nil,
			"text",
			"hello",
			sqlmock.AnyArg(), // metadata
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	msg := &models.CanonicalMessage{
		TenantID:        "tenant-1",
		ConversationID:  "conv-1",
		Direction:       models.DirectionInbound,
		SourceMessageID: "src-1",
		From:            models.MessageParty{Type: models.PartyUser, ExternalID: "user-42"},
		Content:         models.MessageContent{Text: "hello"},
	}
	id, err := store.InsertMessage(context.Background(), msg, "chan-1")
	if err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}
	if id != "generated-id" {
		t.Errorf("id = %q", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_RecentMessagesChronological(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{
		"id", "direction", "source_message_id", "from_type", "from_external_id",
		"from_display_name", "content_type", "content_text", "metadata", "created_at",
	}
	expectTenantScope(mock, "tenant-1")
	mock.ExpectQuery("SELECT id, direction").
		WithArgs("tenant-1", "conv-1", 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m2", "outbound", nil, "bot", "orchestrator", nil, "text", "answer", []byte(`{}`), now).
			AddRow("m1", "inbound", "src", "user", "user-42", "Ann", "text", "question", []byte(`{"k":"v"}`), now.Add(-time.Minute)))
	mock.ExpectCommit()

	got, err := store.RecentMessages(context.Background(), "tenant-1", "conv-1", 0)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Errorf("order = %s,%s want m1,m2", got[0].ID, got[1].ID)
	}
	if got[0].From.DisplayName != "Ann" || got[0].Metadata["k"] != "v" {
		t.Errorf("first message = %+v", got[0])
	}
	if !got[1].IsFromBot() {
		t.Errorf("second message should be from bot")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_InsertLLMTrace(t *testing.T) {
	store, mock := setupMockStore(t)
	expectTenantScope(mock, "tenant-1")
	mock.ExpectExec("INSERT INTO llm_traces").
		WithArgs("tenant-1", "conv-1", "msg-1", "openai", "gpt-4o", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := store.InsertLLMTrace(context.Background(), &LLMTrace{
		TenantID:       "tenant-1",
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		Provider:       "openai",
		Model:          "gpt-4o",
	})
	if err != nil {
		t.Fatalf("InsertLLMTrace() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_UpdateConversationStats(t *testing.T) {
	t.Run("insert computes counts", func(t *testing.T) {
		store, mock := setupMockStore(t)
		expectTenantScope(mock, "tenant-1")
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs("tenant-1", "conv-1").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM messages").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM tool_call_logs").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec("INSERT INTO conversation_stats").
			WithArgs("tenant-1", "conv-1", 4, 2, false).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if err := store.UpdateConversationStats(context.Background(), "tenant-1", "conv-1", StatsUpdate{}); err != nil {
			t.Fatalf("UpdateConversationStats() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})

	t.Run("update uses override", func(t *testing.T) {
		store, mock := setupMockStore(t)
		toolCalls := 3
		expectTenantScope(mock, "tenant-1")
		mock.ExpectQuery("SELECT EXISTS").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM messages").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(6))
		mock.ExpectExec("UPDATE conversation_stats").
			WithArgs("tenant-1", "conv-1", 6, 3, nil).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := store.UpdateConversationStats(context.Background(), "tenant-1", "conv-1", StatsUpdate{ToolCalls: &toolCalls})
		if err != nil {
			t.Fatalf("UpdateConversationStats() error = %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.AddChannel("tenant-1", models.ChannelWeb, "chan-1")

	channelID, err := store.ResolveChannelID(ctx, "tenant-1", models.ChannelWeb)
	if err != nil || channelID != "chan-1" {
		t.Fatalf("ResolveChannelID() = %q, %v", channelID, err)
	}

	convID, err := store.GetOrCreateConversation(ctx, "tenant-1", channelID, "thread-1")
	if err != nil {
		t.Fatalf("GetOrCreateConversation() error = %v", err)
	}
	again, _ := store.GetOrCreateConversation(ctx, "tenant-1", channelID, "thread-1")
	if again != convID {
		t.Errorf("same thread produced %q and %q", convID, again)
	}

	for i := 0; i < 12; i++ {
		msg := &models.CanonicalMessage{
			TenantID:       "tenant-1",
			ConversationID: convID,
			Content:        models.MessageContent{Type: "text", Text: string(rune('a' + i))},
		}
		if _, err := store.InsertMessage(ctx, msg, channelID); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
	}

	history, err := store.RecentMessages(ctx, "tenant-1", convID, 10)
	if err != nil {
		t.Fatalf("RecentMessages() error = %v", err)
	}
	if len(history) != 10 || history[0].Content.Text != "c" || history[9].Content.Text != "l" {
		t.Errorf("history window wrong: len=%d first=%q", len(history), history[0].Content.Text)
	}

	other, _ := store.RecentMessages(ctx, "tenant-2", convID, 10)
	if len(other) != 0 {
		t.Errorf("cross-tenant history leaked %d messages", len(other))
	}

	if err := store.UpdateConversationStats(ctx, "tenant-1", convID, StatsUpdate{}); err != nil {
		t.Fatalf("UpdateConversationStats() error = %v", err)
	}
	stats, ok := store.Stats(convID)
	if !ok || stats.TotalMessages != 12 {
		t.Errorf("stats = %+v", stats)
	}
}
