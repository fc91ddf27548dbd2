package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// PostgresStore implements Store on Postgres with row level security.
type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, newID: uuid.NewString}
}

// DB exposes the underlying handle for repositories sharing the pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ResolveChannelID(ctx context.Context, tenantID string, channel models.ChannelType) (string, error) {
	var id string
	err := WithTenant(ctx, s.db, tenantID, func(q Querier) error {
		err := q.QueryRowContext(ctx,
			`SELECT id FROM channels
			 WHERE tenant_id = $1 AND channel_type = $2 AND is_active = TRUE
			 LIMIT 1`,
			tenantID, string(channel),
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("resolve channel: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetOrCreateConversation(ctx context.Context, tenantID, channelID, externalThreadID string) (string, error) {
	var id string
	err := WithTenant(ctx, s.db, tenantID, func(q Querier) error {
		if externalThreadID != "" && channelID != "" {
			err := q.QueryRowContext(ctx,
				`SELECT id FROM conversations
				 WHERE tenant_id = $1 AND channel_id = $2 AND external_thread_id = $3`,
				tenantID, channelID, externalThreadID,
			).Scan(&id)
			switch {
			case err == nil:
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
		}

		id = s.newID()
		_, err := q.ExecContext(ctx,
			`INSERT INTO conversations (id, tenant_id, channel_id, external_thread_id, status)
			 VALUES ($1, $2, $3, $4, 'open')`,
			id, tenantID, nullString(channelID), nullString(externalThreadID),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get or create conversation: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg *models.CanonicalMessage, channelID string) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("message is required")
	}
	metadata := msg.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal message metadata: %w", err)
	}

	id := s.newID()
	err = WithTenant(ctx, s.db, msg.TenantID, func(q Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO messages (
				id, tenant_id, conversation_id, channel_id, direction,
				source_message_id, from_type, from_external_id, from_display_name,
				content_type, content_text, metadata
			 ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb)`,
			id,
			msg.TenantID,
			msg.ConversationID,
			nullString(channelID),
			string(msg.Direction),
			nullString(msg.SourceMessageID),
			string(msg.From.Type),
			nullString(msg.From.ExternalID),
			nullString(msg.From.DisplayName),
			contentType(msg.Content.Type),
			msg.Content.Text,
			metaJSON,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) RecentMessages(ctx context.Context, tenantID, conversationID string, limit int) ([]models.CanonicalMessage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out []models.CanonicalMessage
	err := WithTenant(ctx, s.db, tenantID, func(q Querier) error {
		rows, err := q.QueryContext(ctx,
			`SELECT id, direction, source_message_id, from_type, from_external_id,
			        from_display_name, content_type, content_text, metadata, created_at
			 FROM messages
			 WHERE tenant_id = $1 AND conversation_id = $2
			 ORDER BY created_at DESC
			 LIMIT $3`,
			tenantID, conversationID, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				msg                              models.CanonicalMessage
				direction, fromType, contentKind string
				sourceID, externalID, display    sql.NullString
				metaBytes                        []byte
				createdAt                        time.Time
			)
			if err := rows.Scan(
				&msg.ID,
				&direction,
				&sourceID,
				&fromType,
				&externalID,
				&display,
				&contentKind,
				&msg.Content.Text,
				&metaBytes,
				&createdAt,
			); err != nil {
				return err
			}
			msg.TenantID = tenantID
			msg.ConversationID = conversationID
			msg.Direction = models.Direction(direction)
			msg.SourceMessageID = sourceID.String
			msg.From = models.MessageParty{
				Type:        models.PartyType(fromType),
				ExternalID:  externalID.String,
				DisplayName: display.String,
			}
			msg.To = models.MessageParty{Type: models.PartyBot}
			msg.Content.Type = contentKind
			msg.Timestamp = createdAt
			if len(metaBytes) > 0 {
				if err := json.Unmarshal(metaBytes, &msg.Metadata); err != nil {
					return fmt.Errorf("unmarshal message metadata: %w", err)
				}
			}
			out = append(out, msg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) InsertLLMTrace(ctx context.Context, trace *LLMTrace) error {
	if trace == nil {
		return nil
	}
	err := WithTenant(ctx, s.db, trace.TenantID, func(q Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO llm_traces (
				tenant_id, conversation_id, message_id,
				provider, model, request_payload, response_payload
			 ) VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7::jsonb)`,
			trace.TenantID,
			trace.ConversationID,
			nullString(trace.MessageID),
			trace.Provider,
			trace.Model,
			jsonOrEmpty(trace.Request),
			jsonOrEmpty(trace.Response),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert llm trace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateConversationStats(ctx context.Context, tenantID, conversationID string, update StatsUpdate) error {
	err := WithTenant(ctx, s.db, tenantID, func(q Querier) error {
		var exists bool
		if err := q.QueryRowContext(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM conversation_stats
				WHERE tenant_id = $1 AND conversation_id = $2
			 )`,
			tenantID, conversationID,
		).Scan(&exists); err != nil {
			return err
		}

		total, err := countOr(ctx, q, update.TotalMessages,
			`SELECT COUNT(*) FROM messages WHERE tenant_id = $1 AND conversation_id = $2`,
			tenantID, conversationID)
		if err != nil {
			return err
		}
		toolCalls, err := countOr(ctx, q, update.ToolCalls,
			`SELECT COUNT(*) FROM tool_call_logs WHERE tenant_id = $1 AND conversation_id = $2`,
			tenantID, conversationID)
		if err != nil {
			return err
		}

		resolved := sql.NullBool{}
		if update.Resolved != nil {
			resolved = sql.NullBool{Bool: *update.Resolved, Valid: true}
		}

		if exists {
			_, err = q.ExecContext(ctx,
				`UPDATE conversation_stats
				 SET total_messages = $3,
				     tool_calls = $4,
				     resolved = COALESCE($5::boolean, resolved),
				     updated_at = now()
				 WHERE tenant_id = $1 AND conversation_id = $2`,
				tenantID, conversationID, total, toolCalls, resolved,
			)
			return err
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO conversation_stats (tenant_id, conversation_id, total_messages, tool_calls, resolved)
			 VALUES ($1, $2, $3, $4, $5)`,
			tenantID, conversationID, total, toolCalls, resolved.Valid && resolved.Bool,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update conversation stats: %w", err)
	}
	return nil
}

func countOr(ctx context.Context, q Querier, override *int, query string, args ...any) (int, error) {
	if override != nil {
		return *override, nil
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func contentType(t string) string {
	if t == "" {
		return "text"
	}
	return t
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
