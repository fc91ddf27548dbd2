package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// PostgresStore implements Store on the agentic_tasks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const taskColumns = `id, tenant_id, conversation_id, plan_id, goal,
       current_step, state, status, created_at, updated_at, completed_at`

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	state, err := marshalState(task.State)
	if err != nil {
		return err
	}
	return storage.WithTenant(ctx, s.db, task.TenantID, func(q storage.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO agentic_tasks (
				id, tenant_id, conversation_id, plan_id,
				goal, current_step, state, status
			 ) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
			task.ID,
			task.TenantID,
			nullableString(task.ConversationID),
			nullableString(task.PlanID),
			task.Goal,
			task.CurrentStep,
			state,
			string(task.Status),
		)
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetTask(ctx context.Context, tenantID, id string) (*models.Task, error) {
	var task *models.Task
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		row := q.QueryRowContext(ctx,
			`SELECT `+taskColumns+`
			 FROM agentic_tasks
			 WHERE id = $1 AND tenant_id = $2`,
			id, tenantID,
		)
		t, err := scanTask(row)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get task: %w", err)
		}
		task = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, tenantID, id string, step int, state map[string]any, status models.TaskStatus) error {
	stateJSON, err := marshalState(state)
	if err != nil {
		return err
	}
	query := `UPDATE agentic_tasks
			 SET current_step = $3, state = $4::jsonb, updated_at = now()`
	args := []any{id, tenantID, step, stateJSON}
	if status != "" {
		query += `, status = $5`
		args = append(args, string(status))
	}
	query += ` WHERE id = $1 AND tenant_id = $2`
	return s.exec(ctx, tenantID, "update task progress", query, args...)
}

func (s *PostgresStore) SetStatus(ctx context.Context, tenantID, id string, status models.TaskStatus) error {
	return s.exec(ctx, tenantID, "set task status",
		`UPDATE agentic_tasks
		 SET status = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		id, tenantID, string(status),
	)
}

func (s *PostgresStore) CompleteTask(ctx context.Context, tenantID, id string, finalState map[string]any) error {
	query := `UPDATE agentic_tasks
			 SET status = 'completed', completed_at = now(), updated_at = now()`
	args := []any{id, tenantID}
	if finalState != nil {
		stateJSON, err := marshalState(finalState)
		if err != nil {
			return err
		}
		query += `, state = $3::jsonb`
		args = append(args, stateJSON)
	}
	query += ` WHERE id = $1 AND tenant_id = $2`
	return s.exec(ctx, tenantID, "complete task", query, args...)
}

func (s *PostgresStore) ListTasks(ctx context.Context, tenantID string, opts ListOptions) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + `
			 FROM agentic_tasks
			 WHERE tenant_id = $1`
	args := []any{tenantID}
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(" ORDER BY updated_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	var out []*models.Task
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return fmt.Errorf("scan task: %w", err)
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) FailStale(ctx context.Context, tenantID string, before time.Time) (int, error) {
	var n int64
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		res, err := q.ExecContext(ctx,
			`UPDATE agentic_tasks
			 SET status = 'failed', updated_at = now()
			 WHERE tenant_id = $1
			   AND status IN ('planning', 'executing')
			   AND updated_at < $2`,
			tenantID, before,
		)
		if err != nil {
			return fmt.Errorf("fail stale tasks: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func (s *PostgresStore) exec(ctx context.Context, tenantID, op, query string, args ...any) error {
	return storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var (
		t              models.Task
		conversationID sql.NullString
		planID         sql.NullString
		state          []byte
		status         string
		completedAt    sql.NullTime
	)
	err := s.Scan(
		&t.ID,
		&t.TenantID,
		&conversationID,
		&planID,
		&t.Goal,
		&t.CurrentStep,
		&state,
		&status,
		&t.CreatedAt,
		&t.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ConversationID = conversationID.String
	t.PlanID = planID.String
	t.Status = models.TaskStatus(status)
	t.State = map[string]any{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &t.State); err != nil {
			return nil, fmt.Errorf("decode task state: %w", err)
		}
		if t.State == nil {
			t.State = map[string]any{}
		}
	}
	if completedAt.Valid {
		ts := completedAt.Time
		t.CompletedAt = &ts
	}
	return &t, nil
}

func marshalState(state map[string]any) ([]byte, error) {
	if state == nil {
		state = map[string]any{}
	}
	b, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal task state: %w", err)
	}
	return b, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
