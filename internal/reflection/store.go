package reflection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Store persists insights.
type Store interface {
	SaveInsight(ctx context.Context, insight *models.Insight) error
	// RecentInsights returns the newest insights with their plan goal.
	RecentInsights(ctx context.Context, tenantID string, limit int) ([]models.Insight, error)
}

// PostgresStore implements Store on agentic_insights.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SaveInsight(ctx context.Context, in *models.Insight) error {
	metrics, err := json.Marshal(in.Metrics)
	if err != nil {
		return fmt.Errorf("marshal insight: %w", err)
	}
	recs, err := json.Marshal(in.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	return storage.WithTenant(ctx, s.db, in.TenantID, func(q storage.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO agentic_insights (
				id, tenant_id, plan_id, task_id, insights, recommendations
			 ) VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb)`,
			in.ID, in.TenantID, nullableString(in.PlanID), nullableString(in.TaskID), metrics, recs,
		)
		if err != nil {
			return fmt.Errorf("insert insight: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RecentInsights(ctx context.Context, tenantID string, limit int) ([]models.Insight, error) {
	var out []models.Insight
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		rows, err := q.QueryContext(ctx,
			`SELECT i.id, i.plan_id, i.task_id, i.insights, i.recommendations, i.created_at, p.goal
			 FROM agentic_insights i
			 LEFT JOIN agentic_plans p ON i.plan_id = p.id
			 WHERE i.tenant_id = $1
			 ORDER BY i.created_at DESC
			 LIMIT $2`,
			tenantID, limit,
		)
		if err != nil {
			return fmt.Errorf("query insights: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			in := models.Insight{TenantID: tenantID}
			var (
				planID  sql.NullString
				taskID  sql.NullString
				goal    sql.NullString
				metrics []byte
				recs    []byte
			)
			if err := rows.Scan(&in.ID, &planID, &taskID, &metrics, &recs, &in.CreatedAt, &goal); err != nil {
				return fmt.Errorf("scan insight: %w", err)
			}
			if len(metrics) > 0 {
				if err := json.Unmarshal(metrics, &in.Metrics); err != nil {
					return fmt.Errorf("decode insight: %w", err)
				}
			}
			if len(recs) > 0 {
				if err := json.Unmarshal(recs, &in.Recommendations); err != nil {
					return fmt.Errorf("decode recommendations: %w", err)
				}
			}
			in.PlanID = planID.String
			in.TaskID = taskID.String
			in.Goal = goal.String
			out = append(out, in)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// GoalLookup resolves a plan's goal for the memory store.
type GoalLookup func(tenantID, planID string) string

// MemoryStore keeps insights in process.
type MemoryStore struct {
	mu       sync.Mutex
	insights []models.Insight
	goals    GoalLookup
}

// NewMemoryStore creates an empty store. goals may be nil.
func NewMemoryStore(goals GoalLookup) *MemoryStore {
	return &MemoryStore{goals: goals}
}

func (m *MemoryStore) SaveInsight(_ context.Context, in *models.Insight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, *in)
	return nil
}

func (m *MemoryStore) RecentInsights(_ context.Context, tenantID string, limit int) ([]models.Insight, error) {
	m.mu.Lock()
	var out []models.Insight
	for _, in := range m.insights {
		if in.TenantID == tenantID {
			out = append(out, in)
		}
	}
	m.mu.Unlock()

	// Newest first; equal timestamps keep reverse insertion order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	if m.goals != nil {
		for i := range out {
			if out[i].Goal == "" && out[i].PlanID != "" {
				out[i].Goal = m.goals(tenantID, out[i].PlanID)
			}
		}
	}
	return out, nil
}
