package planning

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// ErrNotFound is returned when a plan does not exist for the tenant.
var ErrNotFound = errors.New("plan not found")

// Store persists plans.
type Store interface {
	// SavePlan inserts a new plan.
	SavePlan(ctx context.Context, plan *models.Plan) error

	// GetPlan returns ErrNotFound when the plan is missing.
	GetPlan(ctx context.Context, tenantID, planID string) (*models.Plan, error)

	// UpdateSteps replaces the stored steps.
	UpdateSteps(ctx context.Context, tenantID, planID string, steps []models.PlanStep) error

	// UpdateStatus changes the plan status.
	UpdateStatus(ctx context.Context, tenantID, planID string, status models.PlanStatus) error
}

// PostgresStore implements Store on the agentic_plans table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) SavePlan(ctx context.Context, plan *models.Plan) error {
	steps, err := json.Marshal(plan.Steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	return storage.WithTenant(ctx, s.db, plan.TenantID, func(q storage.Querier) error {
		_, err := q.ExecContext(ctx,
			`INSERT INTO agentic_plans (
				id, tenant_id, conversation_id, message_id,
				goal, plan_steps, status
			 ) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
			plan.ID,
			plan.TenantID,
			nullableString(plan.ConversationID),
			nullableString(plan.MessageID),
			plan.Goal,
			steps,
			string(plan.Status),
		)
		if err != nil {
			return fmt.Errorf("insert plan: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetPlan(ctx context.Context, tenantID, planID string) (*models.Plan, error) {
	plan := &models.Plan{ID: planID, TenantID: tenantID}
	err := storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		var (
			conversationID sql.NullString
			messageID      sql.NullString
			steps          []byte
			status         string
		)
		err := q.QueryRowContext(ctx,
			`SELECT conversation_id, message_id, goal, plan_steps, status, created_at, updated_at
			 FROM agentic_plans
			 WHERE id = $1 AND tenant_id = $2`,
			planID, tenantID,
		).Scan(&conversationID, &messageID, &plan.Goal, &steps, &status, &plan.CreatedAt, &plan.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get plan: %w", err)
		}
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &plan.Steps); err != nil {
				return fmt.Errorf("decode plan steps: %w", err)
			}
		}
		plan.ConversationID = conversationID.String
		plan.MessageID = messageID.String
		plan.Status = models.PlanStatus(status)
		plan.EstimatedSteps = len(plan.Steps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *PostgresStore) UpdateSteps(ctx context.Context, tenantID, planID string, steps []models.PlanStep) error {
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("marshal plan steps: %w", err)
	}
	return s.exec(ctx, tenantID, "update plan steps",
		`UPDATE agentic_plans
		 SET plan_steps = $3::jsonb, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		planID, tenantID, data,
	)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, tenantID, planID string, status models.PlanStatus) error {
	return s.exec(ctx, tenantID, "update plan status",
		`UPDATE agentic_plans
		 SET status = $3, updated_at = now()
		 WHERE id = $1 AND tenant_id = $2`,
		planID, tenantID, string(status),
	)
}

func (s *PostgresStore) exec(ctx context.Context, tenantID, op, query string, args ...any) error {
	return storage.WithTenant(ctx, s.db, tenantID, func(q storage.Querier) error {
		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	})
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// MemoryStore keeps plans in process.
type MemoryStore struct {
	mu    sync.Mutex
	plans map[string]*models.Plan
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*models.Plan), now: time.Now}
}

func (m *MemoryStore) SavePlan(_ context.Context, plan *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := clonePlan(plan)
	now := m.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.plans[plan.ID] = cp
	return nil
}

func (m *MemoryStore) GetPlan(_ context.Context, tenantID, planID string) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok || p.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return clonePlan(p), nil
}

func (m *MemoryStore) UpdateSteps(_ context.Context, tenantID, planID string, steps []models.PlanStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[planID]; ok && p.TenantID == tenantID {
		p.Steps = append([]models.PlanStep(nil), steps...)
		p.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, tenantID, planID string, status models.PlanStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.plans[planID]; ok && p.TenantID == tenantID {
		p.Status = status
		p.UpdatedAt = m.now()
	}
	return nil
}

func clonePlan(p *models.Plan) *models.Plan {
	cp := *p
	cp.Steps = append([]models.PlanStep(nil), p.Steps...)
	return &cp
}
