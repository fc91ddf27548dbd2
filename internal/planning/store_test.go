package planning

import (
	"context"
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
	return NewPostgresStore(db), mock
}

func expectTenantScope(mock sqlmock.Sqlmock, tenantID string) {
	mock.ExpectBegin()
	mock.ExpectExec("set_config").WithArgs(tenantID).WillReturnResult(sqlmock.NewResult(0, 1))
}

func TestPostgresStoreSavePlan(t *testing.T) {
	store, mock := setupMockStore(t)
	expectTenantScope(mock, "acme")
	mock.ExpectExec("INSERT INTO agentic_plans").
		WithArgs("plan-1", "acme", "conv-1", nil, "goal",
			[]byte(`[{"step_number":1,"description":"look","tool_name":null,"tool_arguments":{},"depends_on":[],"success_criteria":"","status":"pending"}]`),
			"draft").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SavePlan(context.Background(), &models.Plan{
		ID:             "plan-1",
		TenantID:       "acme",
		ConversationID: "conv-1",
		Goal:           "goal",
		Status:         models.PlanDraft,
		Steps: []models.PlanStep{{
			Number:        1,
			Description:   "look",
			ToolArguments: map[string]any{},
			DependsOn:     []int{},
			Status:        models.StepPending,
		}},
	})
	if err != nil {
		t.Fatalf("SavePlan() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetPlan(t *testing.T) {
	store, mock := setupMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expectTenantScope(mock, "acme")
	mock.ExpectQuery("FROM agentic_plans").WithArgs("plan-1", "acme").WillReturnRows(
		sqlmock.NewRows([]string{"conversation_id", "message_id", "goal", "plan_steps", "status", "created_at", "updated_at"}).
			AddRow("conv-1", nil, "goal", []byte(`[{"step_number":1,"description":"a","tool_name":"file_search","status":"completed"},{"step_number":2,"description":"b","tool_name":null,"status":"pending"}]`), "executing", now, now))
	mock.ExpectCommit()

	plan, err := store.GetPlan(context.Background(), "acme", "plan-1")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan.Status != models.PlanExecuting || plan.EstimatedSteps != 2 || plan.MessageID != "" {
		t.Errorf("plan = %+v", plan)
	}
	if plan.Steps[0].ToolName == nil || *plan.Steps[0].ToolName != "file_search" || plan.Steps[1].ToolName != nil {
		t.Errorf("steps = %+v", plan.Steps)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreGetPlanNotFound(t *testing.T) {
	store, mock := setupMockStore(t)
	expectTenantScope(mock, "acme")
	mock.ExpectQuery("FROM agentic_plans").WithArgs("nope", "acme").
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id"}))
	mock.ExpectRollback()

	if _, err := store.GetPlan(context.Background(), "acme", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPlan() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStoreUpdateStatus(t *testing.T) {
	store, mock := setupMockStore(t)
	expectTenantScope(mock, "acme")
	mock.ExpectExec("UPDATE agentic_plans").WithArgs("plan-1", "acme", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.UpdateStatus(context.Background(), "acme", "plan-1", models.PlanFailed); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
