package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/nexushub/internal/planning"
	"github.com/haasonsaas/nexushub/internal/tasks"
	"github.com/haasonsaas/nexushub/pkg/models"
)

type lifecycleEnv struct {
	*testEnv
	tasks *tasks.Manager
	plans *planning.MemoryStore
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLifecycleEnv(t *testing.T) *lifecycleEnv {
	t.Helper()
	manager := tasks.NewManager(tasks.NewMemoryStore(), tasks.WithLogger(testLogger()))
	plans := planning.NewMemoryStore()
	planner := planning.NewPlanner(nil, plans, planning.WithLogger(testLogger()))
	env := newTestEnv(t, &fakeProcessor{}, WithTasks(manager), WithPlans(planner))
	return &lifecycleEnv{testEnv: env, tasks: manager, plans: plans}
}

func (e *lifecycleEnv) task(t *testing.T, tenantID string, status models.TaskStatus) string {
	t.Helper()
	ctx := context.Background()
	task, err := e.tasks.Create(ctx, tenantID, "ship order A-1", "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if status != task.Status {
		if err := e.tasks.UpdateState(ctx, tenantID, task.ID, 0, nil, status); err != nil {
			t.Fatalf("UpdateState() error = %v", err)
		}
	}
	return task.ID
}

func TestTaskRoutesRequireAuth(t *testing.T) {
	e := newLifecycleEnv(t)
	id := e.task(t, "acme", models.TaskPaused)
	for _, path := range []string{"/v1/tasks/" + id + "/resume", "/v1/tasks/" + id + "/cancel", "/v1/plans/p-1/refine"} {
		if rec := e.do(http.MethodPost, path, `{"current_step":1}`, false); rec.Code != http.StatusUnauthorized {
			t.Errorf("POST %s status = %d, want 401", path, rec.Code)
		}
	}
}

func TestTaskRoutesAbsentWithoutController(t *testing.T) {
	e := newTestEnv(t, &fakeProcessor{})
	if rec := e.do(http.MethodPost, "/v1/tasks/t-1/resume", "", true); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestResumeTask(t *testing.T) {
	e := newLifecycleEnv(t)
	id := e.task(t, "acme", models.TaskPaused)

	rec := e.do(http.MethodPost, "/v1/tasks/"+id+"/resume", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != id || task.Status != models.TaskExecuting {
		t.Errorf("task = %s/%s, want %s/executing", task.ID, task.Status, id)
	}

	// An executing task cannot be resumed again.
	rec = e.do(http.MethodPost, "/v1/tasks/"+id+"/resume", "", true)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second resume status = %d, want 409", rec.Code)
	}
	if body := decodeError(t, rec); body.ErrorID == "" {
		t.Error("conflict response lacks an error id")
	}
}

func TestCancelTask(t *testing.T) {
	e := newLifecycleEnv(t)
	id := e.task(t, "acme", models.TaskExecuting)

	rec := e.do(http.MethodPost, "/v1/tasks/"+id+"/cancel", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body taskStatusBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != models.TaskFailed {
		t.Errorf("status = %s, want failed", body.Status)
	}
	task, err := e.tasks.Get(context.Background(), "acme", id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != models.TaskFailed {
		t.Errorf("stored status = %s, want failed", task.Status)
	}

	if rec := e.do(http.MethodPost, "/v1/tasks/"+id+"/cancel", "", true); rec.Code != http.StatusConflict {
		t.Errorf("second cancel status = %d, want 409", rec.Code)
	}
}

func TestPauseTask(t *testing.T) {
	e := newLifecycleEnv(t)
	id := e.task(t, "acme", models.TaskExecuting)

	if rec := e.do(http.MethodPost, "/v1/tasks/"+id+"/pause", "", true); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(http.MethodPost, "/v1/tasks/"+id+"/pause", "", true); rec.Code != http.StatusConflict {
		t.Errorf("second pause status = %d, want 409", rec.Code)
	}
}

func TestTaskRoutesAreTenantScoped(t *testing.T) {
	e := newLifecycleEnv(t)
	foreign := e.task(t, "globex", models.TaskPaused)

	for _, path := range []string{
		"/v1/tasks/" + foreign + "/resume",
		"/v1/tasks/" + foreign + "/cancel",
		"/v1/tasks/" + foreign + "/pause",
		"/v1/tasks/missing/resume",
	} {
		if rec := e.do(http.MethodPost, path, "", true); rec.Code != http.StatusNotFound {
			t.Errorf("POST %s status = %d, want 404", path, rec.Code)
		}
	}
	if rec := e.do(http.MethodGet, "/v1/tasks/"+foreign, "", true); rec.Code != http.StatusNotFound {
		t.Errorf("GET foreign task status = %d, want 404", rec.Code)
	}
	task, err := e.tasks.Get(context.Background(), "globex", foreign)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if task.Status != models.TaskPaused {
		t.Errorf("foreign task status = %s, want paused", task.Status)
	}
}

func TestListTasks(t *testing.T) {
	e := newLifecycleEnv(t)
	mine := e.task(t, "acme", models.TaskPaused)
	e.task(t, "acme", models.TaskExecuting)
	e.task(t, "globex", models.TaskPaused)

	rec := e.do(http.MethodGet, "/v1/tasks?status=paused", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body taskListBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Tasks) != 1 || body.Tasks[0].ID != mine {
		t.Errorf("tasks = %+v, want only %s", body.Tasks, mine)
	}

	if rec := e.do(http.MethodGet, "/v1/tasks?limit=-1", "", true); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", rec.Code)
	}
}

func TestRefinePlan(t *testing.T) {
	e := newLifecycleEnv(t)
	ctx := context.Background()
	steps := []models.PlanStep{
		{Number: 1, Description: "look up the order", Status: models.StepPending},
		{Number: 2, Description: "check the carrier", Status: models.StepPending},
		{Number: 3, Description: "summarize", Status: models.StepPending},
	}
	for _, p := range []*models.Plan{
		{ID: "plan-acme", TenantID: "acme", Goal: "ship order", Steps: steps, Status: models.PlanExecuting},
		{ID: "plan-globex", TenantID: "globex", Goal: "ship order", Steps: steps, Status: models.PlanExecuting},
	} {
		if err := e.plans.SavePlan(ctx, p); err != nil {
			t.Fatalf("SavePlan() error = %v", err)
		}
	}

	rec := e.do(http.MethodPost, "/v1/plans/plan-acme/refine", `{"current_step":2}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	stored, err := e.plans.GetPlan(ctx, "acme", "plan-acme")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	got := make([]models.StepStatus, len(stored.Steps))
	for i, s := range stored.Steps {
		got[i] = s.Status
	}
	want := []models.StepStatus{models.StepCompleted, models.StepExecuting, models.StepPending}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"other tenant", "/v1/plans/plan-globex/refine", `{"current_step":2}`, http.StatusNotFound},
		{"missing plan", "/v1/plans/nope/refine", `{"current_step":2}`, http.StatusNotFound},
		{"zero step", "/v1/plans/plan-acme/refine", `{"current_step":0}`, http.StatusBadRequest},
		{"malformed body", "/v1/plans/plan-acme/refine", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := e.do(http.MethodPost, tt.path, tt.body, true); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	foreign, err := e.plans.GetPlan(ctx, "globex", "plan-globex")
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if foreign.Steps[0].Status != models.StepPending {
		t.Errorf("foreign plan was refined: %+v", foreign.Steps)
	}
}
