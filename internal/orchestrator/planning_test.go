package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/haasonsaas/nexushub/internal/events"
	"github.com/haasonsaas/nexushub/internal/planning"
	"github.com/haasonsaas/nexushub/internal/reflection"
	"github.com/haasonsaas/nexushub/internal/tasks"
	"github.com/haasonsaas/nexushub/internal/tools"
	"github.com/haasonsaas/nexushub/pkg/models"
)

const (
	orderGoal = "Find my order A-1 and tell me when it is going to arrive"
	orderPlan = `{"steps":[
		{"step_number":1,"description":"Look up the order","tool_name":"order_lookup"},
		{"step_number":2,"description":"Summarize the delivery date"}
	],"estimated_steps":2,"complexity":"simple"}`
)

type planningFixture struct {
	*fixture
	plans    *planning.MemoryStore
	tasks    *tasks.Manager
	insights *reflection.MemoryStore
	lookup   *fakeToolProvider
}

func newPlanningFixture(t *testing.T, llm *scriptedLLM) *planningFixture {
	t.Helper()
	plans := planning.NewMemoryStore()
	insights := reflection.NewMemoryStore(func(tenantID, planID string) string {
		p, err := plans.GetPlan(context.Background(), tenantID, planID)
		if err != nil {
			return ""
		}
		return p.Goal
	})
	manager := tasks.NewManager(tasks.NewMemoryStore(), tasks.WithLogger(testLogger()))
	planner := planning.NewPlanner(llm, plans, planning.WithLogger(testLogger()))
	reflector := reflection.NewReflector(insights, reflection.WithLogger(testLogger()))

	tc := testTenant()
	tc.PlanningEnabled = true
	lookup := &fakeToolProvider{kind: models.ProviderCustomHTTP, res: tools.Result{"eta": "Friday"}}
	defs := []models.ToolDefinition{{Name: "order_lookup", Provider: models.ProviderCustomHTTP}}

	f := newFixture(t, tc, defs, llm, []tools.ToolProvider{lookup},
		WithPlanning(planner, manager),
		WithReflector(reflector),
	)
	return &planningFixture{fixture: f, plans: plans, tasks: manager, insights: insights, lookup: lookup}
}

func TestPlannedTaskCompletes(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{resp: textResponse(orderPlan)},
		{resp: toolResponse("", models.ToolCall{ID: "c1", Name: "order_lookup", Input: json.RawMessage(`{"order":"A-1"}`)})},
		{resp: textResponse("Your order arrives Friday.")},
	}}
	f := newPlanningFixture(t, llm)
	ctx := context.Background()

	out, err := f.orch.ProcessInboundMessage(ctx, inbound("acme", orderGoal), "acme")
	if err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
	if out.PlanID == "" || out.TaskID == "" {
		t.Fatalf("plan/task ids = %q/%q, want both set", out.PlanID, out.TaskID)
	}
	if out.Message.Metadata["plan_id"] != out.PlanID || out.Message.Metadata["task_id"] != out.TaskID {
		t.Errorf("metadata = %v", out.Message.Metadata)
	}

	reqs := llm.calls()
	if len(reqs) != 3 {
		t.Fatalf("llm calls = %d, want 3", len(reqs))
	}
	if reqs[0].Model != "gpt-4o-mini" {
		t.Errorf("planning model = %q, want gpt-4o-mini", reqs[0].Model)
	}
	guided := false
	for _, m := range reqs[1].Messages {
		if m.Role == models.RoleSystem && strings.Contains(m.Content, "1. Look up the order (tool: order_lookup)") {
			guided = true
		}
	}
	if !guided {
		t.Error("plan was not offered to the model")
	}

	task, err := f.tasks.Get(ctx, "acme", out.TaskID)
	if err != nil {
		t.Fatalf("Get(task) error = %v", err)
	}
	if task.Status != models.TaskCompleted {
		t.Errorf("task status = %s, want completed", task.Status)
	}
	if task.State["response"] != "Your order arrives Friday." {
		t.Errorf("task state = %v", task.State)
	}
	plan, err := f.plans.GetPlan(ctx, "acme", out.PlanID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan.Status != models.PlanCompleted {
		t.Errorf("plan status = %s, want completed", plan.Status)
	}

	insights, err := f.insights.RecentInsights(ctx, "acme", 5)
	if err != nil {
		t.Fatalf("RecentInsights() error = %v", err)
	}
	if len(insights) != 1 {
		t.Fatalf("insights = %d, want 1", len(insights))
	}
	if got := insights[0].Metrics.FinalOutcome; got != reflection.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", got)
	}
	if insights[0].Goal != orderGoal {
		t.Errorf("insight goal = %q", insights[0].Goal)
	}
	if countTypes(f.events.Types(), events.PlanCreated) != 1 {
		t.Errorf("events = %v, want one plan_created", f.events.Types())
	}
}

func TestPlanStepsAdvanceAsToolsRun(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{resp: textResponse(orderPlan)},
		{resp: toolResponse("", models.ToolCall{ID: "c1", Name: "order_lookup", Input: json.RawMessage(`{"order":"A-1"}`)})},
		{resp: textResponse("Your order arrives Friday.")},
	}}
	f := newPlanningFixture(t, llm)
	ctx := context.Background()

	out, err := f.orch.ProcessInboundMessage(ctx, inbound("acme", orderGoal), "acme")
	if err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
	plan, err := f.plans.GetPlan(ctx, "acme", out.PlanID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	got := make([]models.StepStatus, len(plan.Steps))
	for i, s := range plan.Steps {
		got[i] = s.Status
	}
	want := []models.StepStatus{models.StepCompleted, models.StepExecuting}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("step statuses mismatch (-want +got):\n%s", diff)
	}
	task, err := f.tasks.Get(ctx, "acme", out.TaskID)
	if err != nil {
		t.Fatalf("Get(task) error = %v", err)
	}
	if task.CurrentStep != 1 {
		t.Errorf("task current step = %d, want 1", task.CurrentStep)
	}
}

func TestPlannedTaskFailsWithoutAnswer(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{resp: textResponse(orderPlan)},
		{resp: textResponse("")},
	}}
	f := newPlanningFixture(t, llm)
	ctx := context.Background()

	out, err := f.orch.ProcessInboundMessage(ctx, inbound("acme", orderGoal), "acme")
	if err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
	task, err := f.tasks.Get(ctx, "acme", out.TaskID)
	if err != nil {
		t.Fatalf("Get(task) error = %v", err)
	}
	if task.Status != models.TaskFailed {
		t.Errorf("task status = %s, want failed", task.Status)
	}
	plan, err := f.plans.GetPlan(ctx, "acme", out.PlanID)
	if err != nil {
		t.Fatalf("GetPlan() error = %v", err)
	}
	if plan.Status != models.PlanFailed {
		t.Errorf("plan status = %s, want failed", plan.Status)
	}
	insights, _ := f.insights.RecentInsights(ctx, "acme", 5)
	if len(insights) != 1 || insights[0].Metrics.FinalOutcome != reflection.OutcomeFailed {
		t.Errorf("insights = %+v, want one failed outcome", insights)
	}

	if _, err := f.tasks.Resume(ctx, "acme", out.TaskID); err != nil {
		t.Errorf("Resume(failed task) error = %v", err)
	}
}

func TestPlanFailureFallsBackToReactive(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{resp: textResponse("I would rather not plan.")},
		{resp: textResponse("Your order arrives Friday.")},
	}}
	f := newPlanningFixture(t, llm)

	out, err := f.orch.ProcessInboundMessage(context.Background(), inbound("acme", orderGoal), "acme")
	if err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
	if out.PlanID != "" || out.TaskID != "" {
		t.Errorf("plan/task ids = %q/%q, want none", out.PlanID, out.TaskID)
	}
	if out.Message.Content.Text != "Your order arrives Friday." {
		t.Errorf("answer = %q", out.Message.Content.Text)
	}
	if countTypes(f.events.Types(), events.PlanFailed) != 1 {
		t.Errorf("events = %v, want one plan_generation_failed", f.events.Types())
	}
}

func TestShortMessagesSkipPlanning(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{{resp: textResponse("Hi!")}}}
	f := newPlanningFixture(t, llm)

	out, err := f.orch.ProcessInboundMessage(context.Background(), inbound("acme", "hello"), "acme")
	if err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
	if out.PlanID != "" {
		t.Errorf("PlanID = %q for a short message", out.PlanID)
	}
	if n := len(llm.calls()); n != 1 {
		t.Errorf("llm calls = %d, want 1", n)
	}
}

type panickingReflector struct{}

func (panickingReflector) Reflect(context.Context, *models.TenantContext, string, string, []reflection.StepResult, string) (*models.Insight, error) {
	panic("boom")
}

func TestReflectorPanicDoesNotFailTurn(t *testing.T) {
	llm := &scriptedLLM{steps: []llmStep{
		{resp: textResponse(orderPlan)},
		{resp: textResponse("Your order arrives Friday.")},
	}}
	f := newPlanningFixture(t, llm)
	f.orch.reflector = panickingReflector{}

	if _, err := f.orch.ProcessInboundMessage(context.Background(), inbound("acme", orderGoal), "acme"); err != nil {
		t.Fatalf("ProcessInboundMessage() error = %v", err)
	}
}
