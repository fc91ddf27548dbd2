// Package planning decomposes a user goal into a multi-step plan using the
// tenant's LLM and the tools the tenant may call.
package planning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/retry"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// miniPlanningModel is used for OpenAI tenants whose model is not already
// a mini variant.
const miniPlanningModel = "gpt-4o-mini"

const planningSystemPrompt = "You are a planning assistant. Always respond with valid JSON only, no additional text."

const planningPromptTemplate = `You are an AI planning assistant. Break the user's goal down into a structured, executable plan.

Using the user's goal and the available tools, produce a step-by-step plan that:
1. Splits the goal into clear, actionable steps
2. Names the tool each step needs, if any
3. Lists dependencies between steps
4. States success criteria for each step

Available tools:
%s

User goal: %s

Respond with a JSON object in exactly this format:
{
    "steps": [
        {
            "step_number": 1,
            "description": "Clear description of what this step does",
            "tool_name": "tool_name_here" or null if no tool needed,
            "tool_arguments": {} or null,
            "depends_on": [] (list of step numbers this step depends on),
            "success_criteria": "What indicates this step succeeded"
        }
    ],
    "estimated_steps": <number of steps>,
    "complexity": "low" | "medium" | "high"
}

Keep the plan focused and actionable. Each step should be specific and measurable.`

// LLM is the slice of the provider gateway the planner needs.
type LLM interface {
	Call(ctx context.Context, provider string, req *providers.Request) (*providers.Response, error)
}

// InsightSource returns past insights for similar goals.
type InsightSource interface {
	Similar(ctx context.Context, tenantID, goal string, limit int) ([]models.Insight, error)
}

// Planner creates and refines plans.
type Planner struct {
	llm      LLM
	store    Store
	insights InsightSource
	retry    retry.Config
	logger   *slog.Logger
	newID    func() string
}

// Option configures a Planner.
type Option func(*Planner)

// WithInsights enables past-insight context in planning prompts.
func WithInsights(src InsightSource) Option {
	return func(p *Planner) { p.insights = src }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithRetry overrides the retry policy for planning calls.
func WithRetry(cfg retry.Config) Option {
	return func(p *Planner) { p.retry = cfg }
}

// DefaultRetry is the retry policy for planning calls.
func DefaultRetry() retry.Config {
	return retry.Config{
		MaxRetries:     2,
		InitialDelay:   time.Second,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
	}
}

// NewPlanner creates a planner.
func NewPlanner(llm LLM, store Store, opts ...Option) *Planner {
	p := &Planner{
		llm:    llm,
		store:  store,
		retry:  DefaultRetry(),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "planner")
	return p
}

// CreatePlan asks the tenant's LLM for a plan and stores it as a draft.
// Steps naming tools outside tools keep their description with no tool.
func (p *Planner) CreatePlan(ctx context.Context, tc *models.TenantContext, goal string, tools []models.ToolDefinition, conversationID, messageID string) (*models.Plan, error) {
	if tc == nil {
		return nil, planError(errors.New("tenant context is required"))
	}

	req := &providers.Request{
		Model: PlanningModel(tc.LLMProvider, tc.LLMModel),
		Messages: []providers.Message{
			{Role: models.RoleSystem, Content: planningSystemPrompt},
			{Role: models.RoleUser, Content: p.buildPrompt(ctx, tc.TenantID, goal, tools)},
		},
	}

	resp, err := infra.ResilientCall(ctx, infra.Resilience{Retry: p.retry}, func(ctx context.Context) (*providers.Response, error) {
		return p.llm.Call(ctx, tc.LLMProvider, req)
	})
	if err != nil {
		p.logger.Error("planning call failed", "tenant_id", tc.TenantID, "error", err)
		return nil, planError(err)
	}

	parsed, err := parsePlan(resp.Text, tools)
	if err != nil {
		p.logger.Error("failed to parse plan", "tenant_id", tc.TenantID, "error", err, "text", truncate(resp.Text, 200))
		return nil, planError(err)
	}

	plan := &models.Plan{
		ID:             p.newID(),
		TenantID:       tc.TenantID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Goal:           goal,
		Steps:          parsed.steps,
		Status:         models.PlanDraft,
		EstimatedSteps: parsed.estimatedSteps,
		Complexity:     parsed.complexity,
	}
	if err := p.store.SavePlan(ctx, plan); err != nil {
		return nil, planError(err)
	}
	p.logger.Info("plan created",
		"tenant_id", tc.TenantID,
		"plan_id", plan.ID,
		"steps", len(plan.Steps),
		"complexity", plan.Complexity,
	)
	return plan, nil
}

// RefinePlan marks steps before currentStep completed, currentStep
// executing and the rest pending.
func (p *Planner) RefinePlan(ctx context.Context, tc *models.TenantContext, planID string, currentStep int) (*models.Plan, error) {
	plan, err := p.store.GetPlan(ctx, tc.TenantID, planID)
	if errors.Is(err, ErrNotFound) {
		return nil, faults.Wrap(faults.KindBusinessLogic, err, fmt.Sprintf("plan %s not found", planID)).WithOp("refine_plan")
	}
	if err != nil {
		return nil, err
	}
	for i := range plan.Steps {
		switch n := plan.Steps[i].Number; {
		case n < currentStep:
			plan.Steps[i].Status = models.StepCompleted
		case n == currentStep:
			plan.Steps[i].Status = models.StepExecuting
		default:
			plan.Steps[i].Status = models.StepPending
		}
	}
	if err := p.store.UpdateSteps(ctx, tc.TenantID, planID, plan.Steps); err != nil {
		return nil, err
	}
	return plan, nil
}

// UpdateStatus sets the plan status.
func (p *Planner) UpdateStatus(ctx context.Context, tenantID, planID string, status models.PlanStatus) error {
	return p.store.UpdateStatus(ctx, tenantID, planID, status)
}

// PlanningModel picks the model used for planning. OpenAI tenants plan with
// a mini model unless theirs already is one.
func PlanningModel(provider, model string) string {
	if strings.EqualFold(provider, "openai") && !strings.Contains(strings.ToLower(model), "mini") {
		return miniPlanningModel
	}
	return model
}

func (p *Planner) buildPrompt(ctx context.Context, tenantID, goal string, tools []models.ToolDefinition) string {
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("- %s: %s", t.Name, t.Description))
	}
	toolsText := "No tools available"
	if len(lines) > 0 {
		toolsText = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(planningPromptTemplate, toolsText, goal) + p.insightContext(ctx, tenantID, goal)
}

// insightContext is best-effort: a lookup failure only drops the context.
func (p *Planner) insightContext(ctx context.Context, tenantID, goal string) string {
	if p.insights == nil {
		return ""
	}
	insights, err := p.insights.Similar(ctx, tenantID, goal, 3)
	if err != nil {
		p.logger.Warn("similar insight lookup failed", "tenant_id", tenantID, "error", err)
		return ""
	}
	if len(insights) == 0 {
		return ""
	}
	if len(insights) > 2 {
		insights = insights[:2]
	}

	var b strings.Builder
	b.WriteString("\n\nPAST SIMILAR TASKS AND OUTCOMES:\n")
	for _, in := range insights {
		fmt.Fprintf(&b, "- Goal: %s\n", orNA(in.Goal))
		fmt.Fprintf(&b, "  Outcome: %s\n", orNA(in.Metrics.FinalOutcome))
		if len(in.Recommendations.Suggestions) > 0 {
			fmt.Fprintf(&b, "  Suggestion: %s\n", in.Recommendations.Suggestions[0])
		}
	}
	b.WriteString("\nConsider these insights when creating your plan.\n")
	return b.String()
}

type parsedPlan struct {
	steps          []models.PlanStep
	estimatedSteps int
	complexity     string
}

// parsePlan decodes the model's answer. Steps missing a number or a
// description are dropped; unknown tool names are cleared.
func parsePlan(text string, tools []models.ToolDefinition) (*parsedPlan, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, errors.New("empty response from planning LLM")
	}

	var raw struct {
		Steps          json.RawMessage `json:"steps"`
		EstimatedSteps any             `json:"estimated_steps"`
		Complexity     any             `json:"complexity"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON in plan response: %w", err)
	}
	var rawSteps []map[string]any
	if len(raw.Steps) == 0 || json.Unmarshal(raw.Steps, &rawSteps) != nil {
		return nil, errors.New("plan must have a 'steps' array")
	}

	known := make(map[string]bool, len(tools))
	for _, t := range tools {
		known[t.Name] = true
	}

	steps := make([]models.PlanStep, 0, len(rawSteps))
	for _, rs := range rawSteps {
		number, ok := toInt(rs["step_number"])
		if !ok {
			continue
		}
		desc, ok := rs["description"]
		if !ok || desc == nil {
			continue
		}
		step := models.PlanStep{
			Number:        number,
			Description:   fmt.Sprint(desc),
			ToolArguments: map[string]any{},
			DependsOn:     []int{},
			Status:        models.StepPending,
		}
		if name, ok := rs["tool_name"].(string); ok && name != "" {
			if known[name] {
				step.ToolName = &name
			}
		}
		if args, ok := rs["tool_arguments"].(map[string]any); ok {
			step.ToolArguments = args
		}
		if deps, ok := rs["depends_on"].([]any); ok {
			for _, d := range deps {
				if n, ok := toInt(d); ok {
					step.DependsOn = append(step.DependsOn, n)
				}
			}
		}
		if sc, ok := rs["success_criteria"].(string); ok {
			step.SuccessCriteria = sc
		}
		steps = append(steps, step)
	}
	if len(steps) == 0 {
		return nil, errors.New("no valid steps in plan")
	}

	out := &parsedPlan{steps: steps, estimatedSteps: len(steps), complexity: "medium"}
	if n, ok := toInt(raw.EstimatedSteps); ok {
		out.estimatedSteps = n
	}
	if c, ok := raw.Complexity.(string); ok && c != "" {
		out.complexity = c
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown code block.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = strings.TrimPrefix(text, "json")
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func planError(err error) error {
	return faults.Wrap(faults.KindPlanGenerationFailed, err, "plan generation failed: "+err.Error())
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
