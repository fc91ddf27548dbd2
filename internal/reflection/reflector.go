// Package reflection turns finished plan executions into insights that
// later planning calls can learn from.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// Outcomes passed to Reflect.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// StepStatusSuccess marks a successful step result.
const StepStatusSuccess = "success"

// StepResult is the outcome of one executed step.
type StepResult struct {
	Number   int    `json:"step_number"`
	Status   string `json:"status"`
	ToolName string `json:"tool_name,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Reflector computes and stores insights.
type Reflector struct {
	store  Store
	logger *slog.Logger
	newID  func() string
	now    func() time.Time
}

// Option configures a Reflector.
type Option func(*Reflector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reflector) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReflector creates a reflector persisting to store.
func NewReflector(store Store, opts ...Option) *Reflector {
	r := &Reflector{
		store:  store,
		logger: slog.Default(),
		newID:  uuid.NewString,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "reflector")
	return r
}

// Reflect analyzes results, stores the insight and returns it.
func (r *Reflector) Reflect(ctx context.Context, tc *models.TenantContext, planID, taskID string, results []StepResult, outcome string) (*models.Insight, error) {
	if tc == nil {
		return nil, fmt.Errorf("tenant context is required")
	}
	metrics := Analyze(results, outcome)
	insight := &models.Insight{
		ID:              r.newID(),
		TenantID:        tc.TenantID,
		PlanID:          planID,
		TaskID:          taskID,
		Metrics:         metrics,
		Recommendations: Recommend(metrics),
		CreatedAt:       r.now(),
	}
	if err := r.store.SaveInsight(ctx, insight); err != nil {
		return nil, err
	}
	r.logger.Debug("insight stored",
		"tenant_id", tc.TenantID,
		"insight_id", insight.ID,
		"plan_id", planID,
		"success_rate", metrics.SuccessRate,
	)
	return insight, nil
}

// Similar returns the tenant's most recent insights. The goal is accepted for
// a future similarity ranking and is not used yet.
func (r *Reflector) Similar(ctx context.Context, tenantID, goal string, limit int) ([]models.Insight, error) {
	if limit <= 0 {
		limit = 5
	}
	return r.store.RecentInsights(ctx, tenantID, limit)
}

// Analyze computes execution metrics. Tool usage counts successful steps
// only; ties for most used go to the tool seen first.
func Analyze(results []StepResult, outcome string) models.InsightMetrics {
	m := models.InsightMetrics{
		FinalOutcome:          outcome,
		TotalSteps:            len(results),
		SuccessfulStepNumbers: []int{},
		FailedStepDetails:     []models.FailedStep{},
		ToolUsage:             map[string]int{},
	}

	var order []string
	for _, res := range results {
		if res.Status != StepStatusSuccess {
			errMsg := res.Error
			if errMsg == "" {
				errMsg = "Unknown error"
			}
			m.FailedStepDetails = append(m.FailedStepDetails, models.FailedStep{
				Number:   res.Number,
				Error:    errMsg,
				ToolName: res.ToolName,
			})
			continue
		}
		m.SuccessfulStepNumbers = append(m.SuccessfulStepNumbers, res.Number)
		if res.ToolName != "" {
			if m.ToolUsage[res.ToolName] == 0 {
				order = append(order, res.ToolName)
			}
			m.ToolUsage[res.ToolName]++
		}
	}

	m.SuccessfulSteps = len(m.SuccessfulStepNumbers)
	m.FailedSteps = len(m.FailedStepDetails)
	if m.TotalSteps > 0 {
		m.SuccessRate = float64(m.SuccessfulSteps) / float64(m.TotalSteps)
	}
	best := 0
	for _, name := range order {
		if n := m.ToolUsage[name]; n > best {
			best = n
			m.MostUsedTool = name
		}
	}
	return m
}

// Recommend derives suggestions from metrics.
func Recommend(m models.InsightMetrics) models.Recommendations {
	rec := models.Recommendations{Suggestions: []string{}, Improvements: []string{}}
	if m.FailedSteps > 0 {
		rec.Suggestions = append(rec.Suggestions,
			fmt.Sprintf("Review %d failed steps and consider alternative approaches", m.FailedSteps))
		rec.Improvements = append(rec.Improvements, "Add error handling for common failure patterns")
	}
	if m.SuccessfulSteps == m.TotalSteps {
		rec.Suggestions = append(rec.Suggestions, "Plan executed successfully - consider caching similar plans")
	}
	if m.MostUsedTool != "" {
		rec.Suggestions = append(rec.Suggestions,
			fmt.Sprintf("Tool '%s' was used %d times - consider optimizing its usage", m.MostUsedTool, m.ToolUsage[m.MostUsedTool]))
	}
	return rec
}
