package models

import "time"

// PlanStatus is the lifecycle state of a plan.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanExecuting PlanStatus = "executing"
	PlanCompleted PlanStatus = "completed"
	PlanFailed    PlanStatus = "failed"
)

// StepStatus is the state of one plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// PlanStep is one action in a plan. ToolName is nil when the step needs no
// tool or named a tool the tenant cannot use.
type PlanStep struct {
	Number          int            `json:"step_number"`
	Description     string         `json:"description"`
	ToolName        *string        `json:"tool_name"`
	ToolArguments   map[string]any `json:"tool_arguments"`
	DependsOn       []int          `json:"depends_on"`
	SuccessCriteria string         `json:"success_criteria"`
	Status          StepStatus     `json:"status"`
}

// Plan is a multi-step decomposition of a user goal.
type Plan struct {
	ID             string     `json:"plan_id"`
	TenantID       string     `json:"tenant_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	Goal           string     `json:"goal"`
	Steps          []PlanStep `json:"steps"`
	Status         PlanStatus `json:"status"`
	EstimatedSteps int        `json:"estimated_steps"`
	Complexity     string     `json:"complexity"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPlanning  TaskStatus = "planning"
	TaskExecuting TaskStatus = "executing"
	TaskPaused    TaskStatus = "paused"
	TaskFailed    TaskStatus = "failed"
	TaskCompleted TaskStatus = "completed"
)

// Task tracks execution progress of a goal so it can be resumed.
type Task struct {
	ID             string         `json:"task_id"`
	TenantID       string         `json:"tenant_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	PlanID         string         `json:"plan_id,omitempty"`
	Goal           string         `json:"goal"`
	CurrentStep    int            `json:"current_step"`
	State          map[string]any `json:"state"`
	Status         TaskStatus     `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// FailedStep describes one step that did not succeed.
type FailedStep struct {
	Number   int    `json:"step_number"`
	Error    string `json:"error"`
	ToolName string `json:"tool_name,omitempty"`
}

// InsightMetrics summarizes one execution.
type InsightMetrics struct {
	FinalOutcome          string         `json:"final_outcome"`
	TotalSteps            int            `json:"total_steps"`
	SuccessfulSteps       int            `json:"successful_steps"`
	FailedSteps           int            `json:"failed_steps"`
	SuccessRate           float64        `json:"success_rate"`
	SuccessfulStepNumbers []int          `json:"successful_step_numbers"`
	FailedStepDetails     []FailedStep   `json:"failed_step_details"`
	ToolUsage             map[string]int `json:"tool_usage"`
	MostUsedTool          string         `json:"most_used_tool,omitempty"`
}

// Recommendations are suggestions derived from an execution.
type Recommendations struct {
	Suggestions  []string `json:"suggestions"`
	Improvements []string `json:"improvements"`
}

// Insight is the reflection on one plan execution.
type Insight struct {
	ID              string          `json:"insight_id"`
	TenantID        string          `json:"tenant_id"`
	PlanID          string          `json:"plan_id,omitempty"`
	TaskID          string          `json:"task_id,omitempty"`
	Goal            string          `json:"goal,omitempty"`
	Metrics         InsightMetrics  `json:"insights"`
	Recommendations Recommendations `json:"recommendations"`
	CreatedAt       time.Time       `json:"created_at"`
}
