// Package tasks persists agentic task state so multi-step work can be
// paused, resumed, cancelled and swept when it stalls.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Manager applies the task state machine on top of a Store.
type Manager struct {
	store  Store
	logger *slog.Logger
	newID  func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager creates a manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "task-manager")
	return m
}

// Create starts a task for goal. Tasks with a plan begin in planning, the
// rest go straight to executing.
func (m *Manager) Create(ctx context.Context, tenantID, goal, planID, conversationID string) (*models.Task, error) {
	status := models.TaskExecuting
	if planID != "" {
		status = models.TaskPlanning
	}
	task := &models.Task{
		ID:             m.newID(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		PlanID:         planID,
		Goal:           goal,
		State:          map[string]any{},
		Status:         status,
	}
	if err := m.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// UpdateState records progress after a step. An empty status leaves the
// status unchanged.
func (m *Manager) UpdateState(ctx context.Context, tenantID, taskID string, step int, state map[string]any, status models.TaskStatus) error {
	return m.store.UpdateProgress(ctx, tenantID, taskID, step, state, status)
}

// Get returns the task or a non-retryable business logic fault when it does
// not exist.
func (m *Manager) Get(ctx context.Context, tenantID, taskID string) (*models.Task, error) {
	task, err := m.store.GetTask(ctx, tenantID, taskID)
	if errors.Is(err, ErrNotFound) {
		return nil, faults.Wrap(faults.KindBusinessLogic, err, fmt.Sprintf("task %s not found", taskID)).WithOp("get_task")
	}
	return task, err
}

// Resume moves a paused or failed task back to executing.
func (m *Manager) Resume(ctx context.Context, tenantID, taskID string) (*models.Task, error) {
	task, err := m.Get(ctx, tenantID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != models.TaskPaused && task.Status != models.TaskFailed {
		return nil, transitionError("resume_task", taskID, "cannot be resumed from status "+string(task.Status))
	}
	if err := m.store.SetStatus(ctx, tenantID, taskID, models.TaskExecuting); err != nil {
		return nil, err
	}
	task.Status = models.TaskExecuting
	m.logger.Info("task resumed", "tenant_id", tenantID, "task_id", taskID)
	return task, nil
}

// Cancel fails a task that has not already finished.
func (m *Manager) Cancel(ctx context.Context, tenantID, taskID string) error {
	task, err := m.Get(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	if task.Status == models.TaskCompleted || task.Status == models.TaskFailed {
		return transitionError("cancel_task", taskID, "is already "+string(task.Status))
	}
	return m.store.SetStatus(ctx, tenantID, taskID, models.TaskFailed)
}

// Pause suspends a planning or executing task so it can be resumed later.
func (m *Manager) Pause(ctx context.Context, tenantID, taskID string) error {
	task, err := m.Get(ctx, tenantID, taskID)
	if err != nil {
		return err
	}
	if task.Status != models.TaskPlanning && task.Status != models.TaskExecuting {
		return transitionError("pause_task", taskID, "cannot be paused from status "+string(task.Status))
	}
	return m.store.SetStatus(ctx, tenantID, taskID, models.TaskPaused)
}

// Complete marks the task completed. A nil finalState keeps the stored state.
func (m *Manager) Complete(ctx context.Context, tenantID, taskID string, finalState map[string]any) error {
	return m.store.CompleteTask(ctx, tenantID, taskID, finalState)
}

// Fail marks the task failed regardless of its current status.
func (m *Manager) Fail(ctx context.Context, tenantID, taskID string, state map[string]any, step int) error {
	return m.store.UpdateProgress(ctx, tenantID, taskID, step, state, models.TaskFailed)
}

// List returns the tenant's tasks, most recently updated first.
func (m *Manager) List(ctx context.Context, tenantID string, status models.TaskStatus, limit, offset int) ([]*models.Task, error) {
	return m.store.ListTasks(ctx, tenantID, ListOptions{Status: status, Limit: limit, Offset: offset})
}

func transitionError(op, taskID, reason string) error {
	return faults.Newf(faults.KindBusinessLogic, "task %s %s", taskID, reason).
		WithOp(op).
		WithRetryable(false)
}
