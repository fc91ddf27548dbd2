package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// ErrNotFound is returned when a task does not exist for the tenant.
var ErrNotFound = errors.New("task not found")

// Store defines the interface for task persistence. Every method is scoped
// to one tenant.
type Store interface {
	// CreateTask inserts a new task.
	CreateTask(ctx context.Context, task *models.Task) error

	// GetTask returns ErrNotFound when the task is missing.
	GetTask(ctx context.Context, tenantID, id string) (*models.Task, error)

	// UpdateProgress stores the current step and state. A non-empty status
	// also replaces the task status.
	UpdateProgress(ctx context.Context, tenantID, id string, step int, state map[string]any, status models.TaskStatus) error

	// SetStatus changes only the status.
	SetStatus(ctx context.Context, tenantID, id string, status models.TaskStatus) error

	// CompleteTask marks the task completed. A non-nil finalState replaces
	// the stored state.
	CompleteTask(ctx context.Context, tenantID, id string, finalState map[string]any) error

	// ListTasks returns tasks ordered by most recently updated.
	ListTasks(ctx context.Context, tenantID string, opts ListOptions) ([]*models.Task, error)

	// FailStale marks planning and executing tasks last updated before the
	// cutoff as failed and returns how many changed.
	FailStale(ctx context.Context, tenantID string, before time.Time) (int, error)
}

// ListOptions configures task listing.
type ListOptions struct {
	// Status filters by task status. Empty matches all.
	Status models.TaskStatus

	// Limit is the maximum number of tasks to return. Defaults to 50.
	Limit int

	// Offset for pagination.
	Offset int
}

// DefaultListLimit is used when ListOptions.Limit is not positive.
const DefaultListLimit = 50
