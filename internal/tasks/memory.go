package tasks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// MemoryStore is an in-process Store for tests and single-node dev runs.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*models.Task), now: time.Now}
}

func (m *MemoryStore) CreateTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := cloneTask(task)
	now := m.now()
	cp.CreatedAt, cp.UpdatedAt = now, now
	m.tasks[task.ID] = cp
	return nil
}

// find must be called with mu held. Tasks of other tenants are invisible.
func (m *MemoryStore) find(tenantID, id string) *models.Task {
	t, ok := m.tasks[id]
	if !ok || t.TenantID != tenantID {
		return nil
	}
	return t
}

func (m *MemoryStore) GetTask(_ context.Context, tenantID, id string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(tenantID, id)
	if t == nil {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

func (m *MemoryStore) UpdateProgress(_ context.Context, tenantID, id string, step int, state map[string]any, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(tenantID, id)
	if t == nil {
		return nil
	}
	t.CurrentStep = step
	t.State = cloneState(state)
	if status != "" {
		t.Status = status
	}
	t.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) SetStatus(_ context.Context, tenantID, id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.find(tenantID, id); t != nil {
		t.Status = status
		t.UpdatedAt = m.now()
	}
	return nil
}

func (m *MemoryStore) CompleteTask(_ context.Context, tenantID, id string, finalState map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.find(tenantID, id)
	if t == nil {
		return nil
	}
	now := m.now()
	t.Status = models.TaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	if finalState != nil {
		t.State = cloneState(finalState)
	}
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, tenantID string, opts ListOptions) ([]*models.Task, error) {
	m.mu.Lock()
	var out []*models.Task
	for _, t := range m.tasks {
		if t.TenantID != tenantID {
			continue
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if opts.Offset >= len(out) {
		return nil, nil
	}
	out = out[opts.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) FailStale(_ context.Context, tenantID string, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	now := m.now()
	for _, t := range m.tasks {
		if t.TenantID != tenantID || !t.UpdatedAt.Before(before) {
			continue
		}
		if t.Status == models.TaskPlanning || t.Status == models.TaskExecuting {
			t.Status = models.TaskFailed
			t.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func cloneTask(t *models.Task) *models.Task {
	cp := *t
	cp.State = cloneState(t.State)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

func cloneState(state map[string]any) map[string]any {
	cp := make(map[string]any, len(state))
	for k, v := range state {
		cp[k] = v
	}
	return cp
}
