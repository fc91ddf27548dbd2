package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexushub/pkg/models"
)

type fakeTenants struct {
	timeouts map[string]time.Duration
	listErr  error
}

func (f *fakeTenants) TenantIDs(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	ids := make([]string, 0, len(f.timeouts))
	for id := range f.timeouts {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeTenants) Load(_ context.Context, id string) (*models.TenantContext, error) {
	timeout, ok := f.timeouts[id]
	if !ok {
		return nil, errors.New("unknown tenant")
	}
	return &models.TenantContext{TenantID: id, PlanTimeout: timeout}, nil
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	if _, err := NewSweeper(NewMemoryStore(), &fakeTenants{}, SweeperConfig{Schedule: "not a schedule"}); err == nil {
		t.Fatal("NewSweeper() expected error for invalid schedule")
	}
	s, err := NewSweeper(NewMemoryStore(), &fakeTenants{}, SweeperConfig{})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	if s.config.Schedule != "@every 1m" || s.config.DefaultTimeout != models.DefaultPlanTimeout {
		t.Errorf("defaults = %+v", s.config)
	}
}

func TestSweepOnce(t *testing.T) {
	store := NewMemoryStore()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return start }
	ctx := context.Background()

	seed := []*models.Task{
		{ID: "stuck", TenantID: "acme", Status: models.TaskExecuting},
		{ID: "planning", TenantID: "acme", Status: models.TaskPlanning},
		{ID: "paused", TenantID: "acme", Status: models.TaskPaused},
		{ID: "slow-tenant", TenantID: "globex", Status: models.TaskExecuting},
	}
	for _, task := range seed {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask() error = %v", err)
		}
	}

	tenants := &fakeTenants{timeouts: map[string]time.Duration{
		"acme":   2 * time.Minute,
		"globex": 10 * time.Minute,
	}}
	s, err := NewSweeper(store, tenants, SweeperConfig{})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	s.now = func() time.Time { return start.Add(5 * time.Minute) }

	n, err := s.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SweepOnce() = %d, want 2", n)
	}

	want := map[string]models.TaskStatus{
		"stuck":       models.TaskFailed,
		"planning":    models.TaskFailed,
		"paused":      models.TaskPaused,
		"slow-tenant": models.TaskExecuting,
	}
	for _, task := range seed {
		got, err := store.GetTask(ctx, task.TenantID, task.ID)
		if err != nil {
			t.Fatalf("GetTask(%s) error = %v", task.ID, err)
		}
		if got.Status != want[task.ID] {
			t.Errorf("%s status = %q, want %q", task.ID, got.Status, want[task.ID])
		}
	}

	m := NewManager(store)
	if _, err := m.Resume(ctx, "acme", "stuck"); err != nil {
		t.Errorf("swept task should be resumable: %v", err)
	}
}

func TestSweepOnceListError(t *testing.T) {
	s, err := NewSweeper(NewMemoryStore(), &fakeTenants{listErr: errors.New("db down")}, SweeperConfig{})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	if _, err := s.SweepOnce(context.Background()); err == nil {
		t.Fatal("SweepOnce() expected error")
	}
}

func TestSweeperStartStop(t *testing.T) {
	s, err := NewSweeper(NewMemoryStore(), &fakeTenants{}, SweeperConfig{Schedule: "@every 1h"})
	if err != nil {
		t.Fatalf("NewSweeper() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	s.Stop()
	s.Stop()
}
