package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// cronParser supports both standard (5-field) and extended (6-field with seconds) cron expressions.
var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// TenantSource lists tenants and loads their plan timeout.
type TenantSource interface {
	TenantIDs(ctx context.Context) ([]string, error)
	Load(ctx context.Context, tenantID string) (*models.TenantContext, error)
}

// SweeperConfig configures the stale task sweeper.
type SweeperConfig struct {
	// Schedule is a cron expression. Defaults to "@every 1m".
	Schedule string

	// DefaultTimeout applies when a tenant has no plan timeout.
	// Defaults to models.DefaultPlanTimeout.
	DefaultTimeout time.Duration

	// Logger for sweeper events.
	Logger *slog.Logger
}

// Sweeper fails tasks that have been planning or executing for longer than
// their tenant's plan timeout. Failed tasks can be resumed.
type Sweeper struct {
	store   Store
	tenants TenantSource
	config  SweeperConfig
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper validates the schedule and returns a stopped sweeper.
func NewSweeper(store Store, tenants TenantSource, config SweeperConfig) (*Sweeper, error) {
	if config.Schedule == "" {
		config.Schedule = "@every 1m"
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = models.DefaultPlanTimeout
	}
	if _, err := cronParser.Parse(config.Schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", config.Schedule, err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:   store,
		tenants: tenants,
		config:  config,
		logger:  logger.With("component", "task-sweeper"),
		now:     time.Now,
	}, nil
}

// Start schedules sweeps until Stop is called or ctx is done.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.config.Schedule, func() {
		if _, err := s.SweepOnce(ctx); err != nil {
			s.logger.Error("task sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("task sweeper started", "schedule", s.config.Schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("task sweeper stopped")
}

// SweepOnce runs one pass over every tenant and returns the number of tasks
// failed. A tenant that cannot be swept is logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.tenants.TenantIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tenants: %w", err)
	}

	total := 0
	now := s.now()
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		timeout := s.config.DefaultTimeout
		if tc, err := s.tenants.Load(ctx, id); err != nil {
			s.logger.Warn("tenant load failed, using default timeout", "tenant_id", id, "error", err)
		} else if tc.PlanTimeout > 0 {
			timeout = tc.PlanTimeout
		}

		n, err := s.store.FailStale(ctx, id, now.Add(-timeout))
		if err != nil {
			s.logger.Error("failed to sweep tenant tasks", "tenant_id", id, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("stale tasks failed", "tenant_id", id, "count", n, "timeout", timeout)
		}
		total += n
	}
	return total, nil
}
