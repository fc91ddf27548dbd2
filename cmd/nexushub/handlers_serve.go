package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/haasonsaas/nexushub/internal/config"
	"github.com/haasonsaas/nexushub/internal/gateway"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/queue"
)

// loadRuntime reads .env and the config file and builds the process logger.
func loadRuntime(configPath string, debug bool) (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.Observability.Logging
	if debug {
		logCfg.Level = "debug"
	}
	logger := observability.NewLogger(logCfg).With("version", version)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// runServe starts the HTTP gateway and the stale task sweeper, then blocks
// until SIGINT/SIGTERM or a fatal server error.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadRuntime(configPath, debug)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithHealth(a.health),
		gateway.WithTasks(a.tasks),
		gateway.WithPlans(a.planner),
	}
	if cfg.Observability.Metrics.IsEnabled() {
		opts = append(opts, gateway.WithMetrics(a.metrics, a.registry))
	}
	if cfg.Server.Async {
		opts = append(opts, gateway.WithQueue(a.queue))
	}
	server, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.HTTPPort,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
	}, a.auth, a.orchestrator, opts...)
	if err != nil {
		return errors.Join(err, a.close(ctx))
	}

	if err := server.Start(ctx); err != nil {
		return errors.Join(err, a.close(ctx))
	}
	a.shutdown.Register("http", infra.PhaseIngress, func(ctx context.Context) error {
		server.Stop(ctx)
		return nil
	})

	if err := a.sweeper.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("start task sweeper: %w", err), a.close(ctx))
	}
	a.shutdown.Register("task sweeper", infra.PhaseWorkers, func(context.Context) error {
		a.sweeper.Stop()
		return nil
	})

	logger.Info("nexushub started", "addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort), "async", cfg.Server.Async)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.close(shutdownCtx)
}

// runWorker drains the inbound queue until SIGINT/SIGTERM. In-flight jobs
// finish before it returns.
func runWorker(ctx context.Context, configPath string, debug bool, concurrency int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := loadRuntime(configPath, debug)
	if err != nil {
		return err
	}
	if !cfg.Redis.Enabled() {
		return errors.New("worker requires redis.addr")
	}
	if concurrency > 0 {
		cfg.Queue.Concurrency = concurrency
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	worker := queue.NewWorker(a.queue, a.orchestrator, queue.WorkerConfig{
		Concurrency: cfg.Queue.Concurrency,
		PollTimeout: cfg.Queue.PollTimeout,
		JobTimeout:  cfg.Queue.JobTimeout,
	}, queue.WithWorkerLogger(logger), queue.WithWorkerMetrics(a.metrics))

	runErr := worker.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.close(shutdownCtx))
}
