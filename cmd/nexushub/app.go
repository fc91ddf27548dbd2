package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/auth"
	"github.com/haasonsaas/nexushub/internal/config"
	"github.com/haasonsaas/nexushub/internal/events"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/mcp"
	"github.com/haasonsaas/nexushub/internal/net/ssrf"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/internal/planning"
	"github.com/haasonsaas/nexushub/internal/prompt"
	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/queue"
	"github.com/haasonsaas/nexushub/internal/rag"
	"github.com/haasonsaas/nexushub/internal/ratelimit"
	"github.com/haasonsaas/nexushub/internal/reflection"
	"github.com/haasonsaas/nexushub/internal/retry"
	"github.com/haasonsaas/nexushub/internal/secrets"
	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/internal/tasks"
	"github.com/haasonsaas/nexushub/internal/tenant"
	"github.com/haasonsaas/nexushub/internal/tools"
	"github.com/haasonsaas/nexushub/internal/usage"
)

// app holds every long-lived component shared by serve and worker.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics

	db      *sql.DB
	redis   *goredis.Client
	tenants tenant.Source
	auth    *auth.Service

	orchestrator *orchestrator.Orchestrator
	planner      *planning.Planner
	tasks        *tasks.Manager
	queue        *queue.RedisQueue
	sweeper      *tasks.Sweeper
	health       *infra.HealthChecks
	shutdown     *infra.ShutdownCoordinator
}

// newApp connects to every dependency and builds the orchestrator. On error
// whatever was already opened is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		health:   infra.NewHealthChecks(0),
		shutdown: infra.NewShutdownCoordinator(cfg.Server.ShutdownTimeout, logger),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown(context.WithoutCancel(ctx))
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	traceCfg := cfg.Observability.Tracing
	traceCfg.ServiceVersion = version
	tracer, stopTracer := observability.NewTracer(traceCfg)
	a.shutdown.Register("tracer", infra.PhaseSinks, stopTracer)

	a.db, err = storage.Open(ctx, cfg.Database.URL, &storage.Config{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	a.shutdown.RegisterCloser("postgres", infra.PhaseConnections, a.db.Close)
	a.health.Register("postgres", true, a.db.PingContext)

	if cfg.Redis.Enabled() {
		a.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.shutdown.RegisterCloser("redis", infra.PhaseConnections, a.redis.Close)
		if err = a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.health.Register("redis", cfg.Server.Async, func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
		a.queue = queue.NewRedisQueue(a.redis, queue.Config{
			Key:          cfg.Queue.Key,
			ResultPrefix: cfg.Queue.ResultPrefix,
			ResultTTL:    cfg.Queue.ResultTTL,
		})
	}

	resolver, err := newSecretResolver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	breakers := infra.NewBreakerSet(infra.CircuitBreakerConfig{
		FailureThreshold: cfg.Resilience.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Resilience.Breaker.SuccessThreshold,
		RecoveryTimeout:  cfg.Resilience.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Resilience.Breaker.HalfOpenMaxCalls,
	}, infra.WithStateChangeHook(func(name, from, to string) {
		a.metrics.SetCircuitState(name, from, to)
		logger.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
	}))
	a.health.RegisterBreakers(breakers)

	llms, err := newLLMProviders(ctx, cfg, resolver, logger)
	if err != nil {
		return nil, err
	}
	gateway := providers.NewGateway(llms.all()...)

	auditOpts := []audit.Option{audit.WithDropHook(a.metrics.AuditEventDropped)}
	if stream := cfg.Observability.Audit.RedisStream; stream != "" && a.redis != nil {
		auditOpts = append(auditOpts, audit.WithSink(audit.NewRedisStreamSink(a.redis, stream, 0)))
	}
	auditLogger, err := audit.NewLogger(cfg.Observability.Audit.AuditLoggerConfig(), auditOpts...)
	if err != nil {
		return nil, fmt.Errorf("audit logger: %w", err)
	}
	a.shutdown.RegisterCloser("audit", infra.PhaseSinks, auditLogger.Close)

	if a.tenants, err = newTenantSource(ctx, cfg, a.db, logger, a.shutdown); err != nil {
		return nil, err
	}

	engine, err := newToolEngine(cfg, a, llms, resolver, breakers, auditLogger)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Resilience.Retry.MaxRetries
	retryCfg.InitialDelay = cfg.Resilience.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Resilience.Retry.MaxDelay
	retryCfg.Multiplier = cfg.Resilience.Retry.Multiplier
	retryCfg.JitterFraction = cfg.Resilience.Retry.JitterFraction

	reflector := reflection.NewReflector(reflection.NewPostgresStore(a.db), reflection.WithLogger(logger))
	a.planner = planning.NewPlanner(gateway, planning.NewPostgresStore(a.db),
		planning.WithInsights(reflector),
		planning.WithLogger(logger),
		planning.WithRetry(retryCfg),
	)
	taskStore := tasks.NewPostgresStore(a.db)
	a.tasks = tasks.NewManager(taskStore, tasks.WithLogger(logger))
	a.sweeper, err = tasks.NewSweeper(taskStore, a.tenants, tasks.SweeperConfig{
		Schedule: cfg.Orchestrator.SweepSchedule,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	counter, counterErr := prompt.NewTiktokenCounter(cfg.Orchestrator.TokenEncoding)
	if counterErr != nil {
		logger.Warn("token counter unavailable, history is limited by count only", "encoding", cfg.Orchestrator.TokenEncoding, "error", counterErr)
		counter = nil
	}
	builder := prompt.NewBuilder(counter, logger)
	builder.HistoryBudget = cfg.Orchestrator.HistoryTokenBudget

	opts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.Config{
			HistoryLimit:  cfg.Orchestrator.HistoryLimit,
			LLMTimeout:    cfg.LLM.Timeout,
			LLMRetry:      retryCfg,
			MinGoalLength: cfg.Orchestrator.MinGoalLength,
		}),
		orchestrator.WithPlanning(a.planner, a.tasks),
		orchestrator.WithReflector(reflector),
		orchestrator.WithBreakers(breakers),
		orchestrator.WithEventLogger(events.NewPostgresLogger(a.db, logger)),
		orchestrator.WithAuditRecorder(auditLogger),
		orchestrator.WithPromptBuilder(builder),
		orchestrator.WithPriceTable(usage.NewPriceTable(cfg.Pricing.Models, cfg.Pricing.Tools)),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithTracer(tracer),
		orchestrator.WithLogger(logger),
	}
	if limiter := a.newRateLimiter(); limiter != nil {
		opts = append(opts, orchestrator.WithRateLimiter(limiter))
	}

	a.orchestrator, err = orchestrator.New(orchestrator.Dependencies{
		Tenants: a.tenants,
		Tools:   a.tenants,
		Store:   storage.NewPostgresStore(a.db),
		LLM:     gateway,
		Engine:  engine,
	}, opts...)
	if err != nil {
		return nil, err
	}

	a.auth = auth.NewService(cfg.Auth)
	return a, nil
}

func (a *app) newRateLimiter() ratelimit.Limiter {
	rl := a.cfg.RateLimit
	if !rl.IsEnabled() {
		return nil
	}
	cfg := ratelimit.Config{
		Enabled:    true,
		PerTenant:  rl.PerTenant,
		PerChannel: rl.PerChannel,
		Window:     rl.Window,
		KeyPrefix:  rl.KeyPrefix,
	}
	if a.redis == nil {
		a.logger.Warn("rate limits are per process without redis")
		return ratelimit.NewMemoryLimiter(cfg)
	}
	return ratelimit.NewRedisLimiter(a.redis, cfg, ratelimit.WithLogger(a.logger), ratelimit.WithMetrics(a.metrics))
}

// close releases everything in shutdown phase order.
func (a *app) close(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}

func newSecretResolver(ctx context.Context, cfg *config.Config) (*secrets.Chain, error) {
	opts := []secrets.ChainOption{secrets.WithCacheTTL(cfg.Secrets.CacheTTL)}
	if v := cfg.Secrets.Vault; v.Address != "" {
		backend, err := secrets.NewVaultBackend(secrets.VaultConfig{Address: v.Address, Token: v.Token, Mount: v.Mount})
		if err != nil {
			return nil, fmt.Errorf("vault: %w", err)
		}
		opts = append(opts, secrets.WithBackend("vault", backend))
	}
	if region := cfg.Secrets.AWS.Region; region != "" {
		backend, err := secrets.NewAWSBackend(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("aws secrets manager: %w", err)
		}
		opts = append(opts, secrets.WithBackend("aws", backend))
	}
	return secrets.NewChain(opts...), nil
}

// llmProviders keeps the concrete clients because file search tools call
// provider-specific APIs.
type llmProviders struct {
	openai       *providers.OpenAIProvider
	openaiClient *openai.Client
	gemini       *providers.GeminiProvider
	anthropic    *providers.AnthropicProvider
}

func (p llmProviders) all() []providers.Provider {
	var out []providers.Provider
	if p.openai != nil {
		out = append(out, p.openai)
	}
	if p.gemini != nil {
		out = append(out, p.gemini)
	}
	if p.anthropic != nil {
		out = append(out, p.anthropic)
	}
	return out
}

func newLLMProviders(ctx context.Context, cfg *config.Config, resolver secrets.Resolver, logger *slog.Logger) (llmProviders, error) {
	var out llmProviders
	resolve := func(name, ref string) (string, error) {
		key, err := resolver.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("%s api key: %w", name, err)
		}
		return key, nil
	}

	if c := cfg.LLM.OpenAI; c.Configured() {
		key, err := resolve("openai", c.APIKey)
		if err != nil {
			return out, err
		}
		if out.openai, err = providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey: key, BaseURL: c.BaseURL, DefaultModel: c.DefaultModel, Logger: logger,
		}); err != nil {
			return out, err
		}
		clientCfg := openai.DefaultConfig(key)
		if c.BaseURL != "" {
			clientCfg.BaseURL = c.BaseURL
		}
		out.openaiClient = openai.NewClientWithConfig(clientCfg)
	}
	if c := cfg.LLM.Gemini; c.Configured() {
		key, err := resolve("gemini", c.APIKey)
		if err != nil {
			return out, err
		}
		if out.gemini, err = providers.NewGeminiProvider(ctx, providers.GeminiConfig{
			APIKey: key, BaseURL: c.BaseURL, DefaultModel: c.DefaultModel, Logger: logger,
		}); err != nil {
			return out, err
		}
	}
	if c := cfg.LLM.Anthropic; c.Configured() {
		key, err := resolve("anthropic", c.APIKey)
		if err != nil {
			return out, err
		}
		if out.anthropic, err = providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: key, BaseURL: c.BaseURL, DefaultModel: c.DefaultModel, MaxTokens: c.MaxTokens, Logger: logger,
		}); err != nil {
			return out, err
		}
	}
	if len(out.all()) == 0 {
		return out, errors.New("no llm provider configured")
	}
	return out, nil
}

func newTenantSource(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger, shutdown *infra.ShutdownCoordinator) (tenant.Source, error) {
	if cfg.Tenants.File == "" {
		return tenant.NewPostgresSource(db), nil
	}
	src, err := tenant.NewFileSource(cfg.Tenants.File, tenant.WithFileLogger(logger))
	if err != nil {
		return nil, err
	}
	if cfg.Tenants.Watch {
		if err := src.Watch(ctx); err != nil {
			return nil, err
		}
		shutdown.RegisterCloser("tenant watcher", infra.PhaseWorkers, src.Close)
	}
	return src, nil
}

func newToolEngine(cfg *config.Config, a *app, llms llmProviders, resolver secrets.Resolver, breakers *infra.BreakerSet, recorder audit.Recorder) (*tools.Engine, error) {
	validator := ssrf.NewValidator()
	validator.AllowPrivate = cfg.Tools.AllowPrivateEndpoints
	if validator.AllowPrivate {
		a.logger.Warn("private tool endpoints are allowed; do not use in production")
	}

	mcpClient := mcp.NewClient(mcp.NewPostgresRegistry(a.db),
		mcp.WithSecrets(resolver),
		mcp.WithValidator(validator),
		mcp.WithBreaker(breakers.Get(infra.BreakerMCP)),
		mcp.WithAudit(recorder),
		mcp.WithMetrics(a.metrics),
		mcp.WithLogger(a.logger),
		mcp.WithTimeout(cfg.Tools.MCPTimeout),
	)

	toolProviders := []tools.ToolProvider{
		tools.NewHTTPProvider(validator,
			tools.WithHTTPTimeout(cfg.Tools.HTTPTimeout),
			tools.WithHTTPBreaker(breakers.Get(infra.BreakerHTTPTool)),
			tools.WithHTTPAudit(recorder),
		),
		tools.NewMCPProvider(mcpClient),
	}
	if llms.openai != nil {
		toolProviders = append(toolProviders,
			tools.NewOpenAIFileProvider(llms.openai),
			tools.NewRAGProvider(rag.NewPGStore(a.db), rag.NewOpenAIEmbedder(llms.openaiClient, cfg.Tools.RAG.EmbeddingModel)),
		)
	}
	if llms.gemini != nil {
		toolProviders = append(toolProviders, tools.NewGeminiFileProvider(llms.gemini))
	}

	registry, err := tools.NewRegistry(toolProviders...)
	if err != nil {
		return nil, err
	}
	return tools.NewEngine(registry,
		tools.WithFileSearchPolicy(a.tenants),
		tools.WithAuditRecorder(recorder),
		tools.WithEngineMetrics(a.metrics),
		tools.WithEngineLogger(a.logger),
	), nil
}
