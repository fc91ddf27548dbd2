package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/nexushub/internal/audit"
)

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "config validation failed"
	}
	return "config validation failed:\n  - " + strings.Join(e.Issues, "\n  - ")
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 2 * time.Minute
	}
	if cfg.Database.ConnectTimeout == 0 {
		cfg.Database.ConnectTimeout = 10 * time.Second
	}

	if cfg.Queue.Concurrency == 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.PollTimeout == 0 {
		cfg.Queue.PollTimeout = 5 * time.Second
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = 10 * time.Minute
	}
	if cfg.Queue.ResultTTL == 0 {
		cfg.Queue.ResultTTL = time.Hour
	}

	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.OpenAI.DefaultModel == "" {
		cfg.LLM.OpenAI.DefaultModel = "gpt-4o"
	}
	if cfg.LLM.Gemini.DefaultModel == "" {
		cfg.LLM.Gemini.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.LLM.Anthropic.DefaultModel == "" {
		cfg.LLM.Anthropic.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.LLM.Anthropic.MaxTokens == 0 {
		cfg.LLM.Anthropic.MaxTokens = 4096
	}

	b := &cfg.Resilience.Breaker
	if b.FailureThreshold == 0 {
		b.FailureThreshold = 5
	}
	if b.SuccessThreshold == 0 {
		b.SuccessThreshold = 2
	}
	if b.RecoveryTimeout == 0 {
		b.RecoveryTimeout = 60 * time.Second
	}
	if b.HalfOpenMaxCalls == 0 {
		b.HalfOpenMaxCalls = 1
	}
	r := &cfg.Resilience.Retry
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.InitialDelay == 0 {
		r.InitialDelay = time.Second
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = 60 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.JitterFraction == 0 {
		r.JitterFraction = 0.1
	}

	o := &cfg.Orchestrator
	if o.HistoryLimit == 0 {
		o.HistoryLimit = 10
	}
	if o.HistoryTokenBudget == 0 {
		o.HistoryTokenBudget = 2000
	}
	if o.TokenEncoding == "" {
		o.TokenEncoding = "cl100k_base"
	}
	if o.MinGoalLength == 0 {
		o.MinGoalLength = 40
	}
	if o.SweepSchedule == "" {
		o.SweepSchedule = "@every 1m"
	}

	if cfg.Tools.MCPTimeout == 0 {
		cfg.Tools.MCPTimeout = 30 * time.Second
	}
	if cfg.Tools.HTTPTimeout == 0 {
		cfg.Tools.HTTPTimeout = 30 * time.Second
	}
	if cfg.Tools.RAG.EmbeddingModel == "" {
		cfg.Tools.RAG.EmbeddingModel = "text-embedding-3-small"
	}

	if cfg.RateLimit.PerTenant == 0 {
		cfg.RateLimit.PerTenant = 100
	}
	if cfg.RateLimit.PerChannel == 0 {
		cfg.RateLimit.PerChannel = 50
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
	if cfg.RateLimit.KeyPrefix == "" {
		cfg.RateLimit.KeyPrefix = "ratelimit"
	}

	if cfg.Secrets.CacheTTL == 0 {
		cfg.Secrets.CacheTTL = 5 * time.Minute
	}
	if cfg.Secrets.Vault.Mount == "" {
		cfg.Secrets.Vault.Mount = "secret"
	}

	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "nexushub"
	}

	obs := &cfg.Observability
	if obs.Logging.Level == "" {
		obs.Logging.Level = "info"
	}
	if obs.Logging.Format == "" {
		obs.Logging.Format = "json"
	}
	if obs.Tracing.ServiceName == "" {
		obs.Tracing.ServiceName = "nexushub"
	}
	if obs.Tracing.SamplingRate == 0 {
		obs.Tracing.SamplingRate = 1.0
	}
	def := audit.DefaultConfig()
	if obs.Audit.Level == "" {
		obs.Audit.Level = def.Level
	}
	if obs.Audit.Format == "" {
		obs.Audit.Format = def.Format
	}
	if obs.Audit.Output == "" {
		obs.Audit.Output = def.Output
	}
	if obs.Audit.BufferSize == 0 {
		obs.Audit.BufferSize = def.BufferSize
	}
}

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		add("version: %v", err)
	}
	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		add("server.http_port must be between 0 and 65535")
	}
	if cfg.Server.MaxBodyBytes < 0 {
		add("server.max_body_bytes must be positive")
	}
	if cfg.Server.Async && !cfg.Redis.Enabled() {
		add("server.async requires redis.addr")
	}

	if strings.TrimSpace(cfg.Database.URL) == "" {
		add("database.url is required")
	}
	if cfg.Tenants.Watch && cfg.Tenants.File == "" {
		add("tenants.watch requires tenants.file")
	}

	if !cfg.LLM.OpenAI.Configured() && !cfg.LLM.Gemini.Configured() && !cfg.LLM.Anthropic.Configured() {
		add("llm: at least one of openai, gemini or anthropic needs an api_key")
	}
	if cfg.LLM.Timeout < 0 {
		add("llm.timeout must be positive")
	}

	if cfg.Resilience.Breaker.FailureThreshold < 0 || cfg.Resilience.Breaker.SuccessThreshold < 0 {
		add("resilience.breaker thresholds must be positive")
	}
	if cfg.Resilience.Retry.MaxRetries < 0 {
		add("resilience.retry.max_retries must not be negative")
	}
	if cfg.Resilience.Retry.Multiplier < 1 {
		add("resilience.retry.multiplier must be at least 1")
	}
	if f := cfg.Resilience.Retry.JitterFraction; f < 0 || f > 1 {
		add("resilience.retry.jitter_fraction must be between 0 and 1")
	}

	if _, err := cron.ParseStandard(cfg.Orchestrator.SweepSchedule); err != nil {
		add("orchestrator.sweep_schedule: %v", err)
	}
	if cfg.Orchestrator.HistoryLimit < 0 {
		add("orchestrator.history_limit must not be negative")
	}

	if cfg.RateLimit.PerTenant < 0 || cfg.RateLimit.PerChannel < 0 {
		add("ratelimit limits must be positive")
	}

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" && len(cfg.Auth.APIKeys) == 0 {
		add("auth: jwt_secret or api_keys is required")
	}
	if secret := cfg.Auth.JWTSecret; secret != "" && len(secret) < 32 {
		add("auth.jwt_secret must be at least 32 bytes")
	}
	for i, key := range cfg.Auth.APIKeys {
		if strings.TrimSpace(key.Key) == "" || strings.TrimSpace(key.TenantID) == "" {
			add("auth.api_keys[%d] needs key and tenant_id", i)
		}
	}

	if cfg.Observability.Audit.RedisStream != "" && !cfg.Redis.Enabled() {
		add("observability.audit.redis_stream requires redis.addr")
	}
	if rate := cfg.Observability.Tracing.SamplingRate; rate < 0 || rate > 1 {
		add("observability.tracing.sampling_rate must be between 0 and 1")
	}
	switch cfg.Observability.Logging.Format {
	case "json", "text":
	default:
		add("observability.logging.format must be json or text")
	}

	for provider, models := range cfg.Pricing.Models {
		for model, cost := range models {
			if cost.Input < 0 || cost.Output < 0 {
				add("pricing.models.%s.%s must not be negative", provider, model)
			}
		}
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
