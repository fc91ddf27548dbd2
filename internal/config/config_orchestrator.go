package config

import "time"

type OrchestratorConfig struct {
	// HistoryLimit is the number of prior messages loaded per turn.
	HistoryLimit int `yaml:"history_limit"`
	// HistoryTokenBudget caps the history section of the prompt.
	HistoryTokenBudget int `yaml:"history_token_budget"`
	// TokenEncoding is the tiktoken encoding used to size history.
	TokenEncoding string `yaml:"token_encoding"`
	// MinGoalLength is the shortest message that gets a plan.
	MinGoalLength int `yaml:"min_goal_length"`
	// SweepSchedule is the cron expression for failing stale tasks.
	SweepSchedule string `yaml:"sweep_schedule"`
}

type ToolsConfig struct {
	MCPTimeout  time.Duration `yaml:"mcp_timeout"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// AllowPrivateEndpoints disables the SSRF address check. Development only.
	AllowPrivateEndpoints bool      `yaml:"allow_private_endpoints"`
	RAG                   RAGConfig `yaml:"rag"`
}

type RAGConfig struct {
	EmbeddingModel string `yaml:"embedding_model"`
}

// RateLimitConfig configures inbound admission.
type RateLimitConfig struct {
	Enabled    *bool         `yaml:"enabled"`
	PerTenant  int           `yaml:"per_tenant"`
	PerChannel int           `yaml:"per_channel"`
	Window     time.Duration `yaml:"window"`
	KeyPrefix  string        `yaml:"key_prefix"`
}

// IsEnabled reports whether admission control is on. It defaults to true.
func (c RateLimitConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

type SecretsConfig struct {
	Vault    VaultConfig   `yaml:"vault"`
	AWS      AWSConfig     `yaml:"aws"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type VaultConfig struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Mount   string `yaml:"mount"`
}

type AWSConfig struct {
	Region string `yaml:"region"`
}

// TenantsConfig selects where tenant configuration comes from. With File
// set, tenants are read from YAML instead of Postgres.
type TenantsConfig struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}
