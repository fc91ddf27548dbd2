package config

import (
	"time"

	"github.com/haasonsaas/nexushub/internal/usage"
)

type LLMConfig struct {
	OpenAI    LLMProviderConfig `yaml:"openai"`
	Gemini    LLMProviderConfig `yaml:"gemini"`
	Anthropic LLMProviderConfig `yaml:"anthropic"`

	// Timeout bounds each LLM attempt.
	Timeout time.Duration `yaml:"timeout"`
}

type LLMProviderConfig struct {
	// APIKey may be a secret reference such as vault://kv/llm#openai.
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

// Configured reports whether the provider has credentials.
func (c LLMProviderConfig) Configured() bool { return c.APIKey != "" }

// ResilienceConfig configures the circuit breakers and retry policy that
// wrap every external call.
type ResilienceConfig struct {
	Breaker BreakerConfig `yaml:"breaker"`
	Retry   RetryConfig   `yaml:"retry"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialDelay   time.Duration `yaml:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// PricingConfig overrides the built-in price table.
type PricingConfig struct {
	// Models is keyed by provider then model, in USD per million tokens.
	Models map[string]map[string]usage.Cost `yaml:"models"`
	// Tools is a flat USD price per call keyed by tool name.
	Tools map[string]float64 `yaml:"tools"`
}
