// Package config loads the nexushub configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"

	"github.com/haasonsaas/nexushub/internal/auth"
)

// Config is the root configuration.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Queue         QueueConfig         `yaml:"queue"`
	LLM           LLMConfig           `yaml:"llm"`
	Resilience    ResilienceConfig    `yaml:"resilience"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Tools         ToolsConfig         `yaml:"tools"`
	RateLimit     RateLimitConfig     `yaml:"ratelimit"`
	Secrets       SecretsConfig       `yaml:"secrets"`
	Auth          auth.Config         `yaml:"auth"`
	Observability ObservabilityConfig `yaml:"observability"`
	Tenants       TenantsConfig       `yaml:"tenants"`
	Pricing       PricingConfig       `yaml:"pricing"`
}

// Load reads path, resolving $include directives and ${ENV} references,
// then applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads environment files without overriding variables that
// are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}
