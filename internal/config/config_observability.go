package config

import (
	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/observability"
)

type ObservabilityConfig struct {
	Logging observability.LogConfig   `yaml:"logging"`
	Metrics MetricsConfig             `yaml:"metrics"`
	Tracing observability.TraceConfig `yaml:"tracing"`
	Audit   AuditConfig               `yaml:"audit"`
}

type MetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether /metrics is served. It defaults to true.
func (c MetricsConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// AuditConfig configures the security audit stream. It is on unless
// explicitly disabled.
type AuditConfig struct {
	Enabled     *bool              `yaml:"enabled"`
	Level       audit.Level        `yaml:"level"`
	Format      audit.OutputFormat `yaml:"format"`
	Output      string             `yaml:"output"`
	BufferSize  int                `yaml:"buffer_size"`
	EventTypes  []audit.EventType  `yaml:"event_types"`
	RedisStream string             `yaml:"redis_stream"`
}

// AuditLoggerConfig converts to the audit package configuration.
func (c AuditConfig) AuditLoggerConfig() audit.Config {
	return audit.Config{
		Enabled:     c.Enabled == nil || *c.Enabled,
		Level:       c.Level,
		Format:      c.Format,
		Output:      c.Output,
		BufferSize:  c.BufferSize,
		EventTypes:  c.EventTypes,
		RedisStream: c.RedisStream,
	}
}
