package config

import "time"

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	// Async enqueues inbound messages for the worker instead of answering inline.
	Async bool `yaml:"async"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
}

// RedisConfig configures the shared Redis client used by the rate limiter,
// the inbound queue and the audit stream.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// QueueConfig configures the inbound queue and its workers.
type QueueConfig struct {
	Key          string        `yaml:"key"`
	ResultPrefix string        `yaml:"result_prefix"`
	ResultTTL    time.Duration `yaml:"result_ttl"`
	Concurrency  int           `yaml:"concurrency"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
	JobTimeout   time.Duration `yaml:"job_timeout"`
}
