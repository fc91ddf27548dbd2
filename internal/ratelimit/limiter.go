// Package ratelimit admits inbound messages per tenant and per channel over
// a sliding one-minute window.
package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// Scopes reported when a request is denied.
const (
	ScopeTenant  = "tenant"
	ScopeChannel = "channel"
)

// Response header names.
const (
	HeaderLimit            = "X-RateLimit-Limit"
	HeaderRemaining        = "X-RateLimit-Remaining"
	HeaderReset            = "X-RateLimit-Reset"
	HeaderChannelLimit     = "X-RateLimit-Channel-Limit"
	HeaderChannelRemaining = "X-RateLimit-Channel-Remaining"
)

// Config configures rate limiting behavior.
type Config struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// PerTenant is the number of requests a tenant may make per window.
	PerTenant int `yaml:"per_tenant" json:"per_tenant"`

	// PerChannel is the number of requests per tenant and channel per window.
	PerChannel int `yaml:"per_channel" json:"per_channel"`

	Window time.Duration `yaml:"window" json:"window"`

	// KeyPrefix namespaces the Redis keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		PerTenant:  100,
		PerChannel: 50,
		Window:     time.Minute,
		KeyPrefix:  "ratelimit",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PerTenant <= 0 {
		c.PerTenant = d.PerTenant
	}
	if c.PerChannel <= 0 {
		c.PerChannel = d.PerChannel
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	return c
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed bool
	// Scope is ScopeTenant or ScopeChannel when denied.
	Scope string

	Limit     int
	Remaining int

	// ChannelLimit is zero when no channel was given.
	ChannelLimit     int
	ChannelRemaining int

	Reset      time.Time
	RetryAfter time.Duration
}

// Headers returns the X-RateLimit-* headers for the decision.
func (d Decision) Headers() map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(d.Limit),
		HeaderRemaining: strconv.Itoa(d.Remaining),
		HeaderReset:     strconv.FormatInt(d.Reset.Unix(), 10),
	}
	if d.ChannelLimit > 0 {
		h[HeaderChannelLimit] = strconv.Itoa(d.ChannelLimit)
		h[HeaderChannelRemaining] = strconv.Itoa(d.ChannelRemaining)
	}
	return h
}

// Limiter admits requests.
type Limiter interface {
	Allow(ctx context.Context, tenantID, channel string) (Decision, error)
}

// MemoryLimiter keeps request timestamps in process. It is the fallback
// when Redis is unavailable and the limiter used in single-node setups.
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
	maxKeys int
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config.withDefaults(),
		now:     time.Now,
		windows: make(map[string][]time.Time),
		maxKeys: 10000,
	}
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, tenantID, channel string) (Decision, error) {
	now := l.now()
	cfg := l.config
	d := Decision{
		Allowed: true,
		Limit:   cfg.PerTenant,
		Reset:   now.Add(cfg.Window),
	}
	if channel != "" {
		d.ChannelLimit = cfg.PerChannel
	}
	if !cfg.Enabled {
		d.Remaining = cfg.PerTenant
		d.ChannelRemaining = d.ChannelLimit
		return d, nil
	}

	cutoff := now.Add(-cfg.Window)
	tenantKey := CompositeKey(ScopeTenant, tenantID)
	channelKey := CompositeKey(ScopeChannel, tenantID, channel)

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.windows) >= l.maxKeys {
		l.prune(cutoff)
	}

	tenantHits := l.trim(tenantKey, cutoff)
	var channelHits []time.Time
	if channel != "" {
		channelHits = l.trim(channelKey, cutoff)
	}

	switch {
	case len(tenantHits) >= cfg.PerTenant:
		d.Allowed, d.Scope = false, ScopeTenant
		d.RetryAfter = tenantHits[0].Add(cfg.Window).Sub(now)
	case channel != "" && len(channelHits) >= cfg.PerChannel:
		d.Allowed, d.Scope = false, ScopeChannel
		d.RetryAfter = channelHits[0].Add(cfg.Window).Sub(now)
	default:
		tenantHits = append(tenantHits, now)
		l.windows[tenantKey] = tenantHits
		if channel != "" {
			channelHits = append(channelHits, now)
			l.windows[channelKey] = channelHits
		}
	}

	d.Remaining = max(0, cfg.PerTenant-len(tenantHits))
	if channel != "" {
		d.ChannelRemaining = max(0, cfg.PerChannel-len(channelHits))
	}
	return d, nil
}

// trim drops timestamps at or before cutoff. Must be called with mu held.
func (l *MemoryLimiter) trim(key string, cutoff time.Time) []time.Time {
	hits := l.windows[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) == 0 {
		delete(l.windows, key)
		return nil
	}
	l.windows[key] = hits
	return hits
}

// prune removes keys with no activity inside the window.
func (l *MemoryLimiter) prune(cutoff time.Time) {
	for key, hits := range l.windows {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.windows, key)
		}
	}
}

// Reset clears the window for a tenant and all of its channels.
func (l *MemoryLimiter) Reset(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	prefix := CompositeKey(ScopeChannel, tenantID) + ":"
	delete(l.windows, CompositeKey(ScopeTenant, tenantID))
	for key := range l.windows {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(l.windows, key)
		}
	}
}

// CompositeKey creates a rate limit key from multiple parts.
func CompositeKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
