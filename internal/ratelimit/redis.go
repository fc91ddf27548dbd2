package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexushub/internal/observability"
)

// slidingWindowScript checks every key before recording the request in
// any of them, so a denied request never consumes quota.
//
// KEYS: tenant key, optional channel key.
// ARGV: now (ms), window (ms), tenant limit, channel limit, member.
// Returns {allowed, denied key index, tenant count, channel count, oldest
// score of the denying key}.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limits = {tonumber(ARGV[3]), tonumber(ARGV[4])}
local counts = {0, 0}
for i, key in ipairs(KEYS) do
  redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
  counts[i] = redis.call('ZCARD', key)
  if counts[i] >= limits[i] then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local score = now
    if oldest[2] then
      score = tonumber(oldest[2])
    end
    return {0, i, counts[1], counts[2], score}
  end
end
for i, key in ipairs(KEYS) do
  redis.call('ZADD', key, now, ARGV[5])
  redis.call('PEXPIRE', key, window)
  counts[i] = counts[i] + 1
end
return {1, 0, counts[1], counts[2], 0}
`)

// RedisLimiter shares windows across replicas through Redis sorted sets.
// When Redis fails it degrades to an in-process window.
type RedisLimiter struct {
	client   goredis.Scripter
	config   Config
	fallback *MemoryLimiter
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RedisOption {
	return func(r *RedisLimiter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics counts denials.
func WithMetrics(m *observability.Metrics) RedisOption {
	return func(r *RedisLimiter) { r.metrics = m }
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client goredis.Scripter, config Config, opts ...RedisOption) *RedisLimiter {
	config = config.withDefaults()
	r := &RedisLimiter{
		client:   client,
		config:   config,
		fallback: NewMemoryLimiter(config),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow implements Limiter.
func (r *RedisLimiter) Allow(ctx context.Context, tenantID, channel string) (Decision, error) {
	if !r.config.Enabled {
		return r.fallback.Allow(ctx, tenantID, channel)
	}
	d, err := r.allowRedis(ctx, tenantID, channel)
	if err != nil {
		r.logger.Warn("redis rate limit check failed, using in-process window",
			"tenant_id", tenantID,
			"error", err,
		)
		d, err = r.fallback.Allow(ctx, tenantID, channel)
	}
	if err == nil && !d.Allowed {
		r.metrics.RateLimited(d.Scope)
	}
	return d, err
}

func (r *RedisLimiter) allowRedis(ctx context.Context, tenantID, channel string) (Decision, error) {
	now := r.now()
	cfg := r.config
	keys := []string{CompositeKey(cfg.KeyPrefix, ScopeTenant, tenantID)}
	if channel != "" {
		keys = append(keys, CompositeKey(cfg.KeyPrefix, ScopeChannel, tenantID, channel))
	}

	nowMs := now.UnixMilli()
	windowMs := cfg.Window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	vals, err := slidingWindowScript.Run(ctx, r.client, keys,
		nowMs, windowMs, cfg.PerTenant, cfg.PerChannel, member).Int64Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(vals) != 5 {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply of length %d", len(vals))
	}

	d := Decision{
		Allowed:   vals[0] == 1,
		Limit:     cfg.PerTenant,
		Remaining: max(0, cfg.PerTenant-int(vals[2])),
		Reset:     now.Add(cfg.Window),
	}
	if channel != "" {
		d.ChannelLimit = cfg.PerChannel
		d.ChannelRemaining = max(0, cfg.PerChannel-int(vals[3]))
	}
	if !d.Allowed {
		d.Scope = ScopeTenant
		if vals[1] == 2 {
			d.Scope = ScopeChannel
		}
		d.RetryAfter = time.Duration(vals[4]+windowMs-nowMs) * time.Millisecond
		if d.RetryAfter < 0 {
			d.RetryAfter = 0
		}
	}
	return d, nil
}
