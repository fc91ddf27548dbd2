// Package queue carries inbound messages from the ingress to worker
// processes over a Redis list and stores each outcome for polling.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/pkg/models"
)

const (
	DefaultKey          = "nexushub:inbound"
	DefaultResultPrefix = "nexushub:result:"
	DefaultResultTTL    = time.Hour
)

// Result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNoResult is returned when a message has no stored result, either
// because it is still queued or because the result expired.
var ErrNoResult = errors.New("queue: no result")

// Job is one queued inbound message.
type Job struct {
	Message               *models.CanonicalMessage `json:"message"`
	AuthenticatedTenantID string                   `json:"authenticated_tenant_id"`
	EnqueuedAt            time.Time                `json:"enqueued_at"`
}

// Result is the stored outcome of a job, keyed by message id.
type Result struct {
	MessageID  string                 `json:"message_id"`
	TenantID   string                 `json:"tenant_id"`
	Status     string                 `json:"status"`
	Outbound   *orchestrator.Outbound `json:"outbound,omitempty"`
	Code       int                    `json:"code,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorID    string                 `json:"error_id,omitempty"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Config names the Redis keys.
type Config struct {
	Key          string        `yaml:"key" json:"key"`
	ResultPrefix string        `yaml:"result_prefix" json:"result_prefix"`
	ResultTTL    time.Duration `yaml:"result_ttl" json:"result_ttl"`
}

func (c Config) withDefaults() Config {
	if c.Key == "" {
		c.Key = DefaultKey
	}
	if c.ResultPrefix == "" {
		c.ResultPrefix = DefaultResultPrefix
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = DefaultResultTTL
	}
	return c
}

// RedisQueue is a FIFO job list with a result store.
type RedisQueue struct {
	client goredis.Cmdable
	config Config
	now    func() time.Time
}

// NewRedisQueue creates a queue on client.
func NewRedisQueue(client goredis.Cmdable, config Config) *RedisQueue {
	return &RedisQueue{client: client, config: config.withDefaults(), now: time.Now}
}

// Enqueue appends a job and returns the message id its result will be
// stored under. A message without an id gets one.
func (q *RedisQueue) Enqueue(ctx context.Context, msg *models.CanonicalMessage, authenticatedTenantID string) (string, error) {
	if msg == nil {
		return "", errors.New("queue: message is required")
	}
	queued := *msg
	if queued.ID == "" {
		queued.ID = uuid.NewString()
	}
	payload, err := json.Marshal(Job{
		Message:               &queued,
		AuthenticatedTenantID: authenticatedTenantID,
		EnqueuedAt:            q.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.RPush(ctx, q.config.Key, payload).Err(); err != nil {
		return "", fmt.Errorf("enqueue message %s: %w", queued.ID, err)
	}
	return queued.ID, nil
}

// Dequeue blocks up to timeout for the next job. It returns nil, nil when
// the wait times out.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	vals, err := q.client.BLPop(ctx, timeout, q.config.Key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("dequeue: unexpected reply of %d elements", len(vals))
	}
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// Len reports the number of waiting jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.config.Key).Result()
}

// SaveResult stores a job outcome for ResultTTL.
func (q *RedisQueue) SaveResult(ctx context.Context, res *Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := q.client.Set(ctx, q.config.ResultPrefix+res.MessageID, payload, q.config.ResultTTL).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", res.MessageID, err)
	}
	return nil
}

// Result fetches the stored outcome of a message.
func (q *RedisQueue) Result(ctx context.Context, messageID string) (*Result, error) {
	raw, err := q.client.Get(ctx, q.config.ResultPrefix+messageID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, fmt.Errorf("load result %s: %w", messageID, err)
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", messageID, err)
	}
	return &res, nil
}
