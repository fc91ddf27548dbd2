package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/backoff"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Processor handles one inbound message.
type Processor interface {
	ProcessInboundMessage(ctx context.Context, msg *models.CanonicalMessage, authenticatedTenantID string) (*orchestrator.Outbound, error)
}

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	// Concurrency is the number of jobs processed at once.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// PollTimeout is how long each dequeue blocks.
	PollTimeout time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	// JobTimeout bounds one message, planning and all LLM calls included.
	JobTimeout time.Duration `yaml:"job_timeout" json:"job_timeout"`
}

// DefaultWorkerConfig returns the worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency: 4,
		PollTimeout: 5 * time.Second,
		JobTimeout:  10 * time.Minute,
	}
}

// Worker pulls jobs off a RedisQueue and runs them through a Processor.
type Worker struct {
	queue     *RedisQueue
	processor Processor
	config    WorkerConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
	errDelay  backoff.Policy
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithWorkerMetrics sets the metrics sink.
func WithWorkerMetrics(m *observability.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// NewWorker creates a worker. Zero config fields take their defaults.
func NewWorker(q *RedisQueue, p Processor, config WorkerConfig, opts ...WorkerOption) *Worker {
	def := DefaultWorkerConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	w := &Worker{
		queue:     q,
		processor: p,
		config:    config,
		logger:    slog.Default(),
		errDelay:  backoff.Policy{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2, Jitter: 0.2},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "queue_worker")
	return w
}

// Run processes jobs until ctx is cancelled. In-flight jobs finish before
// Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "concurrency", w.config.Concurrency, "queue", w.queue.config.Key)
	var wg sync.WaitGroup
	for i := 0; i < w.config.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.loop(ctx, id)
		}(i)
	}
	wg.Wait()
	w.logger.Info("worker stopped")
	return nil
}

func (w *Worker) loop(ctx context.Context, id int) {
	failures := 0
	for ctx.Err() == nil {
		job, err := w.queue.Dequeue(ctx, w.config.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			delay := backoff.Compute(w.errDelay, failures, 0)
			w.logger.Warn("dequeue failed", "worker", id, "error", err, "retry_in", delay)
			if backoff.Sleep(ctx, delay) != nil {
				return
			}
			continue
		}
		failures = 0
		if job == nil {
			continue
		}
		w.Handle(ctx, job)
	}
}

// Handle processes one job and stores its result. Cancelling ctx does not
// abort a job that has started; JobTimeout bounds it instead.
func (w *Worker) Handle(ctx context.Context, job *Job) *Result {
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.config.JobTimeout)
	defer cancel()

	res := w.process(jobCtx, job)
	res.TenantID = job.AuthenticatedTenantID
	w.metrics.QueueJobHandled(res.Status)
	if err := w.queue.SaveResult(jobCtx, res); err != nil {
		w.logger.Error("failed to store job result", "message_id", res.MessageID, "error", err)
	}
	return res
}

func (w *Worker) process(ctx context.Context, job *Job) (res *Result) {
	var messageID string
	if job.Message != nil {
		messageID = job.Message.ID
	}
	defer func() {
		if r := recover(); r != nil {
			errorID := uuid.NewString()
			w.logger.Error("job panicked", "message_id", messageID, "error_id", errorID, "panic", fmt.Sprint(r))
			res = failedResult(messageID, http.StatusInternalServerError, "internal error", errorID)
		}
		res.FinishedAt = time.Now().UTC()
	}()

	out, err := w.processor.ProcessInboundMessage(ctx, job.Message, job.AuthenticatedTenantID)
	if err == nil {
		return &Result{MessageID: messageID, Status: StatusCompleted, Outbound: out}
	}

	var pe *orchestrator.PublicError
	if errors.As(err, &pe) {
		w.logger.Warn("job failed", "message_id", messageID, "error_id", pe.ErrorID, "code", pe.Code)
		return failedResult(messageID, pe.Code, pe.Message(), pe.ErrorID)
	}
	errorID := uuid.NewString()
	w.logger.Error("job failed", "message_id", messageID, "error_id", errorID, "error", err)
	return failedResult(messageID, http.StatusInternalServerError, "internal error", errorID)
}

func failedResult(messageID string, code int, msg, errorID string) *Result {
	return &Result{
		MessageID: messageID,
		Status:    StatusFailed,
		Code:      code,
		Error:     msg,
		ErrorID:   errorID,
	}
}
