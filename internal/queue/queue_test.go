package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/pkg/models"
)

func newTestQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client, Config{}), mr
}

func testMessage(id string) *models.CanonicalMessage {
	return &models.CanonicalMessage{
		ID:       id,
		TenantID: "acme",
		Channel:  models.ChannelWeb,
		From:     models.MessageParty{Type: models.PartyUser, ExternalID: "u-1"},
		Content:  models.MessageContent{Type: "text", Text: "hello"},
	}
}

func TestEnqueueDequeue(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	msg := testMessage("")
	id, err := q.Enqueue(ctx, msg, "acme")
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue() returned an empty id")
	}
	if msg.ID != "" {
		t.Errorf("Enqueue() mutated the caller's message id to %q", msg.ID)
	}
	if n, err := q.Len(ctx); err != nil || n != 1 {
		t.Fatalf("Len() = %d, %v; want 1", n, err)
	}

	job, err := q.Dequeue(ctx, time.Second)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if job == nil {
		t.Fatal("Dequeue() returned no job")
	}
	if job.Message.ID != id || job.AuthenticatedTenantID != "acme" {
		t.Errorf("job = %+v", job)
	}
	if job.Message.Content.Text != "hello" {
		t.Errorf("message text = %q", job.Message.Content.Text)
	}

	job, err = q.Dequeue(ctx, time.Second)
	if err != nil || job != nil {
		t.Errorf("Dequeue(empty) = %v, %v; want nil, nil", job, err)
	}
}

func TestEnqueueRejectsNilMessage(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Enqueue(context.Background(), nil, "acme"); err == nil {
		t.Error("Enqueue(nil) succeeded")
	}
}

func TestResultExpires(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	if _, err := q.Result(ctx, "m-1"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("Result(missing) error = %v, want ErrNoResult", err)
	}
	if err := q.SaveResult(ctx, &Result{MessageID: "m-1", Status: StatusCompleted}); err != nil {
		t.Fatalf("SaveResult() error = %v", err)
	}
	if ttl := mr.TTL(DefaultResultPrefix + "m-1"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}
	res, err := q.Result(ctx, "m-1")
	if err != nil {
		t.Fatalf("Result() error = %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Status = %q", res.Status)
	}

	mr.FastForward(time.Hour + time.Second)
	if _, err := q.Result(ctx, "m-1"); !errors.Is(err, ErrNoResult) {
		t.Errorf("Result(expired) error = %v, want ErrNoResult", err)
	}
}

type fakeProcessor struct {
	mu    sync.Mutex
	seen  []string
	out   *orchestrator.Outbound
	err   error
	panic bool
}

func (p *fakeProcessor) ProcessInboundMessage(_ context.Context, msg *models.CanonicalMessage, tenantID string) (*orchestrator.Outbound, error) {
	p.mu.Lock()
	p.seen = append(p.seen, msg.ID+"@"+tenantID)
	p.mu.Unlock()
	if p.panic {
		panic("processor blew up")
	}
	return p.out, p.err
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seen)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWorkerHandle(t *testing.T) {
	tests := []struct {
		name       string
		proc       *fakeProcessor
		wantStatus string
		wantCode   int
		wantError  string
	}{
		{
			name:       "completed",
			proc:       &fakeProcessor{out: &orchestrator.Outbound{ToolCallsExecuted: 2}},
			wantStatus: StatusCompleted,
		},
		{
			name: "public error",
			proc: &fakeProcessor{err: &orchestrator.PublicError{
				Code:    http.StatusTooManyRequests,
				Kind:    faults.KindRateLimit,
				ErrorID: "err-1",
			}},
			wantStatus: StatusFailed,
			wantCode:   http.StatusTooManyRequests,
			wantError:  "rate limit exceeded",
		},
		{
			name:       "other error",
			proc:       &fakeProcessor{err: errors.New("database exploded")},
			wantStatus: StatusFailed,
			wantCode:   http.StatusInternalServerError,
			wantError:  "internal error",
		},
		{
			name:       "panic",
			proc:       &fakeProcessor{panic: true},
			wantStatus: StatusFailed,
			wantCode:   http.StatusInternalServerError,
			wantError:  "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newTestQueue(t)
			metrics := observability.NewMetrics(prometheus.NewRegistry())
			w := NewWorker(q, tt.proc, WorkerConfig{}, WithWorkerLogger(quietLogger()), WithWorkerMetrics(metrics))

			res := w.Handle(context.Background(), &Job{Message: testMessage("m-1"), AuthenticatedTenantID: "acme"})
			if res.Status != tt.wantStatus || res.Code != tt.wantCode || res.Error != tt.wantError {
				t.Errorf("result = %+v", res)
			}
			if tt.wantStatus == StatusFailed && res.ErrorID == "" {
				t.Error("failed result has no error id")
			}
			if res.FinishedAt.IsZero() {
				t.Error("FinishedAt not set")
			}

			stored, err := q.Result(context.Background(), "m-1")
			if err != nil {
				t.Fatalf("Result() error = %v", err)
			}
			if stored.TenantID != "acme" {
				t.Errorf("stored tenant = %q, want acme", stored.TenantID)
			}
			if stored.Status != tt.wantStatus {
				t.Errorf("stored status = %q, want %q", stored.Status, tt.wantStatus)
			}
			if got := testutil.ToFloat64(metrics.QueueJobs.WithLabelValues(tt.wantStatus)); got != 1 {
				t.Errorf("queue jobs{%s} = %v, want 1", tt.wantStatus, got)
			}
		})
	}
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	proc := &fakeProcessor{out: &orchestrator.Outbound{}}
	w := NewWorker(q, proc, WorkerConfig{Concurrency: 2, PollTimeout: time.Second}, WithWorkerLogger(quietLogger()))

	ids := []string{"m-1", "m-2", "m-3"}
	for _, id := range ids {
		if _, err := q.Enqueue(context.Background(), testMessage(id), "acme"); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for proc.count() < len(ids) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	for _, id := range ids {
		res, err := q.Result(context.Background(), id)
		if err != nil {
			t.Errorf("Result(%s) error = %v", id, err)
			continue
		}
		if res.Status != StatusCompleted {
			t.Errorf("Result(%s) status = %q", id, res.Status)
		}
	}
}
