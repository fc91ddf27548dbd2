// Package gateway is the HTTP ingress in front of the orchestrator.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexushub/internal/auth"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/internal/queue"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// DefaultMaxBodyBytes caps inbound request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Processor runs one inbound message to completion.
type Processor interface {
	ProcessInboundMessage(ctx context.Context, msg *models.CanonicalMessage, authenticatedTenantID string) (*orchestrator.Outbound, error)
}

// Enqueuer hands inbound messages to queue workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *models.CanonicalMessage, authenticatedTenantID string) (string, error)
	Result(ctx context.Context, messageID string) (*queue.Result, error)
}

// Config configures the HTTP listener.
type Config struct {
	Host              string
	Port              int
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	MaxBodyBytes      int64
}

// Server serves the ingress API.
type Server struct {
	config    Config
	auth      *auth.Service
	processor Processor
	queue     Enqueuer
	tasks     TaskController
	plans     PlanRefiner
	health    *infra.HealthChecks
	gatherer  prometheus.Gatherer
	metrics   *observability.Metrics
	logger    *slog.Logger

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithQueue switches inbound handling to asynchronous mode.
func WithQueue(q Enqueuer) Option {
	return func(s *Server) { s.queue = q }
}

// WithHealth serves readiness probes on /readyz.
func WithHealth(h *infra.HealthChecks) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records request metrics and serves gatherer on /metrics.
func WithMetrics(m *observability.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates the ingress server. A nil processor is only allowed in
// queue mode.
func NewServer(config Config, authService *auth.Service, processor Processor, opts ...Option) (*Server, error) {
	s := &Server{
		config:    config,
		auth:      authService,
		processor: processor,
		gatherer:  prometheus.DefaultGatherer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.config.MaxBodyBytes <= 0 {
		s.config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.config.ReadHeaderTimeout <= 0 {
		s.config.ReadHeaderTimeout = 5 * time.Second
	}
	if s.config.ShutdownTimeout <= 0 {
		s.config.ShutdownTimeout = 30 * time.Second
	}
	if !s.auth.Enabled() {
		return nil, errors.New("gateway: authentication must be configured")
	}
	if s.processor == nil && s.queue == nil {
		return nil, errors.New("gateway: a processor or a queue is required")
	}
	s.logger = s.logger.With("component", "gateway")
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.health != nil {
		mux.HandleFunc("GET /readyz", s.handleReadyz)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	authed := auth.Middleware(s.auth, s.logger)
	mux.Handle("POST /v1/messages/inbound", authed(http.HandlerFunc(s.handleInbound)))
	if s.queue != nil {
		mux.Handle("GET /v1/messages/{id}/result", authed(http.HandlerFunc(s.handleResult)))
	}
	if s.tasks != nil {
		mux.Handle("GET /v1/tasks", authed(http.HandlerFunc(s.handleListTasks)))
		mux.Handle("GET /v1/tasks/{id}", authed(http.HandlerFunc(s.handleGetTask)))
		mux.Handle("POST /v1/tasks/{id}/resume", authed(http.HandlerFunc(s.handleResumeTask)))
		mux.Handle("POST /v1/tasks/{id}/pause", authed(http.HandlerFunc(s.handlePauseTask)))
		mux.Handle("POST /v1/tasks/{id}/cancel", authed(http.HandlerFunc(s.handleCancelTask)))
	}
	if s.plans != nil {
		mux.Handle("POST /v1/plans/{id}/refine", authed(http.HandlerFunc(s.handleRefinePlan)))
	}
	return s.instrument(mux)
}

// Start listens and serves in the background.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()
	s.logger.Info("starting http server", "addr", listener.Addr().String(), "async", s.queue != nil)
	return nil
}

// Stop drains in-flight requests for up to ShutdownTimeout.
func (s *Server) Stop(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.httpServer = nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, fmt.Sprint(rec.status), time.Since(start).Seconds())
	})
}
