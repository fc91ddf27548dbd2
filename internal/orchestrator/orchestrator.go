// Package orchestrator drives one inbound message through identity checks,
// admission, persistence, optional planning and the bounded LLM/tool loop,
// and produces the outbound reply.
//
// Every collaborator is an interface so the same flow runs against Postgres
// in production and in-memory stores in tests. Failures leave the package
// only as *PublicError, which carries a correlation id instead of the cause.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/events"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/prompt"
	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/ratelimit"
	"github.com/haasonsaas/nexushub/internal/reflection"
	"github.com/haasonsaas/nexushub/internal/retry"
	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/internal/tenant"
	"github.com/haasonsaas/nexushub/internal/tools"
	"github.com/haasonsaas/nexushub/internal/usage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Trace span states, in the order a successful message passes them.
const (
	StateReceived        = "received"
	StateContextResolved = "context_resolved"
	StateHistoryLoaded   = "history_loaded"
	StatePlanning        = "planning"
	StateCallingLLM      = "calling_llm"
	StateExecutingTools  = "executing_tools"
	StateResponding      = "responding"
	StatePersisted       = "persisted"
)

// BotID is the sender id on every outbound message.
const BotID = "orchestrator"

// Config tunes the orchestration loop.
type Config struct {
	// HistoryLimit is the number of prior messages loaded as context.
	HistoryLimit int
	// LLMTimeout bounds each LLM attempt.
	LLMTimeout time.Duration
	// LLMRetry is the retry policy around each LLM call.
	LLMRetry retry.Config
	// MinGoalLength is the shortest message treated as a planning goal.
	MinGoalLength int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:  storage.DefaultHistoryLimit,
		LLMTimeout:    120 * time.Second,
		LLMRetry:      retry.DefaultConfig(),
		MinGoalLength: 40,
	}
}

// LLM runs a completion against a named provider.
type LLM interface {
	Call(ctx context.Context, provider string, req *providers.Request) (*providers.Response, error)
}

// ToolExecutor dispatches one tool call.
type ToolExecutor interface {
	ExecuteReport(ctx context.Context, tc *models.TenantContext, def *models.ToolDefinition, llmArgs map[string]any, ec identity.ExecutionContext) (*tools.Execution, error)
}

// Planner turns a goal into a stored plan.
type Planner interface {
	CreatePlan(ctx context.Context, tc *models.TenantContext, goal string, tools []models.ToolDefinition, conversationID, messageID string) (*models.Plan, error)
	RefinePlan(ctx context.Context, tc *models.TenantContext, planID string, currentStep int) (*models.Plan, error)
	UpdateStatus(ctx context.Context, tenantID, planID string, status models.PlanStatus) error
}

// TaskTracker records the progress of a planned task.
type TaskTracker interface {
	Create(ctx context.Context, tenantID, goal, planID, conversationID string) (*models.Task, error)
	UpdateState(ctx context.Context, tenantID, taskID string, step int, state map[string]any, status models.TaskStatus) error
	Complete(ctx context.Context, tenantID, taskID string, finalState map[string]any) error
	Fail(ctx context.Context, tenantID, taskID string, state map[string]any, step int) error
}

// Reflector learns from finished tasks.
type Reflector interface {
	Reflect(ctx context.Context, tc *models.TenantContext, planID, taskID string, results []reflection.StepResult, outcome string) (*models.Insight, error)
}

// Dependencies are the collaborators every orchestrator needs.
type Dependencies struct {
	Tenants tenant.Loader
	Tools   tenant.ToolRegistry
	Store   storage.Store
	LLM     LLM
	Engine  ToolExecutor
}

// Orchestrator processes inbound messages.
type Orchestrator struct {
	config  Config
	tenants tenant.Loader
	tools   tenant.ToolRegistry
	store   storage.Store
	llm     LLM
	engine  ToolExecutor

	planner   Planner
	tasks     TaskTracker
	reflector Reflector
	limiter   ratelimit.Limiter
	breakers  *infra.BreakerSet
	events    events.Logger
	audit     audit.Recorder
	builder   *prompt.Builder
	prices    *usage.PriceTable
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the loop configuration. Zero fields keep their defaults.
func WithConfig(c Config) Option {
	return func(o *Orchestrator) {
		if c.HistoryLimit > 0 {
			o.config.HistoryLimit = c.HistoryLimit
		}
		if c.LLMTimeout > 0 {
			o.config.LLMTimeout = c.LLMTimeout
		}
		if c.LLMRetry.MaxRetries > 0 || c.LLMRetry.InitialDelay > 0 {
			o.config.LLMRetry = c.LLMRetry
		}
		if c.MinGoalLength > 0 {
			o.config.MinGoalLength = c.MinGoalLength
		}
	}
}

// WithPlanning enables plan generation and task tracking.
func WithPlanning(p Planner, t TaskTracker) Option {
	return func(o *Orchestrator) {
		o.planner = p
		o.tasks = t
	}
}

// WithReflector sets the post-task reflector.
func WithReflector(r Reflector) Option {
	return func(o *Orchestrator) { o.reflector = r }
}

// WithRateLimiter sets the admission limiter.
func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(o *Orchestrator) { o.limiter = l }
}

// WithBreakers sets the per-provider circuit breakers.
func WithBreakers(b *infra.BreakerSet) Option {
	return func(o *Orchestrator) { o.breakers = b }
}

// WithEventLogger sets the business event log.
func WithEventLogger(l events.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.events = l
		}
	}
}

// WithAuditRecorder sets the security audit channel.
func WithAuditRecorder(r audit.Recorder) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.audit = r
		}
	}
}

// WithPromptBuilder sets the prompt builder.
func WithPromptBuilder(b *prompt.Builder) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.builder = b
		}
	}
}

// WithPriceTable sets the pricing used for cost accounting.
func WithPriceTable(p *usage.PriceTable) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.prices = p
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New builds an orchestrator. All Dependencies are required.
func New(deps Dependencies, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Tenants == nil:
		return nil, errors.New("orchestrator: tenant loader is required")
	case deps.Tools == nil:
		return nil, errors.New("orchestrator: tool registry is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.LLM == nil:
		return nil, errors.New("orchestrator: llm gateway is required")
	case deps.Engine == nil:
		return nil, errors.New("orchestrator: tool engine is required")
	}

	o := &Orchestrator{
		config:  DefaultConfig(),
		tenants: deps.Tenants,
		tools:   deps.Tools,
		store:   deps.Store,
		llm:     deps.LLM,
		engine:  deps.Engine,
		events:  events.Nop{},
		audit:   audit.Nop{},
		prices:  usage.NewPriceTable(nil, nil),
		tracer:  observability.NoopTracer(),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.builder == nil {
		o.builder = prompt.NewBuilder(prompt.CharCounter{}, o.logger)
	}
	return o, nil
}

// Outbound is the result of processing one inbound message.
type Outbound struct {
	Message           models.CanonicalMessage `json:"message"`
	LatencyMs         int64                   `json:"latency_ms"`
	ToolCallsExecuted int                     `json:"tool_calls_executed"`
	PlanID            string                  `json:"plan_id,omitempty"`
	TaskID            string                  `json:"task_id,omitempty"`
}

// ProcessInboundMessage handles one inbound message on behalf of the
// authenticated tenant. Any returned error is a *PublicError.
func (o *Orchestrator) ProcessInboundMessage(ctx context.Context, msg *models.CanonicalMessage, authenticatedTenantID string) (*Outbound, error) {
	start := o.now()
	var tenantID, channel, messageID string
	if msg != nil {
		tenantID, channel, messageID = msg.TenantID, string(msg.Channel), msg.ID
	}

	ctx, span := o.tracer.TraceInbound(ctx, tenantID, channel, messageID)
	defer span.End()
	observability.MarkState(span, StateReceived)

	// Nothing may be written before the identity check passes.
	adm, err := AcceptInbound(authenticatedTenantID, msg)
	if err != nil {
		if faults.Is(err, faults.KindAuthzMismatch) {
			o.audit.Log(ctx, audit.TenantMismatch(authenticatedTenantID, tenantID, channel))
		}
		errorID := newErrorID()
		o.logger.Warn("rejected inbound message",
			"error_id", errorID,
			"authenticated_tenant_id", authenticatedTenantID,
			"claimed_tenant_id", tenantID,
			"error", err,
		)
		observability.RecordError(span, err)
		o.metrics.InboundProcessed(channel, "rejected")
		return nil, newPublicError(err, errorID)
	}

	ec := adm.Exec
	if len(adm.Injections) > 0 {
		o.logger.Warn("prompt injection patterns detected",
			"tenant_id", ec.TenantID(),
			"channel", ec.Channel(),
			"patterns", adm.Injections,
			"content_length", len(msg.Content.Text),
		)
		o.audit.Log(ctx, audit.PromptInjection(ec, adm.Injections))
	}

	if err := o.admit(ctx, ec); err != nil {
		observability.RecordError(span, err)
		o.metrics.InboundProcessed(channel, "rate_limited")
		return nil, err
	}

	t := &turn{
		o:       o,
		ec:      ec,
		inbound: *msg,
		start:   start,
		span:    span,
	}
	out, err := t.run(ctx)
	if err != nil {
		observability.RecordError(span, err)
		o.metrics.InboundProcessed(channel, "failure")
		var pe *PublicError
		if errors.As(err, &pe) {
			return nil, pe
		}
		return nil, o.internalError(ctx, t, err)
	}
	o.metrics.InboundProcessed(channel, "success")
	return out, nil
}

// admit applies the tenant and channel rate limits. Limiter errors fail
// open; the limiter itself falls back to local state when Redis is down.
func (o *Orchestrator) admit(ctx context.Context, ec identity.ExecutionContext) error {
	if o.limiter == nil {
		return nil
	}
	decision, err := o.limiter.Allow(ctx, ec.TenantID(), ec.Channel())
	if err != nil {
		o.logger.Warn("rate limiter unavailable, admitting", "tenant_id", ec.TenantID(), "error", err)
		return nil
	}
	if decision.Allowed {
		return nil
	}

	o.metrics.RateLimited(decision.Scope)
	errorID := newErrorID()
	o.logger.Info("rate limited",
		"error_id", errorID,
		"tenant_id", ec.TenantID(),
		"channel", ec.Channel(),
		"scope", decision.Scope,
		"retry_after", decision.RetryAfter,
	)
	cause := faults.Newf(faults.KindRateLimit, "%s rate limit exceeded", decision.Scope).
		WithRetryAfter(decision.RetryAfter)
	pe := newPublicError(cause, errorID)
	pe.Headers = decision.Headers()
	return pe
}

// internalError logs a non-orchestration failure under a fresh error id.
func (o *Orchestrator) internalError(ctx context.Context, t *turn, err error) *PublicError {
	errorID := newErrorID()
	o.logger.Error("inbound message processing failed",
		"error_id", errorID,
		"tenant_id", t.ec.TenantID(),
		"conversation_id", t.conversationID,
		"error", err,
	)
	if t.conversationID != "" {
		o.logEvent(ctx, &events.Event{
			TenantID:       t.ec.TenantID(),
			ConversationID: t.conversationID,
			MessageID:      t.inboundID,
			Type:           events.ProcessingFailure,
			Status:         events.StatusFailure,
			Payload:        map[string]any{"error": faults.Sanitize(err), "error_id": errorID},
		})
	}
	t.failTask(ctx)
	return newPublicError(err, errorID)
}

// logEvent writes a business event. Event logging never fails a request.
func (o *Orchestrator) logEvent(ctx context.Context, ev *events.Event) {
	if err := o.events.LogEvent(ctx, ev); err != nil {
		o.logger.Warn("failed to log event", "type", ev.Type, "tenant_id", ev.TenantID, "error", err)
	}
}

func (o *Orchestrator) logToolCall(ctx context.Context, call *events.ToolCall) {
	if err := o.events.LogToolCall(ctx, call); err != nil {
		o.logger.Warn("failed to log tool call", "tool", call.ToolName, "tenant_id", call.TenantID, "error", err)
	}
}

func (o *Orchestrator) breaker(provider string) *infra.CircuitBreaker {
	if o.breakers == nil {
		return nil
	}
	return o.breakers.Get(provider)
}
