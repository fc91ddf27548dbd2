package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Execution reports what the engine did with one tool call.
type Execution struct {
	Result Result
	// Arguments are the arguments actually dispatched.
	Arguments map[string]any
	// Overrides lists the user context parameters removed from the model's
	// arguments.
	Overrides []string
	// Warnings holds non-blocking validation findings.
	Warnings []string
}

// Engine validates, sanitizes and dispatches tool calls.
type Engine struct {
	registry *Registry
	policy   FileSearchPolicy
	audit    audit.Recorder
	metrics  *observability.Metrics
	logger   *slog.Logger
	schemas  *schemaCache
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithFileSearchPolicy sets the policy consulted for file_search fan-out.
func WithFileSearchPolicy(p FileSearchPolicy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// WithAuditRecorder sets the security audit channel.
func WithAuditRecorder(r audit.Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.audit = r
		}
	}
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger sets the logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an engine over a provider registry.
func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		registry: registry,
		audit:    audit.Nop{},
		logger:   slog.Default(),
		schemas:  newSchemaCache(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "tools")
	return e
}

// Execute runs one tool call and returns its result.
func (e *Engine) Execute(ctx context.Context, tc *models.TenantContext, def *models.ToolDefinition, llmArgs map[string]any, ec identity.ExecutionContext) (Result, error) {
	exec, err := e.ExecuteReport(ctx, tc, def, llmArgs, ec)
	if err != nil {
		return nil, err
	}
	return exec.Result, nil
}

// ExecuteReport runs one tool call and also reports the overrides and
// warnings applied, for the tool-call log.
func (e *Engine) ExecuteReport(ctx context.Context, tc *models.TenantContext, def *models.ToolDefinition, llmArgs map[string]any, ec identity.ExecutionContext) (*Execution, error) {
	if tc == nil || def == nil {
		return nil, faults.New(faults.KindValidation, "tenant context and tool definition are required")
	}
	if llmArgs == nil {
		llmArgs = map[string]any{}
	}

	warnings := e.inspect(ctx, def, llmArgs, ec)

	args, removed := StripUserParams(llmArgs, def.UserContextParams)
	if len(removed) > 0 {
		e.audit.Log(ctx, audit.ParamOverride(ec, def.Name, removed))
		e.logger.Info("stripped user context parameters",
			"tool", def.Name,
			"params", removed,
			"tenant_id", ec.TenantID(),
		)
	}

	exec := &Execution{Arguments: args, Overrides: removed, Warnings: warnings}
	call := &Call{Tenant: tc, Def: def, Args: args, Exec: ec}

	if def.IsAbstract() {
		res, err := e.fanOut(ctx, call)
		if err != nil {
			return exec, err
		}
		exec.Result = res
		return exec, nil
	}

	provider, ok := e.registry.Get(def.Provider)
	if !ok {
		return exec, faults.Newf(faults.KindConfig, "unknown tool provider %q", def.Provider).
			WithOp("tool_dispatch").
			WithRetryable(false)
	}
	res, err := provider.Execute(ctx, call)
	if err != nil {
		return exec, err
	}
	if res == nil {
		res = Result{}
	}
	exec.Result = res
	return exec, nil
}

// inspect runs the non-blocking checks and audits anything suspicious.
func (e *Engine) inspect(ctx context.Context, def *models.ToolDefinition, args map[string]any, ec identity.ExecutionContext) []string {
	var warnings []string
	for _, f := range ScanArguments(args) {
		warnings = append(warnings, f.String())
	}
	for _, name := range UserScopedParamsPresent(args, def.UserContextParams, def.IsUserScoped) {
		warnings = append(warnings, fmt.Sprintf("user-scoped parameter %q supplied by model", name))
	}
	if len(warnings) > 0 {
		e.audit.Log(ctx, audit.SuspiciousInput(ec, def.Name, warnings))
	}

	if schemaWarnings := e.schemas.validate(def.ParametersSchema, args); len(schemaWarnings) > 0 {
		e.audit.Log(ctx, audit.SchemaViolation(ec, def.Name, schemaWarnings))
		warnings = append(warnings, schemaWarnings...)
	}
	return warnings
}
