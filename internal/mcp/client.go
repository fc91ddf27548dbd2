package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/net/ssrf"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/secrets"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// DefaultTimeout bounds a single tools/call exchange.
const DefaultTimeout = 30 * time.Second

// DefaultAPIKeyHeader is used for api_key auth when key_name is unset.
const DefaultAPIKeyHeader = "X-API-Key"

// Implementation ref keys read from MCP tool definitions.
const (
	RefServerName = "mcp_server_name"
	RefToolName   = "mcp_tool_name"
)

// Client executes MCP tools on behalf of a tenant.
type Client struct {
	registry  Registry
	secrets   secrets.Resolver
	validator *ssrf.Validator
	http      Transport
	ws        Transport
	breaker   *infra.CircuitBreaker
	audit     audit.Recorder
	metrics   *observability.Metrics
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithSecrets sets the resolver for token references.
func WithSecrets(r secrets.Resolver) Option { return func(c *Client) { c.secrets = r } }

// WithValidator replaces the endpoint validator.
func WithValidator(v *ssrf.Validator) Option { return func(c *Client) { c.validator = v } }

// WithTransports replaces the HTTP and WebSocket transports.
func WithTransports(httpT, wsT Transport) Option {
	return func(c *Client) {
		if httpT != nil {
			c.http = httpT
		}
		if wsT != nil {
			c.ws = wsT
		}
	}
}

// WithBreaker wraps transport calls in a circuit breaker.
func WithBreaker(cb *infra.CircuitBreaker) Option { return func(c *Client) { c.breaker = cb } }

// WithAudit sets the audit recorder.
func WithAudit(r audit.Recorder) Option { return func(c *Client) { c.audit = r } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithTimeout sets the default per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates an MCP client. registry is required: ownership is never
// inferred from tenant configuration alone.
func NewClient(registry Registry, opts ...Option) *Client {
	c := &Client{
		registry:  registry,
		validator: ssrf.NewValidator(),
		audit:     audit.Nop{},
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = NewHTTPTransport(c.validator)
	}
	if c.ws == nil {
		c.ws = NewWebSocketTransport(c.validator)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "mcp")
	return c
}

// Execute calls the MCP tool described by def with args. Identity headers
// come from ec and overwrite any configured header with the same name.
func (c *Client) Execute(ctx context.Context, tc *models.TenantContext, def *models.ToolDefinition, args map[string]any, ec identity.ExecutionContext) (json.RawMessage, error) {
	serverName := def.RefString(RefServerName)
	if serverName == "" {
		return nil, faults.Newf(faults.KindConfig, "mcp tool %q has no %s in implementation_ref", def.Name, RefServerName)
	}
	toolName := def.RefString(RefToolName)
	if toolName == "" {
		toolName = def.Name
	}

	server, ok := tc.MCPConfigs[serverName]
	if !ok {
		return nil, faults.Newf(faults.KindConfig, "MCP server %q not found in tenant config", serverName)
	}
	if server.Endpoint == "" {
		return nil, faults.Newf(faults.KindConfig, "MCP server %q missing endpoint", serverName)
	}

	start := c.now()
	result, status, err := c.execute(ctx, server, serverName, toolName, args, ec)
	latency := c.now().Sub(start)

	errMsg := ""
	if err != nil {
		errMsg = faults.Sanitize(err)
	}
	c.audit.Log(ctx, audit.MCPCall(ec, serverName, toolName, status, latency, errMsg))
	c.metrics.RecordMCPCall(serverName, status, latency.Seconds())
	if err != nil {
		c.logger.Warn("mcp call failed",
			"server", serverName,
			"tool", toolName,
			"status", status,
			"latency_ms", latency.Milliseconds(),
			"error", err)
	}
	return result, err
}

func (c *Client) execute(ctx context.Context, server models.MCPServerConfig, serverName, toolName string, args map[string]any, ec identity.ExecutionContext) (json.RawMessage, string, error) {
	owned, err := c.checkOwnership(ctx, server.ServerID, ec.TenantID())
	if err != nil {
		return nil, "error", err
	}
	if !owned {
		c.audit.Log(ctx, audit.OwnershipDenied(ec, server.ServerID, toolName))
		return nil, "denied", faults.Newf(faults.KindAuth, "MCP server %q is not registered to this tenant", serverName).
			WithProvider("mcp").
			WithRetryable(false)
	}

	endpoint, err := c.validator.ValidateURL(ctx, server.Endpoint)
	if err != nil {
		c.audit.Log(ctx, audit.EndpointBlocked(ec, toolName, server.Endpoint, err.Error()))
		return nil, "blocked", err
	}

	header, err := c.headers(ctx, server.AuthConfig, ec)
	if err != nil {
		return nil, "error", err
	}

	if args == nil {
		args = map[string]any{}
	}
	params, err := json.Marshal(CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, "error", faults.Wrap(faults.KindValidation, err, "marshal tool arguments")
	}
	req := &JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      "mcp_" + uuid.NewString(),
		Method:  MethodToolsCall,
		Params:  params,
	}

	transport := c.http
	if isWebSocket(endpoint.Scheme) {
		transport = c.ws
	}

	timeout := c.timeout
	if s := server.AuthConfig.TimeoutSeconds; s > 0 {
		timeout = time.Duration(s) * time.Second
	}

	call := func(ctx context.Context) (*JSONRPCResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		resp, err := transport.RoundTrip(callCtx, endpoint.String(), header, req)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, faults.Wrap(faults.KindNetwork, err, "MCP request timed out").WithProvider("mcp")
		}
		return resp, err
	}

	var resp *JSONRPCResponse
	if c.breaker != nil {
		resp, err = infra.ExecuteWithResult(c.breaker, ctx, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		if faults.Is(err, faults.KindCircuitOpen) {
			return nil, "circuit_open", err
		}
		return nil, "error", err
	}
	if resp.Error != nil {
		return nil, "error", resp.Error.fault().WithOp(toolName)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return json.RawMessage(`{}`), "success", nil
	}
	return resp.Result, "success", nil
}

func (c *Client) checkOwnership(ctx context.Context, serverID, tenantID string) (bool, error) {
	if c.registry == nil {
		return false, faults.New(faults.KindConfig, "mcp server registry not configured")
	}
	owned, err := c.registry.OwnedBy(ctx, serverID, tenantID)
	if err != nil {
		return false, faults.Wrap(faults.KindNetwork, err, "verify mcp server ownership").WithProvider("mcp")
	}
	return owned, nil
}

// headers builds the request headers. Vendor auth goes first; identity
// headers are applied last so configuration cannot impersonate a tenant
// or user.
func (c *Client) headers(ctx context.Context, auth models.MCPAuthConfig, ec identity.ExecutionContext) (http.Header, error) {
	h := http.Header{}

	switch strings.ToLower(auth.Type) {
	case "bearer":
		token, err := c.secret(ctx, firstNonEmpty(auth.Token, auth.SecretRef))
		if err != nil {
			return nil, err
		}
		if token != "" {
			h.Set("Authorization", "Bearer "+token)
		}
	case "api_key":
		key, err := c.secret(ctx, firstNonEmpty(auth.APIKey, auth.SecretRef))
		if err != nil {
			return nil, err
		}
		name := auth.KeyName
		if name == "" {
			name = DefaultAPIKeyHeader
		}
		if key != "" {
			h.Set(name, key)
		}
	case "":
	default:
		return nil, faults.Newf(faults.KindConfig, "unsupported mcp auth type %q", auth.Type)
	}

	for k, v := range ec.Headers() {
		h.Set(k, v)
	}
	return h, nil
}

func (c *Client) secret(ctx context.Context, value string) (string, error) {
	if value == "" || !secrets.IsReference(value) {
		return value, nil
	}
	if c.secrets == nil {
		return "", faults.New(faults.KindConfig, "mcp auth references a secret but no resolver is configured")
	}
	v, err := c.secrets.Resolve(ctx, value)
	if err != nil {
		return "", faults.Wrap(faults.KindConfig, err, fmt.Sprintf("resolve mcp credential (%s)", schemeOf(value)))
	}
	return v, nil
}

func schemeOf(ref string) string {
	if r, ok := secrets.ParseRef(ref); ok {
		return r.Scheme
	}
	return "literal"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
