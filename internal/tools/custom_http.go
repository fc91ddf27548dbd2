package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/net/ssrf"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// DefaultHTTPToolTimeout bounds a custom HTTP tool request.
const DefaultHTTPToolTimeout = 30 * time.Second

const maxHTTPToolResponse = 1 << 20

// HTTPProvider POSTs tool arguments to a tenant-configured URL.
type HTTPProvider struct {
	client    *http.Client
	validator *ssrf.Validator
	breaker   *infra.CircuitBreaker
	audit     audit.Recorder
	timeout   time.Duration
	now       func() time.Time
}

// HTTPProviderOption configures an HTTPProvider.
type HTTPProviderOption func(*HTTPProvider)

// WithHTTPClient replaces the HTTP client. The default client checks dial
// addresses with the provider's validator and does not follow redirects.
func WithHTTPClient(c *http.Client) HTTPProviderOption {
	return func(p *HTTPProvider) { p.client = c }
}

// WithHTTPTimeout sets the per-call timeout.
func WithHTTPTimeout(d time.Duration) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithHTTPBreaker guards requests with a circuit breaker.
func WithHTTPBreaker(cb *infra.CircuitBreaker) HTTPProviderOption {
	return func(p *HTTPProvider) { p.breaker = cb }
}

// WithHTTPAudit sets the audit recorder.
func WithHTTPAudit(r audit.Recorder) HTTPProviderOption {
	return func(p *HTTPProvider) {
		if r != nil {
			p.audit = r
		}
	}
}

// NewHTTPProvider creates the custom_http provider.
func NewHTTPProvider(validator *ssrf.Validator, opts ...HTTPProviderOption) *HTTPProvider {
	if validator == nil {
		validator = ssrf.NewValidator()
	}
	p := &HTTPProvider{
		validator: validator,
		audit:     audit.Nop{},
		timeout:   DefaultHTTPToolTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = validator.HTTPClient()
	}
	return p
}

// Kind implements ToolProvider.
func (p *HTTPProvider) Kind() models.ProviderKind { return models.ProviderCustomHTTP }

// Execute implements ToolProvider.
func (p *HTTPProvider) Execute(ctx context.Context, call *Call) (Result, error) {
	endpoint := call.Def.RefString("url")
	if endpoint == "" {
		return nil, faults.Newf(faults.KindConfig, "custom_http tool %q has no url in implementation_ref", call.Def.Name)
	}
	u, err := p.validator.ValidateURL(ctx, endpoint)
	if err != nil {
		reason := err.Error()
		var be *ssrf.BlockedError
		if errors.As(err, &be) {
			reason = be.Reason
		}
		p.audit.Log(ctx, audit.EndpointBlocked(call.Exec, call.Def.Name, endpoint, reason))
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, faults.Newf(faults.KindConfig, "custom_http tool %q requires an http(s) url", call.Def.Name)
	}

	body, err := json.Marshal(call.Args)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, err, "encode tool arguments")
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("Accept", "application/json")
	if extra, ok := call.Def.ImplementationRef["headers"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				headers.Set(k, s)
			}
		}
	}
	for k, v := range call.Exec.Headers() {
		headers.Set(k, v)
	}

	var status int
	start := p.now()
	res, err := infra.ResilientCall(ctx, infra.Resilience{Breaker: p.breaker, Timeout: p.timeout},
		func(ctx context.Context) (Result, error) {
			var r Result
			var err error
			r, status, err = p.post(ctx, u.String(), headers, body)
			return r, err
		})
	p.audit.Log(ctx, audit.HTTPToolCall(call.Exec, call.Def.Name, u.Host, status, p.now().Sub(start)))
	return res, err
}

// post sends one request and returns the decoded result with the response
// status, or 0 when no response arrived.
func (p *HTTPProvider) post(ctx context.Context, endpoint string, headers http.Header, body []byte) (Result, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, faults.Wrap(faults.KindConfig, err, "build tool request")
	}
	req.Header = headers.Clone()

	resp, err := p.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, 0, faults.Wrap(faults.KindNetwork, err, "custom_http tool timed out").WithProvider(string(models.ProviderCustomHTTP))
		}
		return nil, 0, faults.Wrap(faults.KindNetwork, err, "custom_http request failed").WithProvider(string(models.ProviderCustomHTTP))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPToolResponse))
	if err != nil {
		return nil, resp.StatusCode, faults.Wrap(faults.KindNetwork, err, "read tool response").WithProvider(string(models.ProviderCustomHTTP))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, faults.FromStatus(string(models.ProviderCustomHTTP), resp.StatusCode,
			fmt.Sprintf("custom_http tool returned %d", resp.StatusCode)).
			WithRetryAfter(faults.ParseRetryAfterHeader(resp.Header.Get("Retry-After")))
	}
	return decodeResult(payload), resp.StatusCode, nil
}
