// Package providers adapts vendor LLM APIs to a single request/response
// shape used by the orchestrator.
//
// Each adapter owns its SDK client and normalizes vendor errors through
// WrapError so retry and circuit breaking can treat every vendor the same.
// The Gateway resolves the adapter named by a tenant's llm_provider.
package providers

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Message is one conversation turn sent to a provider.
type Message struct {
	Role       models.Role       `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []models.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`

	// Name is the tool name on tool turns. Gemini needs it to pair a
	// function response with its call.
	Name string `json:"name,omitempty"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model                string                  `json:"model"`
	Messages             []Message               `json:"messages"`
	Tools                []models.ToolDefinition `json:"-"`
	VectorStoreIDs       []string                `json:"vector_store_ids,omitempty"`
	FileSearchStoreNames []string                `json:"file_search_store_names,omitempty"`
	MaxTokens            int                     `json:"max_tokens,omitempty"`
}

// ToolNames returns the names of the tools offered in the request.
func (r *Request) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Name)
	}
	return names
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized result of a completion.
type Response struct {
	ID           string            `json:"id"`
	Model        string            `json:"model"`
	Text         string            `json:"text"`
	ToolCalls    []models.ToolCall `json:"tool_calls,omitempty"`
	Annotations  []Annotation      `json:"annotations,omitempty"`
	Usage        Usage             `json:"usage"`
	FinishReason string            `json:"finish_reason,omitempty"`
	Raw          json.RawMessage   `json:"-"`
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider is implemented by every vendor adapter.
type Provider interface {
	// Name returns the identifier tenants use in llm_provider.
	Name() string

	// Call runs a single non-streaming completion.
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Gateway resolves providers by name.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewGateway creates a gateway with the given providers registered.
func NewGateway(providers ...Provider) *Gateway {
	g := &Gateway{providers: make(map[string]Provider)}
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

// Register adds or replaces a provider.
func (g *Gateway) Register(p Provider) {
	if p == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[normalizeName(p.Name())] = p
}

// Resolve returns the provider registered under name.
func (g *Gateway) Resolve(name string) (Provider, error) {
	g.mu.RLock()
	p, ok := g.providers[normalizeName(name)]
	g.mu.RUnlock()
	if !ok {
		return nil, faults.Newf(faults.KindConfig, "unknown llm provider %q", name).WithProvider(name)
	}
	return p, nil
}

// Call resolves the provider and runs the request.
func (g *Gateway) Call(ctx context.Context, provider string, req *Request) (*Response, error) {
	p, err := g.Resolve(provider)
	if err != nil {
		return nil, err
	}
	return p.Call(ctx, req)
}

// Names lists the registered providers in sorted order.
func (g *Gateway) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.providers))
	for name := range g.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// splitSystem separates leading and interleaved system turns from the rest
// of the conversation. Vendors without a system role take them as a single
// instruction block.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == models.RoleSystem {
			if strings.TrimSpace(m.Content) != "" {
				system = append(system, m.Content)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

// normalizeArguments returns args as JSON, substituting an empty object for
// blank or malformed model output.
func normalizeArguments(args string) json.RawMessage {
	args = strings.TrimSpace(args)
	if args == "" || !json.Valid([]byte(args)) {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(args)
}
