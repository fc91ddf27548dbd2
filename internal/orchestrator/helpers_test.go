package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/events"
	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/retry"
	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/internal/tenant"
	"github.com/haasonsaas/nexushub/internal/tools"
	"github.com/haasonsaas/nexushub/pkg/models"
)

type llmStep struct {
	resp *providers.Response
	err  error
}

// scriptedLLM replays steps in order and repeats the last one.
type scriptedLLM struct {
	mu       sync.Mutex
	steps    []llmStep
	requests []providers.Request
}

func (s *scriptedLLM) Call(_ context.Context, _ string, req *providers.Request) (*providers.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := *req
	snapshot.Messages = append([]providers.Message(nil), req.Messages...)
	s.requests = append(s.requests, snapshot)
	i := len(s.requests) - 1
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i].resp, s.steps[i].err
}

func (s *scriptedLLM) calls() []providers.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]providers.Request(nil), s.requests...)
}

type staticTenants struct {
	tc   models.TenantContext
	defs []models.ToolDefinition
}

func (s *staticTenants) Load(_ context.Context, tenantID string) (*models.TenantContext, error) {
	if tenantID != s.tc.TenantID {
		return nil, tenant.ErrNotFound
	}
	tc := s.tc
	return &tc, nil
}

func (s *staticTenants) AllowedTools(context.Context, *models.TenantContext) ([]models.ToolDefinition, error) {
	return append([]models.ToolDefinition(nil), s.defs...), nil
}

type fakeToolProvider struct {
	kind models.ProviderKind
	res  tools.Result
	err  error

	mu    sync.Mutex
	calls []*tools.Call
}

func (f *fakeToolProvider) Kind() models.ProviderKind { return f.kind }

func (f *fakeToolProvider) Execute(_ context.Context, call *tools.Call) (tools.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.res, f.err
}

func (f *fakeToolProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fileSearchPolicy []models.ProviderKind

func (p fileSearchPolicy) EnabledFileSearchProviders(context.Context, string) ([]models.ProviderKind, error) {
	return p, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingAudit) Log(_ context.Context, e *audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAudit) has(t audit.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return true
		}
	}
	return false
}

type fixture struct {
	orch   *Orchestrator
	store  *storage.MemoryStore
	events *events.Memory
	audit  *recordingAudit
	llm    *scriptedLLM
}

func testTenant() models.TenantContext {
	return models.TenantContext{
		TenantID:     "acme",
		LLMProvider:  "openai",
		LLMModel:     "gpt-4o",
		MaxToolSteps: 5,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() Config {
	return Config{
		LLMRetry: retry.Config{
			MaxRetries:   1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
	}
}

func newFixture(t *testing.T, tc models.TenantContext, defs []models.ToolDefinition, llm *scriptedLLM, toolProviders []tools.ToolProvider, opts ...Option) *fixture {
	t.Helper()
	reg, err := tools.NewRegistry(toolProviders...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	engine := tools.NewEngine(reg,
		tools.WithFileSearchPolicy(fileSearchPolicy{models.ProviderInternalRAG}),
		tools.WithEngineLogger(testLogger()),
	)

	f := &fixture{
		store:  storage.NewMemoryStore(),
		events: events.NewMemory(),
		audit:  &recordingAudit{},
		llm:    llm,
	}
	f.store.AddChannel(tc.TenantID, models.ChannelWeb, "chan-web")

	base := []Option{
		WithConfig(fastRetry()),
		WithEventLogger(f.events),
		WithAuditRecorder(f.audit),
		WithLogger(testLogger()),
	}
	f.orch, err = New(Dependencies{
		Tenants: &staticTenants{tc: tc, defs: defs},
		Tools:   &staticTenants{tc: tc, defs: defs},
		Store:   f.store,
		LLM:     llm,
		Engine:  engine,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func inbound(tenantID, text string) *models.CanonicalMessage {
	return &models.CanonicalMessage{
		ID:              "src-1",
		TenantID:        tenantID,
		Channel:         models.ChannelWeb,
		Direction:       models.DirectionInbound,
		SourceMessageID: "web-1",
		From:            models.MessageParty{Type: models.PartyUser, ExternalID: "u-42"},
		To:              models.MessageParty{Type: models.PartyBot},
		Content:         models.MessageContent{Type: "text", Text: text},
		Metadata:        map[string]any{"external_thread_id": "thread-1"},
		Timestamp:       time.Now(),
	}
}

func textResponse(text string) *providers.Response {
	return &providers.Response{
		Text:  text,
		Usage: providers.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
	}
}

func toolResponse(text string, calls ...models.ToolCall) *providers.Response {
	return &providers.Response{
		Text:      text,
		ToolCalls: calls,
		Usage:     providers.Usage{PromptTokens: 20, CompletionTokens: 4, TotalTokens: 24},
	}
}

func countTypes(types []events.Type, want events.Type) int {
	n := 0
	for _, t := range types {
		if t == want {
			n++
		}
	}
	return n
}
