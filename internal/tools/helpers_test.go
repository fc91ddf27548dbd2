package tools

import (
	"context"
	"sync"
	"testing"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/pkg/models"
)

type fakeProvider struct {
	kind models.ProviderKind
	res  Result
	err  error

	mu    sync.Mutex
	calls []*Call
}

func (f *fakeProvider) Kind() models.ProviderKind { return f.kind }

func (f *fakeProvider) Execute(_ context.Context, call *Call) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	return f.res, f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
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

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recordingAudit) has(t audit.EventType) bool {
	for _, got := range r.types() {
		if got == t {
			return true
		}
	}
	return false
}

type staticPolicy []models.ProviderKind

func (p staticPolicy) EnabledFileSearchProviders(context.Context, string) ([]models.ProviderKind, error) {
	return p, nil
}

func testExec(t *testing.T) identity.ExecutionContext {
	t.Helper()
	ec, err := identity.Build("tenant-a", &models.CanonicalMessage{
		TenantID:       "tenant-a",
		ConversationID: "conv-1",
		Channel:        models.ChannelWeb,
		From:           models.MessageParty{Type: models.PartyUser, ExternalID: "u-42"},
	})
	if err != nil {
		t.Fatalf("build execution context: %v", err)
	}
	return ec
}

func testTenant() *models.TenantContext {
	return &models.TenantContext{
		TenantID: "tenant-a",
		KBConfigs: map[string]models.KBConfig{
			"docs": {Provider: models.ProviderOpenAIFile, ProviderConfig: map[string]any{"vector_store_id": "vs_docs"}},
			"faq":  {Provider: models.ProviderGeminiFile, ProviderConfig: map[string]any{"file_search_store_name": "stores/faq"}},
			"help": {Provider: models.ProviderOpenAIFile, ProviderConfig: map[string]any{"vector_store_id": "vs_help"}},
		},
	}
}
