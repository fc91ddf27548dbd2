// Package tools dispatches model-requested tool calls to the provider that
// implements them, after stripping identity parameters the model must not
// control.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Result is the JSON object returned to the model as a tool turn.
type Result map[string]any

// Call is one dispatched tool invocation. Args never contain user context
// parameters; identity comes from Exec.
type Call struct {
	Tenant *models.TenantContext
	Def    *models.ToolDefinition
	Args   map[string]any
	Exec   identity.ExecutionContext
}

// ToolProvider executes tools of a single provider kind.
type ToolProvider interface {
	Kind() models.ProviderKind
	Execute(ctx context.Context, call *Call) (Result, error)
}

// FileSearchPolicy reports which file search backends a tenant has enabled.
type FileSearchPolicy interface {
	EnabledFileSearchProviders(ctx context.Context, tenantID string) ([]models.ProviderKind, error)
}

// Registry maps each provider kind to its implementation. It is immutable
// after construction.
type Registry struct {
	providers map[models.ProviderKind]ToolProvider
}

// NewRegistry builds a registry. Unknown kinds and duplicates are rejected.
func NewRegistry(providers ...ToolProvider) (*Registry, error) {
	r := &Registry{providers: make(map[models.ProviderKind]ToolProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		kind := p.Kind()
		if !kind.Valid() {
			return nil, fmt.Errorf("tool provider has unknown kind %q", kind)
		}
		if _, dup := r.providers[kind]; dup {
			return nil, fmt.Errorf("tool provider %q registered twice", kind)
		}
		r.providers[kind] = p
	}
	return r, nil
}

// Get returns the provider for a kind.
func (r *Registry) Get(kind models.ProviderKind) (ToolProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[kind]
	return p, ok
}

// Kinds returns the registered kinds in ProviderKinds order.
func (r *Registry) Kinds() []models.ProviderKind {
	if r == nil {
		return nil
	}
	out := make([]models.ProviderKind, 0, len(r.providers))
	for _, k := range models.ProviderKinds {
		if _, ok := r.providers[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// emptyResult is the shape returned when a provider has nothing to search.
func emptyResult(note string) Result {
	r := Result{"results": []any{}, "count": 0}
	if note != "" {
		r["error"] = note
	}
	return r
}

func stringArg(args map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := args[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
