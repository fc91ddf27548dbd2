// Package tenant loads per-tenant configuration snapshots and the tools a
// tenant may use.
package tenant

import (
	"context"
	"errors"

	"github.com/haasonsaas/nexushub/pkg/models"
)

// ErrNotFound is returned when a tenant does not exist.
var ErrNotFound = errors.New("tenant not found")

// Loader builds the TenantContext for one request.
type Loader interface {
	Load(ctx context.Context, tenantID string) (*models.TenantContext, error)
}

// ToolRegistry lists the tool definitions a tenant's policy enables.
type ToolRegistry interface {
	AllowedTools(ctx context.Context, tc *models.TenantContext) ([]models.ToolDefinition, error)
}

// ToolPolicy reports which file search backends a tenant has enabled.
type ToolPolicy interface {
	EnabledFileSearchProviders(ctx context.Context, tenantID string) ([]models.ProviderKind, error)
}

// Lister enumerates known tenant ids.
type Lister interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// Source is the full set of tenant collaborators.
type Source interface {
	Loader
	ToolRegistry
	ToolPolicy
	Lister
}

// fileSearchKinds maps enabled provider tool names back to kinds, in
// ProviderKinds order.
func fileSearchKinds(enabledToolNames []string) []models.ProviderKind {
	enabled := make(map[string]bool, len(enabledToolNames))
	for _, name := range enabledToolNames {
		enabled[name] = true
	}
	var kinds []models.ProviderKind
	for _, kind := range models.ProviderKinds {
		if name := models.FileSearchToolFor(kind); name != "" && enabled[name] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func fileSearchToolNames() []string {
	var names []string
	for _, kind := range models.ProviderKinds {
		if name := models.FileSearchToolFor(kind); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// mergeRef overlays a tenant policy's config override onto a tool's
// implementation ref. Neither input is modified.
func mergeRef(base, override map[string]any) map[string]any {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
