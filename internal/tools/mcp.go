package tools

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// MCPExecutor is implemented by *mcp.Client.
type MCPExecutor interface {
	Execute(ctx context.Context, tc *models.TenantContext, def *models.ToolDefinition, args map[string]any, ec identity.ExecutionContext) (json.RawMessage, error)
}

// MCPProvider forwards tool calls to remote MCP servers.
type MCPProvider struct {
	client MCPExecutor
}

// NewMCPProvider creates the mcp provider.
func NewMCPProvider(client MCPExecutor) *MCPProvider {
	return &MCPProvider{client: client}
}

// Kind implements ToolProvider.
func (p *MCPProvider) Kind() models.ProviderKind { return models.ProviderMCP }

// Execute implements ToolProvider.
func (p *MCPProvider) Execute(ctx context.Context, call *Call) (Result, error) {
	raw, err := p.client.Execute(ctx, call.Tenant, call.Def, call.Args, call.Exec)
	if err != nil {
		return nil, err
	}
	return decodeResult(raw), nil
}

// decodeResult turns a JSON payload into a Result. Objects are used as is,
// other values are wrapped under "result" and empty payloads become {}.
func decodeResult(raw []byte) Result {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Result{}
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return Result(obj)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return Result{"result": v}
	}
	return Result{"content": string(raw)}
}
