// Package mcp calls tools hosted on tenant-registered Model Context Protocol
// servers. Each call is a single JSON-RPC 2.0 tools/call exchange over HTTP
// or WebSocket.
package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexushub/internal/faults"
)

// MethodToolsCall is the only method this client sends.
const MethodToolsCall = "tools/call"

// JSONRPCRequest is a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse is a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	// Implementation-defined server errors occupy this range.
	ErrCodeServerMin = -32099
	ErrCodeServerMax = -32000
)

// CallToolParams holds parameters for tools/call.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCallResult is the conventional shape of a tools/call result. Servers
// may return anything; the client passes the raw result through.
type ToolCallResult struct {
	Content []ToolResultContent `json:"content"`
	IsError bool                `json:"isError,omitempty"`
}

// ToolResultContent holds a piece of content from a tool result.
type ToolResultContent struct {
	Type     string `json:"type"` // text | image | resource
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// Retryable reports whether the server may succeed if asked again. Only
// the implementation-defined server range qualifies; malformed requests,
// unknown methods and bad params never will.
func (e *JSONRPCError) Retryable() bool {
	return e.Code >= ErrCodeServerMin && e.Code <= ErrCodeServerMax
}

func (e *JSONRPCError) fault() *faults.Error {
	msg := e.Message
	if msg == "" {
		msg = "Unknown error"
	}
	return faults.New(faults.KindAPI, fmt.Sprintf("MCP tool execution failed: %s (code: %d)", msg, e.Code)).
		WithProvider("mcp").
		WithRetryable(e.Retryable())
}
