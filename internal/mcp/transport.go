package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/net/ssrf"
)

const maxResponseBytes = 4 << 20

// Transport performs one request/response exchange with an MCP server.
type Transport interface {
	RoundTrip(ctx context.Context, endpoint string, header http.Header, req *JSONRPCRequest) (*JSONRPCResponse, error)
}

// HTTPTransport posts the request and reads a single JSON-RPC response.
// Redirects are returned as errors, never followed.
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport returns a transport whose connections are checked by v
// at dial time.
func NewHTTPTransport(v *ssrf.Validator) *HTTPTransport {
	return &HTTPTransport{Client: v.HTTPClient()}
}

// RoundTrip implements Transport.
func (t *HTTPTransport) RoundTrip(ctx context.Context, endpoint string, header http.Header, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "build mcp request")
	}
	httpReq.Header = header.Clone()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := t.Client
	if client == nil {
		client = ssrf.NewValidator().HTTPClient()
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, faults.Wrap(faults.KindNetwork, err, "MCP HTTP request failed").WithProvider("mcp")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.Wrap(faults.KindNetwork, err, "read mcp response").WithProvider("mcp")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, faults.FromStatus("mcp", resp.StatusCode, "MCP HTTP request failed: "+truncate(string(data), 200)).
			WithRetryAfter(faults.ParseRetryAfterHeader(resp.Header.Get("Retry-After")))
	}
	return decodeResponse(data)
}

// WebSocketTransport opens a connection per call, sends the request frame
// and waits for one response frame.
type WebSocketTransport struct {
	Dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport whose connections are checked
// by v at dial time.
func NewWebSocketTransport(v *ssrf.Validator) *WebSocketTransport {
	return &WebSocketTransport{Dialer: &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   v.Dialer().DialContext,
	}}
}

// RoundTrip implements Transport.
func (t *WebSocketTransport) RoundTrip(ctx context.Context, endpoint string, header http.Header, req *JSONRPCRequest) (*JSONRPCResponse, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = NewWebSocketTransport(ssrf.NewValidator()).Dialer
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, faults.FromStatus("mcp", resp.StatusCode, "MCP WebSocket handshake rejected")
		}
		return nil, faults.Wrap(faults.KindNetwork, err, "MCP WebSocket connection failed").WithProvider("mcp")
	}
	defer conn.Close()
	conn.SetReadLimit(maxResponseBytes)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultTimeout)
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(req); err != nil {
		return nil, faults.Wrap(faults.KindNetwork, err, "MCP WebSocket send failed").WithProvider("mcp")
	}

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, faults.Wrap(faults.KindNetwork, err, "MCP WebSocket request timed out").WithProvider("mcp")
		}
		return nil, faults.Wrap(faults.KindNetwork, err, "MCP WebSocket receive failed").WithProvider("mcp")
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return decodeResponse(data)
}

func decodeResponse(data []byte) (*JSONRPCResponse, error) {
	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return nil, faults.Wrap(faults.KindAPI, err, "MCP response parsing failed").WithProvider("mcp")
	}
	return &rpcResp, nil
}

func isWebSocket(scheme string) bool {
	scheme = strings.ToLower(scheme)
	return scheme == "ws" || scheme == "wss"
}

// truncate caps s at n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
