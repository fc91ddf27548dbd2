package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/nexushub/internal/faults"
)

const maxRESTResponseBytes = 8 << 20

// restClient posts JSON to vendor endpoints the SDKs do not cover.
type restClient struct {
	provider string
	http     *http.Client
	headers  map[string]string
}

func newRESTClient(provider string, client *http.Client, headers map[string]string) *restClient {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return &restClient{provider: provider, http: client, headers: headers}
}

// postJSON sends in as the request body and returns the raw response body.
// Non-2xx responses become classified faults carrying the vendor message.
func (c *restClient) postJSON(ctx context.Context, op, url string, in any) ([]byte, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode %s request: %w", c.provider, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "invalid endpoint").WithProvider(c.provider).WithOp(op)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, WrapError(c.provider, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRESTResponseBytes))
	if err != nil {
		return nil, faults.Wrap(faults.KindNetwork, err, "read response").WithProvider(c.provider).WithOp(op)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, faults.FromStatus(c.provider, resp.StatusCode, vendorErrorMessage(body)).
			WithOp(op).
			WithRetryAfter(faults.ParseRetryAfterHeader(resp.Header.Get("Retry-After")))
	}
	return body, nil
}

type vendorErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func vendorErrorMessage(body []byte) string {
	var env vendorErrorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
