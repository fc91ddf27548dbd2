package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

func TestAnthropic_CallWithToolUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "a-key" {
			t.Error("missing x-api-key header")
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "lookup", "input": {"q": "x"}}
			],
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "a-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	resp, err := p.Call(context.Background(), &Request{
		Messages: []Message{
			{Role: models.RoleSystem, Content: "rules"},
			{Role: models.RoleUser, Content: "find x"},
		},
		Tools: []models.ToolDefinition{{Name: "lookup", Description: "Lookup", ParametersSchema: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)}},
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}

	if resp.Text != "Let me check." {
		t.Errorf("Text = %q", resp.Text)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "toolu_1" || resp.ToolCalls[0].Name != "lookup" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	var input map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Input, &input); err != nil || input["q"] != "x" {
		t.Errorf("Input = %s", resp.ToolCalls[0].Input)
	}
	if resp.Usage.TotalTokens != 19 || resp.FinishReason != "tool_use" {
		t.Errorf("usage = %+v finish = %q", resp.Usage, resp.FinishReason)
	}

	if _, ok := body["system"]; !ok {
		t.Error("system prompt should be sent separately")
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 1 {
		t.Errorf("messages = %v", body["messages"])
	}
}

func TestAnthropic_ErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(AnthropicConfig{APIKey: "a-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}
	_, err = p.Call(context.Background(), &Request{Messages: []Message{{Role: models.RoleUser, Content: "hi"}}})
	if !faults.Is(err, faults.KindRateLimit) {
		t.Fatalf("error kind = %s, want rate limit", faults.KindOf(err))
	}
}

func TestToAnthropicMessages_MergesToolResults(t *testing.T) {
	system, msgs, err := toAnthropicMessages([]Message{
		{Role: models.RoleSystem, Content: "rules"},
		{Role: models.RoleUser, Content: "do two things"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "t1", Name: "a", Input: json.RawMessage(`{}`)},
			{ID: "t2", Name: "b"},
		}},
		{Role: models.RoleTool, ToolCallID: "t1", Content: "one"},
		{Role: models.RoleTool, ToolCallID: "t2", Content: "two"},
		{Role: models.RoleUser, Content: "thanks"},
	})
	if err != nil {
		t.Fatalf("toAnthropicMessages() error = %v", err)
	}
	if system != "rules" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if len(msgs[2].Content) != 2 {
		t.Errorf("merged tool results = %d blocks, want 2", len(msgs[2].Content))
	}

	_, _, err = toAnthropicMessages([]Message{{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{ID: "x", Input: json.RawMessage(`[1]`)}}}})
	if err == nil {
		t.Error("non-object tool input should fail")
	}
}
