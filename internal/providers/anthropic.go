package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

const (
	anthropicName         = "anthropic"
	defaultAnthropicModel = "claude-sonnet-4-20250514"
	defaultAnthropicMax   = 4096
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// AnthropicProvider calls the Messages API through anthropic-sdk-go.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxTokens    int
	logger       *slog.Logger
}

// NewAnthropicProvider creates the adapter. SDK-level retries are disabled;
// the orchestrator's retry engine owns retries.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, faults.New(faults.KindConfig, "anthropic: api key is required").WithProvider(anthropicName)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	model := cfg.DefaultModel
	if model == "" {
		model = defaultAnthropicModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMax
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: model,
		maxTokens:    maxTokens,
		logger:       logger.With("provider", anthropicName),
	}, nil
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return anthropicName }

// Call implements Provider. Vendor file search is not available here, so
// VectorStoreIDs and FileSearchStoreNames are ignored.
func (p *AnthropicProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	system, messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, err, "convert messages").WithProvider(anthropicName)
	}
	tools, err := toAnthropicTools(req.Tools)
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "convert tools").WithProvider(anthropicName)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
		Tools:     tools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, WrapError(anthropicName, "messages", err)
	}

	out := &Response{
		ID:           msg.ID,
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			input := block.Input
			if len(input) == 0 || !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: block.ID, Name: block.Name, Input: input})
		}
	}
	out.Text = text.String()
	if raw := msg.RawJSON(); raw != "" {
		out.Raw = json.RawMessage(raw)
	}
	return out, nil
}

// toAnthropicMessages converts turns to Messages API params. Consecutive tool
// turns are merged into one user message of tool_result blocks.
func toAnthropicMessages(messages []Message) (string, []anthropic.MessageParam, error) {
	system, rest := splitSystem(messages)
	out := make([]anthropic.MessageParam, 0, len(rest))

	var pendingResults []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(pendingResults) > 0 {
			out = append(out, anthropic.NewUserMessage(pendingResults...))
			pendingResults = nil
		}
	}

	for _, m := range rest {
		if m.Role == models.RoleTool {
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()

		var blocks []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(m.Content))
		}
		for _, tc := range m.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return "", nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(blocks) == 0 {
			continue
		}
		if m.Role == models.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	flush()
	return system, out, nil
}
