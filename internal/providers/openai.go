package providers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const (
	openAIName           = "openai"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// OpenAIProvider calls chat completions through go-openai. When a request
// carries vector store ids it uses the Responses API with a file_search tool
// and falls back to chat completions if that call fails.
type OpenAIProvider struct {
	client       *openai.Client
	rest         *restClient
	baseURL      string
	defaultModel string
	logger       *slog.Logger
}

// NewOpenAIProvider creates the adapter.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, faults.New(faults.KindConfig, "openai: api key is required").WithProvider(openAIName)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultOpenAIModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		rest: newRESTClient(openAIName, cfg.HTTPClient, map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}),
		baseURL:      baseURL,
		defaultModel: model,
		logger:       logger.With("provider", openAIName),
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return openAIName }

// Call implements Provider.
func (p *OpenAIProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	if len(req.VectorStoreIDs) > 0 {
		resp, err := p.callResponses(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, WrapError(openAIName, "responses", err)
		}
		p.logger.Warn("responses api failed, falling back to chat completions without file search",
			"model", p.model(req.Model),
			"vector_store_ids", req.VectorStoreIDs,
			"error", err)
	}
	return p.callChat(ctx, req)
}

func (p *OpenAIProvider) model(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

func (p *OpenAIProvider) callChat(ctx context.Context, req *Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    p.model(req.Model),
		Messages: toOpenAIMessages(req.Messages),
		Tools:    toOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(chatReq.Tools) > 0 {
		chatReq.ToolChoice = "auto"
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, WrapError(openAIName, "chat", err)
	}
	if len(resp.Choices) == 0 {
		return nil, faults.New(faults.KindAPI, "no choices returned").WithProvider(openAIName).WithOp("chat")
	}

	choice := resp.Choices[0]
	out := &Response{
		ID:           resp.ID,
		Model:        resp.Model,
		Text:         choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: normalizeArguments(tc.Function.Arguments),
		})
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		}
		if m.Role == models.RoleTool {
			msg.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Input),
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// Responses API wire types.

type responsesRequest struct {
	Model           string               `json:"model"`
	Input           []responsesInputItem `json:"input"`
	Tools           []responsesTool      `json:"tools,omitempty"`
	ToolChoice      string               `json:"tool_choice,omitempty"`
	MaxOutputTokens int                  `json:"max_output_tokens,omitempty"`
}

type responsesInputItem struct {
	Type      string  `json:"type,omitempty"`
	Role      string  `json:"role,omitempty"`
	Content   *string `json:"content,omitempty"`
	CallID    string  `json:"call_id,omitempty"`
	Name      string  `json:"name,omitempty"`
	Arguments string  `json:"arguments,omitempty"`
	Output    *string `json:"output,omitempty"`
}

type responsesTool struct {
	Type           string         `json:"type"`
	VectorStoreIDs []string       `json:"vector_store_ids,omitempty"`
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Parameters     map[string]any `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID     string                `json:"id"`
	Model  string                `json:"model"`
	Status string                `json:"status"`
	Output []responsesOutputItem `json:"output"`
	Usage  *responsesUsage       `json:"usage"`
}

type responsesOutputItem struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Text      json.RawMessage `json:"text"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
}

type responsesContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (p *OpenAIProvider) callResponses(ctx context.Context, req *Request) (*Response, error) {
	body := responsesRequest{
		Model:           p.model(req.Model),
		Input:           toResponsesInput(req.Messages),
		ToolChoice:      "auto",
		MaxOutputTokens: req.MaxTokens,
	}
	body.Tools = append(body.Tools, responsesTool{Type: "file_search", VectorStoreIDs: req.VectorStoreIDs})
	for _, def := range req.Tools {
		body.Tools = append(body.Tools, responsesTool{
			Type:        "function",
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaMap(def),
		})
	}

	raw, err := p.rest.postJSON(ctx, "responses", p.baseURL+"/responses", body)
	if err != nil {
		return nil, err
	}
	return parseResponsesBody(raw, body.Model)
}

func toResponsesInput(messages []Message) []responsesInputItem {
	items := make([]responsesInputItem, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleTool:
			output := m.Content
			items = append(items, responsesInputItem{Type: "function_call_output", CallID: m.ToolCallID, Output: &output})
		default:
			if m.Content != "" || len(m.ToolCalls) == 0 {
				content := m.Content
				items = append(items, responsesInputItem{Role: string(m.Role), Content: &content})
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responsesInputItem{
					Type:      "function_call",
					CallID:    tc.ID,
					Name:      tc.Name,
					Arguments: string(tc.Input),
				})
			}
		}
	}
	return items
}

func parseResponsesBody(raw []byte, model string) (*Response, error) {
	var rr responsesResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, faults.Wrap(faults.KindAPI, err, "decode responses body").WithProvider(openAIName).WithOp("responses")
	}
	if len(rr.Output) == 0 {
		return nil, faults.New(faults.KindAPI, "unexpected responses format").WithProvider(openAIName).WithOp("responses")
	}

	out := &Response{
		ID:           rr.ID,
		Model:        rr.Model,
		FinishReason: "stop",
		Raw:          raw,
	}
	if out.Model == "" {
		out.Model = model
	}

	var text strings.Builder
	for _, item := range rr.Output {
		switch item.Type {
		case "message":
			var contents []responsesContent
			if json.Unmarshal(item.Content, &contents) == nil {
				for _, c := range contents {
					if c.Type == "output_text" {
						text.WriteString(c.Text)
					}
				}
			}
		case "function_call":
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:    item.CallID,
				Name:  item.Name,
				Input: normalizeArguments(item.Arguments),
			})
		default:
			text.WriteString(legacyItemText(item))
		}
	}
	out.Text = text.String()
	out.Annotations = ExtractAnnotations(raw)
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}

	if rr.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     rr.Usage.InputTokens,
			CompletionTokens: rr.Usage.OutputTokens,
			TotalTokens:      rr.Usage.TotalTokens,
		}
		if out.Usage.TotalTokens == 0 {
			out.Usage.TotalTokens = rr.Usage.InputTokens + rr.Usage.OutputTokens
		}
	}
	return out, nil
}

// legacyItemText reads text from older output item shapes: a string or
// {value} object under text, or a content string.
func legacyItemText(item responsesOutputItem) string {
	if len(item.Text) > 0 {
		var s string
		if json.Unmarshal(item.Text, &s) == nil {
			return s
		}
		var obj struct {
			Value   string `json:"value"`
			Content string `json:"content"`
		}
		if json.Unmarshal(item.Text, &obj) == nil {
			if obj.Value != "" {
				return obj.Value
			}
			return obj.Content
		}
	}
	if len(item.Content) > 0 {
		var s string
		if json.Unmarshal(item.Content, &s) == nil {
			return s
		}
	}
	return ""
}

// VectorStoreHit is one result of a vector store search.
type VectorStoreHit struct {
	FileID     string         `json:"file_id"`
	Filename   string         `json:"filename"`
	Score      float64        `json:"score"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Text joins the text chunks of the hit.
func (h VectorStoreHit) Text() string {
	parts := make([]string, 0, len(h.Content))
	for _, c := range h.Content {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

type vectorStoreSearchRequest struct {
	Query         string `json:"query"`
	MaxNumResults int    `json:"max_num_results,omitempty"`
}

type vectorStoreSearchResponse struct {
	Data []VectorStoreHit `json:"data"`
}

// SearchVectorStore queries one vector store directly.
func (p *OpenAIProvider) SearchVectorStore(ctx context.Context, vectorStoreID, query string, maxResults int) ([]VectorStoreHit, error) {
	if vectorStoreID == "" {
		return nil, errors.New("openai: vector store id is required")
	}
	raw, err := p.rest.postJSON(ctx, "vector_store_search",
		p.baseURL+"/vector_stores/"+vectorStoreID+"/search",
		vectorStoreSearchRequest{Query: query, MaxNumResults: maxResults})
	if err != nil {
		return nil, err
	}
	var resp vectorStoreSearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, faults.Wrap(faults.KindAPI, err, "decode vector store search").WithProvider(openAIName)
	}
	return resp.Data, nil
}
