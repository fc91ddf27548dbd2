package providers

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
	"google.golang.org/genai"
)

const (
	geminiName           = "gemini"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// GeminiConfig configures the Gemini adapter.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// GeminiProvider calls Gemini through the genai SDK. Requests that name file
// search stores go through the REST generateContent endpoint with a
// file_search tool so grounding metadata comes back with the answer.
type GeminiProvider struct {
	client       *genai.Client
	rest         *restClient
	baseURL      string
	defaultModel string
	logger       *slog.Logger
}

// NewGeminiProvider creates the adapter.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, faults.New(faults.KindConfig, "gemini: api key is required").WithProvider(geminiName)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, faults.Wrap(faults.KindConfig, err, "gemini: create client").WithProvider(geminiName)
	}
	return newGeminiProvider(client, cfg), nil
}

func newGeminiProvider(client *genai.Client, cfg GeminiConfig) *GeminiProvider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.DefaultModel
	if model == "" {
		model = defaultGeminiModel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiProvider{
		client: client,
		rest: newRESTClient(geminiName, cfg.HTTPClient, map[string]string{
			"x-goog-api-key": cfg.APIKey,
		}),
		baseURL:      baseURL,
		defaultModel: model,
		logger:       logger.With("provider", geminiName),
	}
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return geminiName }

func (p *GeminiProvider) model(m string) string {
	if m == "" {
		return p.defaultModel
	}
	return m
}

// Call implements Provider.
func (p *GeminiProvider) Call(ctx context.Context, req *Request) (*Response, error) {
	if len(req.FileSearchStoreNames) > 0 {
		return p.callFileSearch(ctx, p.model(req.Model), req.Messages, req.FileSearchStoreNames)
	}
	if p.client == nil {
		return nil, faults.New(faults.KindConfig, "gemini: sdk client not configured").WithProvider(geminiName)
	}

	model := p.model(req.Model)
	system, contents := toGeminiContents(req.Messages)
	cfg := &genai.GenerateContentConfig{Tools: toGeminiTools(req.Tools)}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		cfg.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, WrapError(geminiName, "generate_content", err)
	}
	return fromGeminiResponse(resp, model)
}

// toGeminiContents converts turns to genai contents. System turns become the
// system instruction; tool turns become function responses.
func toGeminiContents(messages []Message) (string, []*genai.Content) {
	system, rest := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		switch m.Role {
		case models.RoleAssistant:
			c := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				c.Parts = append(c.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Input, &args)
				c.Parts = append(c.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: args,
				}})
			}
			if len(c.Parts) > 0 {
				contents = append(contents, c)
			}
		case models.RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: toolResponsePayload(m.Content),
				}}},
			})
		default:
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		}
	}
	return system, contents
}

// toolResponsePayload wraps tool output in the object genai expects.
func toolResponsePayload(content string) map[string]any {
	var obj map[string]any
	if json.Unmarshal([]byte(content), &obj) == nil && obj != nil {
		return obj
	}
	return map[string]any{"result": content}
}

func fromGeminiResponse(resp *genai.GenerateContentResponse, model string) (*Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, faults.New(faults.KindAPI, "no candidates returned").WithProvider(geminiName).WithOp("generate_content")
	}
	cand := resp.Candidates[0]
	out := &Response{
		ID:           resp.ResponseID,
		Model:        model,
		FinishReason: strings.ToLower(string(cand.FinishReason)),
	}

	var text strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" && !part.Thought {
				text.WriteString(part.Text)
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil || part.FunctionCall.Args == nil {
					args = []byte(`{}`)
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				out.ToolCalls = append(out.ToolCalls, models.ToolCall{
					ID:    id,
					Name:  part.FunctionCall.Name,
					Input: args,
				})
			}
		}
	}
	out.Text = text.String()
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}

	if gm := cand.GroundingMetadata; gm != nil {
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.RetrievedContext == nil {
				continue
			}
			rc := chunk.RetrievedContext
			out.Annotations = append(out.Annotations, groundingAnnotation(rc.Title, rc.URI, rc.Text))
		}
	}

	if um := resp.UsageMetadata; um != nil {
		out.Usage = Usage{
			PromptTokens:     int(um.PromptTokenCount),
			CompletionTokens: int(um.CandidatesTokenCount),
			TotalTokens:      int(um.TotalTokenCount),
		}
	}
	if raw, err := json.Marshal(resp); err == nil {
		out.Raw = raw
	}
	return out, nil
}

func groundingAnnotation(title, uri, text string) Annotation {
	fileID := uri
	if fileID == "" {
		fileID = title
	}
	return Annotation{
		Type: "file_citation",
		Text: text,
		FileCitation: &FileCitation{
			FileID:   fileID,
			Filename: title,
			Quote:    text,
		},
	}
}

// Gemini REST wire types for file search.

type geminiRESTRequest struct {
	Contents          []geminiRESTContent `json:"contents"`
	SystemInstruction *geminiRESTContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiRESTTool    `json:"tools,omitempty"`
}

type geminiRESTContent struct {
	Role  string           `json:"role,omitempty"`
	Parts []geminiRESTPart `json:"parts"`
}

type geminiRESTPart struct {
	Text string `json:"text"`
}

type geminiRESTTool struct {
	FileSearch *geminiFileSearch `json:"file_search,omitempty"`
}

type geminiFileSearch struct {
	FileSearchStoreNames []string `json:"file_search_store_names"`
}

type geminiRESTResponse struct {
	ResponseID    string                `json:"responseId"`
	ModelVersion  string                `json:"modelVersion"`
	Candidates    []geminiRESTCandidate `json:"candidates"`
	UsageMetadata *geminiRESTUsage      `json:"usageMetadata"`
}

type geminiRESTCandidate struct {
	Content           geminiRESTContent  `json:"content"`
	FinishReason      string             `json:"finishReason"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata"`
}

type geminiRESTUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// GroundingMetadata lists the store chunks a grounded answer drew on.
type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

// GroundingChunk is one retrieved passage.
type GroundingChunk struct {
	RetrievedContext *RetrievedContext `json:"retrievedContext,omitempty"`
}

// RetrievedContext is the passage text and its source.
type RetrievedContext struct {
	URI             string `json:"uri,omitempty"`
	Title           string `json:"title,omitempty"`
	Text            string `json:"text,omitempty"`
	FileSearchStore string `json:"fileSearchStore,omitempty"`
}

// FileSearchResult is a grounded answer plus the chunks it cites.
type FileSearchResult struct {
	Response *Response
	Chunks   []RetrievedContext
}

func (p *GeminiProvider) callFileSearch(ctx context.Context, model string, messages []Message, stores []string) (*Response, error) {
	res, err := p.fileSearch(ctx, model, messages, stores)
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// SearchFileStore runs a grounded query against one file search store.
func (p *GeminiProvider) SearchFileStore(ctx context.Context, model, storeName, query string) (*FileSearchResult, error) {
	return p.fileSearch(ctx, p.model(model), []Message{{Role: models.RoleUser, Content: query}}, []string{storeName})
}

func (p *GeminiProvider) fileSearch(ctx context.Context, model string, messages []Message, stores []string) (*FileSearchResult, error) {
	system, rest := splitSystem(messages)
	body := geminiRESTRequest{
		Tools: []geminiRESTTool{{FileSearch: &geminiFileSearch{FileSearchStoreNames: stores}}},
	}
	if system != "" {
		body.SystemInstruction = &geminiRESTContent{Parts: []geminiRESTPart{{Text: system}}}
	}
	for _, m := range rest {
		switch m.Role {
		case models.RoleAssistant:
			if m.Content != "" {
				body.Contents = append(body.Contents, geminiRESTContent{Role: "model", Parts: []geminiRESTPart{{Text: m.Content}}})
			}
		case models.RoleTool:
			body.Contents = append(body.Contents, geminiRESTContent{Role: "user", Parts: []geminiRESTPart{{Text: "Tool result: " + m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiRESTContent{Role: "user", Parts: []geminiRESTPart{{Text: m.Content}}})
		}
	}

	endpoint := p.baseURL + "/models/" + url.PathEscape(model) + ":generateContent"
	raw, err := p.rest.postJSON(ctx, "file_search", endpoint, body)
	if err != nil {
		return nil, err
	}

	var gr geminiRESTResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return nil, faults.Wrap(faults.KindAPI, err, "decode generateContent body").WithProvider(geminiName).WithOp("file_search")
	}
	if len(gr.Candidates) == 0 {
		return nil, faults.New(faults.KindAPI, "no response from gemini").WithProvider(geminiName).WithOp("file_search")
	}

	cand := gr.Candidates[0]
	texts := make([]string, 0, len(cand.Content.Parts))
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			texts = append(texts, part.Text)
		}
	}

	resp := &Response{
		ID:           gr.ResponseID,
		Model:        model,
		Text:         strings.Join(texts, " "),
		FinishReason: strings.ToLower(cand.FinishReason),
		Raw:          raw,
	}
	var chunks []RetrievedContext
	if cand.GroundingMetadata != nil {
		for _, gc := range cand.GroundingMetadata.GroundingChunks {
			if gc.RetrievedContext == nil {
				continue
			}
			rc := *gc.RetrievedContext
			chunks = append(chunks, rc)
			resp.Annotations = append(resp.Annotations, groundingAnnotation(rc.Title, rc.URI, rc.Text))
		}
	}
	if gr.UsageMetadata != nil {
		resp.Usage = Usage{
			PromptTokens:     gr.UsageMetadata.PromptTokenCount,
			CompletionTokens: gr.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gr.UsageMetadata.TotalTokenCount,
		}
	}
	return &FileSearchResult{Response: resp, Chunks: chunks}, nil
}
