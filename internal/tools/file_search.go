package tools

import (
	"context"

	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/rag"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// VectorStoreSearcher is implemented by *providers.OpenAIProvider.
type VectorStoreSearcher interface {
	SearchVectorStore(ctx context.Context, vectorStoreID, query string, maxResults int) ([]providers.VectorStoreHit, error)
}

// FileStoreSearcher is implemented by *providers.GeminiProvider.
type FileStoreSearcher interface {
	SearchFileStore(ctx context.Context, model, storeName, query string) (*providers.FileSearchResult, error)
}

// OpenAIFileProvider searches OpenAI vector stores.
type OpenAIFileProvider struct {
	searcher VectorStoreSearcher
}

// NewOpenAIFileProvider creates the openai_file provider.
func NewOpenAIFileProvider(s VectorStoreSearcher) *OpenAIFileProvider {
	return &OpenAIFileProvider{searcher: s}
}

// Kind implements ToolProvider.
func (p *OpenAIFileProvider) Kind() models.ProviderKind { return models.ProviderOpenAIFile }

// Execute implements ToolProvider.
func (p *OpenAIFileProvider) Execute(ctx context.Context, call *Call) (Result, error) {
	query := stringArg(call.Args, "query", "text")
	if query == "" {
		return emptyResult("No query text provided"), nil
	}
	ids := resolveStores(call, "vector_store_id", models.ProviderOpenAIFile)
	if len(ids) == 0 {
		return emptyResult("No vector_store_id configured for this tool"), nil
	}

	limit := rag.ClampLimit(intArg(call.Args, "limit"))
	results := make([]any, 0, limit)
	for _, id := range ids {
		hits, err := p.searcher.SearchVectorStore(ctx, id, query, limit)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			results = append(results, map[string]any{
				"content":         h.Text(),
				"score":           h.Score,
				"file_id":         h.FileID,
				"filename":        h.Filename,
				"metadata":        h.Attributes,
				"vector_store_id": id,
			})
		}
	}
	return Result{"results": results, "count": len(results)}, nil
}

// GeminiFileProvider runs grounded queries against Gemini file search stores.
type GeminiFileProvider struct {
	searcher FileStoreSearcher
}

// NewGeminiFileProvider creates the gemini_file provider.
func NewGeminiFileProvider(s FileStoreSearcher) *GeminiFileProvider {
	return &GeminiFileProvider{searcher: s}
}

// Kind implements ToolProvider.
func (p *GeminiFileProvider) Kind() models.ProviderKind { return models.ProviderGeminiFile }

// Execute implements ToolProvider.
func (p *GeminiFileProvider) Execute(ctx context.Context, call *Call) (Result, error) {
	query := stringArg(call.Args, "query", "text")
	if query == "" {
		return emptyResult("No query text provided"), nil
	}
	stores := resolveStores(call, "file_search_store_name", models.ProviderGeminiFile)
	if len(stores) == 0 {
		return emptyResult("No file_search_store_name configured for this tool"), nil
	}

	model := call.Def.RefString("model")
	results := make([]any, 0)
	var answers []string
	for _, store := range stores {
		res, err := p.searcher.SearchFileStore(ctx, model, store, query)
		if err != nil {
			return nil, err
		}
		if res.Response != nil && res.Response.Text != "" {
			answers = append(answers, res.Response.Text)
		}
		for _, chunk := range res.Chunks {
			item := map[string]any{
				"content":                chunk.Text,
				"title":                  chunk.Title,
				"file_search_store_name": store,
			}
			if chunk.URI != "" {
				item["uri"] = chunk.URI
			}
			results = append(results, item)
		}
	}
	out := Result{"results": results, "count": len(results)}
	if len(answers) > 0 {
		out["answer"] = answers[0]
	}
	return out, nil
}

// resolveStores finds the store identifiers for a file search call: the
// implementation ref, then the named knowledge base, then every knowledge
// base of the provider kind.
func resolveStores(call *Call, key string, kind models.ProviderKind) []string {
	if v := call.Def.RefString(key); v != "" {
		return []string{v}
	}
	kbName := stringArg(call.Args, "kb_name")
	if kbName == "" {
		kbName = call.Def.RefString("kb_name")
	}
	if kbName != "" {
		if kb, ok := call.Tenant.KBConfigs[kbName]; ok && kb.Provider == kind {
			if v := kb.ConfigString(key); v != "" {
				return []string{v}
			}
		}
		return nil
	}
	switch kind {
	case models.ProviderOpenAIFile:
		return call.Tenant.VectorStoreIDs()
	case models.ProviderGeminiFile:
		return call.Tenant.FileSearchStoreNames()
	}
	return nil
}
