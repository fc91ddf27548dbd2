package tools

import (
	"context"
	"fmt"

	"github.com/haasonsaas/nexushub/internal/rag"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// RAGProvider searches the tenant's own chunk store.
type RAGProvider struct {
	searcher rag.Searcher
	embedder rag.Embedder
}

// NewRAGProvider creates the internal_rag provider.
func NewRAGProvider(searcher rag.Searcher, embedder rag.Embedder) *RAGProvider {
	return &RAGProvider{searcher: searcher, embedder: embedder}
}

// Kind implements ToolProvider.
func (p *RAGProvider) Kind() models.ProviderKind { return models.ProviderInternalRAG }

// Execute implements ToolProvider.
func (p *RAGProvider) Execute(ctx context.Context, call *Call) (Result, error) {
	query := stringArg(call.Args, "query", "text")
	if query == "" {
		return emptyResult("No query text provided"), nil
	}

	kbName := call.Def.RefString("kb_name")
	if kbName == "" {
		kbName = stringArg(call.Args, "kb_name")
	}
	if kbName == "" {
		kbName = rag.DefaultKB
	}
	if err := rag.ValidateKBName(kbName); err != nil {
		return emptyResult(err.Error()), nil
	}

	embedding, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if err := rag.ValidateEmbedding(embedding); err != nil {
		return nil, err
	}

	chunks, err := p.searcher.Search(ctx, rag.Query{
		TenantID:  call.Tenant.TenantID,
		KBName:    kbName,
		Embedding: embedding,
		Limit:     rag.ClampLimit(intArg(call.Args, "limit")),
	})
	if err != nil {
		return nil, err
	}

	results := make([]any, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, map[string]any{
			"content":        c.Content,
			"metadata":       c.Metadata,
			"score":          c.Score,
			"document_id":    c.DocumentID,
			"document_title": c.DocumentTitle,
		})
	}
	return Result{"results": results, "count": len(results), "kb_name": kbName}, nil
}
