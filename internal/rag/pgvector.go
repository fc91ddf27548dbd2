package rag

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/haasonsaas/nexushub/internal/storage"
)

// PGStore searches rag_chunks by cosine distance.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a store on an open database handle.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

// Search returns the nearest chunks of the tenant's knowledge base. Score is
// 1 - cosine distance.
func (s *PGStore) Search(ctx context.Context, q Query) ([]Chunk, error) {
	if q.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if err := ValidateKBName(q.KBName); err != nil {
		return nil, err
	}
	if err := ValidateEmbedding(q.Embedding); err != nil {
		return nil, err
	}
	limit := ClampLimit(q.Limit)
	vec := pgvector.NewVector(q.Embedding)

	var chunks []Chunk
	err := storage.WithTenant(ctx, s.db, q.TenantID, func(tx storage.Querier) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT rc.id,
				rc.content,
				rc.metadata,
				rc.document_id,
				rd.title AS document_title,
				1 - (rc.embedding <=> $1) AS similarity_score
			FROM rag_chunks rc
			JOIN rag_documents rd ON rc.document_id = rd.id
			WHERE rc.tenant_id = $2 AND rc.kb_name = $3
			ORDER BY rc.embedding <=> $1
			LIMIT $4
		`, vec, q.TenantID, q.KBName, limit)
		if err != nil {
			return fmt.Errorf("search chunks: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var (
				chunk         Chunk
				metadataBytes []byte
				title         sql.NullString
			)
			if err := rows.Scan(
				&chunk.ID,
				&chunk.Content,
				&metadataBytes,
				&chunk.DocumentID,
				&title,
				&chunk.Score,
			); err != nil {
				return fmt.Errorf("scan chunk: %w", err)
			}
			chunk.DocumentTitle = title.String
			if len(metadataBytes) > 0 {
				if err := json.Unmarshal(metadataBytes, &chunk.Metadata); err != nil {
					return fmt.Errorf("decode chunk metadata: %w", err)
				}
			}
			chunks = append(chunks, chunk)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
