// Package rag implements the tenant's internal knowledge base search on
// Postgres with pgvector.
package rag

import (
	"context"
	"fmt"
	"math"
	"regexp"
)

// Search bounds.
const (
	DefaultLimit    = 5
	MaxLimit        = 20
	DefaultKB       = "default"
	maxKBNameLength = 64
)

var kbNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Chunk is one search hit.
type Chunk struct {
	ID            string         `json:"id"`
	Content       string         `json:"content"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	DocumentID    string         `json:"document_id"`
	DocumentTitle string         `json:"document_title"`
	Score         float64        `json:"score"`
}

// Query describes a similarity search inside one knowledge base.
type Query struct {
	TenantID  string
	KBName    string
	Embedding []float32
	Limit     int
}

// Searcher runs similarity searches.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Chunk, error)
}

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ValidateKBName rejects names that are not safe identifiers.
func ValidateKBName(name string) error {
	if !kbNamePattern.MatchString(name) {
		return fmt.Errorf("invalid kb_name format: must be alphanumeric with underscores or hyphens")
	}
	if len(name) > maxKBNameLength {
		return fmt.Errorf("kb_name too long (max %d characters)", maxKBNameLength)
	}
	return nil
}

// ValidateEmbedding rejects empty vectors and non-finite values.
func ValidateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("embedding is empty")
	}
	for _, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("embedding contains invalid values")
		}
	}
	return nil
}

// ClampLimit applies the default and the upper bound.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
