package models

import (
	"encoding/json"
	"fmt"
)

// ProviderKind identifies the backend that executes a tool.
type ProviderKind string

const (
	ProviderInternalRAG ProviderKind = "internal_rag"
	ProviderOpenAIFile  ProviderKind = "openai_file"
	ProviderGeminiFile  ProviderKind = "gemini_file"
	ProviderMCP         ProviderKind = "mcp"
	ProviderCustomHTTP  ProviderKind = "custom_http"
)

// ProviderKinds lists every known provider kind in a stable order.
var ProviderKinds = []ProviderKind{
	ProviderInternalRAG,
	ProviderOpenAIFile,
	ProviderGeminiFile,
	ProviderMCP,
	ProviderCustomHTTP,
}

// Valid reports whether k is one of the known provider kinds.
func (k ProviderKind) Valid() bool {
	for _, known := range ProviderKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseProviderKind converts a stored provider tag into a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown tool provider %q", s)
	}
	return k, nil
}

// AbstractFileSearch is the canonical tool name that fans out to every
// enabled file search backend.
const AbstractFileSearch = "file_search"

// Provider-specific tool names that back the abstract file_search tool.
const (
	ToolOpenAIFileSearch  = "openai_file_search"
	ToolGeminiFileSearch  = "gemini_file_search"
	ToolInternalRAGSearch = "internal_rag_search"
)

// FileSearchToolFor returns the provider-specific tool name backing file_search.
func FileSearchToolFor(kind ProviderKind) string {
	switch kind {
	case ProviderOpenAIFile:
		return ToolOpenAIFileSearch
	case ProviderGeminiFile:
		return ToolGeminiFileSearch
	case ProviderInternalRAG:
		return ToolInternalRAGSearch
	default:
		return ""
	}
}

// FileSearchProviderFor is the inverse of FileSearchToolFor.
func FileSearchProviderFor(toolName string) (ProviderKind, bool) {
	switch toolName {
	case ToolOpenAIFileSearch:
		return ProviderOpenAIFile, true
	case ToolGeminiFileSearch:
		return ProviderGeminiFile, true
	case ToolInternalRAGSearch:
		return ProviderInternalRAG, true
	default:
		return "", false
	}
}

// ToolDefinition is the provider-agnostic description of a tool.
type ToolDefinition struct {
	ID                string          `json:"id,omitempty"`
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	ParametersSchema  json.RawMessage `json:"parameters_schema,omitempty"`
	Provider          ProviderKind    `json:"provider"`
	ImplementationRef map[string]any  `json:"implementation_ref,omitempty"`

	// IsUserScoped marks tools whose identity parameters must come from the
	// execution context. UserContextParams lists the argument names that are
	// always stripped from model-supplied arguments.
	IsUserScoped      bool     `json:"is_user_scoped,omitempty"`
	UserContextParams []string `json:"user_context_params,omitempty"`
}

// IsAbstract reports whether the tool fans out to multiple providers.
func (d *ToolDefinition) IsAbstract() bool {
	return d != nil && d.Name == AbstractFileSearch
}

// RefString returns a string value from the implementation ref.
func (d *ToolDefinition) RefString(key string) string {
	if d == nil || d.ImplementationRef == nil {
		return ""
	}
	if v, ok := d.ImplementationRef[key].(string); ok {
		return v
	}
	return ""
}

// Schema returns the parameters schema, defaulting to an empty object schema.
func (d *ToolDefinition) Schema() json.RawMessage {
	if d == nil || len(d.ParametersSchema) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return d.ParametersSchema
}
