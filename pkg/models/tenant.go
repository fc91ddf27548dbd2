package models

import (
	"sort"
	"time"
)

// Defaults applied when tenant configuration leaves a value unset.
const (
	DefaultMaxToolSteps = 10
	DefaultPlanTimeout  = 300 * time.Second
)

// IsolationMode describes how a tenant's data is stored.
type IsolationMode string

const (
	IsolationSharedDB    IsolationMode = "shared_db"
	IsolationDedicatedDB IsolationMode = "dedicated_db"
)

// KBConfig describes one knowledge base available to a tenant.
type KBConfig struct {
	Provider       ProviderKind   `json:"provider" yaml:"provider"`
	ProviderConfig map[string]any `json:"provider_config,omitempty" yaml:"provider_config"`
}

// ConfigString returns a string value from the provider config.
func (c KBConfig) ConfigString(key string) string {
	if c.ProviderConfig == nil {
		return ""
	}
	v, _ := c.ProviderConfig[key].(string)
	return v
}

// MCPAuthConfig holds vendor authentication for an MCP server. Token and
// APIKey may be secret references such as vault://path/key.
type MCPAuthConfig struct {
	Type           string `json:"type,omitempty" yaml:"type"` // bearer | api_key
	Token          string `json:"token,omitempty" yaml:"token"`
	APIKey         string `json:"api_key,omitempty" yaml:"api_key"`
	KeyName        string `json:"key_name,omitempty" yaml:"key_name"`
	SecretRef      string `json:"vault_secret,omitempty" yaml:"vault_secret"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds"`
}

// MCPServerConfig describes a registered MCP server.
type MCPServerConfig struct {
	ServerID   string        `json:"server_id" yaml:"server_id"`
	Endpoint   string        `json:"endpoint" yaml:"endpoint"`
	AuthConfig MCPAuthConfig `json:"auth_config,omitempty" yaml:"auth_config"`
}

// PromptProfile is the tenant's prompt customization.
type PromptProfile struct {
	CustomSystemPrompt string         `json:"custom_system_prompt,omitempty" yaml:"custom_system_prompt"`
	OverrideMode       string         `json:"override_mode,omitempty" yaml:"override_mode"`
	LanguagePreference string         `json:"language_preference,omitempty" yaml:"language_preference"`
	ToneProfile        map[string]any `json:"tone_profile,omitempty" yaml:"tone_profile"`
}

// TenantContext is the per-request snapshot of a tenant's configuration.
// It is built once per inbound message and must not be mutated afterwards.
type TenantContext struct {
	TenantID        string                     `json:"tenant_id" yaml:"tenant_id"`
	LLMProvider     string                     `json:"llm_provider" yaml:"llm_provider"`
	LLMModel        string                     `json:"llm_model" yaml:"llm_model"`
	AllowedTools    []string                   `json:"allowed_tools" yaml:"allowed_tools"`
	KBConfigs       map[string]KBConfig        `json:"kb_configs,omitempty" yaml:"kb_configs"`
	MCPConfigs      map[string]MCPServerConfig `json:"mcp_configs,omitempty" yaml:"mcp_configs"`
	PromptProfile   PromptProfile              `json:"prompt_profile" yaml:"prompt_profile"`
	IsolationMode   IsolationMode              `json:"isolation_mode" yaml:"isolation_mode"`
	MaxToolSteps    int                        `json:"max_tool_steps" yaml:"max_tool_steps"`
	PlanningEnabled bool                       `json:"planning_enabled" yaml:"planning_enabled"`
	PlanTimeout     time.Duration              `json:"plan_timeout" yaml:"plan_timeout"`
}

// EffectiveMaxToolSteps returns the loop cap, falling back to the default.
func (t *TenantContext) EffectiveMaxToolSteps() int {
	if t == nil || t.MaxToolSteps <= 0 {
		return DefaultMaxToolSteps
	}
	return t.MaxToolSteps
}

// EffectivePlanTimeout returns the planning bound, falling back to the default.
func (t *TenantContext) EffectivePlanTimeout() time.Duration {
	if t == nil || t.PlanTimeout <= 0 {
		return DefaultPlanTimeout
	}
	return t.PlanTimeout
}

// VectorStoreIDs returns the OpenAI vector store ids of the tenant's
// openai_file knowledge bases in name order.
func (t *TenantContext) VectorStoreIDs() []string {
	return t.kbValues(ProviderOpenAIFile, "vector_store_id")
}

// FileSearchStoreNames returns the Gemini file search store names of the
// tenant's gemini_file knowledge bases in name order.
func (t *TenantContext) FileSearchStoreNames() []string {
	return t.kbValues(ProviderGeminiFile, "file_search_store_name")
}

func (t *TenantContext) kbValues(kind ProviderKind, key string) []string {
	if t == nil || len(t.KBConfigs) == 0 {
		return nil
	}
	names := make([]string, 0, len(t.KBConfigs))
	for name := range t.KBConfigs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		kb := t.KBConfigs[name]
		if kb.Provider != kind {
			continue
		}
		if v := kb.ConfigString(key); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ToolAllowed reports whether the tenant policy enables a tool by name.
func (t *TenantContext) ToolAllowed(name string) bool {
	if t == nil {
		return false
	}
	for _, allowed := range t.AllowedTools {
		if allowed == name {
			return true
		}
	}
	return false
}
