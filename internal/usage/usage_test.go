package usage

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestUsageSplit(t *testing.T) {
	tests := []struct {
		name    string
		u       Usage
		wantIn  int64
		wantOut int64
	}{
		{name: "explicit", u: Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 999}, wantIn: 10, wantOut: 5},
		{name: "total only", u: Usage{TotalTokens: 1000}, wantIn: 700, wantOut: 300},
		{name: "rounding down", u: Usage{TotalTokens: 7}, wantIn: 4, wantOut: 2},
		{name: "empty", u: Usage{}, wantIn: 0, wantOut: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, out := tt.u.Split()
			if in != tt.wantIn || out != tt.wantOut {
				t.Errorf("Split() = (%d, %d), want (%d, %d)", in, out, tt.wantIn, tt.wantOut)
			}
		})
	}
}

func TestPriceTableLLMCost(t *testing.T) {
	table := NewPriceTable(map[string]map[string]Cost{
		"openai": {"gpt-4o": {Input: 1, Output: 2}},
		"venice": {DefaultModel: {Input: 4, Output: 4}},
	}, nil)

	tests := []struct {
		name     string
		provider string
		model    string
		u        Usage
		want     float64
	}{
		{name: "override", provider: "openai", model: "gpt-4o", u: Usage{InputTokens: 1_000_000, OutputTokens: 500_000}, want: 2},
		{name: "builtin", provider: "openai", model: "gpt-4o-mini", u: Usage{InputTokens: 1_000_000, OutputTokens: 1_000_000}, want: 0.75},
		{name: "provider default", provider: "gemini", model: "gemini-9", u: Usage{InputTokens: 2_000_000}, want: 1.0},
		{name: "case insensitive provider", provider: "OpenAI", model: "gpt-4o", u: Usage{OutputTokens: 1_000_000}, want: 2},
		{name: "new provider default", provider: "venice", model: "llama", u: Usage{InputTokens: 250_000}, want: 1},
		{name: "unknown provider", provider: "acme", model: "x", u: Usage{InputTokens: 1_000_000}, want: 0.5},
		{name: "total only 70/30", provider: "openai", model: "gpt-4", u: Usage{TotalTokens: 1_000_000}, want: 0.7*30 + 0.3*60},
		{name: "free model", provider: "gemini", model: "gemini-2.0-flash-exp", u: Usage{InputTokens: 5000, OutputTokens: 5000}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := table.LLMCost(tt.provider, tt.model, tt.u); !almostEqual(got, tt.want) {
				t.Errorf("LLMCost() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPriceTableToolCost(t *testing.T) {
	table := NewPriceTable(nil, map[string]float64{
		"mcp":                  0.001,
		"custom_http:geocoder": 0.01,
	})
	if got := table.ToolCost("internal_rag", "file_search", time.Second); got != 0 {
		t.Errorf("free tool cost = %v", got)
	}
	if got := table.ToolCost("mcp", "crm_lookup", time.Second); got != 0.001 {
		t.Errorf("provider price = %v", got)
	}
	if got := table.ToolCost("custom_http", "geocoder", time.Second); got != 0.01 {
		t.Errorf("tool price = %v", got)
	}
}

func TestPriceTableSetPrice(t *testing.T) {
	table := NewPriceTable(nil, nil)
	table.SetPrice("anthropic", "claude-next", Cost{Input: 1, Output: 1})
	if got := table.LLMCost("anthropic", "claude-next", Usage{InputTokens: 1_000_000}); got != 1 {
		t.Errorf("LLMCost() = %v, want 1", got)
	}
}
