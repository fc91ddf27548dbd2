// Package usage prices LLM and tool calls.
package usage

import (
	"strings"
	"sync"
	"time"
)

// DefaultModel is the per-provider fallback price key.
const DefaultModel = "default"

// Share of a bare total attributed to input when the split is unknown.
const estimatedInputShare = 0.7

// Usage is the token count of one LLM call. TotalTokens is only consulted
// when the input and output counts are both zero.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens,omitempty"`
}

// Split returns input and output tokens, estimating a 70/30 split when
// only the total is known.
func (u Usage) Split() (input, output int64) {
	if u.InputTokens > 0 || u.OutputTokens > 0 {
		return u.InputTokens, u.OutputTokens
	}
	if u.TotalTokens <= 0 {
		return 0, 0
	}
	input = int64(float64(u.TotalTokens) * estimatedInputShare)
	output = int64(float64(u.TotalTokens) * (1 - estimatedInputShare))
	return input, output
}

// Cost represents pricing for a model in USD per million tokens.
type Cost struct {
	Input  float64 `json:"input" yaml:"input"`
	Output float64 `json:"output" yaml:"output"`
}

// Estimate calculates the cost of the given usage.
func (c Cost) Estimate(u Usage) float64 {
	in, out := u.Split()
	return (float64(in)*c.Input + float64(out)*c.Output) / 1_000_000
}

var fallbackCost = Cost{Input: 0.50, Output: 1.50}

// DefaultPrices returns the built-in price table keyed by provider then
// model.
func DefaultPrices() map[string]map[string]Cost {
	return map[string]map[string]Cost{
		"openai": {
			"gpt-4o":        {Input: 2.50, Output: 10.00},
			"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
			"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
			"gpt-4":         {Input: 30.00, Output: 60.00},
			"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},
			DefaultModel:    fallbackCost,
		},
		"gemini": {
			"gemini-2.0-flash-exp": {Input: 0, Output: 0},
			"gemini-1.5-pro":       {Input: 1.25, Output: 5.00},
			"gemini-1.5-flash":     {Input: 0.075, Output: 0.30},
			DefaultModel:           fallbackCost,
		},
		"anthropic": {
			"claude-sonnet-4-5": {Input: 3.00, Output: 15.00},
			"claude-haiku-4-5":  {Input: 1.00, Output: 5.00},
			"claude-opus-4-1":   {Input: 15.00, Output: 75.00},
			DefaultModel:        {Input: 3.00, Output: 15.00},
		},
	}
}

// PriceTable computes costs. It is safe for concurrent use.
type PriceTable struct {
	mu     sync.RWMutex
	models map[string]map[string]Cost
	tools  map[string]float64
}

// NewPriceTable builds a table from the defaults plus overrides. Override
// keys are "provider" then "model"; a "default" model entry replaces the
// provider fallback.
func NewPriceTable(overrides map[string]map[string]Cost, toolPrices map[string]float64) *PriceTable {
	models := DefaultPrices()
	for provider, byModel := range overrides {
		provider = strings.ToLower(provider)
		if models[provider] == nil {
			models[provider] = make(map[string]Cost)
		}
		for model, cost := range byModel {
			models[provider][model] = cost
		}
	}
	tools := make(map[string]float64, len(toolPrices))
	for name, price := range toolPrices {
		tools[name] = price
	}
	return &PriceTable{models: models, tools: tools}
}

// Lookup returns the price for a model, falling back to the provider
// default and then the global default.
func (p *PriceTable) Lookup(provider, model string) Cost {
	p.mu.RLock()
	defer p.mu.RUnlock()
	byModel := p.models[strings.ToLower(provider)]
	if c, ok := byModel[model]; ok {
		return c
	}
	if c, ok := byModel[DefaultModel]; ok {
		return c
	}
	return fallbackCost
}

// LLMCost returns the USD cost of one LLM call.
func (p *PriceTable) LLMCost(provider, model string, u Usage) float64 {
	return p.Lookup(provider, model).Estimate(u)
}

// ToolCost returns the USD cost of one tool call. Tools are free unless a
// per-call price is configured for "provider:tool" or "provider".
func (p *PriceTable) ToolCost(provider, tool string, _ time.Duration) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if price, ok := p.tools[provider+":"+tool]; ok {
		return price
	}
	return p.tools[provider]
}

// SetPrice replaces the price of one model.
func (p *PriceTable) SetPrice(provider, model string, cost Cost) {
	p.mu.Lock()
	defer p.mu.Unlock()
	provider = strings.ToLower(provider)
	if p.models[provider] == nil {
		p.models[provider] = make(map[string]Cost)
	}
	p.models[provider][model] = cost
}
