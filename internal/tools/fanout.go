package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// NoFileSearchProviders is the note returned when a tenant has no file
// search backend enabled.
const NoFileSearchProviders = "No file search providers enabled for this tenant"

type providerOutcome struct {
	kind   models.ProviderKind
	result Result
	err    error
}

// fanOut queries every enabled file search backend concurrently and merges
// the hits. One backend failing never affects the others.
func (e *Engine) fanOut(ctx context.Context, call *Call) (Result, error) {
	kinds, err := e.enabledFileSearch(ctx, call.Tenant.TenantID)
	if err != nil {
		return nil, err
	}
	if len(kinds) == 0 {
		res := emptyResult(NoFileSearchProviders)
		res["providers_queried"] = []string{}
		return res, nil
	}

	outcomes := make([]providerOutcome, len(kinds))
	var g errgroup.Group
	for i, kind := range kinds {
		provider, _ := e.registry.Get(kind)
		def := *call.Def
		def.Provider = kind
		sub := &Call{Tenant: call.Tenant, Def: &def, Args: call.Args, Exec: call.Exec}
		g.Go(func() error {
			res, err := safeExecute(ctx, provider, sub)
			outcomes[i] = providerOutcome{kind: kind, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return e.merge(outcomes), nil
}

// enabledFileSearch intersects tenant policy with the registered providers.
func (e *Engine) enabledFileSearch(ctx context.Context, tenantID string) ([]models.ProviderKind, error) {
	if e.policy == nil {
		return nil, nil
	}
	enabled, err := e.policy.EnabledFileSearchProviders(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load file search policy: %w", err)
	}
	var kinds []models.ProviderKind
	seen := make(map[models.ProviderKind]bool)
	for _, k := range enabled {
		if seen[k] || models.FileSearchToolFor(k) == "" {
			continue
		}
		if _, ok := e.registry.Get(k); !ok {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func (e *Engine) merge(outcomes []providerOutcome) Result {
	var (
		items   []map[string]any
		errs    []map[string]any
		queried = make([]string, 0, len(outcomes))
	)
	for _, o := range outcomes {
		provider := string(o.kind)
		queried = append(queried, provider)
		if o.err != nil {
			e.logger.Warn("file search provider failed", "provider", provider, "error", o.err)
			e.metrics.FanoutProviderFailed(provider)
			errs = append(errs, map[string]any{"provider": provider, "error": faults.Sanitize(o.err)})
			continue
		}
		items = append(items, tagItems(o.result, provider)...)
	}

	if anyScored(items) {
		sort.SliceStable(items, func(i, j int) bool {
			si, iok := score(items[i])
			sj, jok := score(items[j])
			if iok != jok {
				return iok
			}
			return si > sj
		})
	}

	results := make([]any, len(items))
	for i, item := range items {
		results[i] = item
	}
	out := Result{
		"results":           results,
		"count":             len(results),
		"providers_queried": queried,
	}
	if len(errs) > 0 {
		out["errors"] = errs
	}
	return out
}

// tagItems flattens a provider result into items tagged with _provider. A
// result without a results list counts as a single item.
func tagItems(res Result, provider string) []map[string]any {
	if res == nil {
		return nil
	}
	raw, hasList := res["results"]
	if !hasList {
		item := make(map[string]any, len(res)+1)
		for k, v := range res {
			item[k] = v
		}
		item["_provider"] = provider
		return []map[string]any{item}
	}

	var out []map[string]any
	add := func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			m = map[string]any{"content": v}
		}
		tagged := make(map[string]any, len(m)+1)
		for k, val := range m {
			tagged[k] = val
		}
		tagged["_provider"] = provider
		out = append(out, tagged)
	}
	switch list := raw.(type) {
	case []any:
		for _, v := range list {
			add(v)
		}
	case []map[string]any:
		for _, v := range list {
			add(v)
		}
	}
	return out
}

func anyScored(items []map[string]any) bool {
	for _, item := range items {
		if _, ok := score(item); ok {
			return true
		}
	}
	return false
}

func score(item map[string]any) (float64, bool) {
	switch v := item["score"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// safeExecute converts a provider panic into an error so one backend cannot
// take down the fan-out.
func safeExecute(ctx context.Context, p ToolProvider, call *Call) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("provider %s panicked: %v", p.Kind(), r)
		}
	}()
	return p.Execute(ctx, call)
}
