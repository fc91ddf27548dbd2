// Package secrets resolves credential references found in tenant
// configuration. A reference has the form scheme://locator, for example
// env://MCP_TOKEN, vault://secret/tenants/acme#mcp_token or
// aws://prod/mcp-token#token. Values without a known scheme are literal.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when a reference points at nothing.
var ErrNotFound = errors.New("secret not found")

// Resolver turns a reference into its secret value.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Backend resolves the locator part of one scheme.
type Backend interface {
	Lookup(ctx context.Context, locator string) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, locator string) (string, error)

// Lookup implements Backend.
func (f BackendFunc) Lookup(ctx context.Context, locator string) (string, error) {
	return f(ctx, locator)
}

// Ref is a parsed reference.
type Ref struct {
	Scheme  string
	Locator string
}

// ParseRef splits ref into scheme and locator. ok is false for literals.
func ParseRef(ref string) (Ref, bool) {
	scheme, locator, found := strings.Cut(strings.TrimSpace(ref), "://")
	if !found || scheme == "" || strings.ContainsAny(scheme, "/:") {
		return Ref{}, false
	}
	return Ref{Scheme: strings.ToLower(scheme), Locator: locator}, true
}

// IsReference reports whether s looks like scheme://locator.
func IsReference(s string) bool {
	_, ok := ParseRef(s)
	return ok
}

// splitKey splits "path#key" into its parts.
func splitKey(locator string) (path, key string) {
	path, key, _ = strings.Cut(locator, "#")
	return path, key
}

// Chain dispatches references to backends by scheme and caches values.
type Chain struct {
	mu       sync.Mutex
	backends map[string]Backend
	cache    map[string]cached
	ttl      time.Duration
	now      func() time.Time
}

type cached struct {
	value   string
	expires time.Time
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithBackend registers a backend for scheme.
func WithBackend(scheme string, b Backend) ChainOption {
	return func(c *Chain) { c.backends[strings.ToLower(scheme)] = b }
}

// WithCacheTTL sets how long resolved values are kept. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ChainOption {
	return func(c *Chain) { c.ttl = ttl }
}

// NewChain creates a resolver. The env scheme is always registered.
func NewChain(opts ...ChainOption) *Chain {
	c := &Chain{
		backends: map[string]Backend{"env": EnvBackend{}},
		cache:    make(map[string]cached),
		ttl:      5 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the value for ref. Literals are returned unchanged.
func (c *Chain) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, ok := ParseRef(ref)
	if !ok {
		return ref, nil
	}
	backend, ok := c.backends[parsed.Scheme]
	if !ok {
		// Not a secret scheme we know, so treat as literal.
		return ref, nil
	}

	if v, ok := c.lookupCache(ref); ok {
		return v, nil
	}
	value, err := backend.Lookup(ctx, parsed.Locator)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", parsed.Scheme, err)
	}
	c.store(ref, value)
	return value, nil
}

func (c *Chain) lookupCache(ref string) (string, bool) {
	if c.ttl <= 0 {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[ref]
	if !ok || c.now().After(entry.expires) {
		return "", false
	}
	return entry.value, true
}

func (c *Chain) store(ref, value string) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[ref] = cached{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}
