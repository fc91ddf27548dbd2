package infra

import (
	"sort"
	"sync"
	"time"
)

// Breaker names for the dependencies guarded by default.
const (
	BreakerOpenAI    = "openai"
	BreakerGemini    = "gemini"
	BreakerAnthropic = "anthropic"
	BreakerMCP       = "mcp"
	BreakerHTTPTool  = "custom_http"
)

// DefaultBreakerConfigs returns the preset per-dependency settings.
func DefaultBreakerConfigs() map[string]CircuitBreakerConfig {
	llm := CircuitBreakerConfig{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, SuccessThreshold: 2, HalfOpenMaxCalls: 1}
	return map[string]CircuitBreakerConfig{
		BreakerOpenAI:    llm,
		BreakerGemini:    llm,
		BreakerAnthropic: llm,
		BreakerMCP:       {FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2, HalfOpenMaxCalls: 1},
		BreakerHTTPTool:  {FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, SuccessThreshold: 2, HalfOpenMaxCalls: 1},
	}
}

// BreakerSet owns one circuit breaker per named dependency. It is built once
// at startup and passed to the components that need it.
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	presets  map[string]CircuitBreakerConfig
	defaults CircuitBreakerConfig
	onChange func(name, from, to string)
	now      func() time.Time
}

// BreakerSetOption customizes a BreakerSet.
type BreakerSetOption func(*BreakerSet)

// WithBreakerPreset overrides the configuration for one dependency.
func WithBreakerPreset(name string, cfg CircuitBreakerConfig) BreakerSetOption {
	return func(s *BreakerSet) {
		s.presets[name] = cfg
	}
}

// WithStateChangeHook observes every breaker transition in the set.
func WithStateChangeHook(fn func(name, from, to string)) BreakerSetOption {
	return func(s *BreakerSet) {
		s.onChange = fn
	}
}

// withBreakerClock is used by tests to control recovery timing.
func withBreakerClock(now func() time.Time) BreakerSetOption {
	return func(s *BreakerSet) {
		s.now = now
	}
}

// NewBreakerSet creates a set with the preset dependency configs. defaults
// applies to names without a preset.
func NewBreakerSet(defaults CircuitBreakerConfig, opts ...BreakerSetOption) *BreakerSet {
	s := &BreakerSet{
		breakers: make(map[string]*CircuitBreaker),
		presets:  DefaultBreakerConfigs(),
		defaults: defaults,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns or creates the breaker for name.
func (s *BreakerSet) Get(name string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.breakers[name]; ok {
		return cb
	}

	cfg, ok := s.presets[name]
	if !ok {
		cfg = s.defaults
	}
	cfg.Name = name
	if s.onChange != nil {
		userHook := cfg.OnStateChange
		setHook := s.onChange
		cfg.OnStateChange = func(name, from, to string) {
			if userHook != nil {
				userHook(name, from, to)
			}
			setHook(name, from, to)
		}
	}
	cb := newCircuitBreaker(cfg, s.now)
	s.breakers[name] = cb
	return cb
}

// Stats returns statistics for every breaker created so far, sorted by name.
func (s *BreakerSet) Stats() []CircuitBreakerStats {
	s.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		list = append(list, cb)
	}
	s.mu.Unlock()

	stats := make([]CircuitBreakerStats, 0, len(list))
	for _, cb := range list {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// OpenCircuits returns the names of all open breakers.
func (s *BreakerSet) OpenCircuits() []string {
	var open []string
	for _, st := range s.Stats() {
		if st.State == CircuitOpen {
			open = append(open, st.Name)
		}
	}
	return open
}

// ResetAll closes every breaker.
func (s *BreakerSet) ResetAll() {
	s.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		list = append(list, cb)
	}
	s.mu.Unlock()

	for _, cb := range list {
		cb.Reset()
	}
}
