package resilience

import (
	"sort"
	"sync"
)

// BreakerRegistry holds one circuit breaker per source, created on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	defaults CircuitBreakerConfig
	configs  map[string]CircuitBreakerConfig
	breakers map[string]*CircuitBreaker
}

func NewBreakerRegistry(defaults CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		defaults: NormalizeCircuitBreakerConfig(defaults),
		configs:  make(map[string]CircuitBreakerConfig),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Configure sets the breaker settings of a source. It has no effect on a
// breaker that already exists.
func (r *BreakerRegistry) Configure(sourceID string, cfg CircuitBreakerConfig) {
	r.mu.Lock()
	r.configs[sourceID] = NormalizeCircuitBreakerConfig(cfg)
	r.mu.Unlock()
}

func (r *BreakerRegistry) For(sourceID string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[sourceID]; ok {
		return b
	}
	cfg, ok := r.configs[sourceID]
	if !ok {
		cfg = r.defaults
	}
	b := NewCircuitBreaker(sourceID, cfg)
	r.breakers[sourceID] = b
	return b
}

func (r *BreakerRegistry) SourceIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.breakers))
	for id := range r.breakers {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

func (r *BreakerRegistry) Snapshot(sourceID string) CircuitSnapshot {
	return r.For(sourceID).Snapshot()
}
