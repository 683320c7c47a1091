package ratelimit

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

type Config struct {
	// Rate is the sustained number of tokens per second. Zero or less
	// disables limiting.
	Rate  float64
	Burst int
}

func DefaultConfig() Config {
	return Config{Rate: 2, Burst: 1}
}

// Limiter is a token bucket for a single source. The bucket starts full.
type Limiter struct {
	sourceID string
	cfg      Config
	bucket   *rate.Limiter
}

func New(sourceID string, cfg Config) *Limiter {
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}

	return &Limiter{
		sourceID: sourceID,
		cfg:      cfg,
		bucket:   rate.NewLimiter(limit, cfg.Burst),
	}
}

// Acquire blocks until a token is available. It only fails when ctx is done
// before the token would be granted.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		// Wait also refuses when the deadline ends before the reservation.
		return fmt.Errorf("acquire token for source %s: %w", l.sourceID, context.DeadlineExceeded)
	}
	return nil
}

func (l *Limiter) SourceID() string { return l.sourceID }

func (l *Limiter) Config() Config { return l.cfg }

// Registry keeps one limiter per source. There is no global limiter.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	configs  map[string]Config
	limiters map[string]*Limiter
}

func NewRegistry(defaults Config) *Registry {
	return &Registry{
		defaults: defaults,
		configs:  make(map[string]Config),
		limiters: make(map[string]*Limiter),
	}
}

func (r *Registry) Configure(sourceID string, cfg Config) {
	r.mu.Lock()
	r.configs[sourceID] = cfg
	delete(r.limiters, sourceID)
	r.mu.Unlock()
}

func (r *Registry) For(sourceID string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[sourceID]; ok {
		return l
	}
	cfg, ok := r.configs[sourceID]
	if !ok {
		cfg = r.defaults
	}
	l := New(sourceID, cfg)
	r.limiters[sourceID] = l
	return l
}

func (r *Registry) SourceIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.configs))
	for id := range r.configs {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}
