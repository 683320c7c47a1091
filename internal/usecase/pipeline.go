package usecase

import (
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/platform/id"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/platform/metrics"
	"github.com/riskibarqy/statharvest/internal/platform/queue"
	"github.com/riskibarqy/statharvest/internal/platform/ratelimit"
	"github.com/riskibarqy/statharvest/internal/platform/resilience"
)

// PipelineConfig holds the defaults every source starts from.
type PipelineConfig struct {
	RateLimit      ratelimit.Config
	Retry          resilience.RetryConfig
	CircuitBreaker resilience.CircuitBreakerConfig
}

// SourceSettings overrides the defaults for one source.
type SourceSettings struct {
	RateLimit      ratelimit.Config
	Retry          resilience.RetryConfig
	CircuitBreaker resilience.CircuitBreakerConfig
}

// PipelineContext is the shared state handed to every pipeline component.
// Nothing in the pipeline reaches for process globals.
type PipelineContext struct {
	Queue    *queue.TaskQueue
	Limiters *ratelimit.Registry
	Breakers *resilience.BreakerRegistry
	Retry    *resilience.RetryPolicy
	Recorder *metrics.Recorder
	Metrics  metrics.Hook
	Recent   *RecentFetches
	IDs      id.Generator
	Logger   *logging.Logger
}

func NewPipelineContext(cfg PipelineConfig, logger *logging.Logger, hooks ...metrics.Hook) *PipelineContext {
	if logger == nil {
		logger = logging.Default()
	}
	breakers := resilience.NewBreakerRegistry(cfg.CircuitBreaker)
	recorder := metrics.NewRecorder()
	fanout := make(metrics.Multi, 0, len(hooks)+1)
	fanout = append(fanout, recorder)
	for _, h := range hooks {
		if h != nil {
			fanout = append(fanout, h)
		}
	}

	return &PipelineContext{
		Queue:    queue.New(),
		Limiters: ratelimit.NewRegistry(cfg.RateLimit),
		Breakers: breakers,
		Retry:    resilience.NewRetryPolicy(cfg.Retry, breakers, ClassifyFetchError),
		Recorder: recorder,
		Metrics:  fanout,
		Recent:   NewRecentFetches(),
		IDs:      id.NewTimeOrderedGenerator(),
		Logger:   logger,
	}
}

// ConfigureSource applies per-source quotas. Zero values fall back to the
// package defaults of each component.
func (p *PipelineContext) ConfigureSource(sourceID string, settings SourceSettings) {
	p.Limiters.Configure(sourceID, settings.RateLimit)
	p.Retry.Configure(sourceID, settings.Retry)
	p.Breakers.Configure(sourceID, settings.CircuitBreaker)
}

// ClassifyFetchError maps the ingest failure taxonomy onto retry classes.
// A 429 without Retry-After is an ordinary transient failure.
func ClassifyFetchError(err error) (resilience.ErrorClass, time.Duration) {
	switch ingest.KindOf(err) {
	case ingest.FailureRateLimited:
		if retryAfter, ok := ingest.RetryAfterOf(err); ok {
			return resilience.ClassThrottled, retryAfter
		}
		return resilience.ClassRetryable, 0
	case ingest.FailurePermanent, ingest.FailureMalformedPayload, ingest.FailureValidation:
		return resilience.ClassPermanent, 0
	default:
		return resilience.ClassRetryable, 0
	}
}

// RecentFetches remembers when each resource was last archived, so the
// reconciler can tolerate blob listings that lag behind writes.
type RecentFetches struct {
	mu    sync.Mutex
	items map[inventory.Key]time.Time
}

func NewRecentFetches() *RecentFetches {
	return &RecentFetches{items: make(map[inventory.Key]time.Time)}
}

func (r *RecentFetches) Mark(key inventory.Key, at time.Time) {
	r.mu.Lock()
	r.items[key] = at
	r.mu.Unlock()
}

// Within reports whether key was archived less than window before now.
func (r *RecentFetches) Within(key inventory.Key, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	at, ok := r.items[key]
	return ok && now.Sub(at) < window
}

// Prune drops entries older than window.
func (r *RecentFetches) Prune(window time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, at := range r.items {
		if now.Sub(at) >= window {
			delete(r.items, key)
		}
	}
}
