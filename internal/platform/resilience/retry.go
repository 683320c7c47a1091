package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// ErrorClass tells the retry policy how to treat a failed attempt.
type ErrorClass int

const (
	ClassRetryable ErrorClass = iota
	ClassPermanent
	// ClassThrottled is retryable, but the upstream named its own resume time.
	ClassThrottled
)

// Classifier maps an attempt error to its class. The duration is only read
// for ClassThrottled.
type Classifier func(err error) (ErrorClass, time.Duration)

// RetryExhaustedError wraps the last retryable error once MaxAttempts is spent.
type RetryExhaustedError struct {
	SourceID string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("source %s: retries exhausted after %d attempts: %v", e.SourceID, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// ThrottledError carries an upstream-provided resume delay back to the caller.
type ThrottledError struct {
	SourceID   string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("source %s: throttled, retry after %s: %v", e.SourceID, e.RetryAfter, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// RetryPolicy runs calls against a source with exponential backoff and the
// source's circuit breaker. One policy is shared by all sources; settings
// are looked up per source.
type RetryPolicy struct {
	mu       sync.RWMutex
	defaults RetryConfig
	sources  map[string]RetryConfig

	breakers *BreakerRegistry
	classify Classifier
	jitter   func() float64
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(defaults RetryConfig, breakers *BreakerRegistry, classify Classifier) *RetryPolicy {
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultCircuitBreakerConfig())
	}
	if classify == nil {
		classify = func(error) (ErrorClass, time.Duration) { return ClassRetryable, 0 }
	}

	return &RetryPolicy{
		defaults: NormalizeRetryConfig(defaults),
		sources:  make(map[string]RetryConfig),
		breakers: breakers,
		classify: classify,
		jitter:   func() float64 { return 0.75 + rand.Float64()*0.5 },
		sleep:    sleepContext,
	}
}

func (p *RetryPolicy) Configure(sourceID string, cfg RetryConfig) {
	p.mu.Lock()
	p.sources[sourceID] = NormalizeRetryConfig(cfg)
	p.mu.Unlock()
}

func (p *RetryPolicy) ConfigFor(sourceID string) RetryConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if cfg, ok := p.sources[sourceID]; ok {
		return cfg
	}
	return p.defaults
}

func (p *RetryPolicy) Breakers() *BreakerRegistry {
	return p.breakers
}

// Backoff returns the jittered delay slept after the given zero-based
// failed attempt.
func (p *RetryPolicy) Backoff(sourceID string, attempt int) time.Duration {
	return backoffDelay(p.ConfigFor(sourceID), attempt, p.jitter())
}

// Execute calls op until it succeeds, fails permanently, is throttled, or
// MaxAttempts is reached. Every call gets its own CallTimeout.
func (p *RetryPolicy) Execute(ctx context.Context, sourceID string, op func(ctx context.Context) error) error {
	return p.ExecuteGated(ctx, sourceID, nil, op)
}

// ExecuteGated is Execute with gate run ahead of every attempt, e.g. a rate
// limiter wait. The gate runs on ctx, before the attempt's CallTimeout
// starts. A gate error ends the run and leaves the breaker untouched.
func (p *RetryPolicy) ExecuteGated(ctx context.Context, sourceID string, gate func(ctx context.Context) error, op func(ctx context.Context) error) error {
	cfg := p.ConfigFor(sourceID)
	breaker := p.breakers.For(sourceID)

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := breaker.Allow(); err != nil {
			return err
		}
		if gate != nil {
			if err := gate(ctx); err != nil {
				breaker.Release()
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err := op(callCtx)
		cancel()

		if err == nil {
			breaker.RecordSuccess()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			breaker.Release()
			return errors.Join(ctxErr, err)
		}

		class, retryAfter := p.classify(err)
		switch class {
		case ClassPermanent:
			breaker.Release()
			return err
		case ClassThrottled:
			breaker.RecordFailure()
			return &ThrottledError{SourceID: sourceID, RetryAfter: retryAfter, Err: err}
		}

		breaker.RecordFailure()
		lastErr = err
		if attempt+1 >= cfg.MaxAttempts {
			break
		}
		if err := p.sleep(ctx, backoffDelay(cfg, attempt, p.jitter())); err != nil {
			return errors.Join(err, lastErr)
		}
	}

	return &RetryExhaustedError{SourceID: sourceID, Attempts: cfg.MaxAttempts, Err: lastErr}
}

func backoffDelay(cfg RetryConfig, attempt int, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt)) * jitter
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
