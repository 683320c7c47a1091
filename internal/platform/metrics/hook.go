package metrics

import (
	"context"
	"sort"
	"sync"
	"time"
)

type FetchOutcome string

const (
	FetchSucceeded   FetchOutcome = "succeeded"
	FetchFailed      FetchOutcome = "failed"
	FetchPermanent   FetchOutcome = "permanent"
	FetchThrottled   FetchOutcome = "throttled"
	FetchCircuitOpen FetchOutcome = "circuit_open"
)

// Hook receives pipeline observations. Implementations must be safe for
// concurrent use and must not block.
type Hook interface {
	ObserveFetch(ctx context.Context, sourceID string, outcome FetchOutcome, latency time.Duration)
	ObserveRecords(ctx context.Context, sourceID string, valid, invalid int)
	ObserveGaps(ctx context.Context, sourceID string, gaps, persistent int)
}

// Multi fans observations out to several hooks.
type Multi []Hook

func (m Multi) ObserveFetch(ctx context.Context, sourceID string, outcome FetchOutcome, latency time.Duration) {
	for _, h := range m {
		h.ObserveFetch(ctx, sourceID, outcome, latency)
	}
}

func (m Multi) ObserveRecords(ctx context.Context, sourceID string, valid, invalid int) {
	for _, h := range m {
		h.ObserveRecords(ctx, sourceID, valid, invalid)
	}
}

func (m Multi) ObserveGaps(ctx context.Context, sourceID string, gaps, persistent int) {
	for _, h := range m {
		h.ObserveGaps(ctx, sourceID, gaps, persistent)
	}
}

// SourceCounters is the in-memory tally of one source.
type SourceCounters struct {
	Attempted      int64 `json:"attempted"`
	Succeeded      int64 `json:"succeeded"`
	Failed         int64 `json:"failed"`
	Permanent      int64 `json:"permanent"`
	Throttled      int64 `json:"throttled"`
	CircuitOpen    int64 `json:"circuit_open"`
	RecordsValid   int64 `json:"records_valid"`
	RecordsInvalid int64 `json:"records_invalid"`
	Gaps           int   `json:"gaps"`
	PersistentGaps int   `json:"persistent_gaps"`
}

// SuccessRate is succeeded over attempted network calls; circuit-open
// rejections never reached the network and are not counted.
func (c SourceCounters) SuccessRate() float64 {
	if c.Attempted == 0 {
		return 0
	}
	return float64(c.Succeeded) / float64(c.Attempted)
}

// Recorder keeps counters in memory for the stats endpoint.
type Recorder struct {
	mu      sync.Mutex
	sources map[string]*SourceCounters
}

func NewRecorder() *Recorder {
	return &Recorder{sources: make(map[string]*SourceCounters)}
}

func (r *Recorder) counters(sourceID string) *SourceCounters {
	c, ok := r.sources[sourceID]
	if !ok {
		c = &SourceCounters{}
		r.sources[sourceID] = c
	}
	return c
}

func (r *Recorder) ObserveFetch(_ context.Context, sourceID string, outcome FetchOutcome, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.counters(sourceID)
	if outcome == FetchCircuitOpen {
		c.CircuitOpen++
		return
	}
	c.Attempted++
	switch outcome {
	case FetchSucceeded:
		c.Succeeded++
	case FetchPermanent:
		c.Permanent++
	case FetchThrottled:
		c.Throttled++
	default:
		c.Failed++
	}
}

func (r *Recorder) ObserveRecords(_ context.Context, sourceID string, valid, invalid int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.counters(sourceID)
	c.RecordsValid += int64(valid)
	c.RecordsInvalid += int64(invalid)
}

func (r *Recorder) ObserveGaps(_ context.Context, sourceID string, gaps, persistent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.counters(sourceID)
	c.Gaps = gaps
	c.PersistentGaps = persistent
}

func (r *Recorder) Source(sourceID string) SourceCounters {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.sources[sourceID]; ok {
		return *c
	}
	return SourceCounters{}
}

func (r *Recorder) SourceIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.sources))
	for id := range r.sources {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

type nopHook struct{}

func (nopHook) ObserveFetch(context.Context, string, FetchOutcome, time.Duration) {}
func (nopHook) ObserveRecords(context.Context, string, int, int)                  {}
func (nopHook) ObserveGaps(context.Context, string, int, int)                     {}

func Nop() Hook { return nopHook{} }
