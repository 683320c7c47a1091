package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/platform/metrics"
	"github.com/riskibarqy/statharvest/internal/platform/resilience"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/trace"
)

// FetchHandler consumes a fetched payload on the worker that fetched it.
// Errors wrapping ingest.ErrStorageUnreachable requeue the task; any other
// error fails it permanently.
type FetchHandler func(ctx context.Context, task ingest.Task, raw ingest.RawPayload) error

type FetchSource struct {
	SourceID string
	Workers  int
	Fetch    ingest.FetchFunc
}

type FetchPoolConfig struct {
	DefaultWorkers   int
	MaxTotalAttempts int
	// FailureLogLimit bounds the in-memory failed and dead-letter lists.
	FailureLogLimit int
}

// FailedTask is a task that left the retry path.
type FailedTask struct {
	Task     ingest.Task        `json:"task"`
	Outcome  ingest.TaskOutcome `json:"outcome"`
	Kind     ingest.FailureKind `json:"kind"`
	Error    string             `json:"error"`
	FailedAt time.Time          `json:"failed_at"`
}

// FetchWorkerPool runs a fixed number of workers per source. A dispatcher
// per source only pops a task once a worker slot is free, so queue order is
// preserved up to the moment of execution.
type FetchWorkerPool struct {
	pipe    *PipelineContext
	handler FetchHandler
	events  ingest.TaskEventRepository
	cfg     FetchPoolConfig
	logger  *logging.Logger
	now     func() time.Time

	mu          sync.Mutex
	sources     map[string]*sourceWorkers
	failed      []FailedTask
	deadLetters []FailedTask
	started     bool
	stopped     bool

	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc
	workCtx        context.Context
	workCancel     context.CancelFunc
	dispatchers    conc.WaitGroup
	inflight       sync.WaitGroup
}

type sourceWorkers struct {
	cfg   FetchSource
	pool  *ants.Pool
	slots chan struct{}
}

func NewFetchWorkerPool(
	pipe *PipelineContext,
	handler FetchHandler,
	events ingest.TaskEventRepository,
	cfg FetchPoolConfig,
) *FetchWorkerPool {
	if cfg.DefaultWorkers <= 0 {
		cfg.DefaultWorkers = 2
	}
	if cfg.MaxTotalAttempts <= 0 {
		cfg.MaxTotalAttempts = 5
	}
	if cfg.FailureLogLimit <= 0 {
		cfg.FailureLogLimit = 500
	}

	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	workCtx, workCancel := context.WithCancel(context.Background())

	return &FetchWorkerPool{
		pipe:           pipe,
		handler:        handler,
		events:         events,
		cfg:            cfg,
		logger:         pipe.Logger.Named("fetch_pool"),
		now:            time.Now,
		sources:        make(map[string]*sourceWorkers),
		dispatchCtx:    dispatchCtx,
		dispatchCancel: dispatchCancel,
		workCtx:        workCtx,
		workCancel:     workCancel,
	}
}

// AddSource registers a source and its fetch function. Sources added after
// Start begin dispatching immediately.
func (p *FetchWorkerPool) AddSource(src FetchSource) error {
	src.SourceID = strings.TrimSpace(src.SourceID)
	if src.SourceID == "" || src.Fetch == nil {
		return fmt.Errorf("%w: source id and fetch function are required", ErrInvalidInput)
	}
	if src.Workers <= 0 {
		src.Workers = p.cfg.DefaultWorkers
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errPipelineClosed
	}
	if _, exists := p.sources[src.SourceID]; exists {
		return fmt.Errorf("%w: source %s already registered", ErrInvalidInput, src.SourceID)
	}

	logger := p.logger
	pool, err := ants.NewPool(src.Workers, ants.WithPanicHandler(func(r any) {
		logger.Error("fetch worker panicked", "source_id", src.SourceID, "panic", r)
	}))
	if err != nil {
		return fmt.Errorf("create worker pool for source %s: %w", src.SourceID, err)
	}

	sw := &sourceWorkers{cfg: src, pool: pool, slots: make(chan struct{}, src.Workers)}
	p.sources[src.SourceID] = sw
	if p.started {
		p.dispatchers.Go(func() { p.dispatch(sw) })
	}
	return nil
}

func (p *FetchWorkerPool) HasSource(sourceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sources[sourceID]
	return ok
}

func (p *FetchWorkerPool) SourceIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.sources))
	for id := range p.sources {
		out = append(out, id)
	}
	return out
}

// Start launches one dispatcher per registered source.
func (p *FetchWorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true
	for _, sw := range p.sources {
		p.dispatchers.Go(func() { p.dispatch(sw) })
	}
}

func (p *FetchWorkerPool) dispatch(sw *sourceWorkers) {
	sourceID := sw.cfg.SourceID
	for {
		select {
		case sw.slots <- struct{}{}:
		case <-p.dispatchCtx.Done():
			return
		}

		task, err := p.pipe.Queue.Pop(p.dispatchCtx, sourceID)
		if err != nil {
			<-sw.slots
			return
		}

		p.inflight.Add(1)
		if err := sw.pool.Submit(func() {
			defer p.inflight.Done()
			defer func() { <-sw.slots }()
			p.run(sw, task)
		}); err != nil {
			p.inflight.Done()
			<-sw.slots
			p.logger.Error("submit fetch task failed", "source_id", sourceID, "resource_key", task.ResourceKey, "error", err)
			_ = p.pipe.Queue.Requeue(task)
			return
		}
	}
}

func (p *FetchWorkerPool) run(sw *sourceWorkers, task ingest.Task) {
	ctx, span := startTaskSpan(p.workCtx, "usecase.FetchWorkerPool.run", task)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			p.fail(ctx, task, ingest.OutcomePermanentFailure, ingest.FailurePermanent, fmt.Errorf("fetch task panicked: %v", r))
		}
	}()

	sourceID := task.SourceID
	limiter := p.pipe.Limiters.For(sourceID)
	calls := 0

	var raw ingest.RawPayload
	err := p.pipe.Retry.ExecuteGated(ctx, sourceID, limiter.Acquire, func(callCtx context.Context) error {
		calls++
		started := p.now()
		payload, fetchErr := sw.cfg.Fetch(callCtx, task.ResourceKey)
		p.pipe.Metrics.ObserveFetch(ctx, sourceID, fetchOutcome(fetchErr), p.now().Sub(started))
		if fetchErr != nil {
			return fetchErr
		}
		raw = payload
		return nil
	})

	if err == nil {
		p.deliver(ctx, task, raw)
		return
	}
	markSpanError(span, err)

	var (
		openErr      *resilience.CircuitOpenError
		throttledErr *resilience.ThrottledError
		exhaustedErr *resilience.RetryExhaustedError
	)
	switch {
	case p.workCtx.Err() != nil:
		// Cut off by shutdown; the attempt is not the source's fault.
		p.retryLater(ctx, task, 0, err)
	case stderrors.As(err, &openErr):
		p.pipe.Metrics.ObserveFetch(ctx, sourceID, metrics.FetchCircuitOpen, 0)
		if calls > 0 {
			task.AttemptCount++
		}
		p.retryLater(ctx, task, openErr.RetryIn, err)
	case stderrors.As(err, &throttledErr):
		task.AttemptCount++
		p.retryLater(ctx, task, throttledErr.RetryAfter, err)
	case stderrors.As(err, &exhaustedErr):
		task.AttemptCount++
		p.retryLater(ctx, task, p.pipe.Retry.Backoff(sourceID, task.AttemptCount), err)
	default:
		p.fail(ctx, task, ingest.OutcomePermanentFailure, ingest.KindOf(err), err)
	}
}

func (p *FetchWorkerPool) deliver(ctx context.Context, task ingest.Task, raw ingest.RawPayload) {
	if raw.SourceID == "" {
		raw.SourceID = task.SourceID
	}
	if raw.ResourceKey == "" {
		raw.ResourceKey = task.ResourceKey
	}
	if raw.FetchedAt.IsZero() {
		raw.FetchedAt = p.now().UTC()
	}

	if p.handler != nil {
		if err := p.handler(ctx, task, raw); err != nil {
			if stderrors.Is(err, ingest.ErrStorageUnreachable) {
				task.AttemptCount++
				p.retryLater(ctx, task, p.pipe.Retry.Backoff(task.SourceID, task.AttemptCount), err)
				return
			}
			p.fail(ctx, task, ingest.OutcomePermanentFailure, ingest.KindOf(err), err)
			return
		}
	}
	p.pipe.Queue.Done(task)
}

// retryLater requeues the task with NotBefore = now + delay, or moves it to
// the dead-letter list once MaxTotalAttempts is spent.
func (p *FetchWorkerPool) retryLater(ctx context.Context, task ingest.Task, delay time.Duration, cause error) {
	task.LastError = cause.Error()
	if task.AttemptCount >= p.cfg.MaxTotalAttempts {
		p.fail(ctx, task, ingest.OutcomeDeadLetter, ingest.KindOf(cause), cause)
		return
	}

	task.NotBefore = p.now().Add(delay)
	task.Origin = ingest.OriginRequeue
	if err := p.pipe.Queue.Requeue(task); err != nil {
		p.pipe.Queue.Done(task)
		p.logger.WarnContext(ctx, "requeue fetch task failed",
			"source_id", task.SourceID,
			"resource_key", task.ResourceKey,
			"error", err,
		)
		return
	}
	p.logger.DebugContext(ctx, "fetch task requeued",
		"source_id", task.SourceID,
		"resource_key", task.ResourceKey,
		"attempt_count", task.AttemptCount,
		"not_before", task.NotBefore,
	)
}

func (p *FetchWorkerPool) fail(ctx context.Context, task ingest.Task, outcome ingest.TaskOutcome, kind ingest.FailureKind, cause error) {
	p.pipe.Queue.Done(task)

	now := p.now().UTC()
	task.LastError = cause.Error()
	entry := FailedTask{Task: task, Outcome: outcome, Kind: kind, Error: cause.Error(), FailedAt: now}

	p.mu.Lock()
	if outcome == ingest.OutcomeDeadLetter {
		p.deadLetters = appendBounded(p.deadLetters, entry, p.cfg.FailureLogLimit)
	} else {
		p.failed = appendBounded(p.failed, entry, p.cfg.FailureLogLimit)
	}
	p.mu.Unlock()

	p.logger.WarnContext(ctx, "fetch task left retry path",
		"source_id", task.SourceID,
		"resource_key", task.ResourceKey,
		"outcome", outcome,
		"failure_kind", kind,
		"attempt_count", task.AttemptCount,
		"error", cause,
	)
	p.recordEvent(ctx, task, outcome, kind, cause)
}

func (p *FetchWorkerPool) recordEvent(ctx context.Context, task ingest.Task, outcome ingest.TaskOutcome, kind ingest.FailureKind, cause error) {
	if p.events == nil {
		return
	}
	eventID, err := p.pipe.IDs.NewID()
	if err != nil {
		p.logger.WarnContext(ctx, "generate task event id failed", "error", err)
		return
	}

	event := ingest.TaskEvent{
		EventID:      eventID,
		SourceID:     task.SourceID,
		ResourceKey:  task.ResourceKey,
		Outcome:      outcome,
		FailureKind:  kind,
		AttemptCount: task.AttemptCount,
		ErrorMessage: cause.Error(),
		Payload: map[string]any{
			"priority":    task.Priority,
			"origin":      string(task.Origin),
			"enqueued_at": task.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
		OccurredAt: p.now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}

	// Shutdown may have cancelled ctx; the event still has to land.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.events.UpsertEvent(writeCtx, event); err != nil {
		p.logger.WarnContext(ctx, "persist task event failed", "event_id", eventID, "error", err)
	}
}

// FailedTasks lists permanently failed tasks, oldest first.
func (p *FetchWorkerPool) FailedTasks() []FailedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FailedTask(nil), p.failed...)
}

// DeadLetters lists tasks that exhausted MaxTotalAttempts, oldest first.
func (p *FetchWorkerPool) DeadLetters() []FailedTask {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FailedTask(nil), p.deadLetters...)
}

// Shutdown stops dispatching, waits for in-flight tasks until ctx is done,
// then cancels whatever is still running. It returns ctx.Err() when
// in-flight work had to be cut off.
func (p *FetchWorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.dispatchCancel()
	p.dispatchers.Wait()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	var cutOff error
	select {
	case <-done:
	case <-ctx.Done():
		cutOff = ctx.Err()
		p.workCancel()
		<-done
	}
	p.workCancel()

	p.mu.Lock()
	for _, sw := range p.sources {
		sw.pool.Release()
	}
	p.mu.Unlock()
	return cutOff
}

func fetchOutcome(err error) metrics.FetchOutcome {
	if err == nil {
		return metrics.FetchSucceeded
	}
	switch ingest.KindOf(err) {
	case ingest.FailurePermanent, ingest.FailureMalformedPayload, ingest.FailureValidation:
		return metrics.FetchPermanent
	case ingest.FailureRateLimited:
		return metrics.FetchThrottled
	default:
		return metrics.FetchFailed
	}
}

func appendBounded(items []FailedTask, item FailedTask, limit int) []FailedTask {
	items = append(items, item)
	if len(items) > limit {
		items = append(items[:0:0], items[len(items)-limit:]...)
	}
	return items
}
