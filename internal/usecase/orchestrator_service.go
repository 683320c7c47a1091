package usecase

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/riskibarqy/statharvest/internal/platform/queue"
	"github.com/riskibarqy/statharvest/internal/platform/resilience"
	"github.com/sourcegraph/conc"
)

type EnqueueResult struct {
	Added bool        `json:"added"`
	Task  ingest.Task `json:"task"`
}

// SourceStats is the per-source view exposed to callers.
type SourceStats struct {
	SourceID            string                  `json:"source_id"`
	Attempted           int64                   `json:"attempted"`
	Succeeded           int64                   `json:"succeeded"`
	Failed              int64                   `json:"failed"`
	SuccessRate         float64                 `json:"success_rate"`
	CircuitOpenRejected int64                   `json:"circuit_open_rejected"`
	CircuitState        resilience.CircuitState `json:"circuit_state"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	QueueDepth          int                     `json:"queue_depth"`
	InFlight            int                     `json:"in_flight"`
	Gaps                int                     `json:"gaps"`
	PersistentGaps      int                     `json:"persistent_gaps"`
	DeadLetters         int                     `json:"dead_letters"`
	RecordsValid        int64                   `json:"records_valid"`
	RecordsInvalid      int64                   `json:"records_invalid"`
}

// Orchestrator is the entry point callers use: manual enqueue, on-demand
// reconciliation, statistics and shutdown.
type Orchestrator struct {
	pipe       *PipelineContext
	pool       *FetchWorkerPool
	reconciler *ReconciliationService
	logger     *logging.Logger

	mu         sync.Mutex
	started    bool
	loopCancel context.CancelFunc
	loops      conc.WaitGroup
}

func NewOrchestrator(pipe *PipelineContext, pool *FetchWorkerPool, reconciler *ReconciliationService) *Orchestrator {
	return &Orchestrator{
		pipe:       pipe,
		pool:       pool,
		reconciler: reconciler,
		logger:     pipe.Logger.Named("orchestrator"),
	}
}

// Start begins dispatching fetch work. With runLoop the reconciliation
// loop runs as well.
func (o *Orchestrator) Start(runLoop bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return
	}
	o.started = true
	o.pool.Start()

	if runLoop && o.reconciler != nil {
		loopCtx, cancel := context.WithCancel(context.Background())
		o.loopCancel = cancel
		o.loops.Go(func() { o.reconciler.Run(loopCtx) })
	}
	o.logger.Info("pipeline started", "sources", strings.Join(o.pool.SourceIDs(), ","), "reconcile_loop", runLoop)
}

func (o *Orchestrator) Enqueue(ctx context.Context, sourceID, resourceKey string, priority int) (EnqueueResult, error) {
	ctx, span := startUsecaseSpan(ctx, "usecase.Orchestrator.Enqueue")
	defer span.End()

	sourceID = strings.TrimSpace(sourceID)
	resourceKey = strings.Trim(strings.TrimSpace(resourceKey), "/")
	if sourceID == "" || resourceKey == "" {
		return EnqueueResult{}, fmt.Errorf("%w: source_id and resource_key are required", ErrInvalidInput)
	}
	if !o.pool.HasSource(sourceID) {
		return EnqueueResult{}, sourceNotConfigured(sourceID)
	}

	task := ingest.Task{
		SourceID:    sourceID,
		ResourceKey: resourceKey,
		Priority:    priority,
		EnqueuedAt:  time.Now(),
		Origin:      ingest.OriginManual,
	}
	added, err := o.pipe.Queue.Push(task)
	if err != nil {
		if stderrors.Is(err, queue.ErrClosed) {
			return EnqueueResult{}, errPipelineClosed
		}
		return EnqueueResult{}, fmt.Errorf("enqueue task: %w", err)
	}
	if o.reconciler != nil {
		o.reconciler.Forget(inventory.Key{SourceID: sourceID, ResourceKey: resourceKey})
	}

	o.logger.InfoContext(ctx, "task enqueued", "source_id", sourceID, "resource_key", resourceKey, "priority", priority, "added", added)
	return EnqueueResult{Added: added, Task: task}, nil
}

func (o *Orchestrator) RunReconciliationCycle(ctx context.Context) (CycleReport, error) {
	if o.reconciler == nil {
		return CycleReport{}, errReconcilerDisabled
	}
	return o.reconciler.RunCycle(ctx)
}

// TriggerReconciliation wakes the background loop without waiting.
func (o *Orchestrator) TriggerReconciliation() {
	if o.reconciler != nil {
		o.reconciler.Trigger()
	}
}

func (o *Orchestrator) ReconcileState() ReconcileState {
	if o.reconciler == nil {
		return StateIdle
	}
	return o.reconciler.State()
}

// LastReconcileReport returns the report of the most recent finished cycle.
func (o *Orchestrator) LastReconcileReport() (CycleReport, bool) {
	if o.reconciler == nil {
		return CycleReport{}, false
	}
	return o.reconciler.LastReport()
}

func (o *Orchestrator) Stats() []SourceStats {
	ids := make(map[string]struct{})
	for _, id := range o.pool.SourceIDs() {
		ids[id] = struct{}{}
	}
	for _, id := range o.pipe.Recorder.SourceIDs() {
		ids[id] = struct{}{}
	}

	deadLetters := make(map[string]int)
	for _, item := range o.pool.DeadLetters() {
		deadLetters[item.Task.SourceID]++
	}

	out := make([]SourceStats, 0, len(ids))
	for sourceID := range ids {
		counters := o.pipe.Recorder.Source(sourceID)
		breaker := o.pipe.Breakers.Snapshot(sourceID)
		out = append(out, SourceStats{
			SourceID:            sourceID,
			Attempted:           counters.Attempted,
			Succeeded:           counters.Succeeded,
			Failed:              counters.Failed + counters.Permanent + counters.Throttled,
			SuccessRate:         counters.SuccessRate(),
			CircuitOpenRejected: counters.CircuitOpen,
			CircuitState:        breaker.State,
			ConsecutiveFailures: breaker.ConsecutiveFailures,
			QueueDepth:          o.pipe.Queue.Depth(sourceID),
			InFlight:            o.pipe.Queue.InFlight(sourceID),
			Gaps:                counters.Gaps,
			PersistentGaps:      counters.PersistentGaps,
			DeadLetters:         deadLetters[sourceID],
			RecordsValid:        counters.RecordsValid,
			RecordsInvalid:      counters.RecordsInvalid,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (o *Orchestrator) DeadLetters() []FailedTask {
	return o.pool.DeadLetters()
}

func (o *Orchestrator) FailedTasks() []FailedTask {
	return o.pool.FailedTasks()
}

// PendingTasks lists queued tasks that have not been picked up.
func (o *Orchestrator) PendingTasks() []ingest.Task {
	return o.pipe.Queue.Pending()
}

// Shutdown stops the reconciliation loop, stops new fetches, lets
// in-flight work finish until ctx is done and cuts off the rest. Tasks still
// queued stay visible through PendingTasks.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	cancel := o.loopCancel
	o.loopCancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		done := make(chan struct{})
		go func() {
			o.loops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			o.logger.Warn("reconciliation loop did not stop before deadline")
		}
	}

	err := o.pool.Shutdown(ctx)
	o.pipe.Queue.Close()

	pending := len(o.pipe.Queue.Pending())
	if err != nil {
		o.logger.Warn("pipeline shutdown cut off in-flight fetches", "pending", pending, "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}
	o.logger.Info("pipeline stopped", "pending", pending)
	return nil
}
