package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/platform/logging"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
)

type ReconcileState string

const (
	StateIdle       ReconcileState = "IDLE"
	StateScanning   ReconcileState = "SCANNING"
	StateDiffing    ReconcileState = "DIFFING"
	StateEnqueueing ReconcileState = "ENQUEUEING"
)

// PriorityPolicy orders the gaps of one cycle before they are enqueued.
type PriorityPolicy string

const (
	// PriorityRecencyFirst serves the most recent game dates first.
	PriorityRecencyFirst PriorityPolicy = "recency_first"
	// PriorityOldestMissingFirst serves the gaps missing for the most
	// cycles first.
	PriorityOldestMissingFirst PriorityPolicy = "oldest_missing_first"
)

func ParsePriorityPolicy(raw string) (PriorityPolicy, error) {
	switch PriorityPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PriorityRecencyFirst:
		return PriorityRecencyFirst, nil
	case PriorityOldestMissingFirst:
		return PriorityOldestMissingFirst, nil
	default:
		return "", fmt.Errorf("%w: unknown priority policy %q", ErrInvalidInput, raw)
	}
}

type ReconciliationConfig struct {
	// Interval between cycles. Schedule, when set, takes precedence.
	Interval time.Duration
	// Schedule is a cron expression or descriptor such as "@every 10m".
	Schedule string
	// GraceWindow skips resources archived this recently; blob listings are
	// eventually consistent.
	GraceWindow time.Duration
	// PersistentAfter is the number of cycles a gap is re-queued before it
	// is reported as persistent instead.
	PersistentAfter int
	Policy          PriorityPolicy
	BasePriority    int
	// ScanRetryBackoff is the first delay after a failed scan; it doubles
	// up to Interval.
	ScanRetryBackoff time.Duration
	BlobPrefix       string
}

// CycleReport describes one reconciliation pass.
type CycleReport struct {
	CycleID       string          `json:"cycle_id"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
	Sources       []string        `json:"sources"`
	Expected      int             `json:"expected"`
	Observed      int             `json:"observed"`
	Gaps          []inventory.Gap `json:"gaps"`
	Enqueued      []ingest.Task   `json:"enqueued"`
	InGrace       []inventory.Key `json:"in_grace"`
	AlreadyQueued []inventory.Key `json:"already_queued"`
	Persistent    []inventory.Gap `json:"persistent"`
}

type gapHistory struct {
	firstSeen  time.Time
	cycles     int
	persistent bool
}

// ReconciliationService diffs expected inventory against the blob store and
// enqueues fetch tasks for what is missing.
type ReconciliationService struct {
	pipe    *PipelineContext
	catalog inventory.Catalog
	blobs   inventory.BlobStore
	events  ingest.TaskEventRepository
	cfg     ReconciliationConfig
	sched   cron.Schedule
	logger  *logging.Logger
	now     func() time.Time

	cycleMu sync.Mutex
	trigger chan struct{}

	mu      sync.Mutex
	state   ReconcileState
	history map[inventory.Key]*gapHistory
	last    *CycleReport
}

func NewReconciliationService(
	pipe *PipelineContext,
	catalog inventory.Catalog,
	blobs inventory.BlobStore,
	events ingest.TaskEventRepository,
	cfg ReconciliationConfig,
) (*ReconciliationService, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.GraceWindow < 0 {
		cfg.GraceWindow = 0
	}
	if cfg.PersistentAfter <= 0 {
		cfg.PersistentAfter = 3
	}
	if cfg.Policy == "" {
		cfg.Policy = PriorityRecencyFirst
	}
	if cfg.ScanRetryBackoff <= 0 {
		cfg.ScanRetryBackoff = 30 * time.Second
	}

	var sched cron.Schedule
	if spec := strings.TrimSpace(cfg.Schedule); spec != "" {
		parsed, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: parse reconcile schedule %q: %v", ErrInvalidInput, spec, err)
		}
		sched = parsed
	}

	return &ReconciliationService{
		pipe:    pipe,
		catalog: catalog,
		blobs:   blobs,
		events:  events,
		cfg:     cfg,
		sched:   sched,
		logger:  pipe.Logger.Named("reconciler"),
		now:     time.Now,
		trigger: make(chan struct{}, 1),
		state:   StateIdle,
		history: make(map[inventory.Key]*gapHistory),
	}, nil
}

func (s *ReconciliationService) State() ReconcileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ReconciliationService) setState(state ReconcileState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// LastReport returns the most recent completed cycle, if any.
func (s *ReconciliationService) LastReport() (CycleReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

// Trigger asks the running loop for an immediate cycle. Triggers arriving
// while one is pending are merged.
func (s *ReconciliationService) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Forget clears the gap history of a resource so it is treated as new,
// e.g. after an operator re-enqueued it by hand.
func (s *ReconciliationService) Forget(key inventory.Key) {
	s.mu.Lock()
	delete(s.history, key)
	s.mu.Unlock()
}

// PersistentGaps counts gaps per source that are no longer re-queued.
func (s *ReconciliationService) PersistentGaps() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int)
	for key, h := range s.history {
		if h.persistent {
			out[key.SourceID]++
		}
	}
	return out
}

// Run executes cycles until ctx is done. A failed cycle is retried after a
// growing backoff instead of waiting for the next slot.
func (s *ReconciliationService) Run(ctx context.Context) {
	backoff := time.Duration(0)
	for {
		_, err := s.RunCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := s.nextDelay()
		if err != nil {
			if backoff == 0 {
				backoff = s.cfg.ScanRetryBackoff
			} else {
				backoff *= 2
			}
			if backoff > wait {
				backoff = wait
			}
			s.logger.WarnContext(ctx, "reconciliation cycle failed, retrying", "retry_in", backoff, "error", err)
			wait = backoff
		} else {
			backoff = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *ReconciliationService) nextDelay() time.Duration {
	if s.sched == nil {
		return s.cfg.Interval
	}
	now := s.now()
	if d := s.sched.Next(now).Sub(now); d > 0 {
		return d
	}
	return time.Second
}

// RunCycle performs one IDLE → SCANNING → DIFFING → ENQUEUEING → IDLE pass.
// A scan failure aborts the cycle without touching gap history; stale
// inventory is never reused.
func (s *ReconciliationService) RunCycle(ctx context.Context) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	ctx, span := startUsecaseSpan(ctx, "usecase.ReconciliationService.RunCycle")
	defer span.End()
	defer s.setState(StateIdle)

	cycleID, err := s.pipe.IDs.NewID()
	if err != nil {
		return CycleReport{}, fmt.Errorf("generate cycle id: %w", err)
	}
	report := CycleReport{CycleID: cycleID, StartedAt: s.now().UTC()}

	s.setState(StateScanning)
	expected, snapshot, err := s.scan(ctx, &report)
	if err != nil {
		s.logger.WarnContext(ctx, "reconciliation scan failed", "cycle_id", cycleID, "error", err)
		markSpanError(span, err)
		return report, err
	}

	s.setState(StateDiffing)
	report.Gaps = inventory.Diff(expected, snapshot)

	if err := ctx.Err(); err != nil {
		return report, err
	}

	s.setState(StateEnqueueing)
	if err := s.enqueue(ctx, &report); err != nil {
		return report, err
	}

	report.FinishedAt = s.now().UTC()
	s.observe(ctx, report)

	s.mu.Lock()
	last := report
	s.last = &last
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "reconciliation cycle finished",
		"cycle_id", cycleID,
		"expected", report.Expected,
		"observed", report.Observed,
		"gaps", len(report.Gaps),
		"enqueued", len(report.Enqueued),
		"in_grace", len(report.InGrace),
		"persistent", len(report.Persistent),
	)
	return report, nil
}

func (s *ReconciliationService) scan(ctx context.Context, report *CycleReport) ([]inventory.ExpectedResource, inventory.Snapshot, error) {
	sources, err := s.catalog.Sources(ctx)
	if err != nil {
		return nil, inventory.Snapshot{}, fmt.Errorf("list catalog sources: %w", err)
	}
	sort.Strings(sources)
	report.Sources = sources

	expected := make([]inventory.ExpectedResource, 0, 64)
	snapshot := inventory.NewSnapshot(s.now().UTC())
	for _, sourceID := range sources {
		items, err := s.catalog.ExpectedResources(ctx, sourceID)
		if err != nil {
			return nil, inventory.Snapshot{}, fmt.Errorf("load expected resources for %s: %w", sourceID, err)
		}
		expected = append(expected, items...)

		objects, err := s.blobs.List(ctx, inventory.SourcePrefix(s.cfg.BlobPrefix, sourceID))
		if err != nil {
			return nil, inventory.Snapshot{}, ingest.NewStorageError("list observed inventory "+sourceID, err)
		}
		snapshot = inventory.SnapshotFromObjects(snapshot, s.cfg.BlobPrefix, objects)
	}

	report.Expected = len(expected)
	report.Observed = len(snapshot.Items)
	return expected, snapshot, nil
}

func (s *ReconciliationService) enqueue(ctx context.Context, report *CycleReport) error {
	now := s.now()
	s.pipe.Recent.Prune(s.cfg.GraceWindow, now)

	s.mu.Lock()
	current := make(map[inventory.Key]struct{}, len(report.Gaps))
	candidates := make([]inventory.Gap, 0, len(report.Gaps))
	newlyPersistent := make([]inventory.Gap, 0)
	for _, gap := range report.Gaps {
		current[gap.Key] = struct{}{}
		if s.pipe.Recent.Within(gap.Key, s.cfg.GraceWindow, now) {
			report.InGrace = append(report.InGrace, gap.Key)
			continue
		}
		if s.pipe.Queue.Contains(gap.Key.SourceID, gap.Key.ResourceKey) {
			report.AlreadyQueued = append(report.AlreadyQueued, gap.Key)
			continue
		}

		h, ok := s.history[gap.Key]
		if !ok {
			h = &gapHistory{firstSeen: now}
			s.history[gap.Key] = h
		}
		if h.persistent {
			report.Persistent = append(report.Persistent, gap)
			continue
		}
		if h.cycles >= s.cfg.PersistentAfter {
			h.persistent = true
			report.Persistent = append(report.Persistent, gap)
			newlyPersistent = append(newlyPersistent, gap)
			continue
		}
		h.cycles++
		candidates = append(candidates, gap)
	}
	// Resources that are no longer missing start over.
	for key := range s.history {
		if _, open := current[key]; !open {
			delete(s.history, key)
		}
	}
	s.orderGaps(candidates)
	s.mu.Unlock()

	for i, gap := range candidates {
		task := ingest.Task{
			SourceID:    gap.Key.SourceID,
			ResourceKey: gap.Key.ResourceKey,
			Priority:    s.cfg.BasePriority + gap.Expected.Priority + rankOffset(i, len(candidates)),
			EnqueuedAt:  now,
			Origin:      ingest.OriginReconcile,
		}
		added, err := s.pipe.Queue.Push(task)
		if err != nil {
			return fmt.Errorf("enqueue gap %s: %w", gap.Key, err)
		}
		if added {
			report.Enqueued = append(report.Enqueued, task)
		}
	}

	for _, gap := range newlyPersistent {
		s.recordPersistent(ctx, report.CycleID, gap)
	}
	return nil
}

// reconcileRankBand bounds the priority lift policy order adds on top of
// BasePriority and the resource's own priority.
const reconcileRankBand = 100

// rankOffset maps position i of n ordered gaps into [1, reconcileRankBand].
// Large backlogs share ranks; the queue keeps push order among equal
// priorities.
func rankOffset(i, n int) int {
	if n <= reconcileRankBand {
		return n - i
	}
	return 1 + (n-1-i)*(reconcileRankBand-1)/(n-1)
}

// orderGaps sorts in place; callers hold s.mu.
func (s *ReconciliationService) orderGaps(gaps []inventory.Gap) {
	sort.SliceStable(gaps, func(i, j int) bool {
		a, b := gaps[i], gaps[j]
		if a.Expected.Priority != b.Expected.Priority {
			return a.Expected.Priority > b.Expected.Priority
		}
		switch s.cfg.Policy {
		case PriorityOldestMissingFirst:
			fa, fb := s.history[a.Key].firstSeen, s.history[b.Key].firstSeen
			if !fa.Equal(fb) {
				return fa.Before(fb)
			}
			if da, db := a.Expected.Date, b.Expected.Date; da != nil && db != nil && !da.Equal(*db) {
				return da.Before(*db)
			}
		default:
			da, db := a.Expected.Date, b.Expected.Date
			switch {
			case da != nil && db == nil:
				return true
			case da == nil && db != nil:
				return false
			case da != nil && db != nil && !da.Equal(*db):
				return da.After(*db)
			}
		}
		return a.Key.String() < b.Key.String()
	})
}

func (s *ReconciliationService) recordPersistent(ctx context.Context, cycleID string, gap inventory.Gap) {
	s.logger.WarnContext(ctx, "persistent gap detected",
		"source_id", gap.Key.SourceID,
		"resource_key", gap.Key.ResourceKey,
		"reason", gap.Reason,
		"cycles", s.cfg.PersistentAfter,
	)
	if s.events == nil {
		return
	}
	eventID, err := s.pipe.IDs.NewID()
	if err != nil {
		s.logger.WarnContext(ctx, "generate task event id failed", "error", err)
		return
	}

	event := ingest.TaskEvent{
		EventID:      eventID,
		SourceID:     gap.Key.SourceID,
		ResourceKey:  gap.Key.ResourceKey,
		Outcome:      ingest.OutcomePersistentGap,
		AttemptCount: s.cfg.PersistentAfter,
		ErrorMessage: fmt.Sprintf("resource still %s after %d reconciliation cycles", gap.Reason, s.cfg.PersistentAfter),
		Payload: map[string]any{
			"cycle_id":      cycleID,
			"gap_reason":    string(gap.Reason),
			"resource_type": gap.Expected.ResourceType,
		},
		OccurredAt: s.now().UTC(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		event.SpanID = sc.SpanID().String()
	}
	if err := s.events.UpsertEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "persist persistent gap event failed", "event_id", eventID, "error", err)
	}
}

func (s *ReconciliationService) observe(ctx context.Context, report CycleReport) {
	gaps := make(map[string]int, len(report.Sources))
	persistent := make(map[string]int, len(report.Sources))
	for _, gap := range report.Gaps {
		gaps[gap.Key.SourceID]++
	}
	for _, gap := range report.Persistent {
		persistent[gap.Key.SourceID]++
	}
	for _, sourceID := range report.Sources {
		s.pipe.Metrics.ObserveGaps(ctx, sourceID, gaps[sourceID], persistent[sourceID])
	}
}
