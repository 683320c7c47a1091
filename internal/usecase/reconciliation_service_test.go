package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	blobmemory "github.com/riskibarqy/statharvest/internal/infrastructure/blobstore/memory"
	"github.com/riskibarqy/statharvest/internal/infrastructure/catalog"
	"github.com/riskibarqy/statharvest/internal/infrastructure/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reconcileFixture struct {
	pipe    *PipelineContext
	catalog *catalog.Static
	blobs   *blobmemory.Store
	events  *memory.TaskEventRepository
	service *ReconciliationService
	clock   time.Time
}

func newReconcileFixture(t *testing.T, cfg ReconciliationConfig, expected ...inventory.ExpectedResource) *reconcileFixture {
	t.Helper()
	f := &reconcileFixture{
		pipe:    newTestPipeline(PipelineConfig{}),
		catalog: catalog.NewStatic([]string{testSource}, expected...),
		blobs:   blobmemory.NewStore(),
		events:  memory.NewTaskEventRepository(),
		clock:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "raw"
	}
	service, err := NewReconciliationService(f.pipe, f.catalog, f.blobs, f.events, cfg)
	require.NoError(t, err)
	service.now = func() time.Time { return f.clock }
	f.service = service
	return f
}

func (f *reconcileFixture) seed(resourceKey string) {
	key := inventory.Key{SourceID: testSource, ResourceKey: resourceKey}
	f.blobs.Seed(inventory.BlobKey("raw", key), []byte(`{}`), f.clock)
}

// drain pops every queued task as if its fetch had failed for good.
func (f *reconcileFixture) drain() {
	for {
		task, ok := f.pipe.Queue.TryPop(testSource)
		if !ok {
			return
		}
		f.pipe.Queue.Done(task)
	}
}

func expect(keys ...string) []inventory.ExpectedResource {
	out := make([]inventory.ExpectedResource, 0, len(keys))
	for _, key := range keys {
		out = append(out, inventory.ExpectedResource{SourceID: testSource, ResourceKey: key})
	}
	return out
}

func enqueuedKeys(report CycleReport) []string {
	out := make([]string, 0, len(report.Enqueued))
	for _, task := range report.Enqueued {
		out = append(out, task.ResourceKey)
	}
	return out
}

func day(d int) *time.Time {
	t := time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestReconciliationService_EnqueuesMissingResourcesOnce(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{}, expect("games/A", "games/B", "games/C")...)
	f.seed("games/A")

	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Expected)
	assert.Equal(t, 1, report.Observed)
	require.Len(t, report.Gaps, 2)
	assert.ElementsMatch(t, []string{"games/B", "games/C"}, enqueuedKeys(report))
	for _, task := range report.Enqueued {
		assert.Equal(t, ingest.OriginReconcile, task.Origin)
	}
	assert.Equal(t, 2, f.pipe.Queue.Depth(testSource))
	assert.Equal(t, StateIdle, f.service.State())

	again, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, again.Enqueued, "queued gaps are not enqueued twice")
	assert.Len(t, again.AlreadyQueued, 2)
	assert.Equal(t, 2, f.pipe.Queue.Depth(testSource))

	last, ok := f.service.LastReport()
	require.True(t, ok)
	assert.Equal(t, again.CycleID, last.CycleID)
	assert.NotEqual(t, report.CycleID, again.CycleID)

	counters := f.pipe.Recorder.Source(testSource)
	assert.Equal(t, 2, counters.Gaps)
}

func TestReconciliationService_SkipsGapsInsideGraceWindow(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{GraceWindow: time.Minute}, expect("games/A", "games/B")...)
	f.pipe.Recent.Mark(inventory.Key{SourceID: testSource, ResourceKey: "games/A"}, f.clock.Add(-30*time.Second))

	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"games/B"}, enqueuedKeys(report))
	assert.Equal(t, []inventory.Key{{SourceID: testSource, ResourceKey: "games/A"}}, report.InGrace)

	f.drain()
	f.clock = f.clock.Add(2 * time.Minute)
	report, err = f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"games/A", "games/B"}, enqueuedKeys(report))
	assert.Empty(t, report.InGrace)
}

func TestReconciliationService_ReportsPersistentGaps(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{PersistentAfter: 2}, expect("games/A")...)
	ctx := context.Background()

	for cycle := 1; cycle <= 2; cycle++ {
		report, err := f.service.RunCycle(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"games/A"}, enqueuedKeys(report), "cycle %d", cycle)
		f.drain()
	}

	report, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Enqueued)
	require.Len(t, report.Persistent, 1)
	assert.Equal(t, "games/A", report.Persistent[0].Key.ResourceKey)
	assert.Equal(t, map[string]int{testSource: 1}, f.service.PersistentGaps())
	assert.Equal(t, 1, f.pipe.Recorder.Source(testSource).PersistentGaps)

	report, err = f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Enqueued)
	assert.Len(t, report.Persistent, 1)

	events, err := f.events.ListEvents(ctx, ingest.OutcomePersistentGap, 10)
	require.NoError(t, err)
	require.Len(t, events, 1, "the persistent gap event is written once")
	assert.Equal(t, "games/A", events[0].ResourceKey)
	assert.Equal(t, 2, events[0].AttemptCount)

	f.seed("games/A")
	report, err = f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Gaps)
	assert.Empty(t, f.service.PersistentGaps())
}

func TestReconciliationService_ForgetRestartsGapHistory(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{PersistentAfter: 1}, expect("games/A")...)
	ctx := context.Background()

	_, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	f.drain()
	report, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, report.Persistent, 1)

	f.service.Forget(inventory.Key{SourceID: testSource, ResourceKey: "games/A"})
	report, err = f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"games/A"}, enqueuedKeys(report))
}

func TestReconciliationService_ScanFailureEnqueuesNothing(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{}, expect("games/A", "games/B")...)
	f.blobs.FailLists(errors.New("listing timed out"))

	_, err := f.service.RunCycle(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrStorageUnreachable)
	assert.Equal(t, StateIdle, f.service.State())
	assert.Equal(t, 0, f.pipe.Queue.Depth(testSource))
	_, ok := f.service.LastReport()
	assert.False(t, ok)

	f.blobs.FailLists(nil)
	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Enqueued, 2)
}

func TestReconciliationService_StaleObjectsAreRefetched(t *testing.T) {
	refresh := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	f := newReconcileFixture(t, ReconciliationConfig{}, inventory.ExpectedResource{
		SourceID: testSource, ResourceKey: "games/A", RefreshAfter: &refresh,
	})
	f.seed("games/A")

	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Gaps, 1)
	assert.Equal(t, inventory.GapStale, report.Gaps[0].Reason)
	assert.Equal(t, []string{"games/A"}, enqueuedKeys(report))
}

func TestReconciliationService_RecencyFirstOrdering(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{BasePriority: 10},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/undated"},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/old", Date: day(1)},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/new", Date: day(9)},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/mid", Date: day(5)},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/urgent", Date: day(2), Priority: 5},
	)

	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"games/urgent", "games/new", "games/mid", "games/old", "games/undated"}, enqueuedKeys(report))

	priorities := make([]int, 0, len(report.Enqueued))
	for _, task := range report.Enqueued {
		priorities = append(priorities, task.Priority)
	}
	assert.Equal(t, []int{20, 14, 13, 12, 11}, priorities)

	first, ok := f.pipe.Queue.TryPop(testSource)
	require.True(t, ok)
	assert.Equal(t, "games/urgent", first.ResourceKey)
	second, ok := f.pipe.Queue.TryPop(testSource)
	require.True(t, ok)
	assert.Equal(t, "games/new", second.ResourceKey)
}

func TestReconciliationService_BacklogPriorityStaysInBand(t *testing.T) {
	expected := make([]inventory.ExpectedResource, 0, 250)
	for i := range 250 {
		expected = append(expected, inventory.ExpectedResource{
			SourceID:    testSource,
			ResourceKey: fmt.Sprintf("games/%03d", i),
			Date:        day(i + 1),
		})
	}
	f := newReconcileFixture(t, ReconciliationConfig{BasePriority: 10}, expected...)

	report, err := f.service.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Enqueued, 250)

	assert.Equal(t, 10+reconcileRankBand, report.Enqueued[0].Priority)
	assert.Equal(t, 11, report.Enqueued[249].Priority)
	for i := 1; i < len(report.Enqueued); i++ {
		require.LessOrEqual(t, report.Enqueued[i].Priority, report.Enqueued[i-1].Priority)
	}

	manual := ingest.Task{SourceID: testSource, ResourceKey: "games/manual", Priority: 10 + reconcileRankBand + 1}
	added, err := f.pipe.Queue.Push(manual)
	require.NoError(t, err)
	require.True(t, added)

	first, ok := f.pipe.Queue.TryPop(testSource)
	require.True(t, ok)
	assert.Equal(t, "games/manual", first.ResourceKey)
	for _, want := range []string{"games/249", "games/248", "games/247"} {
		next, ok := f.pipe.Queue.TryPop(testSource)
		require.True(t, ok)
		assert.Equal(t, want, next.ResourceKey, "equal ranks keep policy order")
	}
}

func TestRankOffset(t *testing.T) {
	assert.Equal(t, 5, rankOffset(0, 5))
	assert.Equal(t, 1, rankOffset(4, 5))
	assert.Equal(t, reconcileRankBand, rankOffset(0, 5000))
	assert.Equal(t, 1, rankOffset(4999, 5000))
	assert.LessOrEqual(t, rankOffset(2500, 5000), reconcileRankBand)
}

func TestReconciliationService_OldestMissingFirstOrdering(t *testing.T) {
	f := newReconcileFixture(t, ReconciliationConfig{Policy: PriorityOldestMissingFirst},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/late", Date: day(9)},
		inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/early", Date: day(1)},
	)
	ctx := context.Background()

	report, err := f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"games/early", "games/late"}, enqueuedKeys(report), "same first sighting falls back to date")
	f.drain()

	f.clock = f.clock.Add(time.Hour)
	f.catalog.Add(inventory.ExpectedResource{SourceID: testSource, ResourceKey: "games/ancient", Date: day(1)})
	f.seed("games/early")

	report, err = f.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"games/late", "games/ancient"}, enqueuedKeys(report), "longest-missing gap goes first")
}

func TestNewReconciliationService_Schedule(t *testing.T) {
	pipe := newTestPipeline(PipelineConfig{})
	static := catalog.NewStatic(nil)
	blobs := blobmemory.NewStore()

	_, err := NewReconciliationService(pipe, static, blobs, nil, ReconciliationConfig{Schedule: "every now and then"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	service, err := NewReconciliationService(pipe, static, blobs, nil, ReconciliationConfig{Schedule: "@every 10m", Interval: time.Hour})
	require.NoError(t, err)
	service.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	assert.Equal(t, 10*time.Minute, service.nextDelay())

	service, err = NewReconciliationService(pipe, static, blobs, nil, ReconciliationConfig{})
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, service.nextDelay())
}

func TestParsePriorityPolicy(t *testing.T) {
	policy, err := ParsePriorityPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PriorityRecencyFirst, policy)

	policy, err = ParsePriorityPolicy(" Oldest_Missing_First ")
	require.NoError(t, err)
	assert.Equal(t, PriorityOldestMissingFirst, policy)

	_, err = ParsePriorityPolicy("random")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

type countingSources struct {
	inventory.Catalog
	calls atomic.Int32
}

func (c *countingSources) Sources(ctx context.Context) ([]string, error) {
	c.calls.Add(1)
	return c.Catalog.Sources(ctx)
}

func TestReconciliationService_RunLoop(t *testing.T) {
	t.Run("trigger wakes the loop", func(t *testing.T) {
		counting := &countingSources{Catalog: catalog.NewStatic([]string{testSource})}
		service, err := NewReconciliationService(newTestPipeline(PipelineConfig{}), counting, blobmemory.NewStore(), nil,
			ReconciliationConfig{Interval: time.Hour})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			service.Run(ctx)
			close(done)
		}()

		require.Eventually(t, func() bool { return counting.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
		service.Trigger()
		require.Eventually(t, func() bool { return counting.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("loop did not stop")
		}
	})

	t.Run("failed scans back off and retry", func(t *testing.T) {
		counting := &countingSources{Catalog: catalog.NewStatic([]string{testSource})}
		blobs := blobmemory.NewStore()
		blobs.FailLists(errors.New("unreachable"))
		service, err := NewReconciliationService(newTestPipeline(PipelineConfig{}), counting, blobs, nil,
			ReconciliationConfig{Interval: time.Hour, ScanRetryBackoff: 5 * time.Millisecond})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go service.Run(ctx)

		require.Eventually(t, func() bool { return counting.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	})
}
