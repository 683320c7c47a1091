package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/statharvest/external/providers"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	blobmemory "github.com/riskibarqy/statharvest/internal/infrastructure/blobstore/memory"
	"github.com/riskibarqy/statharvest/internal/infrastructure/catalog"
	"github.com/riskibarqy/statharvest/internal/infrastructure/repository/memory"
	"github.com/riskibarqy/statharvest/internal/platform/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orchestratorFixture struct {
	pipe         *PipelineContext
	blobs        *blobmemory.Store
	sink         *memory.RecordSink
	catalog      *catalog.Static
	orchestrator *Orchestrator
}

func newOrchestratorFixture(t *testing.T, fetch ingest.FetchFunc, expected ...inventory.ExpectedResource) *orchestratorFixture {
	t.Helper()
	pipe := newTestPipeline(PipelineConfig{Retry: fastRetry(2)})
	f := &orchestratorFixture{
		pipe:    pipe,
		blobs:   blobmemory.NewStore(),
		sink:    memory.NewRecordSink(),
		catalog: catalog.NewStatic([]string{testSource}, expected...),
	}
	events := memory.NewTaskEventRepository()

	ingestion := NewIngestionService(pipe, providers.Default(), f.blobs, f.sink, nil, f.catalog,
		memory.NewResourceFlagRepository(), IngestionConfig{BlobPrefix: "raw"})
	pool := NewFetchWorkerPool(pipe, ingestion.Handle, events, FetchPoolConfig{MaxTotalAttempts: 2})
	require.NoError(t, pool.AddSource(FetchSource{SourceID: testSource, Workers: 2, Fetch: fetch}))

	reconciler, err := NewReconciliationService(pipe, f.catalog, f.blobs, events, ReconciliationConfig{BlobPrefix: "raw"})
	require.NoError(t, err)

	f.orchestrator = NewOrchestrator(pipe, pool, reconciler)
	return f
}

func summaryFetch(_ context.Context, resourceKey string) (ingest.RawPayload, error) {
	return ingest.RawPayload{SourceID: testSource, ResourceKey: resourceKey, Body: []byte(gameSummary), StatusCode: 200}, nil
}

func stopOrchestrator(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}

func TestOrchestrator_EnqueueValidation(t *testing.T) {
	f := newOrchestratorFixture(t, summaryFetch)
	ctx := context.Background()

	_, err := f.orchestrator.Enqueue(ctx, "", "games/1", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.orchestrator.Enqueue(ctx, testSource, " / ", 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.orchestrator.Enqueue(ctx, "nowhere", "games/1", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	res, err := f.orchestrator.Enqueue(ctx, testSource, "/games/1/", 3)
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, "games/1", res.Task.ResourceKey)
	assert.Equal(t, ingest.OriginManual, res.Task.Origin)

	res, err = f.orchestrator.Enqueue(ctx, testSource, "games/1", 1)
	require.NoError(t, err)
	assert.False(t, res.Added, "a queued resource is not enqueued twice")
	require.Len(t, f.orchestrator.PendingTasks(), 1)
	assert.Equal(t, 3, f.orchestrator.PendingTasks()[0].Priority)

	stopOrchestrator(t, f.orchestrator)
	_, err = f.orchestrator.Enqueue(ctx, testSource, "games/2", 0)
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
}

func TestOrchestrator_ReconcileFetchAndIngest(t *testing.T) {
	f := newOrchestratorFixture(t, summaryFetch, expect("games/A", "games/B", "games/C")...)
	f.blobs.Seed(inventory.BlobKey("raw", inventory.Key{SourceID: testSource, ResourceKey: "games/A"}), []byte(`{}`), time.Now())
	ctx := context.Background()

	report, err := f.orchestrator.RunReconciliationCycle(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"games/B", "games/C"}, enqueuedKeys(report))

	f.orchestrator.Start(false)
	defer stopOrchestrator(t, f.orchestrator)

	require.Eventually(t, func() bool {
		_, b := f.blobs.Get("raw/courtside/games/B.json")
		_, c := f.blobs.Get("raw/courtside/games/C.json")
		return b && c && len(f.orchestrator.PendingTasks()) == 0 && f.pipe.Queue.InFlight(testSource) == 0
	}, 3*time.Second, 5*time.Millisecond)

	report, err = f.orchestrator.RunReconciliationCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Gaps)
	assert.Equal(t, StateIdle, f.orchestrator.ReconcileState())

	stats := f.orchestrator.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, testSource, stats[0].SourceID)
	assert.EqualValues(t, 2, stats[0].Attempted)
	assert.EqualValues(t, 2, stats[0].Succeeded)
	assert.InDelta(t, 1.0, stats[0].SuccessRate, 1e-9)
	assert.Equal(t, resilience.CircuitStateClosed, stats[0].CircuitState)
	assert.Equal(t, 0, stats[0].QueueDepth)
	assert.Equal(t, 0, stats[0].Gaps)
	assert.Positive(t, stats[0].RecordsValid+stats[0].RecordsInvalid)
	assert.NotEmpty(t, f.sink.Results())
}

func TestOrchestrator_StatsCountDeadLetters(t *testing.T) {
	failing := func(_ context.Context, key string) (ingest.RawPayload, error) {
		return ingest.RawPayload{}, ingest.NewFetchError(ingest.FailureTransient, testSource, key, 500, errors.New("server error"))
	}
	f := newOrchestratorFixture(t, failing)
	f.orchestrator.Start(false)
	defer stopOrchestrator(t, f.orchestrator)

	_, err := f.orchestrator.Enqueue(context.Background(), testSource, "games/1", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.orchestrator.DeadLetters()) == 1 }, 3*time.Second, 5*time.Millisecond)

	stats := f.orchestrator.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].DeadLetters)
	assert.EqualValues(t, 0, stats[0].Succeeded)
	assert.Zero(t, stats[0].SuccessRate)
	assert.Empty(t, f.orchestrator.FailedTasks())
}

func TestOrchestrator_ReconcileLoopRunsOnStart(t *testing.T) {
	f := newOrchestratorFixture(t, summaryFetch, expect("games/A")...)
	f.orchestrator.Start(true)
	defer stopOrchestrator(t, f.orchestrator)

	require.Eventually(t, func() bool {
		_, ok := f.blobs.Get("raw/courtside/games/A.json")
		return ok
	}, 3*time.Second, 5*time.Millisecond)

	f.orchestrator.TriggerReconciliation()
}
