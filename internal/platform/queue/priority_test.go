package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(now *time.Time) *TaskQueue {
	q := New()
	q.now = func() time.Time { return *now }
	return q
}

func task(key string, priority, attempts int, enqueuedAt time.Time) ingest.Task {
	return ingest.Task{
		SourceID:     "courtside",
		ResourceKey:  key,
		Priority:     priority,
		AttemptCount: attempts,
		EnqueuedAt:   enqueuedAt,
	}
}

func TestTaskQueue_OrdersByPriorityAttemptAndAge(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(&now)

	pushes := []ingest.Task{
		task("low", 1, 0, now),
		task("high-retried", 10, 2, now),
		task("high-late", 10, 0, now.Add(time.Second)),
		task("high-early", 10, 0, now),
	}
	for _, tk := range pushes {
		added, err := q.Push(tk)
		require.NoError(t, err)
		require.True(t, added)
	}

	var order []string
	for {
		tk, ok := q.TryPop("courtside")
		if !ok {
			break
		}
		order = append(order, tk.ResourceKey)
	}

	assert.Equal(t, []string{"high-early", "high-late", "high-retried", "low"}, order)
}

func TestTaskQueue_HoldsBackTasksUntilNotBefore(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(&now)

	delayed := task("delayed", 100, 0, now)
	delayed.NotBefore = now.Add(30 * time.Second)
	_, _ = q.Push(delayed)
	_, _ = q.Push(task("ready", 1, 0, now))

	tk, ok := q.TryPop("courtside")
	require.True(t, ok)
	assert.Equal(t, "ready", tk.ResourceKey)

	_, ok = q.TryPop("courtside")
	assert.False(t, ok, "delayed task must not be served before NotBefore")

	now = now.Add(31 * time.Second)
	tk, ok = q.TryPop("courtside")
	require.True(t, ok)
	assert.Equal(t, "delayed", tk.ResourceKey)
}

func TestTaskQueue_DeduplicatesQueuedAndInFlight(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(&now)

	added, _ := q.Push(task("games/A", 1, 0, now))
	require.True(t, added)
	added, _ = q.Push(task("games/A", 5, 0, now))
	assert.False(t, added)
	assert.Equal(t, 1, q.Depth("courtside"))

	tk, ok := q.TryPop("courtside")
	require.True(t, ok)
	assert.Equal(t, 5, tk.Priority, "duplicate push should raise priority")

	added, _ = q.Push(task("games/A", 1, 0, now))
	assert.False(t, added, "in-flight resource must not be queued twice")
	assert.True(t, q.Contains("courtside", "games/A"))

	tk.AttemptCount++
	require.NoError(t, q.Requeue(tk))
	assert.Equal(t, 1, q.Depth("courtside"))
	assert.Equal(t, 0, q.InFlight("courtside"))

	tk, _ = q.TryPop("courtside")
	q.Done(tk)
	assert.False(t, q.Contains("courtside", "games/A"))
}

func TestTaskQueue_SourcesAreIsolated(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q := newTestQueue(&now)

	_, _ = q.Push(ingest.Task{SourceID: "hoopsref", ResourceKey: "x", Priority: 99})
	_, ok := q.TryPop("courtside")
	assert.False(t, ok)
	assert.Equal(t, 1, q.Depth("hoopsref"))
}

func TestTaskQueue_PopWakesOnPushAndClose(t *testing.T) {
	t.Parallel()

	q := New()
	got := make(chan ingest.Task, 1)
	go func() {
		tk, err := q.Pop(context.Background(), "courtside")
		if err == nil {
			got <- tk
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, _ = q.Push(ingest.Task{SourceID: "courtside", ResourceKey: "games/A"})

	select {
	case tk := <-got:
		assert.Equal(t, "games/A", tk.ResourceKey)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up on push")
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Pop(context.Background(), "courtside")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("pop did not return after close")
	}
}

func TestTaskQueue_PopWaitsForDelayedTask(t *testing.T) {
	t.Parallel()

	q := New()
	_, _ = q.Push(ingest.Task{SourceID: "courtside", ResourceKey: "games/A", NotBefore: time.Now().Add(50 * time.Millisecond)})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	started := time.Now()
	tk, err := q.Pop(ctx, "courtside")
	require.NoError(t, err)
	assert.Equal(t, "games/A", tk.ResourceKey)
	assert.GreaterOrEqual(t, time.Since(started), 40*time.Millisecond)
}
