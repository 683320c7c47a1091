package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStore_GetOrLoad_UsesSingleFlight(t *testing.T) {
	t.Parallel()

	store := NewStore[[]string](time.Minute)
	var calls atomic.Int32

	loader := func(context.Context) ([]string, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return []string{"games/401"}, nil
	}

	const workers = 32
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)
	errCh := make(chan error, workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			v, err := store.GetOrLoad(context.Background(), "catalog:courtside", loader)
			if err != nil {
				errCh <- err
				return
			}
			if len(v) != 1 || v[0] != "games/401" {
				errCh <- errUnexpectedValue
			}
		}()
	}

	close(start)
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("loader called %d times, want 1", got)
	}
}

func TestStore_GetOrLoad_ReloadsAfterExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore[string](time.Minute)
	store.now = func() time.Time { return now }
	var calls atomic.Int32

	loader := func(context.Context) (string, error) {
		calls.Add(1)
		return "cached", nil
	}

	if _, err := store.GetOrLoad(context.Background(), "k", loader); err != nil {
		t.Fatalf("first GetOrLoad error: %v", err)
	}
	if _, err := store.GetOrLoad(context.Background(), "k", loader); err != nil {
		t.Fatalf("second GetOrLoad error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("loader called %d times before expiry, want 1", got)
	}

	now = now.Add(2 * time.Minute)
	if _, err := store.GetOrLoad(context.Background(), "k", loader); err != nil {
		t.Fatalf("GetOrLoad after expiry error: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("loader called %d times after expiry, want 2", got)
	}
}

func TestStore_DeletePrefix(t *testing.T) {
	t.Parallel()

	store := NewStore[int](0)
	ctx := context.Background()
	store.Set(ctx, "catalog:courtside", 1)
	store.Set(ctx, "catalog:hoopsref", 2)
	store.Set(ctx, "lookup:courtside", 3)

	store.DeletePrefix(ctx, "catalog:")

	if _, ok := store.Get(ctx, "catalog:courtside"); ok {
		t.Fatalf("expected catalog:courtside to be evicted")
	}
	if v, ok := store.Get(ctx, "lookup:courtside"); !ok || v != 3 {
		t.Fatalf("expected unrelated key to survive, got %v %v", v, ok)
	}
}

var errUnexpectedValue = errors.New("unexpected loaded value")
