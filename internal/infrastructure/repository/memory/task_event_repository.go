package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
)

type TaskEventRepository struct {
	mu     sync.RWMutex
	events map[string]ingest.TaskEvent
}

func NewTaskEventRepository() *TaskEventRepository {
	return &TaskEventRepository{events: make(map[string]ingest.TaskEvent)}
}

func (r *TaskEventRepository) UpsertEvent(_ context.Context, event ingest.TaskEvent) error {
	r.mu.Lock()
	r.events[event.EventID] = event
	r.mu.Unlock()
	return nil
}

// ListEvents returns the newest events first. An empty outcome matches all.
func (r *TaskEventRepository) ListEvents(_ context.Context, outcome ingest.TaskOutcome, limit int) ([]ingest.TaskEvent, error) {
	r.mu.RLock()
	out := make([]ingest.TaskEvent, 0, len(r.events))
	for _, event := range r.events {
		if outcome != "" && event.Outcome != outcome {
			continue
		}
		out = append(out, event)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].EventID > out[j].EventID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
