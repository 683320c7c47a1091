package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/ingest"
)

// ResourceFlagRepository holds at most one open flag per resource.
type ResourceFlagRepository struct {
	mu    sync.RWMutex
	flags map[string]ingest.ResourceFlag
	now   func() time.Time
}

func NewResourceFlagRepository() *ResourceFlagRepository {
	return &ResourceFlagRepository{flags: make(map[string]ingest.ResourceFlag), now: time.Now}
}

func (r *ResourceFlagRepository) Flag(_ context.Context, flag ingest.ResourceFlag) error {
	flag.ResolvedAt = nil
	r.mu.Lock()
	r.flags[ingest.TaskKey(flag.SourceID, flag.ResourceKey)] = flag
	r.mu.Unlock()
	return nil
}

func (r *ResourceFlagRepository) Resolve(_ context.Context, sourceID, resourceKey string) error {
	key := ingest.TaskKey(sourceID, resourceKey)

	r.mu.Lock()
	defer r.mu.Unlock()

	flag, ok := r.flags[key]
	if !ok || flag.ResolvedAt != nil {
		return nil
	}
	resolvedAt := r.now().UTC()
	flag.ResolvedAt = &resolvedAt
	r.flags[key] = flag
	return nil
}

// ListOpen returns unresolved flags; an empty sourceID matches all sources.
func (r *ResourceFlagRepository) ListOpen(_ context.Context, sourceID string) ([]ingest.ResourceFlag, error) {
	r.mu.RLock()
	out := make([]ingest.ResourceFlag, 0, len(r.flags))
	for _, flag := range r.flags {
		if flag.ResolvedAt != nil {
			continue
		}
		if sourceID != "" && flag.SourceID != sourceID {
			continue
		}
		out = append(out, flag)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceID != out[j].SourceID {
			return out[i].SourceID < out[j].SourceID
		}
		return out[i].ResourceKey < out[j].ResourceKey
	})
	return out, nil
}
