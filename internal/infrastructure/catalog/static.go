package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/riskibarqy/statharvest/internal/domain/inventory"
)

// Static is an in-memory catalog. Duplicate keys keep the last entry.
type Static struct {
	mu        sync.RWMutex
	sources   map[string]struct{}
	resources map[inventory.Key]inventory.ExpectedResource
	order     map[string][]inventory.Key
}

// NewStatic registers sourceIDs even when they expect nothing, so the
// reconciler still scans them.
func NewStatic(sourceIDs []string, resources ...inventory.ExpectedResource) *Static {
	s := &Static{
		sources:   make(map[string]struct{}),
		resources: make(map[inventory.Key]inventory.ExpectedResource),
		order:     make(map[string][]inventory.Key),
	}
	for _, id := range sourceIDs {
		s.sources[id] = struct{}{}
	}
	s.Add(resources...)
	return s
}

func (s *Static) Add(resources ...inventory.ExpectedResource) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, res := range resources {
		key := res.Key()
		if _, exists := s.resources[key]; !exists {
			s.order[key.SourceID] = append(s.order[key.SourceID], key)
		}
		s.sources[key.SourceID] = struct{}{}
		s.resources[key] = res
	}
}

func (s *Static) Sources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	out := make([]string, 0, len(s.sources))
	for id := range s.sources {
		out = append(out, id)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

func (s *Static) ExpectedResources(_ context.Context, sourceID string) ([]inventory.ExpectedResource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := s.order[sourceID]
	out := make([]inventory.ExpectedResource, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.resources[key])
	}
	return out, nil
}

func (s *Static) Lookup(_ context.Context, sourceID, resourceKey string) (inventory.ExpectedResource, bool, error) {
	s.mu.RLock()
	res, ok := s.resources[inventory.Key{SourceID: sourceID, ResourceKey: resourceKey}]
	s.mu.RUnlock()
	return res, ok, nil
}
