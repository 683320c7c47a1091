// Package providers wires the known source adapters.
package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/riskibarqy/statharvest/external/providers/courtside"
	"github.com/riskibarqy/statharvest/external/providers/hoopsref"
	"github.com/riskibarqy/statharvest/internal/domain/ingest"
)

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ingest.Adapter
}

func NewRegistry(adapters ...ingest.Adapter) *Registry {
	r := &Registry{adapters: make(map[string]ingest.Adapter, len(adapters))}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Default returns a registry with every built-in adapter.
func Default() *Registry {
	return NewRegistry(courtside.NewAdapter(), hoopsref.NewAdapter())
}

func (r *Registry) Register(a ingest.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.SourceID()] = a
}

func (r *Registry) Get(sourceID string) (ingest.Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[sourceID]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for source %q", sourceID)
	}
	return a, nil
}

func (r *Registry) SourceIDs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out
}
