package catalog

import (
	"context"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/platform/cache"
)

// Cached memoizes a catalog for ttl. Concurrent misses share one load.
type Cached struct {
	next      inventory.Catalog
	sources   *cache.Store[[]string]
	resources *cache.Store[[]inventory.ExpectedResource]
}

func NewCached(next inventory.Catalog, ttl time.Duration) *Cached {
	return &Cached{
		next:      next,
		sources:   cache.NewStore[[]string](ttl),
		resources: cache.NewStore[[]inventory.ExpectedResource](ttl),
	}
}

func (c *Cached) Sources(ctx context.Context) ([]string, error) {
	items, err := c.sources.GetOrLoad(ctx, "catalog:sources", func(ctx context.Context) ([]string, error) {
		items, err := c.next.Sources(ctx)
		if err != nil {
			return nil, err
		}
		return append([]string(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), items...), nil
}

func (c *Cached) ExpectedResources(ctx context.Context, sourceID string) ([]inventory.ExpectedResource, error) {
	key := "catalog:resources:" + sourceID
	items, err := c.resources.GetOrLoad(ctx, key, func(ctx context.Context) ([]inventory.ExpectedResource, error) {
		items, err := c.next.ExpectedResources(ctx, sourceID)
		if err != nil {
			return nil, err
		}
		return append([]inventory.ExpectedResource(nil), items...), nil
	})
	if err != nil {
		return nil, err
	}
	return append([]inventory.ExpectedResource(nil), items...), nil
}

// Lookup is served from the cached resource list of the source.
func (c *Cached) Lookup(ctx context.Context, sourceID, resourceKey string) (inventory.ExpectedResource, bool, error) {
	items, err := c.ExpectedResources(ctx, sourceID)
	if err != nil {
		return inventory.ExpectedResource{}, false, err
	}
	for _, item := range items {
		if item.ResourceKey == resourceKey {
			return item, true, nil
		}
	}
	return inventory.ExpectedResource{}, false, nil
}

// Invalidate drops everything cached.
func (c *Cached) Invalidate(ctx context.Context) {
	c.sources.DeletePrefix(ctx, "catalog:")
	c.resources.DeletePrefix(ctx, "catalog:")
}
