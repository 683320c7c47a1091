package inventory

import "context"

// BlobStore archives raw payloads. Its listing is the observed inventory.
type BlobStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)
}

// Catalog describes the expected inventory.
type Catalog interface {
	Sources(ctx context.Context) ([]string, error)
	ExpectedResources(ctx context.Context, sourceID string) ([]ExpectedResource, error)
	Lookup(ctx context.Context, sourceID, resourceKey string) (ExpectedResource, bool, error)
}
