package inventory

import (
	"strings"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/record"
)

// Key identifies a resource across the whole pipeline.
type Key struct {
	SourceID    string `json:"source_id"`
	ResourceKey string `json:"resource_key"`
}

func (k Key) String() string {
	return k.SourceID + "/" + k.ResourceKey
}

// ExpectedResource is one entry of the expected inventory.
type ExpectedResource struct {
	SourceID      string        `json:"source_id"`
	ResourceKey   string        `json:"resource_key"`
	ResourceType  string        `json:"resource_type,omitempty"`
	ExpectedKinds []record.Kind `json:"expected_kinds,omitempty"`
	Date          *time.Time    `json:"date,omitempty"`
	Priority      int           `json:"priority"`
	// RefreshAfter marks observed copies modified before it as stale.
	RefreshAfter *time.Time `json:"refresh_after,omitempty"`
}

func (e ExpectedResource) Key() Key {
	return Key{SourceID: e.SourceID, ResourceKey: e.ResourceKey}
}

// Expects reports whether the resource must yield at least one record of kind.
func (e ExpectedResource) Expects(kind record.Kind) bool {
	for _, k := range e.ExpectedKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ObjectMeta is a blob store listing entry.
type ObjectMeta struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Observed is a stored resource resolved from an object listing.
type Observed struct {
	Key
	BlobKey      string
	Size         int64
	LastModified time.Time
}

// Snapshot is the observed inventory of one or more sources at TakenAt.
type Snapshot struct {
	TakenAt time.Time
	Items   map[Key]Observed
}

func NewSnapshot(takenAt time.Time) Snapshot {
	return Snapshot{TakenAt: takenAt, Items: make(map[Key]Observed)}
}

type GapReason string

const (
	GapMissing GapReason = "missing"
	GapStale   GapReason = "stale"
)

type Gap struct {
	Key      Key              `json:"key"`
	Reason   GapReason        `json:"reason"`
	Expected ExpectedResource `json:"expected"`
	Observed *Observed        `json:"observed,omitempty"`
}

const blobExtension = ".json"

// BlobKey is where the raw payload of a resource is archived.
func BlobKey(prefix string, key Key) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, key.SourceID, strings.TrimLeft(key.ResourceKey, "/")+blobExtension)
	return strings.Join(parts, "/")
}

// SourcePrefix is the listing prefix of all blobs of a source.
func SourcePrefix(prefix, sourceID string) string {
	if p := strings.Trim(prefix, "/"); p != "" {
		return p + "/" + sourceID + "/"
	}
	return sourceID + "/"
}

// ParseBlobKey is the inverse of BlobKey.
func ParseBlobKey(prefix, blobKey string) (Key, bool) {
	rest := blobKey
	if p := strings.Trim(prefix, "/"); p != "" {
		if !strings.HasPrefix(rest, p+"/") {
			return Key{}, false
		}
		rest = strings.TrimPrefix(rest, p+"/")
	}

	sourceID, resource, ok := strings.Cut(rest, "/")
	if !ok || sourceID == "" || !strings.HasSuffix(resource, blobExtension) {
		return Key{}, false
	}
	resource = strings.TrimSuffix(resource, blobExtension)
	if resource == "" {
		return Key{}, false
	}
	return Key{SourceID: sourceID, ResourceKey: resource}, true
}
