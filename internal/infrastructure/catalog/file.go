package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/riskibarqy/statharvest/internal/domain/inventory"
)

// File re-reads its YAML document on every call, so edits apply without a
// restart. Wrap it with Cached to bound disk reads.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads and parses path once.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("catalog file is empty: %s", path)
	}
	return Parse(data)
}

func (f *File) Sources(ctx context.Context) ([]string, error) {
	static, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	return static.Sources(ctx)
}

func (f *File) ExpectedResources(ctx context.Context, sourceID string) ([]inventory.ExpectedResource, error) {
	static, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	return static.ExpectedResources(ctx, sourceID)
}

func (f *File) Lookup(ctx context.Context, sourceID, resourceKey string) (inventory.ExpectedResource, bool, error) {
	static, err := Load(f.path)
	if err != nil {
		return inventory.ExpectedResource{}, false, err
	}
	return static.Lookup(ctx, sourceID, resourceKey)
}
