package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/riskibarqy/statharvest/internal/domain/inventory"
	"github.com/riskibarqy/statharvest/internal/domain/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
resource_types:
  - name: boxscore
    patterns: ["games/**"]
    expected_kinds: [GAME, TEAM_STATS, PLAYER_STATS]
  - name: awards
    patterns: ["awards/*"]
sources:
  courtside:
    resources:
      - key: games/2025/401
        date: 2025-03-01
        priority: 2
      - key: /awards/mvp/
      - key: schedule/2025
        expected_kinds: [game]
        refresh_after: 2025-03-02T06:00:00Z
  hoopsref:
    resources: []
`

func TestParse_ResolvesTypesAndDates(t *testing.T) {
	static, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	ctx := context.Background()
	sources, err := static.Sources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"courtside", "hoopsref"}, sources)

	items, err := static.ExpectedResources(ctx, "courtside")
	require.NoError(t, err)
	require.Len(t, items, 3)

	game := items[0]
	assert.Equal(t, "games/2025/401", game.ResourceKey)
	assert.Equal(t, "boxscore", game.ResourceType)
	assert.Equal(t, []record.Kind{record.KindGame, record.KindTeamStats, record.KindPlayerStats}, game.ExpectedKinds)
	require.NotNil(t, game.Date)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *game.Date)
	assert.Equal(t, 2, game.Priority)

	awards := items[1]
	assert.Equal(t, "awards/mvp", awards.ResourceKey)
	assert.Equal(t, "awards", awards.ResourceType)
	assert.Empty(t, awards.ExpectedKinds)

	schedule := items[2]
	assert.Empty(t, schedule.ResourceType)
	assert.Equal(t, []record.Kind{record.KindGame}, schedule.ExpectedKinds)
	require.NotNil(t, schedule.RefreshAfter)

	empty, err := static.ExpectedResources(ctx, "hoopsref")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParse_RejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"bad kind":     "sources:\n  a:\n    resources:\n      - key: x\n        expected_kinds: [BOGUS]\n",
		"missing key":  "sources:\n  a:\n    resources:\n      - priority: 1\n",
		"bad date":     "sources:\n  a:\n    resources:\n      - key: x\n        date: yesterday\n",
		"unknown type": "sources:\n  a:\n    resources:\n      - key: x\n        type: nope\n",
		"bad pattern":  "resource_types:\n  - name: t\n    patterns: [\"games/[\"]\n",
		"not yaml":     "sources: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestStatic_Lookup(t *testing.T) {
	static := NewStatic(nil, inventory.ExpectedResource{SourceID: "courtside", ResourceKey: "games/A", Priority: 1})

	got, ok, err := static.Lookup(context.Background(), "courtside", "games/A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Priority)

	_, ok, err = static.Lookup(context.Background(), "courtside", "games/B")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFile_ReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	file := NewFile(path)
	res, ok, err := file.Lookup(context.Background(), "courtside", "games/2025/401")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "boxscore", res.ResourceType)

	_, err = NewFile(filepath.Join(t.TempDir(), "missing.yaml")).Sources(context.Background())
	assert.Error(t, err)
}

type countingCatalog struct {
	inventory.Catalog
	calls int
	err   error
}

func (c *countingCatalog) ExpectedResources(ctx context.Context, sourceID string) ([]inventory.ExpectedResource, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.Catalog.ExpectedResources(ctx, sourceID)
}

func TestCached_LoadsOncePerSource(t *testing.T) {
	next := &countingCatalog{Catalog: NewStatic(nil,
		inventory.ExpectedResource{SourceID: "courtside", ResourceKey: "games/A"},
		inventory.ExpectedResource{SourceID: "courtside", ResourceKey: "games/B"},
	)}
	cached := NewCached(next, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		items, err := cached.ExpectedResources(ctx, "courtside")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	}
	_, ok, err := cached.Lookup(ctx, "courtside", "games/B")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, next.calls)

	cached.Invalidate(ctx)
	_, err = cached.ExpectedResources(ctx, "courtside")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	next := &countingCatalog{Catalog: NewStatic(nil), err: errors.New("boom")}
	cached := NewCached(next, time.Minute)

	_, err := cached.ExpectedResources(context.Background(), "courtside")
	require.Error(t, err)

	next.err = nil
	_, err = cached.ExpectedResources(context.Background(), "courtside")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}
