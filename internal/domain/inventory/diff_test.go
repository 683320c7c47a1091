package inventory

import (
	"reflect"
	"testing"
	"time"
)

func expected(source string, keys ...string) []ExpectedResource {
	out := make([]ExpectedResource, 0, len(keys))
	for _, k := range keys {
		out = append(out, ExpectedResource{SourceID: source, ResourceKey: k})
	}
	return out
}

func TestDiff_ReturnsMissingKeysSorted(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	snap := SnapshotFromObjects(NewSnapshot(now), "raw", []ObjectMeta{
		{Key: "raw/courtside/games/A.json", Size: 10, LastModified: now},
	})

	gaps := Diff(expected("courtside", "games/C", "games/A", "games/B"), snap)

	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %d: %+v", len(gaps), gaps)
	}
	if gaps[0].Key.ResourceKey != "games/B" || gaps[1].Key.ResourceKey != "games/C" {
		t.Fatalf("unexpected gap order: %+v", gaps)
	}
	for _, g := range gaps {
		if g.Reason != GapMissing {
			t.Fatalf("expected missing reason, got %s", g.Reason)
		}
	}
}

func TestDiff_IsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	snap := SnapshotFromObjects(NewSnapshot(now), "", []ObjectMeta{
		{Key: "hoopsref/boxscores/2025-03-01-duke.json", LastModified: now},
	})
	exp := expected("hoopsref", "boxscores/2025-03-01-duke", "boxscores/2025-03-01-unc", "boxscores/2025-03-01-unc")

	first := Diff(exp, snap)
	second := Diff(exp, snap)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("diff is not idempotent:\n%+v\n%+v", first, second)
	}
	if len(first) != 1 {
		t.Fatalf("duplicate expectations should collapse, got %d gaps", len(first))
	}
}

func TestDiff_FlagsStaleObjects(t *testing.T) {
	modified := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	refresh := modified.Add(time.Hour)
	snap := SnapshotFromObjects(NewSnapshot(modified), "raw", []ObjectMeta{
		{Key: "raw/courtside/games/A.json", LastModified: modified},
	})

	gaps := Diff([]ExpectedResource{{SourceID: "courtside", ResourceKey: "games/A", RefreshAfter: &refresh}}, snap)
	if len(gaps) != 1 || gaps[0].Reason != GapStale || gaps[0].Observed == nil {
		t.Fatalf("expected one stale gap, got %+v", gaps)
	}
}

func TestBlobKey_RoundTrip(t *testing.T) {
	key := Key{SourceID: "courtside", ResourceKey: "games/2025/401"}
	blob := BlobKey("raw/", key)
	if blob != "raw/courtside/games/2025/401.json" {
		t.Fatalf("unexpected blob key %q", blob)
	}
	got, ok := ParseBlobKey("raw", blob)
	if !ok || got != key {
		t.Fatalf("ParseBlobKey(%q) = %+v, %v", blob, got, ok)
	}
	if _, ok := ParseBlobKey("raw", "other/courtside/x.json"); ok {
		t.Fatalf("expected foreign prefix to be rejected")
	}
	if _, ok := ParseBlobKey("raw", "raw/courtside/x.txt"); ok {
		t.Fatalf("expected non-json object to be rejected")
	}
}
