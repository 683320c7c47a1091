package inventory

import "sort"

// Diff returns expected resources that are absent from, or stale in, the
// observed snapshot. It is a pure set difference on Key; the result is
// sorted so repeated runs over the same input are identical.
func Diff(expected []ExpectedResource, observed Snapshot) []Gap {
	seen := make(map[Key]struct{}, len(expected))
	gaps := make([]Gap, 0)

	for _, exp := range expected {
		key := exp.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		obs, ok := observed.Items[key]
		if !ok {
			gaps = append(gaps, Gap{Key: key, Reason: GapMissing, Expected: exp})
			continue
		}
		if exp.RefreshAfter != nil && obs.LastModified.Before(*exp.RefreshAfter) {
			o := obs
			gaps = append(gaps, Gap{Key: key, Reason: GapStale, Expected: exp, Observed: &o})
		}
	}

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Key.SourceID != gaps[j].Key.SourceID {
			return gaps[i].Key.SourceID < gaps[j].Key.SourceID
		}
		return gaps[i].Key.ResourceKey < gaps[j].Key.ResourceKey
	})
	return gaps
}

// SnapshotFromObjects resolves a blob listing into observed resources.
// Objects outside the key layout are ignored.
func SnapshotFromObjects(snapshot Snapshot, prefix string, objects []ObjectMeta) Snapshot {
	if snapshot.Items == nil {
		snapshot.Items = make(map[Key]Observed, len(objects))
	}
	for _, obj := range objects {
		key, ok := ParseBlobKey(prefix, obj.Key)
		if !ok {
			continue
		}
		current, exists := snapshot.Items[key]
		if exists && !obj.LastModified.After(current.LastModified) {
			continue
		}
		snapshot.Items[key] = Observed{
			Key:          key,
			BlobKey:      obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
		}
	}
	return snapshot
}
