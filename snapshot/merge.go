package snapshot

// Merge reconciles a local and a cloud record sequence for one
// collection, keyed by record id. It is used on the backup/restore
// paths where both sides may hold data.
//
// Policy: start from the cloud sequence; a local record with no cloud
// counterpart is kept (presence wins). When both sides hold a record,
// the newer updatedAt wins; local wins ties, since it is closer to the
// user's most recent intent. A missing timestamp compares as the epoch
// and loses against any record that has one.
//
// The result order is undefined beyond "cloud records first, new local
// records appended"; consumers that need ordering re-derive it from the
// records themselves (e.g. a task's order field).
func Merge(local, cloud []Record) []Record {
	merged := make([]Record, 0, len(cloud)+len(local))
	index := make(map[string]int, len(cloud))

	for _, rec := range cloud {
		id := rec.ID()
		if id == "" {
			continue
		}
		index[id] = len(merged)
		merged = append(merged, rec)
	}

	for _, rec := range local {
		id := rec.ID()
		if id == "" {
			continue
		}
		at, ok := index[id]
		if !ok {
			index[id] = len(merged)
			merged = append(merged, rec)
			continue
		}
		if !rec.UpdatedAt().Before(merged[at].UpdatedAt()) {
			merged[at] = rec
		}
	}

	return merged
}
