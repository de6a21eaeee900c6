package scd

import "sort"

// sequencedRun is the output of ordering one key's batch events: the
// deduplicated run to fold, the count of events dropped as replay noise,
// and any equal-sequence conflicts that were excluded.
type sequencedRun struct {
	run       []ChangeEvent
	dropped   int
	conflicts []*DuplicateSequenceError
}

// orderRun sorts a key's raw batch events ascending by sequence, drops
// events at or below the persisted watermark, and excludes events whose
// sequence collides with another event in the batch.
//
// Dropped events are idempotent-replay noise, not errors. Collisions are
// data-quality violations: committed state must not depend on arrival
// order, so neither colliding event is applied and the conflict is
// reported for operator remediation.
func orderRun(entity, key string, events []ChangeEvent, watermark Sequence, hasWatermark bool) sequencedRun {
	out := sequencedRun{}
	if len(events) == 0 {
		return out
	}

	sorted := make([]ChangeEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Sequence < sorted[j].Sequence
	})

	// Collect colliding sequences before watermark filtering so that a
	// conflict straddling the watermark is still reported.
	collisions := make(map[Sequence][]int64)
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Sequence == sorted[i-1].Sequence {
			if _, seen := collisions[sorted[i].Sequence]; !seen {
				collisions[sorted[i].Sequence] = []int64{sorted[i-1].Arrival}
			}
			collisions[sorted[i].Sequence] = append(collisions[sorted[i].Sequence], sorted[i].Arrival)
		}
	}
	for seq, arrivals := range collisions {
		out.conflicts = append(out.conflicts, NewDuplicateSequenceError(entity, key, seq, arrivals))
	}
	sort.Slice(out.conflicts, func(i, j int) bool {
		return out.conflicts[i].Sequence < out.conflicts[j].Sequence
	})

	for _, ev := range sorted {
		if _, conflicted := collisions[ev.Sequence]; conflicted {
			continue
		}
		if hasWatermark && ev.Sequence <= watermark {
			out.dropped++
			continue
		}
		out.run = append(out.run, ev)
	}
	return out
}
