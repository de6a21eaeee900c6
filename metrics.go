package scd

import "time"

// MergeMetrics collects metrics about merge processing. The
// middleware/metrics package provides a Prometheus implementation.
type MergeMetrics interface {
	// RecordEventApplied records one applied event.
	RecordEventApplied(entity string, op Operation)

	// RecordEventDropped records an event discarded as idempotent-replay
	// noise (sequence at or below the key's watermark).
	RecordEventDropped(entity string)

	// RecordDuplicateSequence records a rejected equal-sequence conflict.
	RecordDuplicateSequence(entity string)

	// RecordVersionOpened records a new history version.
	RecordVersionOpened(entity string)

	// RecordVersionClosed records a closed history version.
	RecordVersionClosed(entity string)

	// RecordBatch records a completed batch for an entity.
	RecordBatch(entity string, keys int, duration time.Duration, success bool)

	// RecordKeyFailure records a key whose merge failed.
	RecordKeyFailure(entity string)

	// RecordWatermark records a key's advanced watermark.
	RecordWatermark(entity string, seq Sequence)
}

// noopMergeMetrics is a no-op implementation of MergeMetrics.
type noopMergeMetrics struct{}

func (noopMergeMetrics) RecordEventApplied(entity string, op Operation) {}
func (noopMergeMetrics) RecordEventDropped(entity string)               {}
func (noopMergeMetrics) RecordDuplicateSequence(entity string)          {}
func (noopMergeMetrics) RecordVersionOpened(entity string)              {}
func (noopMergeMetrics) RecordVersionClosed(entity string)              {}
func (noopMergeMetrics) RecordBatch(entity string, keys int, duration time.Duration, success bool) {
}
func (noopMergeMetrics) RecordKeyFailure(entity string)                 {}
func (noopMergeMetrics) RecordWatermark(entity string, seq Sequence)    {}
