package scd

import "context"

// AppliedChange describes one event the engine applied, for downstream
// fan-out after the batch commits.
type AppliedChange struct {
	// Entity is the entity the change belongs to.
	Entity string `json:"entity"`

	// Key is the entity key.
	Key string `json:"key"`

	// Op is the applied change kind.
	Op Operation `json:"operation"`

	// Sequence is the applied event's sequence.
	Sequence Sequence `json:"sequence"`

	// Row holds the applied attributes. Nil for deletes and truncates.
	Row Row `json:"row,omitempty"`
}

// Notifier receives applied changes after a batch commits. Notification
// is best-effort: the engine logs notifier failures but never rolls back
// a committed batch, so consumers that need exactly-once delivery must
// deduplicate on (entity, key, sequence).
type Notifier interface {
	// Notify delivers the applied changes of one committed batch.
	Notify(ctx context.Context, changes []AppliedChange) error
}
