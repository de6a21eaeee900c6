package scd

import "context"

// CurrentRecord is one row of an entity's current-state table: the
// latest known attributes of a live key. Absence of a record means the
// key was never inserted, or was deleted and not re-inserted since.
type CurrentRecord struct {
	// Key is the entity key.
	Key string

	// Row holds the key's latest attributes.
	Row Row

	// LastSequence is the sequence of the change this record reflects.
	// It doubles as the key's persisted watermark.
	LastSequence Sequence
}

// HistoryRecord is one version in an entity's history table. For a key,
// the records partition the sequence timeline: sorted by ValidFrom, each
// record's ValidTo equals the next record's ValidFrom, and at most one
// record is open (ValidTo nil, Current true).
type HistoryRecord struct {
	// VersionID uniquely identifies this version.
	VersionID string

	// Key is the entity key.
	Key string

	// Row holds the attributes of this version.
	Row Row

	// ValidFrom is the sequence at which this version became authoritative.
	ValidFrom Sequence

	// ValidTo is the sequence at which this version was superseded or
	// closed. Nil while the version is open.
	ValidTo *Sequence

	// Current reports whether this is the key's live version.
	Current bool
}

// CoversAt reports whether the version is authoritative at the given
// sequence, i.e. valid_from <= seq and (open or valid_to > seq).
func (h HistoryRecord) CoversAt(seq Sequence) bool {
	if seq < h.ValidFrom {
		return false
	}
	return h.ValidTo == nil || *h.ValidTo > seq
}

// VersionClose closes a store-resident open version. Row carries the
// version's final attributes, which may differ from the stored ones when
// untracked columns were updated in place before the close.
type VersionClose struct {
	VersionID string
	ValidTo   Sequence
	Row       Row
}

// OpenRowUpdate rewrites the attributes of a store-resident open version
// without closing it. Produced by untracked-column churn.
type OpenRowUpdate struct {
	VersionID string
	Row       Row
}

// KeyCommit is the complete outcome of merging one key's ordered event
// run: the new watermark, the current-state write, and the history
// mutations. A store applies all of it in a single atomic step; no
// reader may observe a partial commit.
type KeyCommit struct {
	// Key is the entity key this commit belongs to.
	Key string

	// Watermark is the sequence of the last applied event. The store
	// persists it alongside the current-state table so that replay is
	// idempotent after restart.
	Watermark Sequence

	// Upsert replaces the key's current-state record. Nil when the run
	// ended in a delete or truncate.
	Upsert *CurrentRecord

	// DeleteCurrent removes the key's current-state record. Deleting an
	// absent record is a no-op.
	DeleteCurrent bool

	// CloseOpen closes the key's store-resident open history version.
	CloseOpen *VersionClose

	// UpdateOpen rewrites the store-resident open version in place.
	// Mutually exclusive with CloseOpen.
	UpdateOpen *OpenRowUpdate

	// AppendVersions are new history records created by this run, in
	// ValidFrom order. All but the last are closed; the last is open
	// unless the run ended in a delete or truncate.
	AppendVersions []HistoryRecord
}

// KeyState is what the mergers need to know about a key before folding
// its run: the persisted watermark, the current-state record and the
// open history version, if any.
type KeyState struct {
	// Watermark is the highest applied sequence for the key.
	// Meaningful only when HasWatermark is true.
	Watermark Sequence

	// HasWatermark reports whether any event was ever applied for the key.
	HasWatermark bool

	// Current is the key's current-state record, nil if none.
	Current *CurrentRecord

	// OpenVersion is the key's open history version, nil if none.
	OpenVersion *HistoryRecord
}

// StateStore persists the per-entity projections: current-state table,
// history table and per-key watermarks. Implementations must apply each
// KeyCommit atomically; a batch of commits for one entity must be
// all-or-nothing.
//
// A store that detects more than one open history version for a key must
// return an error wrapping ErrInvariantViolation instead of picking one.
type StateStore interface {
	// LoadKeyStates returns the pre-merge state for the given keys.
	// Keys with no persisted state are absent from the result.
	LoadKeyStates(ctx context.Context, entity string, keys []string) (map[string]KeyState, error)

	// CommitBatch atomically applies the commits for one entity.
	CommitBatch(ctx context.Context, entity string, commits []KeyCommit) error

	// LiveKeys returns every key that currently has persisted state
	// (a watermark). Used to expand truncate-all predicates.
	LiveKeys(ctx context.Context, entity string) ([]string, error)

	// GetCurrent returns the current-state record for a key, or nil.
	GetCurrent(ctx context.Context, entity, key string) (*CurrentRecord, error)

	// History returns a key's versions ordered by ValidFrom.
	History(ctx context.Context, entity, key string) ([]HistoryRecord, error)

	// AsOf returns the version authoritative at the given sequence,
	// or nil if the key had no version then.
	AsOf(ctx context.Context, entity, key string, seq Sequence) (*HistoryRecord, error)

	// Close releases the store's resources.
	Close() error
}

// HealthChecker is implemented by stores that can report connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Migrator is implemented by stores that manage their own schema.
type Migrator interface {
	Migrate(ctx context.Context) error
}
