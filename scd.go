// Package scd maintains slowly-changing-dimension projections from a
// change-data-capture stream.
//
// go-scd consumes an unordered, at-least-once stream of change events
// (insert, update, delete, truncate) that is sequenced per key, and keeps
// two derived tables per entity: a current-state table with one row per
// live key (SCD Type 1) and a full-history table where every distinct
// version of a key carries a [valid_from, valid_to) validity interval
// (SCD Type 2).
//
// # Quick Start
//
// Create an engine with the in-memory store for development:
//
//	import (
//	    "github.com/mergetide/go-scd"
//	    "github.com/mergetide/go-scd/stores/memory"
//	)
//
//	store := memory.NewStore()
//	engine, err := scd.NewEngine(store, scd.EntityConfig{
//	    Name:           "customers",
//	    KeyColumn:      "customer_id",
//	    SequenceColumn: "sequence_number",
//	})
//
// For production, use the PostgreSQL store:
//
//	import "github.com/mergetide/go-scd/stores/postgres"
//
//	store, err := postgres.NewStore(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Feeding Events
//
// Events arrive in micro-batches. Delivery order does not matter; the
// engine reorders each key's events by sequence and drops anything at or
// below the key's persisted watermark, so replaying a batch is a no-op:
//
//	events := []scd.ChangeEvent{
//	    scd.NewInsert("c-1", 1, scd.Row{"city": "SP"}),
//	    scd.NewUpdate("c-1", 3, scd.Row{"city": "RJ"}),
//	    scd.NewUpdate("c-1", 2, scd.Row{"city": "MG"}),
//	}
//	result, err := engine.ProcessBatch(ctx, "customers", events)
//
// After the batch commits, the current-state table holds city=RJ and the
// history table holds three versions: [1,2), [2,3) and the open [3,∞).
//
// # Selective History
//
// Per entity, a tracked-column set controls which attribute changes open
// a new history version. Changes limited to untracked columns update the
// open version in place instead of creating churn:
//
//	cfg := scd.EntityConfig{
//	    Name:           "products",
//	    KeyColumn:      "product_id",
//	    SequenceColumn: "sequence_number",
//	    Tracked:        scd.TrackAllExcept("last_seen_at"),
//	}
//
// # Deletes and Truncates
//
// A delete removes the key's current-state row and closes its open
// history version without opening a replacement. A truncate does the
// same for every key matched by its predicate, atomically across both
// tables. Stale deletes and truncates (sequence at or below a key's
// watermark) are ignored.
//
// # Error Reporting
//
// Two events for the same key with equal sequence numbers are a data
// quality violation: the engine excludes both and reports the conflict
// in the batch result rather than guessing a winner. A key whose merge
// fails does not block the other keys in the batch.
package scd

// Version returns the library version string.
func Version() string {
	return "0.1.0"
}
