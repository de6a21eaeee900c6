package scd

// currentMerger folds one key's ordered event run into its current-state
// outcome (SCD Type 1): latest attributes win, deletes remove the row.
type currentMerger struct {
	record *CurrentRecord
	// touched reports whether any event was applied, so the engine can
	// distinguish "no change" from "row removed".
	touched bool
}

// newCurrentMerger seeds the fold with the key's stored record, if any.
func newCurrentMerger(state KeyState) *currentMerger {
	m := &currentMerger{}
	if state.Current != nil {
		rec := *state.Current
		rec.Row = state.Current.Row.Clone()
		m.record = &rec
	}
	return m
}

// apply folds one event. Events must arrive in ascending sequence order;
// the sequencer guarantees this.
func (m *currentMerger) apply(ev ChangeEvent) {
	m.touched = true
	switch ev.Op {
	case OpInsert, OpUpdate:
		// Re-insertion after a delete is a plain insert; no undelete path.
		m.record = &CurrentRecord{
			Key:          ev.Key,
			Row:          ev.Row.Clone(),
			LastSequence: ev.Sequence,
		}
	case OpDelete, OpTruncate:
		m.record = nil
	}
}

// outcome reports the fold result: the record to upsert (nil if the key
// ended deleted) and whether a delete must be issued.
func (m *currentMerger) outcome() (upsert *CurrentRecord, deleteCurrent bool) {
	if !m.touched {
		return nil, false
	}
	if m.record == nil {
		return nil, true
	}
	return m.record, false
}
