package scd

import "github.com/google/uuid"

// historyMerger folds one key's ordered event run into its history-table
// mutations (SCD Type 2). It maintains the single-open-version invariant:
// opening a version closes the previous one at the same sequence, so the
// validity intervals partition the timeline with no gaps or overlaps.
type historyMerger struct {
	tracked TrackedColumns

	// open is the working copy of the key's open version, nil if none.
	open *HistoryRecord
	// openStored reports whether open resides in the store (as opposed
	// to a version created earlier in this run).
	openStored bool
	// storedDirty reports whether the store-resident open version's row
	// was rewritten in place by untracked churn.
	storedDirty bool

	closeOpen *VersionClose
	closedNew []HistoryRecord

	opened int
	closed int
}

// newHistoryMerger seeds the fold with the key's stored open version.
func newHistoryMerger(tracked TrackedColumns, state KeyState) *historyMerger {
	m := &historyMerger{tracked: tracked}
	if state.OpenVersion != nil {
		rec := *state.OpenVersion
		rec.Row = state.OpenVersion.Row.Clone()
		m.open = &rec
		m.openStored = true
	}
	return m
}

// apply folds one event. Events must arrive in ascending sequence order.
func (m *historyMerger) apply(ev ChangeEvent) {
	switch ev.Op {
	case OpInsert, OpUpdate:
		if m.open == nil {
			m.openVersion(ev)
			return
		}
		if m.tracked.Changed(m.open.Row, ev.Row) {
			m.close(ev.Sequence)
			m.openVersion(ev)
			return
		}
		// Untracked churn only: rewrite the open version in place so the
		// history does not accumulate cosmetic versions.
		m.open.Row = ev.Row.Clone()
		if m.openStored {
			m.storedDirty = true
		}
	case OpDelete, OpTruncate:
		// The last version before deletion stays as the record of final
		// known state; no replacement is opened.
		m.close(ev.Sequence)
	}
}

func (m *historyMerger) openVersion(ev ChangeEvent) {
	m.open = &HistoryRecord{
		VersionID: uuid.New().String(),
		Key:       ev.Key,
		Row:       ev.Row.Clone(),
		ValidFrom: ev.Sequence,
		Current:   true,
	}
	m.openStored = false
	m.opened++
}

func (m *historyMerger) close(at Sequence) {
	if m.open == nil {
		return
	}
	m.closed++
	if m.openStored {
		m.closeOpen = &VersionClose{
			VersionID: m.open.VersionID,
			ValidTo:   at,
			Row:       m.open.Row,
		}
		m.openStored = false
		m.storedDirty = false
	} else {
		validTo := at
		m.open.ValidTo = &validTo
		m.open.Current = false
		m.closedNew = append(m.closedNew, *m.open)
	}
	m.open = nil
}

// outcome reports the accumulated history mutations for the run.
func (m *historyMerger) outcome() (closeOpen *VersionClose, updateOpen *OpenRowUpdate, appends []HistoryRecord) {
	appends = m.closedNew
	if m.open != nil {
		if m.openStored {
			if m.storedDirty {
				updateOpen = &OpenRowUpdate{VersionID: m.open.VersionID, Row: m.open.Row}
			}
		} else {
			appends = append(appends, *m.open)
		}
	}
	return m.closeOpen, updateOpen, appends
}
