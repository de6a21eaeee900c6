package scd

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Sequence is a per-key change ordinal. Values are totally ordered and
// unique within a key; the engine compares them but never interprets
// them, so a source may use log offsets, transaction ids or timestamps
// as long as the ordering contract holds.
type Sequence int64

// Row holds the attribute values carried by a change event or stored in
// a projection record, keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row. Values are shared; callers
// that mutate nested values must copy them first.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EqualOn reports whether two rows hold the same values for the given
// column set. A column absent from both rows counts as equal.
func (r Row) EqualOn(other Row, columns []string) bool {
	for _, col := range columns {
		a, aok := r[col]
		b, bok := other[col]
		if aok != bok {
			return false
		}
		if aok && !reflect.DeepEqual(a, b) {
			return false
		}
	}
	return true
}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Operation identifies the kind of change an event describes.
// Operations are mutually exclusive: an event carries exactly one.
type Operation uint8

const (
	// OpInsert introduces a key or re-introduces a previously deleted one.
	OpInsert Operation = iota + 1

	// OpUpdate replaces a key's attributes.
	OpUpdate

	// OpDelete removes a key from the current-state table and closes its
	// open history version.
	OpDelete

	// OpTruncate removes every key matched by the event's predicate.
	OpTruncate
)

// String returns the operation's wire name.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpTruncate:
		return "TRUNCATE"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(o))
	}
}

// Valid reports whether the operation is one of the defined kinds.
func (o Operation) Valid() bool {
	return o >= OpInsert && o <= OpTruncate
}

// MarshalJSON encodes the operation as its wire name.
func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an operation from its wire name.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "INSERT":
		*o = OpInsert
	case "UPDATE":
		*o = OpUpdate
	case "DELETE":
		*o = OpDelete
	case "TRUNCATE":
		*o = OpTruncate
	default:
		return fmt.Errorf("scd: unrecognized operation %q", name)
	}
	return nil
}

// TruncatePredicate selects the keys a truncate event affects.
type TruncatePredicate struct {
	// All selects every key of the entity.
	All bool

	// Keys selects an explicit key set. Ignored when All is true.
	Keys []string
}

// TruncateAll returns a predicate matching every key.
func TruncateAll() *TruncatePredicate {
	return &TruncatePredicate{All: true}
}

// TruncateKeys returns a predicate matching the given keys.
func TruncateKeys(keys ...string) *TruncatePredicate {
	return &TruncatePredicate{Keys: keys}
}

// Matches reports whether the predicate selects the given key.
func (p *TruncatePredicate) Matches(key string) bool {
	if p == nil {
		return false
	}
	if p.All {
		return true
	}
	for _, k := range p.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// ChangeEvent is one change delivered by the upstream capture stage.
// The validator upstream guarantees a non-null key for keyed operations,
// a non-null sequence and a recognized operation code; Validate re-checks
// the structural invariants for events built in process.
type ChangeEvent struct {
	// Key identifies the entity instance the change applies to.
	// Empty for truncate events, which carry a predicate instead.
	Key string

	// Sequence is the change's position in the key's timeline.
	Sequence Sequence

	// Op is the change kind.
	Op Operation

	// Row holds the attribute values for insert and update events.
	// Nil for delete and truncate events.
	Row Row

	// Truncate is the affected-key predicate for truncate events.
	Truncate *TruncatePredicate

	// Arrival is an opaque delivery-order token assigned by the source.
	// It is reported alongside ordering violations but never used to
	// break sequence ties.
	Arrival int64
}

// NewInsert builds an insert event.
func NewInsert(key string, seq Sequence, row Row) ChangeEvent {
	return ChangeEvent{Key: key, Sequence: seq, Op: OpInsert, Row: row}
}

// NewUpdate builds an update event.
func NewUpdate(key string, seq Sequence, row Row) ChangeEvent {
	return ChangeEvent{Key: key, Sequence: seq, Op: OpUpdate, Row: row}
}

// NewDelete builds a delete event.
func NewDelete(key string, seq Sequence) ChangeEvent {
	return ChangeEvent{Key: key, Sequence: seq, Op: OpDelete}
}

// NewTruncate builds a truncate event with the given predicate.
func NewTruncate(seq Sequence, pred *TruncatePredicate) ChangeEvent {
	return ChangeEvent{Sequence: seq, Op: OpTruncate, Truncate: pred}
}

// Validate checks the event's structural invariants: keyed operations
// need a key, inserts and updates need a row, truncates need a predicate
// and must not carry row attributes.
func (e ChangeEvent) Validate() error {
	if !e.Op.Valid() {
		return fmt.Errorf("scd: unrecognized operation %d", uint8(e.Op))
	}
	switch e.Op {
	case OpInsert, OpUpdate:
		if e.Key == "" {
			return ErrEmptyKey
		}
		if e.Row == nil {
			return fmt.Errorf("scd: %s event for key %q has no row", e.Op, e.Key)
		}
	case OpDelete:
		if e.Key == "" {
			return ErrEmptyKey
		}
		if e.Row != nil {
			return fmt.Errorf("scd: delete event for key %q must not carry a row", e.Key)
		}
	case OpTruncate:
		if e.Truncate == nil {
			return fmt.Errorf("scd: truncate event has no predicate")
		}
		if e.Row != nil {
			return fmt.Errorf("scd: truncate event must not carry a row")
		}
	}
	return nil
}
