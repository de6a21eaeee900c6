package scd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TrackedColumns selects the columns whose changes open a new history
// version. Changes limited to columns outside the set update the open
// version in place.
type TrackedColumns struct {
	mode    trackMode
	columns []string
}

type trackMode uint8

const (
	trackAll trackMode = iota
	trackOnly
	trackExcept
)

// TrackAll tracks every column. This is the default policy.
func TrackAll() TrackedColumns {
	return TrackedColumns{mode: trackAll}
}

// TrackOnly tracks exactly the given columns.
func TrackOnly(columns ...string) TrackedColumns {
	return TrackedColumns{mode: trackOnly, columns: columns}
}

// TrackAllExcept tracks every column except the given ones.
func TrackAllExcept(columns ...string) TrackedColumns {
	return TrackedColumns{mode: trackExcept, columns: columns}
}

// Tracks reports whether a change to the given column opens a new
// history version.
func (t TrackedColumns) Tracks(column string) bool {
	switch t.mode {
	case trackOnly:
		for _, c := range t.columns {
			if c == column {
				return true
			}
		}
		return false
	case trackExcept:
		for _, c := range t.columns {
			if c == column {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// Changed reports whether any tracked column differs between the two
// rows. The union of both rows' columns is considered, so a column that
// appears or disappears counts as a change when tracked.
func (t TrackedColumns) Changed(old, new Row) bool {
	seen := make(map[string]struct{}, len(old)+len(new))
	for col := range old {
		seen[col] = struct{}{}
	}
	for col := range new {
		seen[col] = struct{}{}
	}
	for col := range seen {
		if !t.Tracks(col) {
			continue
		}
		if !old.EqualOn(new, []string{col}) {
			return true
		}
	}
	return false
}

// String describes the policy, for logs and status output.
func (t TrackedColumns) String() string {
	switch t.mode {
	case trackOnly:
		return "only(" + strings.Join(t.columns, ",") + ")"
	case trackExcept:
		return "all-except(" + strings.Join(t.columns, ",") + ")"
	default:
		return "all"
	}
}

// EntityConfig describes one merged entity: where its key and sequence
// live in the source schema, which operation codes mean what, and which
// columns participate in history versioning.
type EntityConfig struct {
	// Name is the entity identifier, used to address its projection
	// tables (e.g. "customers").
	Name string

	// KeyColumn is the source column holding the entity key.
	KeyColumn string

	// SequenceColumn is the source column holding the per-key sequence.
	SequenceColumn string

	// OperationColumn is the source column holding the operation code.
	// Defaults to "operation" when empty.
	OperationColumn string

	// Operations maps source operation codes to change kinds. When nil,
	// DefaultOperations is used. The delete predicate of the source feed
	// is expressed here by mapping its code to OpDelete.
	Operations map[string]Operation

	// Tracked selects the columns whose changes create history versions.
	// The zero value tracks all columns.
	Tracked TrackedColumns
}

// DefaultOperations is the operation-code mapping used when an entity
// does not declare its own. UPSERT feeds collapse insert and update into
// one code; both fold identically, so the distinction is cosmetic.
func DefaultOperations() map[string]Operation {
	return map[string]Operation{
		"INSERT":   OpInsert,
		"UPDATE":   OpUpdate,
		"UPSERT":   OpUpdate,
		"DELETE":   OpDelete,
		"TRUNCATE": OpTruncate,
	}
}

// Validate checks that the configuration is complete.
func (c EntityConfig) Validate() error {
	if c.Name == "" {
		return ErrEmptyEntity
	}
	if c.KeyColumn == "" {
		return fmt.Errorf("scd: entity %q: key column is required", c.Name)
	}
	if c.SequenceColumn == "" {
		return fmt.Errorf("scd: entity %q: sequence column is required", c.Name)
	}
	for code, op := range c.Operations {
		if !op.Valid() {
			return fmt.Errorf("scd: entity %q: operation code %q maps to invalid operation %d", c.Name, code, uint8(op))
		}
	}
	return nil
}

// OperationColumnName returns the configured operation column, or the
// default "operation".
func (c EntityConfig) OperationColumnName() string {
	if c.OperationColumn == "" {
		return "operation"
	}
	return c.OperationColumn
}

// EventFromRow extracts a change event from a raw feed row. The key
// column stays in the payload; the sequence and operation columns are
// stripped, matching the projection tables' shape.
func (c EntityConfig) EventFromRow(row Row) (ChangeEvent, error) {
	opCol := c.OperationColumnName()
	codeVal, ok := row[opCol]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("scd: entity %q: row missing operation column %q", c.Name, opCol)
	}
	op, err := c.ParseOperation(fmt.Sprintf("%v", codeVal))
	if err != nil {
		return ChangeEvent{}, err
	}

	seqVal, ok := row[c.SequenceColumn]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("scd: entity %q: row missing sequence column %q", c.Name, c.SequenceColumn)
	}
	seq, err := coerceSequence(seqVal)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("scd: entity %q: %w", c.Name, err)
	}

	if op == OpTruncate {
		// Truncate rows carry no key. A key present anyway narrows the
		// predicate to that single key.
		if keyVal, ok := row[c.KeyColumn]; ok && fmt.Sprintf("%v", keyVal) != "" {
			return NewTruncate(seq, TruncateKeys(fmt.Sprintf("%v", keyVal))), nil
		}
		return NewTruncate(seq, TruncateAll()), nil
	}

	keyVal, ok := row[c.KeyColumn]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("scd: entity %q: row missing key column %q", c.Name, c.KeyColumn)
	}
	key := fmt.Sprintf("%v", keyVal)
	if key == "" {
		return ChangeEvent{}, ErrEmptyKey
	}

	if op == OpDelete {
		return NewDelete(key, seq), nil
	}

	payload := row.Clone()
	delete(payload, c.SequenceColumn)
	delete(payload, opCol)
	return ChangeEvent{Key: key, Sequence: seq, Op: op, Row: payload}, nil
}

func coerceSequence(v any) (Sequence, error) {
	switch n := v.(type) {
	case int64:
		return Sequence(n), nil
	case int:
		return Sequence(n), nil
	case int32:
		return Sequence(n), nil
	case uint64:
		return Sequence(n), nil
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("scd: sequence value %v is not an integer", n)
		}
		return Sequence(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("scd: invalid sequence value %q: %w", n.String(), err)
		}
		return Sequence(i), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("scd: invalid sequence value %q: %w", n, err)
		}
		return Sequence(i), nil
	default:
		return 0, fmt.Errorf("scd: unsupported sequence type %T", v)
	}
}

// ParseOperation resolves a source operation code against the entity's
// mapping. Codes are matched case-insensitively.
func (c EntityConfig) ParseOperation(code string) (Operation, error) {
	ops := c.Operations
	if ops == nil {
		ops = DefaultOperations()
	}
	if op, ok := ops[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("scd: entity %q: unrecognized operation code %q", c.Name, code)
}
