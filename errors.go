package scd

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is() to check for these errors.
var (
	// ErrEmptyKey indicates an event with an empty key reached the engine.
	ErrEmptyKey = errors.New("scd: empty key")

	// ErrEmptyEntity indicates an empty entity name was provided.
	ErrEmptyEntity = errors.New("scd: entity name is required")

	// ErrUnknownEntity indicates the engine has no configuration for the
	// requested entity.
	ErrUnknownEntity = errors.New("scd: unknown entity")

	// ErrDuplicateSequence indicates two events for the same key carried
	// equal sequence numbers within one batch.
	ErrDuplicateSequence = errors.New("scd: duplicate sequence")

	// ErrInvariantViolation indicates the stored projections are in a
	// state this engine could not have produced, such as more than one
	// open history version for a key.
	ErrInvariantViolation = errors.New("scd: invariant violation")

	// ErrEngineClosed indicates the engine has been closed.
	ErrEngineClosed = errors.New("scd: engine closed")

	// ErrNilStore indicates a nil state store was passed.
	ErrNilStore = errors.New("scd: nil state store")
)

// DuplicateSequenceError reports equal sequence numbers for one key
// within a batch. Both conflicting events are excluded from the merge;
// the arrival tokens identify them for operator remediation.
type DuplicateSequenceError struct {
	Entity   string
	Key      string
	Sequence Sequence
	Arrivals []int64
}

// Error returns the error message.
func (e *DuplicateSequenceError) Error() string {
	return fmt.Sprintf("scd: duplicate sequence %d for key %q in entity %q (arrivals %v)",
		e.Sequence, e.Key, e.Entity, e.Arrivals)
}

// Is reports whether this error matches the target error.
func (e *DuplicateSequenceError) Is(target error) bool {
	return target == ErrDuplicateSequence
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DuplicateSequenceError) Unwrap() error {
	return ErrDuplicateSequence
}

// NewDuplicateSequenceError creates a new DuplicateSequenceError.
func NewDuplicateSequenceError(entity, key string, seq Sequence, arrivals []int64) *DuplicateSequenceError {
	return &DuplicateSequenceError{Entity: entity, Key: key, Sequence: seq, Arrivals: arrivals}
}

// InvariantViolationError reports corrupted projection state for a key,
// such as multiple open history versions. The affected key's batch is
// failed rather than repaired, since silent repair could hide corruption
// caused by a concurrent writer outside this engine.
type InvariantViolationError struct {
	Entity string
	Key    string
	Detail string
}

// Error returns the error message.
func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("scd: invariant violation for key %q in entity %q: %s", e.Key, e.Entity, e.Detail)
}

// Is reports whether this error matches the target error.
func (e *InvariantViolationError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *InvariantViolationError) Unwrap() error {
	return ErrInvariantViolation
}

// NewInvariantViolationError creates a new InvariantViolationError.
func NewInvariantViolationError(entity, key, detail string) *InvariantViolationError {
	return &InvariantViolationError{Entity: entity, Key: key, Detail: detail}
}

// UnknownEntityError reports a batch for an entity the engine was not
// configured with.
type UnknownEntityError struct {
	Entity string
}

// Error returns the error message.
func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("scd: unknown entity %q", e.Entity)
}

// Is reports whether this error matches the target error.
func (e *UnknownEntityError) Is(target error) bool {
	return target == ErrUnknownEntity
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *UnknownEntityError) Unwrap() error {
	return ErrUnknownEntity
}

// NewUnknownEntityError creates a new UnknownEntityError.
func NewUnknownEntityError(entity string) *UnknownEntityError {
	return &UnknownEntityError{Entity: entity}
}
