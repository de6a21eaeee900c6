package scd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateSequenceError(t *testing.T) {
	err := NewDuplicateSequenceError("customers", "c-1", 42, []int64{3, 7})

	assert.ErrorIs(t, err, ErrDuplicateSequence)
	assert.Contains(t, err.Error(), "customers")
	assert.Contains(t, err.Error(), "c-1")
	assert.Contains(t, err.Error(), "42")
	assert.Equal(t, ErrDuplicateSequence, errors.Unwrap(err))
}

func TestInvariantViolationError(t *testing.T) {
	err := NewInvariantViolationError("customers", "c-1", "multiple open history versions")

	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Contains(t, err.Error(), "multiple open history versions")

	wrapped := fmt.Errorf("batch failed: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvariantViolation)

	var target *InvariantViolationError
	assert.ErrorAs(t, wrapped, &target)
	assert.Equal(t, "c-1", target.Key)
}

func TestUnknownEntityError(t *testing.T) {
	err := NewUnknownEntityError("orders")

	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.Contains(t, err.Error(), "orders")
}
