package scd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentMerger(t *testing.T) {
	t.Run("untouched merger reports nothing", func(t *testing.T) {
		m := newCurrentMerger(KeyState{})
		upsert, del := m.outcome()
		assert.Nil(t, upsert)
		assert.False(t, del)
	})

	t.Run("latest event wins", func(t *testing.T) {
		m := newCurrentMerger(KeyState{})
		m.apply(NewInsert("k", 1, Row{"city": "porto"}))
		m.apply(NewUpdate("k", 2, Row{"city": "braga"}))

		upsert, del := m.outcome()
		require.NotNil(t, upsert)
		assert.False(t, del)
		assert.Equal(t, "braga", upsert.Row["city"])
		assert.Equal(t, Sequence(2), upsert.LastSequence)
	})

	t.Run("delete removes the record", func(t *testing.T) {
		state := KeyState{Current: &CurrentRecord{Key: "k", Row: Row{"city": "porto"}, LastSequence: 1}}
		m := newCurrentMerger(state)
		m.apply(NewDelete("k", 2))

		upsert, del := m.outcome()
		assert.Nil(t, upsert)
		assert.True(t, del)
	})

	t.Run("re-insert after delete", func(t *testing.T) {
		m := newCurrentMerger(KeyState{})
		m.apply(NewDelete("k", 5))
		m.apply(NewInsert("k", 6, Row{"city": "faro"}))

		upsert, del := m.outcome()
		require.NotNil(t, upsert)
		assert.False(t, del)
		assert.Equal(t, "faro", upsert.Row["city"])
	})

	t.Run("truncate behaves like delete", func(t *testing.T) {
		state := KeyState{Current: &CurrentRecord{Key: "k", Row: Row{}, LastSequence: 1}}
		m := newCurrentMerger(state)
		m.apply(ChangeEvent{Key: "k", Sequence: 2, Op: OpTruncate})

		upsert, del := m.outcome()
		assert.Nil(t, upsert)
		assert.True(t, del)
	})

	t.Run("stored row is not mutated", func(t *testing.T) {
		stored := &CurrentRecord{Key: "k", Row: Row{"city": "porto"}, LastSequence: 1}
		m := newCurrentMerger(KeyState{Current: stored})
		m.apply(NewUpdate("k", 2, Row{"city": "braga"}))

		assert.Equal(t, "porto", stored.Row["city"])
	})
}
