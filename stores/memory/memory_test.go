package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergetide/go-scd"
)

func seqPtr(s scd.Sequence) *scd.Sequence { return &s }

func TestNewStore(t *testing.T) {
	store := NewStore()
	assert.NotNil(t, store)
	assert.Equal(t, 0, store.CurrentCount("customers"))
	assert.Equal(t, 0, store.VersionCount("customers"))
}

func TestStore_CommitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("commit upsert with open version", func(t *testing.T) {
		store := NewStore()

		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key:       "c-1",
			Watermark: 5,
			Upsert:    &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"city": "porto"}, LastSequence: 5},
			AppendVersions: []scd.HistoryRecord{{
				VersionID: "v-1", Key: "c-1", Row: scd.Row{"city": "porto"}, ValidFrom: 5, Current: true,
			}},
		}})
		require.NoError(t, err)

		states, err := store.LoadKeyStates(ctx, "customers", []string{"c-1"})
		require.NoError(t, err)
		state, ok := states["c-1"]
		require.True(t, ok)
		assert.True(t, state.HasWatermark)
		assert.Equal(t, scd.Sequence(5), state.Watermark)
		require.NotNil(t, state.Current)
		assert.Equal(t, "porto", state.Current.Row["city"])
		require.NotNil(t, state.OpenVersion)
		assert.Equal(t, "v-1", state.OpenVersion.VersionID)
	})

	t.Run("close then append keeps versions ordered", func(t *testing.T) {
		store := NewStore()

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 1}, LastSequence: 1},
			AppendVersions: []scd.HistoryRecord{
				{VersionID: "v-1", Key: "c-1", Row: scd.Row{"v": 1}, ValidFrom: 1, Current: true},
			},
		}}))

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 4,
			Upsert:    &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 2}, LastSequence: 4},
			CloseOpen: &scd.VersionClose{VersionID: "v-1", ValidTo: 4, Row: scd.Row{"v": 1}},
			AppendVersions: []scd.HistoryRecord{
				{VersionID: "v-2", Key: "c-1", Row: scd.Row{"v": 2}, ValidFrom: 4, Current: true},
			},
		}}))

		versions, err := store.History(ctx, "customers", "c-1")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		assert.Equal(t, "v-1", versions[0].VersionID)
		assert.Equal(t, seqPtr(4), versions[0].ValidTo)
		assert.False(t, versions[0].Current)
		assert.Equal(t, "v-2", versions[1].VersionID)
		assert.Nil(t, versions[1].ValidTo)
	})

	t.Run("update open rewrites row without closing", func(t *testing.T) {
		store := NewStore()

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 1}, LastSequence: 1},
			AppendVersions: []scd.HistoryRecord{
				{VersionID: "v-1", Key: "c-1", Row: scd.Row{"v": 1}, ValidFrom: 1, Current: true},
			},
		}}))

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 2,
			Upsert:     &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 2}, LastSequence: 2},
			UpdateOpen: &scd.OpenRowUpdate{VersionID: "v-1", Row: scd.Row{"v": 2}},
		}}))

		versions, err := store.History(ctx, "customers", "c-1")
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, 2, versions[0].Row["v"])
		assert.Nil(t, versions[0].ValidTo)
	})

	t.Run("delete removes current but keeps history", func(t *testing.T) {
		store := NewStore()

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 1}, LastSequence: 1},
			AppendVersions: []scd.HistoryRecord{
				{VersionID: "v-1", Key: "c-1", Row: scd.Row{"v": 1}, ValidFrom: 1, Current: true},
			},
		}}))
		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 3,
			DeleteCurrent: true,
			CloseOpen:     &scd.VersionClose{VersionID: "v-1", ValidTo: 3, Row: scd.Row{"v": 1}},
		}}))

		current, err := store.GetCurrent(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Nil(t, current)
		assert.Equal(t, 1, store.VersionCount("customers"))

		// Watermark survives the delete.
		states, err := store.LoadKeyStates(ctx, "customers", []string{"c-1"})
		require.NoError(t, err)
		assert.Equal(t, scd.Sequence(3), states["c-1"].Watermark)
	})

	t.Run("unknown close target fails before any mutation", func(t *testing.T) {
		store := NewStore()

		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{
			{
				Key: "c-1", Watermark: 1,
				Upsert: &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"v": 1}, LastSequence: 1},
			},
			{
				Key: "c-2", Watermark: 1,
				CloseOpen: &scd.VersionClose{VersionID: "missing", ValidTo: 1, Row: scd.Row{}},
			},
		})
		require.Error(t, err)

		// The first commit in the batch was not applied either.
		current, err := store.GetCurrent(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("entities are isolated", func(t *testing.T) {
		store := NewStore()

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "k", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "k", Row: scd.Row{}, LastSequence: 1},
		}}))

		assert.Equal(t, 1, store.CurrentCount("customers"))
		assert.Equal(t, 0, store.CurrentCount("products"))
	})
}

func TestStore_LoadKeyStates(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown keys are absent", func(t *testing.T) {
		store := NewStore()
		states, err := store.LoadKeyStates(ctx, "customers", []string{"nope"})
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("multiple open versions fail loud", func(t *testing.T) {
		store := NewStore()

		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 2,
			AppendVersions: []scd.HistoryRecord{
				{VersionID: "v-1", Key: "c-1", Row: scd.Row{}, ValidFrom: 1, Current: true},
				{VersionID: "v-2", Key: "c-1", Row: scd.Row{}, ValidFrom: 2, Current: true},
			},
		}}))

		_, err := store.LoadKeyStates(ctx, "customers", []string{"c-1"})
		assert.ErrorIs(t, err, scd.ErrInvariantViolation)
	})

	t.Run("returned rows are clones", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "c-1", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"city": "porto"}, LastSequence: 1},
		}}))

		states, err := store.LoadKeyStates(ctx, "customers", []string{"c-1"})
		require.NoError(t, err)
		states["c-1"].Current.Row["city"] = "mutated"

		fresh, err := store.GetCurrent(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Equal(t, "porto", fresh.Row["city"])
	})
}

func TestStore_Queries(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *Store {
		store := NewStore()
		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{
			{
				Key: "b", Watermark: 9,
				Upsert: &scd.CurrentRecord{Key: "b", Row: scd.Row{"v": 3}, LastSequence: 9},
				AppendVersions: []scd.HistoryRecord{
					{VersionID: "v-1", Key: "b", Row: scd.Row{"v": 1}, ValidFrom: 2, ValidTo: seqPtr(5)},
					{VersionID: "v-2", Key: "b", Row: scd.Row{"v": 2}, ValidFrom: 5, ValidTo: seqPtr(9)},
					{VersionID: "v-3", Key: "b", Row: scd.Row{"v": 3}, ValidFrom: 9, Current: true},
				},
			},
			{
				Key: "a", Watermark: 1,
				Upsert: &scd.CurrentRecord{Key: "a", Row: scd.Row{"v": 0}, LastSequence: 1},
			},
		}))
		return store
	}

	t.Run("live keys sorted", func(t *testing.T) {
		store := seed(t)
		keys, err := store.LiveKeys(ctx, "customers")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys)
	})

	t.Run("as-of lookup", func(t *testing.T) {
		store := seed(t)

		before, err := store.AsOf(ctx, "customers", "b", 1)
		require.NoError(t, err)
		assert.Nil(t, before)

		mid, err := store.AsOf(ctx, "customers", "b", 6)
		require.NoError(t, err)
		require.NotNil(t, mid)
		assert.Equal(t, "v-2", mid.VersionID)

		open, err := store.AsOf(ctx, "customers", "b", 50)
		require.NoError(t, err)
		require.NotNil(t, open)
		assert.Equal(t, "v-3", open.VersionID)
	})

	t.Run("history rows are clones", func(t *testing.T) {
		store := seed(t)
		versions, err := store.History(ctx, "customers", "b")
		require.NoError(t, err)
		versions[0].Row["v"] = "mutated"

		again, err := store.History(ctx, "customers", "b")
		require.NoError(t, err)
		assert.Equal(t, 1, again[0].Row["v"])
	})

	t.Run("unknown entity queries return empty", func(t *testing.T) {
		store := NewStore()
		keys, err := store.LiveKeys(ctx, "ghost")
		require.NoError(t, err)
		assert.Empty(t, keys)

		rec, err := store.GetCurrent(ctx, "ghost", "k")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("closed store rejects operations", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.Close())

		_, err := store.LoadKeyStates(ctx, "customers", []string{"k"})
		assert.ErrorIs(t, err, ErrStoreClosed)
		assert.ErrorIs(t, store.CommitBatch(ctx, "customers", nil), ErrStoreClosed)
		assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		store := NewStore()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := store.LoadKeyStates(cancelled, "customers", []string{"k"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reset clears data", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key: "k", Watermark: 1,
			Upsert: &scd.CurrentRecord{Key: "k", Row: scd.Row{}, LastSequence: 1},
		}}))

		store.Reset()
		assert.Equal(t, 0, store.CurrentCount("customers"))
	})

	t.Run("ping on open store", func(t *testing.T) {
		store := NewStore()
		assert.NoError(t, store.Ping(ctx))
	})
}
