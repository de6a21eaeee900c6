package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mergetide/go-scd"
)

// getTestDB returns a database connection for testing.
// Set TEST_DATABASE_URL environment variable to run integration tests.
func getTestDB(t *testing.T) *sql.DB {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)

	return db
}

// cleanupSchema drops the test schema.
func cleanupSchema(t *testing.T, db *sql.DB, schema string) {
	_, err := db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema))
	require.NoError(t, err)
}

func newTestStore(t *testing.T) (*Store, func()) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}

	db := getTestDB(t)
	schema := fmt.Sprintf("scd_test_%d", time.Now().UnixNano())
	store := NewStoreWithDB(db, WithSchema(schema))
	require.NoError(t, store.Migrate(context.Background()))

	return store, func() {
		cleanupSchema(t, db, schema)
		_ = store.Close()
	}
}

func TestStore_Migrate(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	t.Run("creates tables", func(t *testing.T) {
		for _, table := range []string{"watermarks", "current_state", "history"} {
			var exists bool
			err := store.DB().QueryRow(`
				SELECT EXISTS (
					SELECT FROM information_schema.tables
					WHERE table_schema = $1 AND table_name = $2
				)`, store.Schema(), table).Scan(&exists)
			require.NoError(t, err)
			assert.True(t, exists, "table %s should exist", table)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		assert.NoError(t, store.Migrate(context.Background()))
	})
}

func TestStore_CommitAndLoad(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key:       "c-1",
			Watermark: 5,
			Upsert:    &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"city": "porto"}, LastSequence: 5},
			AppendVersions: []scd.HistoryRecord{{
				VersionID: "v-1", Key: "c-1", Row: scd.Row{"city": "porto"}, ValidFrom: 5, Current: true,
			}},
		}})
		require.NoError(t, err)

		states, err := store.LoadKeyStates(ctx, "customers", []string{"c-1", "absent"})
		require.NoError(t, err)
		require.Len(t, states, 1)
		state := states["c-1"]
		assert.True(t, state.HasWatermark)
		assert.Equal(t, scd.Sequence(5), state.Watermark)
		require.NotNil(t, state.Current)
		assert.Equal(t, "porto", state.Current.Row["city"])
		require.NotNil(t, state.OpenVersion)
		assert.Equal(t, "v-1", state.OpenVersion.VersionID)
	})

	t.Run("close and append", func(t *testing.T) {
		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key:       "c-1",
			Watermark: 9,
			Upsert:    &scd.CurrentRecord{Key: "c-1", Row: scd.Row{"city": "braga"}, LastSequence: 9},
			CloseOpen: &scd.VersionClose{VersionID: "v-1", ValidTo: 9, Row: scd.Row{"city": "porto"}},
			AppendVersions: []scd.HistoryRecord{{
				VersionID: "v-2", Key: "c-1", Row: scd.Row{"city": "braga"}, ValidFrom: 9, Current: true,
			}},
		}})
		require.NoError(t, err)

		versions, err := store.History(ctx, "customers", "c-1")
		require.NoError(t, err)
		require.Len(t, versions, 2)
		require.NotNil(t, versions[0].ValidTo)
		assert.Equal(t, scd.Sequence(9), *versions[0].ValidTo)
		assert.False(t, versions[0].Current)
		assert.Nil(t, versions[1].ValidTo)
		assert.True(t, versions[1].Current)
	})

	t.Run("as of", func(t *testing.T) {
		mid, err := store.AsOf(ctx, "customers", "c-1", 7)
		require.NoError(t, err)
		require.NotNil(t, mid)
		assert.Equal(t, "v-1", mid.VersionID)

		early, err := store.AsOf(ctx, "customers", "c-1", 2)
		require.NoError(t, err)
		assert.Nil(t, early)
	})

	t.Run("delete current keeps watermark", func(t *testing.T) {
		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{{
			Key:           "c-1",
			Watermark:     12,
			DeleteCurrent: true,
			CloseOpen:     &scd.VersionClose{VersionID: "v-2", ValidTo: 12, Row: scd.Row{"city": "braga"}},
		}})
		require.NoError(t, err)

		current, err := store.GetCurrent(ctx, "customers", "c-1")
		require.NoError(t, err)
		assert.Nil(t, current)

		states, err := store.LoadKeyStates(ctx, "customers", []string{"c-1"})
		require.NoError(t, err)
		assert.Equal(t, scd.Sequence(12), states["c-1"].Watermark)
		assert.Nil(t, states["c-1"].OpenVersion)
	})

	t.Run("close of unknown version rolls back", func(t *testing.T) {
		err := store.CommitBatch(ctx, "customers", []scd.KeyCommit{
			{
				Key: "c-9", Watermark: 1,
				Upsert: &scd.CurrentRecord{Key: "c-9", Row: scd.Row{"city": "faro"}, LastSequence: 1},
			},
			{
				Key: "c-1", Watermark: 20,
				CloseOpen: &scd.VersionClose{VersionID: "missing", ValidTo: 20, Row: scd.Row{}},
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, scd.ErrInvariantViolation)

		// The transaction rolled back the first commit too.
		current, err := store.GetCurrent(ctx, "customers", "c-9")
		require.NoError(t, err)
		assert.Nil(t, current)
	})

	t.Run("live keys", func(t *testing.T) {
		keys, err := store.LiveKeys(ctx, "customers")
		require.NoError(t, err)
		assert.Equal(t, []string{"c-1"}, keys)
	})
}

func TestStore_Ping(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()

	assert.NoError(t, store.Ping(context.Background()))
}

func TestStore_EngineIntegration(t *testing.T) {
	store, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()

	engine, err := scd.NewEngine(store, []scd.EntityConfig{{
		Name:           "sellers",
		KeyColumn:      "seller_id",
		SequenceColumn: "sequence_number",
	}})
	require.NoError(t, err)

	result, err := engine.ProcessBatch(ctx, "sellers", []scd.ChangeEvent{
		scd.NewInsert("s-1", 1, scd.Row{"state": "SP"}),
		scd.NewUpdate("s-1", 3, scd.Row{"state": "RJ"}),
		scd.NewUpdate("s-1", 2, scd.Row{"state": "MG"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Applied)

	current, err := store.GetCurrent(ctx, "sellers", "s-1")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "RJ", current.Row["state"])

	replay, err := engine.ProcessBatch(ctx, "sellers", []scd.ChangeEvent{
		scd.NewUpdate("s-1", 2, scd.Row{"state": "MG"}),
	})
	require.NoError(t, err)
	assert.Zero(t, replay.Applied)
	assert.Equal(t, 1, replay.Dropped)
}
