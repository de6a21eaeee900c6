// Package postgres provides a PostgreSQL implementation of the state
// store. Both projection tables and the per-key watermarks live in one
// schema, and every batch commit is a single transaction, so readers
// never observe a current-state table ahead of its history table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mergetide/go-scd"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Sentinel errors for the postgres store.
var (
	ErrStoreClosed = fmt.Errorf("scd/postgres: store closed")
)

// Ensure Store implements the required interfaces.
var (
	_ scd.StateStore    = (*Store)(nil)
	_ scd.HealthChecker = (*Store)(nil)
	_ scd.Migrator      = (*Store)(nil)
)

// Store is a PostgreSQL implementation of scd.StateStore.
type Store struct {
	db     *sql.DB
	schema string
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithSchema sets the database schema name.
func WithSchema(schema string) Option {
	return func(s *Store) {
		s.schema = schema
	}
}

// WithMaxConnections sets the maximum number of open connections.
func WithMaxConnections(n int) Option {
	return func(s *Store) {
		s.db.SetMaxOpenConns(n)
	}
}

// WithConnectionMaxLifetime sets the maximum connection lifetime.
func WithConnectionMaxLifetime(d time.Duration) Option {
	return func(s *Store) {
		s.db.SetConnMaxLifetime(d)
	}
}

// NewStore creates a new PostgreSQL state store.
func NewStore(connStr string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to open database: %w", err)
	}
	return NewStoreWithDB(db, opts...), nil
}

// NewStoreWithDB creates a new store with an existing database connection.
func NewStoreWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		schema: "scd",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the schema and projection tables. The partial unique
// index on open versions lets the database itself reject a second open
// version for a key.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.watermarks (
				entity        VARCHAR(250) NOT NULL,
				key           VARCHAR(500) NOT NULL,
				last_sequence BIGINT NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (entity, key)
			)`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.current_state (
				entity        VARCHAR(250) NOT NULL,
				key           VARCHAR(500) NOT NULL,
				row_data      JSONB NOT NULL,
				last_sequence BIGINT NOT NULL,
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (entity, key)
			)`, s.schema),
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s.history (
				version_id VARCHAR(36) PRIMARY KEY,
				entity     VARCHAR(250) NOT NULL,
				key        VARCHAR(500) NOT NULL,
				row_data   JSONB NOT NULL,
				valid_from BIGINT NOT NULL,
				valid_to   BIGINT,
				is_current BOOLEAN NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, s.schema),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_history_key
			ON %s.history (entity, key, valid_from)`, s.schema),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_history_open
			ON %s.history (entity, key) WHERE valid_to IS NULL`, s.schema),
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("scd/postgres: migration failed: %w", err)
		}
	}
	return nil
}

// LoadKeyStates returns the pre-merge state for the given keys.
func (s *Store) LoadKeyStates(ctx context.Context, entity string, keys []string) (map[string]scd.KeyState, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if len(keys) == 0 {
		return map[string]scd.KeyState{}, nil
	}

	states := make(map[string]scd.KeyState, len(keys))

	placeholders, args := inClause(entity, keys)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, last_sequence FROM %s.watermarks
		WHERE entity = $1 AND key IN (%s)`, s.schema, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to load watermarks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var seq int64
		if err := rows.Scan(&key, &seq); err != nil {
			return nil, fmt.Errorf("scd/postgres: failed to scan watermark: %w", err)
		}
		states[key] = scd.KeyState{Watermark: scd.Sequence(seq), HasWatermark: true}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scd/postgres: error iterating watermarks: %w", err)
	}

	currentRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key, row_data, last_sequence FROM %s.current_state
		WHERE entity = $1 AND key IN (%s)`, s.schema, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to load current state: %w", err)
	}
	defer currentRows.Close()
	for currentRows.Next() {
		var key string
		var rowJSON []byte
		var seq int64
		if err := currentRows.Scan(&key, &rowJSON, &seq); err != nil {
			return nil, fmt.Errorf("scd/postgres: failed to scan current state: %w", err)
		}
		row, err := unmarshalRow(rowJSON)
		if err != nil {
			return nil, err
		}
		state := states[key]
		state.Current = &scd.CurrentRecord{Key: key, Row: row, LastSequence: scd.Sequence(seq)}
		states[key] = state
	}
	if err := currentRows.Err(); err != nil {
		return nil, fmt.Errorf("scd/postgres: error iterating current state: %w", err)
	}

	openRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT version_id, key, row_data, valid_from, is_current FROM %s.history
		WHERE entity = $1 AND key IN (%s) AND valid_to IS NULL`, s.schema, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to load open versions: %w", err)
	}
	defer openRows.Close()
	for openRows.Next() {
		var versionID, key string
		var rowJSON []byte
		var validFrom int64
		var isCurrent bool
		if err := openRows.Scan(&versionID, &key, &rowJSON, &validFrom, &isCurrent); err != nil {
			return nil, fmt.Errorf("scd/postgres: failed to scan open version: %w", err)
		}
		row, err := unmarshalRow(rowJSON)
		if err != nil {
			return nil, err
		}
		state := states[key]
		if state.OpenVersion != nil {
			return nil, scd.NewInvariantViolationError(entity, key, "multiple open history versions")
		}
		state.OpenVersion = &scd.HistoryRecord{
			VersionID: versionID,
			Key:       key,
			Row:       row,
			ValidFrom: scd.Sequence(validFrom),
			Current:   isCurrent,
		}
		states[key] = state
	}
	if err := openRows.Err(); err != nil {
		return nil, fmt.Errorf("scd/postgres: error iterating open versions: %w", err)
	}

	return states, nil
}

// CommitBatch atomically applies the commits for one entity in a single
// transaction.
func (s *Store) CommitBatch(ctx context.Context, entity string, commits []scd.KeyCommit) error {
	if s.closed {
		return ErrStoreClosed
	}
	if len(commits) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("scd/postgres: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range commits {
		if err := s.applyCommit(ctx, tx, entity, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("scd/postgres: failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) applyCommit(ctx context.Context, tx *sql.Tx, entity string, c scd.KeyCommit) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.watermarks (entity, key, last_sequence)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity, key) DO UPDATE SET
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()`, s.schema), entity, c.Key, int64(c.Watermark))
	if err != nil {
		return fmt.Errorf("scd/postgres: failed to advance watermark for key %q: %w", c.Key, err)
	}

	if c.Upsert != nil {
		rowJSON, err := json.Marshal(c.Upsert.Row)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to marshal row for key %q: %w", c.Key, err)
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.current_state (entity, key, row_data, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (entity, key) DO UPDATE SET
				row_data = EXCLUDED.row_data,
				last_sequence = EXCLUDED.last_sequence,
				updated_at = NOW()`, s.schema), entity, c.Key, rowJSON, int64(c.Upsert.LastSequence))
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to upsert current state for key %q: %w", c.Key, err)
		}
	} else if c.DeleteCurrent {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s.current_state WHERE entity = $1 AND key = $2`, s.schema), entity, c.Key)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to delete current state for key %q: %w", c.Key, err)
		}
	}

	if c.CloseOpen != nil {
		rowJSON, err := json.Marshal(c.CloseOpen.Row)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to marshal closing row for key %q: %w", c.Key, err)
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.history
			SET valid_to = $1, is_current = FALSE, row_data = $2
			WHERE version_id = $3 AND valid_to IS NULL`, s.schema),
			int64(c.CloseOpen.ValidTo), rowJSON, c.CloseOpen.VersionID)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to close version %q: %w", c.CloseOpen.VersionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return scd.NewInvariantViolationError(entity, c.Key, "open version vanished during commit")
		}
	}

	if c.UpdateOpen != nil {
		rowJSON, err := json.Marshal(c.UpdateOpen.Row)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to marshal open row for key %q: %w", c.Key, err)
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s.history
			SET row_data = $1
			WHERE version_id = $2 AND valid_to IS NULL`, s.schema),
			rowJSON, c.UpdateOpen.VersionID)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to update version %q: %w", c.UpdateOpen.VersionID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return scd.NewInvariantViolationError(entity, c.Key, "open version vanished during commit")
		}
	}

	for _, v := range c.AppendVersions {
		rowJSON, err := json.Marshal(v.Row)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to marshal version row for key %q: %w", c.Key, err)
		}
		var validTo sql.NullInt64
		if v.ValidTo != nil {
			validTo = sql.NullInt64{Int64: int64(*v.ValidTo), Valid: true}
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s.history (version_id, entity, key, row_data, valid_from, valid_to, is_current)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.schema),
			v.VersionID, entity, v.Key, rowJSON, int64(v.ValidFrom), validTo, v.Current)
		if err != nil {
			return fmt.Errorf("scd/postgres: failed to insert version %q: %w", v.VersionID, err)
		}
	}

	return nil
}

// LiveKeys returns every key with a persisted watermark.
func (s *Store) LiveKeys(ctx context.Context, entity string) ([]string, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key FROM %s.watermarks WHERE entity = $1 ORDER BY key`, s.schema), entity)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scd/postgres: failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scd/postgres: error iterating keys: %w", err)
	}
	return keys, nil
}

// GetCurrent returns the current-state record for a key, or nil.
func (s *Store) GetCurrent(ctx context.Context, entity, key string) (*scd.CurrentRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	var rowJSON []byte
	var seq int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT row_data, last_sequence FROM %s.current_state
		WHERE entity = $1 AND key = $2`, s.schema), entity, key).Scan(&rowJSON, &seq)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to get current state: %w", err)
	}

	row, err := unmarshalRow(rowJSON)
	if err != nil {
		return nil, err
	}
	return &scd.CurrentRecord{Key: key, Row: row, LastSequence: scd.Sequence(seq)}, nil
}

// History returns a key's versions ordered by ValidFrom.
func (s *Store) History(ctx context.Context, entity, key string) ([]scd.HistoryRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT version_id, row_data, valid_from, valid_to, is_current
		FROM %s.history
		WHERE entity = $1 AND key = $2
		ORDER BY valid_from`, s.schema), entity, key)
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to load history: %w", err)
	}
	defer rows.Close()

	var versions []scd.HistoryRecord
	for rows.Next() {
		rec, err := scanVersion(rows, key)
		if err != nil {
			return nil, err
		}
		versions = append(versions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scd/postgres: error iterating history: %w", err)
	}
	return versions, nil
}

// AsOf returns the version authoritative at the given sequence, or nil.
func (s *Store) AsOf(ctx context.Context, entity, key string, seq scd.Sequence) (*scd.HistoryRecord, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT version_id, row_data, valid_from, valid_to, is_current
		FROM %s.history
		WHERE entity = $1 AND key = $2
			AND valid_from <= $3
			AND (valid_to IS NULL OR valid_to > $3)
		LIMIT 1`, s.schema), entity, key, int64(seq))
	if err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to query as-of version: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanVersion(rows, key)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.closed {
		return ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.closed = true
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Schema returns the schema name.
func (s *Store) Schema() string {
	return s.schema
}

func scanVersion(rows *sql.Rows, key string) (scd.HistoryRecord, error) {
	var rec scd.HistoryRecord
	var rowJSON []byte
	var validFrom int64
	var validTo sql.NullInt64
	if err := rows.Scan(&rec.VersionID, &rowJSON, &validFrom, &validTo, &rec.Current); err != nil {
		return rec, fmt.Errorf("scd/postgres: failed to scan version: %w", err)
	}
	row, err := unmarshalRow(rowJSON)
	if err != nil {
		return rec, err
	}
	rec.Key = key
	rec.Row = row
	rec.ValidFrom = scd.Sequence(validFrom)
	if validTo.Valid {
		seq := scd.Sequence(validTo.Int64)
		rec.ValidTo = &seq
	}
	return rec, nil
}

func unmarshalRow(data []byte) (scd.Row, error) {
	var row scd.Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("scd/postgres: failed to unmarshal row: %w", err)
	}
	return row, nil
}

// inClause builds the placeholder list for a key set, with the entity
// bound as $1.
func inClause(entity string, keys []string) (string, []any) {
	placeholders := make([]string, len(keys))
	args := make([]any, 0, len(keys)+1)
	args = append(args, entity)
	for i, key := range keys {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, key)
	}
	return strings.Join(placeholders, ", "), args
}
