// Package state persists the sync engine's local bookkeeping: the last
// committed fingerprint and sync timestamp per table, the row mappings
// that tie source records to spreadsheet rows, and the consecutive
// failure count that drives forced full resyncs.
//
// The store is a small embedded SQLite database in the daemon's working
// directory, opened with WAL so the CLI can read status while the daemon
// writes. Mutations happen only from the sync worker that holds a table's
// in-flight slot, so the store needs no locking beyond SQLite's own.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/EQXai/AutoTrainX-sub000/internal/sheetsync/source"
)

// Mapping is the persisted association between a source record and its
// spreadsheet row. ContentHash is the digest of the row content last
// written, used to skip rewrites of unchanged rows.
type Mapping struct {
	RowIndex    int
	ContentHash string
}

// MappingUpdate is a pending mapping upsert produced by a sync plan.
type MappingUpdate struct {
	Key         string
	RowIndex    int
	ContentHash string
}

// SyncState aggregates a table's persisted sync status.
type SyncState struct {
	Fingerprint         source.Fingerprint
	LastSyncedAt        time.Time
	ConsecutiveFailures int
}

// Store owns the local state database.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the state database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint state WAL: %v\n", err)
	}
	err := s.conn.Close()
	s.conn = nil
	if err != nil {
		return fmt.Errorf("close state database: %w", err)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS table_state (
		table_name TEXT PRIMARY KEY,
		digest TEXT NOT NULL DEFAULT '',
		row_count INTEGER NOT NULL DEFAULT 0,
		computed_at TEXT,
		last_synced_at TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS row_mappings (
		table_name TEXT NOT NULL,
		record_key TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (table_name, record_key)
	);

	CREATE INDEX IF NOT EXISTS idx_row_mappings_table ON row_mappings(table_name);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("initialize state schema: %w", err)
	}
	return nil
}

// TableState returns a table's persisted sync state. A table the store
// has never seen returns the zero state, which callers treat as "never
// synced, force full".
func (s *Store) TableState(ctx context.Context, table string) (SyncState, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT digest, row_count, computed_at, last_synced_at, consecutive_failures
		FROM table_state WHERE table_name = ?`, table)

	var (
		st         SyncState
		computedAt sql.NullString
		syncedAt   sql.NullString
	)
	err := row.Scan(&st.Fingerprint.Digest, &st.Fingerprint.RowCount,
		&computedAt, &syncedAt, &st.ConsecutiveFailures)
	if err == sql.ErrNoRows {
		return SyncState{}, nil
	}
	if err != nil {
		return SyncState{}, fmt.Errorf("query state of %s: %w", table, err)
	}

	st.Fingerprint.Table = table
	st.Fingerprint.ComputedAt = parseTime(computedAt)
	st.LastSyncedAt = parseTime(syncedAt)
	return st, nil
}

// Mappings returns all row mappings for a table keyed by record key.
func (s *Store) Mappings(ctx context.Context, table string) (map[string]Mapping, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT record_key, row_index, content_hash
		FROM row_mappings WHERE table_name = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("query mappings of %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]Mapping)
	for rows.Next() {
		var key string
		var m Mapping
		if err := rows.Scan(&key, &m.RowIndex, &m.ContentHash); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out[key] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings of %s: %w", table, err)
	}
	return out, nil
}

// ApplyMappings records mapping upserts and deletes for rows whose remote
// writes have been confirmed. Called per confirmed chunk, so a job that
// fails partway does not forget the progress its earlier chunks made.
func (s *Store) ApplyMappings(ctx context.Context, table string, upserts []MappingUpdate, deletes []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mapping transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyMappingsTx(ctx, tx, table, upserts, deletes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mapping transaction: %w", err)
	}
	return nil
}

func applyMappingsTx(ctx context.Context, tx *sql.Tx, table string, upserts []MappingUpdate, deletes []string) error {
	for _, u := range upserts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO row_mappings (table_name, record_key, row_index, content_hash)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(table_name, record_key) DO UPDATE SET
				row_index = excluded.row_index,
				content_hash = excluded.content_hash`,
			table, u.Key, u.RowIndex, u.ContentHash)
		if err != nil {
			return fmt.Errorf("upsert mapping %s/%s: %w", table, u.Key, err)
		}
	}
	for _, key := range deletes {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM row_mappings WHERE table_name = ? AND record_key = ?`, table, key)
		if err != nil {
			return fmt.Errorf("delete mapping %s/%s: %w", table, key, err)
		}
	}
	return nil
}

// CommitSync records a successful sync as one logical transaction: the
// candidate fingerprint becomes the committed one, the sync timestamp is
// set, the failure counter resets, and any remaining mapping changes are
// applied.
func (s *Store) CommitSync(ctx context.Context, fp source.Fingerprint, syncedAt time.Time, upserts []MappingUpdate, deletes []string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO table_state (table_name, digest, row_count, computed_at, last_synced_at, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(table_name) DO UPDATE SET
			digest = excluded.digest,
			row_count = excluded.row_count,
			computed_at = excluded.computed_at,
			last_synced_at = excluded.last_synced_at,
			consecutive_failures = 0`,
		fp.Table, fp.Digest, fp.RowCount,
		fp.ComputedAt.UTC().Format(time.RFC3339Nano),
		syncedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("commit state of %s: %w", fp.Table, err)
	}

	if err := applyMappingsTx(ctx, tx, fp.Table, upserts, deletes); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync transaction: %w", err)
	}
	return nil
}

// RecordFailure increments a table's consecutive failure count, leaving
// the committed fingerprint untouched so the change stays pending.
// Returns the new count.
func (s *Store) RecordFailure(ctx context.Context, table string) (int, error) {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO table_state (table_name, consecutive_failures)
		VALUES (?, 1)
		ON CONFLICT(table_name) DO UPDATE SET
			consecutive_failures = consecutive_failures + 1`, table)
	if err != nil {
		return 0, fmt.Errorf("record failure of %s: %w", table, err)
	}

	var count int
	err = s.conn.QueryRowContext(ctx,
		`SELECT consecutive_failures FROM table_state WHERE table_name = ?`, table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("read failure count of %s: %w", table, err)
	}
	return count, nil
}

// MappingCount returns the number of persisted mappings for a table.
func (s *Store) MappingCount(ctx context.Context, table string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM row_mappings WHERE table_name = ?`, table).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mappings of %s: %w", table, err)
	}
	return count, nil
}

func parseTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
