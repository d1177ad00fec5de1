package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// SQLite is the Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection serializes writers and keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			tick_count INTEGER NOT NULL DEFAULT 0,
			last_tick_at INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS entities (
			world_id TEXT NOT NULL REFERENCES worlds(id),
			kind TEXT NOT NULL,
			id INTEGER NOT NULL,
			version INTEGER NOT NULL,
			schema INTEGER NOT NULL,
			payload BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, kind, id)
		);`,
		`CREATE TABLE IF NOT EXISTS sequences (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS base_tiles (
			world_id TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			base_id INTEGER NOT NULL,
			PRIMARY KEY (world_id, x, y)
		);`,
		`CREATE TABLE IF NOT EXISTS combat_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			attacker_kind TEXT NOT NULL,
			attacker_id INTEGER NOT NULL,
			defender_kind TEXT NOT NULL,
			defender_id INTEGER NOT NULL,
			damage INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS combat_log_world ON combat_log(world_id, id);`,
		`CREATE TRIGGER IF NOT EXISTS combat_log_no_update BEFORE UPDATE ON combat_log
			BEGIN SELECT RAISE(ABORT, 'combat_log is append-only'); END;`,
		`CREATE TRIGGER IF NOT EXISTS combat_log_no_delete BEFORE DELETE ON combat_log
			BEGIN SELECT RAISE(ABORT, 'combat_log is append-only'); END;`,
		`CREATE TABLE IF NOT EXISTS claim_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			base_id INTEGER NOT NULL,
			submitted_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tick_leases (
			world_id TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			token TEXT NOT NULL,
			expires_at INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// unavailable tags an I/O failure so callers can tell it from a conflict.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrVersionConflict) || errors.Is(err, types.ErrNotFound) ||
		errors.Is(err, types.ErrLeaseLost) || errors.Is(err, types.ErrLeaseUnavailable) ||
		errors.Is(err, types.ErrInvalidAction) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// nextID hands out ids for units and bases inside tx.
func nextID(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, `INSERT INTO sequences(name, value) VALUES(?, 0) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `UPDATE sequences SET value = value + 1 WHERE name = ? RETURNING value`, name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
