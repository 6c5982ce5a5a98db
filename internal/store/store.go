// Package store is the durable key-value-style persistence layer: the
// latest odds snapshot per event, and an append-only log of detected
// arbitrage opportunities. Backed by an embedded SQLite database (pure-Go
// driver, no cgo), following the single-writer-connection pattern the
// teacher repo uses for its own embedded stores.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/charleschow/arbfinder/internal/core/odds"
	"github.com/charleschow/arbfinder/internal/telemetry"
)

// schemaVersion is the current integer schema version, tracked in the
// one-row meta table per spec.md §6 ("Schema versioned by an integer in a
// one-row meta table; on mismatch, an upgrade path runs before first
// refresh.").
const schemaVersion = 1

// Store persists the latest per-event odds snapshot and the append-only
// opportunities log. Writers are serialised through a single connection
// (SetMaxOpenConns(1)); readers may observe the store concurrently since
// they funnel through the same serialised connection pool, giving
// call-level read consistency for free.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, applies the
// schema, and runs any pending migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &odds.StoreError{Op: "open", Cause: fmt.Errorf("create store dir: %w", err)}
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &odds.StoreError{Op: "open", Cause: err}
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return &odds.StoreError{Op: "migrate", Cause: fmt.Errorf("apply schema: %w", err)}
	}

	var version int
	row := s.db.QueryRow(`SELECT version FROM meta WHERE id = 1`)
	switch err := row.Scan(&version); {
	case err == sql.ErrNoRows:
		if _, err := s.db.Exec(`INSERT INTO meta (id, version) VALUES (1, ?)`, schemaVersion); err != nil {
			return &odds.StoreError{Op: "migrate", Cause: fmt.Errorf("seed meta: %w", err)}
		}
	case err != nil:
		return &odds.StoreError{Op: "migrate", Cause: err}
	case version < schemaVersion:
		// No upgrades defined yet beyond v1 — this branch is where a
		// future ALTER TABLE/backfill sequence would run.
		if _, err := s.db.Exec(`UPDATE meta SET version = ? WHERE id = 1`, schemaVersion); err != nil {
			return &odds.StoreError{Op: "migrate", Cause: fmt.Errorf("bump meta version: %w", err)}
		}
		telemetry.Infof("store: upgraded schema from v%d to v%d", version, schemaVersion)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS latest_events (
	fingerprint   TEXT PRIMARY KEY,
	sport_key     TEXT NOT NULL,
	commence_time TEXT NOT NULL,
	home_team     TEXT NOT NULL,
	away_team     TEXT NOT NULL,
	payload       TEXT NOT NULL,
	replaced_at   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_latest_events_sport ON latest_events(sport_key);

CREATE TABLE IF NOT EXISTS opportunities_log (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	sport_key           TEXT NOT NULL,
	commence_time       TEXT NOT NULL,
	home_team           TEXT NOT NULL,
	away_team           TEXT NOT NULL,
	market              TEXT NOT NULL,
	minute_bucket       TEXT NOT NULL UNIQUE,
	profit_pct          REAL NOT NULL,
	total_implied_prob  REAL NOT NULL,
	detected_at         TEXT NOT NULL,
	payload             TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected ON opportunities_log(detected_at DESC, sport_key, profit_pct DESC);
`

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which is re-raised after rollback).
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &odds.StoreError{Op: op, Cause: err}
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return &odds.StoreError{Op: op, Cause: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
