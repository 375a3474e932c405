// Package sqlite implements the repository contract on an embedded
// sqlite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store owns the database handle and hands out the per-aggregate repos.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and runs forward
// migrations. Pass ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent
	// ticks; sqlite serializes writes anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Games() *GameRepo           { return &GameRepo{db: s.db} }
func (s *Store) Players() *PlayerRepo       { return &PlayerRepo{db: s.db} }
func (s *Store) Targets() *TargetRepo       { return &TargetRepo{db: s.db} }
func (s *Store) Kills() *KillRepo           { return &KillRepo{db: s.db} }
func (s *Store) Locations() *LocationRepo   { return &LocationRepo{db: s.db} }
func (s *Store) Heartbeats() *HeartbeatRepo { return &HeartbeatRepo{db: s.db} }
func (s *Store) OperatorTxs() *OperatorRepo { return &OperatorRepo{db: s.db} }
func (s *Store) Photos() *PhotoRepo         { return &PhotoRepo{db: s.db} }
func (s *Store) Sync() *SyncRepo            { return &SyncRepo{db: s.db} }

// migrations run forward-only; index+1 is the schema version. Each entry
// commits atomically with its version bump.
var migrations = []string{
	// v1: initial schema
	`
	CREATE TABLE games (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		creator TEXT NOT NULL,
		entry_fee_wei TEXT NOT NULL DEFAULT '0',
		base_reward_wei TEXT NOT NULL DEFAULT '0',
		bps_first INTEGER NOT NULL DEFAULT 0,
		bps_second INTEGER NOT NULL DEFAULT 0,
		bps_third INTEGER NOT NULL DEFAULT 0,
		bps_kills INTEGER NOT NULL DEFAULT 0,
		bps_creator INTEGER NOT NULL DEFAULT 0,
		center_lat_e6 INTEGER NOT NULL DEFAULT 0,
		center_lng_e6 INTEGER NOT NULL DEFAULT 0,
		meet_lat_e6 INTEGER NOT NULL DEFAULT 0,
		meet_lng_e6 INTEGER NOT NULL DEFAULT 0,
		reg_deadline INTEGER NOT NULL DEFAULT 0,
		game_date INTEGER NOT NULL DEFAULT 0,
		max_duration INTEGER NOT NULL DEFAULT 0,
		min_players INTEGER NOT NULL DEFAULT 0,
		max_players INTEGER NOT NULL DEFAULT 0,
		player_count INTEGER NOT NULL DEFAULT 0,
		total_wei TEXT NOT NULL DEFAULT '0',
		phase TEXT NOT NULL,
		sub_phase TEXT NOT NULL DEFAULT '',
		sub_phase_at INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER NOT NULL DEFAULT 0,
		winner1 TEXT NOT NULL DEFAULT '',
		winner2 TEXT NOT NULL DEFAULT '',
		winner3 TEXT NOT NULL DEFAULT '',
		top_killer TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE zone_shrinks (
		game_id INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		at_second INTEGER NOT NULL,
		radius_meters INTEGER NOT NULL,
		PRIMARY KEY (game_id, idx)
	);

	CREATE TABLE players (
		game_id INTEGER NOT NULL,
		address TEXT NOT NULL COLLATE NOCASE,
		number INTEGER NOT NULL,
		is_alive INTEGER NOT NULL DEFAULT 1,
		kills INTEGER NOT NULL DEFAULT 0,
		checked_in INTEGER NOT NULL DEFAULT 0,
		bluetooth_id TEXT NOT NULL DEFAULT '',
		last_heartbeat_at INTEGER NOT NULL DEFAULT 0,
		eliminated_at INTEGER NOT NULL DEFAULT 0,
		eliminated_by TEXT NOT NULL DEFAULT '',
		eliminated_for TEXT NOT NULL DEFAULT '',
		has_claimed INTEGER NOT NULL DEFAULT 0,
		registered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (game_id, address)
	);
	CREATE UNIQUE INDEX players_by_number ON players (game_id, number);

	CREATE TABLE target_assignments (
		game_id INTEGER NOT NULL,
		hunter TEXT NOT NULL COLLATE NOCASE,
		target TEXT NOT NULL COLLATE NOCASE,
		PRIMARY KEY (game_id, hunter)
	);

	CREATE TABLE kills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL,
		hunter TEXT NOT NULL COLLATE NOCASE,
		target TEXT NOT NULL COLLATE NOCASE,
		timestamp INTEGER NOT NULL,
		hunter_lat_e6 INTEGER NOT NULL DEFAULT 0,
		hunter_lng_e6 INTEGER NOT NULL DEFAULT 0,
		target_lat_e6 INTEGER NOT NULL DEFAULT 0,
		target_lng_e6 INTEGER NOT NULL DEFAULT 0,
		distance_m REAL NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX kills_by_game ON kills (game_id, timestamp);

	CREATE TABLE heartbeat_scans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL,
		scanner TEXT NOT NULL COLLATE NOCASE,
		scanned TEXT NOT NULL COLLATE NOCASE,
		timestamp INTEGER NOT NULL,
		scanner_lat_e6 INTEGER NOT NULL DEFAULT 0,
		scanner_lng_e6 INTEGER NOT NULL DEFAULT 0,
		distance_m REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE location_pings (
		game_id INTEGER NOT NULL,
		address TEXT NOT NULL COLLATE NOCASE,
		lat_e6 INTEGER NOT NULL,
		lng_e6 INTEGER NOT NULL,
		timestamp INTEGER NOT NULL,
		in_zone INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (game_id, address)
	);

	CREATE TABLE operator_txs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL,
		action TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'pending',
		tx_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		confirmed_at INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX operator_txs_status ON operator_txs (status);

	CREATE TABLE game_photos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		game_id INTEGER NOT NULL,
		address TEXT NOT NULL COLLATE NOCASE,
		kill_id INTEGER NOT NULL DEFAULT 0,
		uri TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`,
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("init schema_version: %w", err)
		}
		version = 0
	} else if err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this binary supports (%d)", version, len(migrations))
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`UPDATE schema_version SET version = ?`, i+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("bump schema_version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
		log.Info().Int("version", i+1).Msg("Applied schema migration")
	}
	return nil
}

// execer abstracts *sql.DB and *sql.Tx so repo helpers can run inside the
// composite elimination transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
