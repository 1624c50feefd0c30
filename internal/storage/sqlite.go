// Package storage provides the engine's persistence backends: a shared
// SQLite database for the durable work queues and the event log, and a
// JSON-file content store for authored world content.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the engine database at path and
// initializes pragmas and schema. The pool is capped at one connection;
// SQLite serializes writers anyway and a single connection avoids busy
// errors under concurrent workers.
func OpenSQLite(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
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
	return db, nil
}

func initPragmas(db *sql.DB) error {
	for _, p := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("applying %s: %w", p, err)
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			world_id TEXT NOT NULL DEFAULT '',
			payload TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_world ON events(world_id, id)`,
		`CREATE TABLE IF NOT EXISTS queue_items (
			id TEXT PRIMARY KEY,
			queue TEXT NOT NULL,
			world_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_ready ON queue_items(queue, status, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_items_world ON queue_items(queue, world_id)`,
		`CREATE TABLE IF NOT EXISTS world_flags (
			world_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value INTEGER NOT NULL,
			PRIMARY KEY (world_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS world_toggles (
			world_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			target_id TEXT NOT NULL,
			enabled INTEGER NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (world_id, kind, target_id)
		)`,
		`CREATE TABLE IF NOT EXISTS world_items (
			world_id TEXT NOT NULL,
			character_id TEXT NOT NULL,
			item_name TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			PRIMARY KEY (world_id, character_id, item_name)
		)`,
		`CREATE TABLE IF NOT EXISTS world_relationships (
			world_id TEXT NOT NULL,
			from_character TEXT NOT NULL,
			to_character TEXT NOT NULL,
			sentiment INTEGER NOT NULL,
			PRIMARY KEY (world_id, from_character, to_character)
		)`,
		`CREATE TABLE IF NOT EXISTS world_stats (
			world_id TEXT NOT NULL,
			character_id TEXT NOT NULL,
			stat_name TEXT NOT NULL,
			value INTEGER NOT NULL,
			PRIMARY KEY (world_id, character_id, stat_name)
		)`,
		`CREATE TABLE IF NOT EXISTS world_scenes (
			world_id TEXT PRIMARY KEY,
			current_scene TEXT NOT NULL DEFAULT '',
			current_location TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS world_staging (
			world_id TEXT NOT NULL,
			region_id TEXT NOT NULL,
			npcs TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (world_id, region_id)
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("initializing schema: %w", err)
		}
	}
	return nil
}
