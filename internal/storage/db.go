// Package storage provides the shared SQLite-backed store used by the Disk
// cache tier's metadata index and the lock file audit trail. The schema
// also creates events and scope_versions tables, which no package in the
// module reads or writes. It follows the embedded-schema + versioned-migration
// pattern the rest of this codebase uses for its SQLite stores.
package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/002_add_cache_compression.sql
var migration002 string

// DB wraps a SQLite connection shared by storage-backed components.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates (or opens) the SQLite database at path, creating parent
// directories and running schema migrations as needed.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage db: %w", err)
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set %s: %w", pragma, err)
		}
	}

	db := &DB{conn: conn, path: path}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate storage db: %w", err)
	}
	return db, nil
}

func (d *DB) migrate() error {
	if _, err := d.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute base schema: %w", err)
	}

	var version int
	err := d.conn.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version < 2 {
		log.Println("[STORAGE] running migration to v2: add cache_entries.compression_ratio")
		if _, err := d.conn.Exec(migration002); err != nil {
			return fmt.Errorf("failed to run migration 002: %w", err)
		}
		log.Println("[STORAGE] migrated storage db to schema v2")
	}

	return nil
}

// Conn returns the underlying *sql.DB for package-specific queries.
func (d *DB) Conn() *sql.DB { return d.conn }

// Close closes the database connection.
func (d *DB) Close() error {
	if d.conn != nil {
		return d.conn.Close()
	}
	return nil
}

// WithTx runs fn within a transaction, rolling back on error.
func (d *DB) WithTx(fn func(*sql.Tx) error) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// NullString converts an empty string to sql.NullString, matching the
// convention used throughout this codebase's SQLite-backed stores.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
