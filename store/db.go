// Package store is the sqlite-backed persistence layer for the data model
// in spec §3: models, providers, API keys, and system settings. It is the
// durable source of truth the Policy Engine and the Local Model Lifecycle
// Manager mutate under explicit transactions (spec §5).
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps a sqlite connection configured for a single writer with WAL
// journaling, matching the teacher pack's sqlite store conventions.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations. path may be ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under WAL for this process's own
	// connection pool; readers still benefit from WAL's concurrent reads.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		category TEXT NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		model_path TEXT NOT NULL DEFAULT '',
		model_format TEXT NOT NULL DEFAULT 'torch',
		context_window INTEGER NOT NULL DEFAULT 4096,
		is_active INTEGER NOT NULL DEFAULT 0,
		is_default INTEGER NOT NULL DEFAULT 0,
		is_embedding_model INTEGER NOT NULL DEFAULT 0,
		external_provider_id INTEGER,
		tensor_parallel_size INTEGER NOT NULL DEFAULT 1,
		config TEXT NOT NULL DEFAULT '{}',
		FOREIGN KEY(external_provider_id) REFERENCES providers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		provider_id INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1,
		secret TEXT NOT NULL DEFAULT '',
		FOREIGN KEY(provider_id) REFERENCES providers(id)
	)`,
	`CREATE TABLE IF NOT EXISTS system_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	)`,
}

func (d *DB) migrate() error {
	for _, stmt := range migrations {
		if _, err := d.conn.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting row-mapping
// helpers be shared between single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic. Callers that need atomic multi-table
// mutations (the Policy Engine's cascades, the LMLM's activation-transition
// clear-then-set) use this instead of issuing bare statements.
func (d *DB) WithTx(fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
