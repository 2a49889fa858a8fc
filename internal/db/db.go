// Package db provides the sqlite connection and schema for borrowd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	// Action ledger: one row per dispatch outcome. A dispatch logs
	// started and then completed or failed, so there is no unique
	// constraint on the key alone.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS action_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			action TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			resource TEXT,
			request_id INTEGER,
			idempotency_key TEXT,
			error_kind TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_action_ledger_ts ON action_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_action_ledger_user ON action_ledger(user_id, timestamp);
		CREATE INDEX IF NOT EXISTS idx_action_ledger_idempotency ON action_ledger(idempotency_key, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create action_ledger table: %w", err)
	}

	// First completion per idempotency key wins.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_action_ledger_completed
		ON action_ledger(idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '' AND event_type = 'action_completed';
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_action_ledger_completed index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
