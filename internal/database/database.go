// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database opens the sqlite store that backs the strike ledger and
// the hunter's search history, and applies schema migrations on startup.
package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// New opens (creating if necessary) the database at path and migrates it.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Serialize writes through a single connection; sqlite locks the whole
	// file anyway and this keeps Observe's read-modify-write atomic.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{DB: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("Database opened")
	return db, nil
}

// NewInMemory opens a throwaway in-memory database. Test helper.
func NewInMemory() (*DB, error) {
	return New(":memory:")
}

func (db *DB) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS strike_records (
	identity          TEXT PRIMARY KEY,
	issue_kind        TEXT NOT NULL,
	count             INTEGER NOT NULL CHECK (count >= 1),
	first_observed_at TIMESTAMP NOT NULL,
	last_observed_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_strike_records_last_observed
	ON strike_records (last_observed_at);

CREATE TABLE IF NOT EXISTS search_history (
	manager     TEXT NOT NULL,
	item_id     INTEGER NOT NULL,
	searched_at TIMESTAMP NOT NULL,
	PRIMARY KEY (manager, item_id)
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
