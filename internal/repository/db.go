package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// NewDB creates a new database connection
func NewDB(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Run migrations
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DB{db}, nil
}

func runMigrations(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS history_items (
			id INTEGER PRIMARY KEY,
			filename TEXT NOT NULL,
			markdown TEXT NOT NULL,
			file_size INTEGER DEFAULT 0,
			page_count INTEGER DEFAULT 0,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			tags TEXT,
			favorite INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS settings_cache (
			key TEXT PRIMARY KEY,
			config TEXT NOT NULL,
			fetched_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_timestamp ON history_items(timestamp)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}
