package repository

import (
	"database/sql"
	"time"
)

// settingsCacheKey addresses the single cached configuration row
const settingsCacheKey = "converter_config"

// SettingsRepository persists the cached converter configuration
type SettingsRepository struct {
	db *DB
}

// NewSettingsRepository creates a new settings repository
func NewSettingsRepository(db *DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetCache returns the cached configuration JSON and when it was
// fetched. ok is false when no cache row exists.
func (r *SettingsRepository) GetCache() (raw string, fetchedAt time.Time, ok bool, err error) {
	err = r.db.QueryRow(`
		SELECT config, fetched_at FROM settings_cache WHERE key = ?
	`, settingsCacheKey).Scan(&raw, &fetchedAt)

	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, err
	}

	return raw, fetchedAt, true, nil
}

// PutCache replaces the cached configuration
func (r *SettingsRepository) PutCache(raw string, fetchedAt time.Time) error {
	_, err := r.db.Exec(`
		INSERT INTO settings_cache (key, config, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET config = excluded.config, fetched_at = excluded.fetched_at
	`, settingsCacheKey, raw, fetchedAt)
	return err
}
