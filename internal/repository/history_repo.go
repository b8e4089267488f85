package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/inkmd/inkmd/internal/domain"
)

// HistoryRepository handles history item persistence
type HistoryRepository struct {
	db *DB
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Insert stores a new history item
func (r *HistoryRepository) Insert(item *domain.HistoryItem) error {
	tagsJSON, _ := json.Marshal(item.Tags)

	_, err := r.db.Exec(`
		INSERT INTO history_items (id, filename, markdown, file_size, page_count, timestamp, tags, favorite)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.Filename, item.Markdown, item.FileSize, item.PageCount,
		touchTimestamp(item.Timestamp), string(tagsJSON), item.Favorite)

	return err
}

// List retrieves the most recent items, newest first
func (r *HistoryRepository) List(limit int) ([]*domain.HistoryItem, error) {
	rows, err := r.db.Query(`
		SELECT id, filename, markdown, file_size, page_count, timestamp, tags, favorite
		FROM history_items ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.HistoryItem
	for rows.Next() {
		item := &domain.HistoryItem{}
		var tagsJSON string

		if err := rows.Scan(&item.ID, &item.Filename, &item.Markdown, &item.FileSize,
			&item.PageCount, &item.Timestamp, &tagsJSON, &item.Favorite); err != nil {
			return nil, err
		}

		if tagsJSON != "" {
			json.Unmarshal([]byte(tagsJSON), &item.Tags)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// Get retrieves one item by ID
func (r *HistoryRepository) Get(id int64) (*domain.HistoryItem, error) {
	item := &domain.HistoryItem{}
	var tagsJSON string

	err := r.db.QueryRow(`
		SELECT id, filename, markdown, file_size, page_count, timestamp, tags, favorite
		FROM history_items WHERE id = ?
	`, id).Scan(&item.ID, &item.Filename, &item.Markdown, &item.FileSize,
		&item.PageCount, &item.Timestamp, &tagsJSON, &item.Favorite)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if tagsJSON != "" {
		json.Unmarshal([]byte(tagsJSON), &item.Tags)
	}

	return item, nil
}

// Delete removes one item
func (r *HistoryRepository) Delete(id int64) error {
	result, err := r.db.Exec(`DELETE FROM history_items WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("history item not found: %d", id)
	}

	return nil
}

// DeleteAll removes every item
func (r *HistoryRepository) DeleteAll() error {
	_, err := r.db.Exec(`DELETE FROM history_items`)
	return err
}

// UpdateFavorite sets the favorite flag for an item
func (r *HistoryRepository) UpdateFavorite(id int64, favorite bool) error {
	_, err := r.db.Exec(`UPDATE history_items SET favorite = ? WHERE id = ?`, favorite, id)
	return err
}

// UpdateTags replaces the tags for an item
func (r *HistoryRepository) UpdateTags(id int64, tags []string) error {
	tagsJSON, _ := json.Marshal(tags)
	_, err := r.db.Exec(`UPDATE history_items SET tags = ? WHERE id = ?`, string(tagsJSON), id)
	return err
}

// TrimToCap removes the oldest rows beyond keep entries
func (r *HistoryRepository) TrimToCap(keep int) error {
	_, err := r.db.Exec(`
		DELETE FROM history_items WHERE id NOT IN (
			SELECT id FROM history_items ORDER BY id DESC LIMIT ?
		)
	`, keep)
	return err
}

// touchTimestamp normalizes zero timestamps on insert
func touchTimestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
