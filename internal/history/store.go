// Package history keeps the capped record of completed conversions.
// The canonical list lives in memory and every mutation is written
// through to the repository; view operations (search, filter, sort)
// compute projections and never touch the canonical list.
package history

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/inkmd/inkmd/internal/domain"
	"go.uber.org/zap"
)

// Repository is the persistence surface the store needs
type Repository interface {
	Insert(item *domain.HistoryItem) error
	List(limit int) ([]*domain.HistoryItem, error)
	Delete(id int64) error
	DeleteAll() error
	UpdateFavorite(id int64, favorite bool) error
	UpdateTags(id int64, tags []string) error
	TrimToCap(keep int) error
}

// Store holds the conversion history, newest first, capped
type Store struct {
	mu     sync.Mutex
	items  []*domain.HistoryItem
	cap    int
	lastID int64
	repo   Repository
	logger *zap.Logger
}

// NewStore creates a history store and loads persisted items
func NewStore(repo Repository, cap int, logger *zap.Logger) (*Store, error) {
	if cap <= 0 {
		cap = domain.HistoryCap
	}
	s := &Store{cap: cap, repo: repo, logger: logger}

	if repo != nil {
		items, err := repo.List(cap)
		if err != nil {
			return nil, err
		}
		s.items = items
		for _, item := range items {
			if item.ID > s.lastID {
				s.lastID = item.ID
			}
		}
	}

	return s, nil
}

// Add prepends a completed conversion and evicts beyond the cap.
// IDs are time-based and strictly increasing within the process.
func (s *Store) Add(filename, markdown string, fileSize int64, pageCount int) *domain.HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := time.Now().UnixMilli()
	if id <= s.lastID {
		id = s.lastID + 1
	}
	s.lastID = id

	item := &domain.HistoryItem{
		ID:        id,
		Filename:  filename,
		Markdown:  markdown,
		FileSize:  fileSize,
		PageCount: pageCount,
		Timestamp: time.Now(),
		Tags:      []string{},
	}

	s.items = append([]*domain.HistoryItem{item}, s.items...)
	if len(s.items) > s.cap {
		s.items = s.items[:s.cap]
	}

	if s.repo != nil {
		if err := s.repo.Insert(item); err != nil {
			s.logger.Warn("failed to persist history item", zap.Error(err))
		} else if err := s.repo.TrimToCap(s.cap); err != nil {
			s.logger.Warn("failed to trim history", zap.Error(err))
		}
	}

	return item
}

// Delete removes one item
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	kept := s.items[:0]
	for _, item := range s.items {
		if item.ID == id {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		return domain.ErrNotFound
	}
	s.items = kept

	if s.repo != nil {
		if err := s.repo.Delete(id); err != nil {
			s.logger.Warn("failed to delete history item", zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

// Clear removes everything
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = nil
	if s.repo != nil {
		if err := s.repo.DeleteAll(); err != nil {
			s.logger.Warn("failed to clear history", zap.Error(err))
		}
	}
}

// SetFavorite toggles the favorite flag
func (s *Store) SetFavorite(id int64, favorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(id)
	if item == nil {
		return domain.ErrNotFound
	}
	item.Favorite = favorite

	if s.repo != nil {
		if err := s.repo.UpdateFavorite(id, favorite); err != nil {
			s.logger.Warn("failed to persist favorite", zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

// SetTags replaces the tags on an item
func (s *Store) SetTags(id int64, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.find(id)
	if item == nil {
		return domain.ErrNotFound
	}
	item.Tags = append([]string(nil), tags...)

	if s.repo != nil {
		if err := s.repo.UpdateTags(id, tags); err != nil {
			s.logger.Warn("failed to persist tags", zap.Int64("id", id), zap.Error(err))
		}
	}
	return nil
}

// Len returns the number of stored items
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Query returns the visible projection for the given search, filter
// and sort parameters. The returned items are copies.
func (s *Store) Query(q domain.HistoryQuery) []*domain.HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.HistoryItem
	needle := strings.ToLower(strings.TrimSpace(q.Search))
	cutoff := time.Now().Add(-24 * time.Hour)

	for _, item := range s.items {
		if needle != "" && !matches(item, needle) {
			continue
		}
		switch q.Filter {
		case domain.HistoryFilterFavorites:
			if !item.Favorite {
				continue
			}
		case domain.HistoryFilterRecent:
			if item.Timestamp.Before(cutoff) {
				continue
			}
		}
		clone := *item
		clone.Tags = append([]string(nil), item.Tags...)
		out = append(out, &clone)
	}

	sortItems(out, q)
	return out
}

// Statistics summarizes the stored history
func (s *Store) Statistics() domain.Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := domain.Statistics{TotalConversions: len(s.items)}
	for _, item := range s.items {
		stats.TotalPages += item.PageCount
		stats.TotalBytes += item.FileSize
		if item.Favorite {
			stats.Favorites++
		}
	}
	return stats
}

func (s *Store) find(id int64) *domain.HistoryItem {
	for _, item := range s.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func matches(item *domain.HistoryItem, needle string) bool {
	if strings.Contains(strings.ToLower(item.Filename), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(item.Markdown), needle) {
		return true
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

func sortItems(items []*domain.HistoryItem, q domain.HistoryQuery) {
	less := func(a, b *domain.HistoryItem) bool {
		switch q.SortBy {
		case domain.HistorySortName:
			return strings.ToLower(a.Filename) < strings.ToLower(b.Filename)
		case domain.HistorySortSize:
			return a.FileSize < b.FileSize
		default:
			return a.Timestamp.Before(b.Timestamp)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if q.Ascending {
			return less(items[i], items[j])
		}
		return less(items[j], items[i])
	})
}
