package domain

import "time"

// HistoryCap is the maximum number of retained conversions. Inserting
// beyond the cap evicts the oldest entries.
const HistoryCap = 50

// HistoryItem is one completed conversion kept in the history store
type HistoryItem struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Markdown  string    `json:"markdown"`
	FileSize  int64     `json:"file_size"`
	PageCount int       `json:"page_count"`
	Timestamp time.Time `json:"timestamp"`
	Tags      []string  `json:"tags"`
	Favorite  bool      `json:"favorite"`
}

// History filter constants
const (
	HistoryFilterAll       = "all"
	HistoryFilterFavorites = "favorites"
	HistoryFilterRecent    = "recent"
)

// History sort field constants
const (
	HistorySortDate = "date"
	HistorySortName = "name"
	HistorySortSize = "size"
)

// HistoryQuery selects and orders a view over the history items. The
// zero value means "everything, newest first".
type HistoryQuery struct {
	Search string
	Filter string
	SortBy string
	// Ascending flips the sort direction; default is descending.
	Ascending bool
}

// Statistics summarizes the stored conversion history
type Statistics struct {
	TotalConversions int   `json:"total_conversions"`
	TotalPages       int   `json:"total_pages"`
	TotalBytes       int64 `json:"total_bytes"`
	Favorites        int   `json:"favorites"`
}
