package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/inkmd/inkmd/internal/domain"
	"github.com/inkmd/inkmd/internal/history"
)

// HistoryHandler exposes the conversion history
type HistoryHandler struct {
	store *history.Store
}

// NewHistoryHandler creates a history handler
func NewHistoryHandler(store *history.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// RegisterRoutes registers history routes
func (h *HistoryHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.List)
	r.DELETE("", h.Clear)
	r.DELETE("/:id", h.Delete)
	r.POST("/:id/favorite", h.SetFavorite)
	r.PUT("/:id/tags", h.SetTags)
}

// List returns the visible history projection
func (h *HistoryHandler) List(c *gin.Context) {
	query := domain.HistoryQuery{
		Search:    c.Query("q"),
		Filter:    c.DefaultQuery("filter", domain.HistoryFilterAll),
		SortBy:    c.DefaultQuery("sort", domain.HistorySortDate),
		Ascending: c.Query("order") == "asc",
	}

	items := h.store.Query(query)
	c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
}

// Delete removes one history item
func (h *HistoryHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history id"})
		return
	}

	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history item deleted"})
}

// Clear removes all history items
func (h *HistoryHandler) Clear(c *gin.Context) {
	h.store.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

type favoriteRequest struct {
	Favorite bool `json:"favorite"`
}

// SetFavorite toggles the favorite flag on an item
func (h *HistoryHandler) SetFavorite(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history id"})
		return
	}

	var req favoriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SetFavorite(id, req.Favorite); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "favorite updated"})
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

// SetTags replaces the tags on an item
func (h *HistoryHandler) SetTags(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid history id"})
		return
	}

	var req tagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SetTags(id, req.Tags); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "history item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tags updated"})
}

// GetStatistics summarizes the stored history
func (h *HistoryHandler) GetStatistics(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Statistics())
}
