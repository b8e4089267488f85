package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkmd/inkmd/internal/domain"
	"github.com/inkmd/inkmd/internal/settings"
)

// SettingsHandler exposes the merged converter configuration
type SettingsHandler struct {
	sync *settings.Synchronizer
}

// NewSettingsHandler creates a settings handler
func NewSettingsHandler(sync *settings.Synchronizer) *SettingsHandler {
	return &SettingsHandler{sync: sync}
}

// RegisterRoutes registers settings routes
func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.Get)
	r.PATCH("", h.UpdateField)
	r.DELETE("/overrides/:path", h.RemoveOverride)
	r.POST("/save", h.Save)
	r.POST("/validate", h.Validate)
}

// Get returns the current merged configuration
func (h *SettingsHandler) Get(c *gin.Context) {
	cfg, err := h.sync.Load(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type updateFieldRequest struct {
	Path  string `json:"path" binding:"required"`
	Value any    `json:"value"`
}

// UpdateField applies one dotted-path edit
func (h *SettingsHandler) UpdateField(c *gin.Context) {
	var req updateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := h.sync.UpdateField(c.Request.Context(), req.Path, req.Value)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// RemoveOverride deletes one persisted provider override, restoring
// the backend's canonical value for that field
func (h *SettingsHandler) RemoveOverride(c *gin.Context) {
	cfg, err := h.sync.RemoveOverride(c.Request.Context(), c.Param("path"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// Save submits the whole configuration to the backend
func (h *SettingsHandler) Save(c *gin.Context) {
	force := c.Query("force") == "true"

	result, err := h.sync.Save(c.Request.Context(), force)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !result.Saved {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Validate returns the advisory configuration issues
func (h *SettingsHandler) Validate(c *gin.Context) {
	issues, err := h.sync.Validate(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues, "valid": len(issues) == 0})
}

type testProvidersRequest struct {
	ProviderID string `json:"provider_id"`
}

// TestProviders proxies a provider connectivity test to the backend
func (h *SettingsHandler) TestProviders(c *gin.Context) {
	var req testProvidersRequest
	// An empty body tests every configured provider.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	results, err := h.sync.TestProviders(c.Request.Context(), req.ProviderID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
