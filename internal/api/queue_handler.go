package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/inkmd/inkmd/internal/convert"
	"github.com/inkmd/inkmd/internal/domain"
	"github.com/inkmd/inkmd/internal/queue"
)

// QueueView is the wire shape of one queue snapshot
type QueueView struct {
	Files              []*domain.FileRecord `json:"files"`
	Pending            []string             `json:"pending"`
	Active             string               `json:"active,omitempty"`
	ActiveConversionID string               `json:"active_conversion_id,omitempty"`
	IsProcessing       bool                 `json:"is_processing"`
}

func snapshotView(state queue.State) QueueView {
	view := QueueView{
		Files:              make([]*domain.FileRecord, 0, len(state.Order)),
		Pending:            state.Pending,
		Active:             state.Active,
		ActiveConversionID: state.ActiveConversionID,
		IsProcessing:       state.IsProcessing(),
	}
	for _, name := range state.Order {
		if r := state.Record(name); r != nil {
			view.Files = append(view.Files, r)
		}
	}
	return view
}

// QueueHandler exposes the conversion queue
type QueueHandler struct {
	controller *convert.Controller
}

// NewQueueHandler creates a queue handler
func NewQueueHandler(controller *convert.Controller) *QueueHandler {
	return &QueueHandler{controller: controller}
}

// RegisterRoutes registers queue routes
func (h *QueueHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("", h.GetQueue)
	r.DELETE("", h.ClearAll)
	r.POST("/files", h.AddFiles)
	r.DELETE("/files/:name", h.RemoveFile)
	r.POST("/files/:name/retry", h.RetryFile)
	r.POST("/clear-completed", h.ClearCompleted)
}

// GetQueue returns the current queue snapshot
func (h *QueueHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, snapshotView(h.controller.Snapshot()))
}

// AddFiles enqueues an upload batch
func (h *QueueHandler) AddFiles(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form is required"})
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files uploaded"})
		return
	}

	files := make([]domain.IncomingFile, 0, len(headers))
	for _, header := range headers {
		src, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read " + header.Filename})
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read " + header.Filename})
			return
		}

		files = append(files, domain.IncomingFile{
			Name:     header.Filename,
			Size:     header.Size,
			MimeType: header.Header.Get("Content-Type"),
			Data:     data,
		})
	}

	replace := c.PostForm("replace") == "true"
	if err := h.controller.AddFiles(files, replace); err != nil {
		if errors.Is(err, domain.ErrNoSupportedFiles) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "please upload PDF files"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, snapshotView(h.controller.Snapshot()))
}

// RemoveFile removes one file from the queue
func (h *QueueHandler) RemoveFile(c *gin.Context) {
	name := c.Param("name")
	if err := h.controller.Remove(name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshotView(h.controller.Snapshot()))
}

// RetryFile requeues an errored file at the front of the queue
func (h *QueueHandler) RetryFile(c *gin.Context) {
	name := c.Param("name")
	if err := h.controller.Retry(name); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		case errors.Is(err, domain.ErrNotRetryable):
			c.JSON(http.StatusConflict, gin.H{"error": "only failed files can be retried"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, snapshotView(h.controller.Snapshot()))
}

// ClearCompleted removes completed (and optionally skipped) files
func (h *QueueHandler) ClearCompleted(c *gin.Context) {
	includeSkipped := c.Query("include_skipped") == "true"
	if err := h.controller.ClearCompleted(includeSkipped); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshotView(h.controller.Snapshot()))
}

// ClearAll resets the queue
func (h *QueueHandler) ClearAll(c *gin.Context) {
	if err := h.controller.ClearAll(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshotView(h.controller.Snapshot()))
}

// GetCurrentMarkdown returns the most recently completed conversion
func (h *QueueHandler) GetCurrentMarkdown(c *gin.Context) {
	doc := h.controller.Current()
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no completed conversion yet"})
		return
	}
	c.JSON(http.StatusOK, doc)
}
