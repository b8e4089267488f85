package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// WordExporter converts markdown to a docx document
type WordExporter interface {
	ExportWord(ctx context.Context, markdown, filename string) ([]byte, error)
}

// ExportHandler proxies document exports to the converter backend
type ExportHandler struct {
	exporter WordExporter
}

// NewExportHandler creates an export handler
func NewExportHandler(exporter WordExporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

type exportWordRequest struct {
	Markdown string `json:"markdown" binding:"required"`
	Filename string `json:"filename"`
}

// ExportWord converts markdown to a Word document download
func (h *ExportHandler) ExportWord(c *gin.Context) {
	var req exportWordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Markdown) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "markdown content is empty"})
		return
	}
	if req.Filename == "" {
		req.Filename = "document"
	}

	data, err := h.exporter.ExportWord(c.Request.Context(), req.Markdown, req.Filename)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	downloadName := fmt.Sprintf("%s_%s.docx", req.Filename, time.Now().Format("20060102_150405"))
	c.Header("Content-Disposition", `attachment; filename="`+downloadName+`"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document", data)
}
