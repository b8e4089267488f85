package api

import (
	"github.com/gin-gonic/gin"
	"github.com/inkmd/inkmd/internal/api/middleware"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	APIKey       string
	AllowOrigins []string
}

// SetupRouter sets up the Gin router
func SetupRouter(
	queueHandler *QueueHandler,
	historyHandler *HistoryHandler,
	settingsHandler *SettingsHandler,
	exportHandler *ExportHandler,
	hub *Hub,
	cfg RouterConfig,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// CORS middleware
	r.Use(middleware.CORS(cfg.AllowOrigins))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Queue updates stream
	r.GET("/ws", hub.Serve)

	api := r.Group("/api")
	api.Use(middleware.Auth(cfg.APIKey))

	queueGroup := api.Group("/queue")
	queueHandler.RegisterRoutes(queueGroup)
	api.GET("/markdown/current", queueHandler.GetCurrentMarkdown)

	historyGroup := api.Group("/history")
	historyHandler.RegisterRoutes(historyGroup)
	api.GET("/statistics", historyHandler.GetStatistics)

	settingsGroup := api.Group("/settings")
	settingsHandler.RegisterRoutes(settingsGroup)
	api.POST("/providers/test", settingsHandler.TestProviders)

	api.POST("/export/word", exportHandler.ExportWord)

	return r
}
