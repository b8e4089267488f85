package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	apiKeyHeader = "X-API-Key"
	bearerPrefix = "Bearer "
)

// Auth guards the API with a shared key, accepted either as the
// dedicated header or as a bearer token. An empty configured key
// disables the check, the default for local single-user use.
func Auth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		key := c.GetHeader(apiKeyHeader)
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, bearerPrefix) {
				key = strings.TrimPrefix(auth, bearerPrefix)
			}
		}

		if key != apiKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}
