package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/serpworks/serpd/internal/config"
)

const HeaderAdminKey = "X-Admin-Key"

// AdminMiddleware gates the governance surface. Origin authorization beyond
// the shared key is the governance collaborator's responsibility.
func AdminMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg == nil || cfg.Auth.AdminKey == "" {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin key not configured"})
			c.Abort()
			return
		}
		if c.GetHeader(HeaderAdminKey) != cfg.Auth.AdminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
