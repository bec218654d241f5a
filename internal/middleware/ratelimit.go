package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// TriggerRateLimit bounds how fast external callers can force adjustment
// cycles. The engine's own watermark makes replays harmless; this just keeps
// a misbehaving scheduler from hammering the oracle and ledger.
func TriggerRateLimit(qps float64, burst int) gin.HandlerFunc {
	limit := rate.Limit(qps)
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(limit, burst)

	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": "1s",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
