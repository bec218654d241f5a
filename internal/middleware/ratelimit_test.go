package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func limitedRouter(qps float64, burst int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/x", TriggerRateLimit(qps, burst), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func hit(r *gin.Engine) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	return w.Code
}

func TestTriggerRateLimit_ExhaustsBurst(t *testing.T) {
	r := limitedRouter(1, 2)

	assert.Equal(t, http.StatusOK, hit(r))
	assert.Equal(t, http.StatusOK, hit(r))
	assert.Equal(t, http.StatusTooManyRequests, hit(r))
}

func TestTriggerRateLimit_ZeroQPSMeansUnlimited(t *testing.T) {
	r := limitedRouter(0, 1)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, hit(r))
	}
}
