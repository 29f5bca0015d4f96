package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1RealtimeNow returns the newest reading of every sensor
// GET /api/v1/realtime/now
func (s *Server) handleV1RealtimeNow(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	latest, err := s.store.LatestReadings(ctx)
	if err != nil {
		s.internalError(c, "latest readings failed", err)
		return
	}

	if len(latest) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no readings available"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": latest,
		"meta": gin.H{
			"sensors_count": len(latest),
			"generated_at":  s.now().UTC().Format(time.RFC3339),
		},
	})
}
