package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleV1ListSensors returns all sensors
// GET /api/v1/core/sensors
func (s *Server) handleV1ListSensors(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sensors, err := s.store.ListSensors(ctx)
	if err != nil {
		s.internalError(c, "list sensors failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": sensors,
		"meta": gin.H{
			"count": len(sensors),
		},
	})
}

// handleV1GetSensor returns details for a specific sensor
// GET /api/v1/core/sensors/:id
func (s *Server) handleV1GetSensor(c *gin.Context) {
	sensorIndex, err := parseSensorIndex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sensor, err := s.store.GetSensor(ctx, sensorIndex)
	if err != nil {
		s.internalError(c, "get sensor failed", err)
		return
	}

	if sensor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sensor not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": sensor,
	})
}

// GET /api/v1/core/sensors/:id/readings
func (s *Server) handleV1SensorReadings(c *gin.Context) {
	sensorIndex, err := parseSensorIndex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	q, err := s.readingQuery(c, sensorIndex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	readings, err := s.store.FetchReadings(ctx, q)
	if err != nil {
		s.internalError(c, "fetch readings failed", err)
		return
	}

	meta := gin.H{"count": len(readings), "limit": q.Limit}
	if q.Since != nil {
		meta["since"] = q.Since.Format(time.RFC3339)
	}
	if q.Until != nil {
		meta["until"] = q.Until.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{"data": readings, "meta": meta})
}

// GET /api/v1/core/summary
func (s *Server) handleV1Summary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	summary, err := s.store.Summary(ctx)
	if err != nil {
		s.internalError(c, "summary failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}
