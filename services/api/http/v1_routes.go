package http

import "github.com/gin-gonic/gin"

// APIVersion is sent on every /api/v1 response.
const APIVersion = "v1"

// registerV1Routes sets up the versioned API.
// Groups: /api/v1/core, /api/v1/realtime
func (s *Server) registerV1Routes() {
	v1 := s.engine.Group("/api/v1")
	v1.Use(apiVersionMiddleware())

	// Core endpoints - sensor metadata and readings
	core := v1.Group("/core")
	{
		core.GET("/sensors", s.handleV1ListSensors)
		core.GET("/sensors/:id", s.handleV1GetSensor)
		core.GET("/sensors/:id/readings", s.handleV1SensorReadings)
		core.GET("/summary", s.handleV1Summary)
	}

	// Realtime endpoints - latest data
	realtime := v1.Group("/realtime")
	{
		realtime.GET("/now", s.handleV1RealtimeNow)
	}
}

func apiVersionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-API-Version", APIVersion)
		c.Next()
	}
}
