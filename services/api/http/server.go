package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Trugira-ctrl/airquality-rwanda/services/api/config"
	"github.com/Trugira-ctrl/airquality-rwanda/services/api/db"
)

// Store is the read side the handlers depend on.
type Store interface {
	Ping(ctx context.Context) error
	ListSensors(ctx context.Context) ([]db.Sensor, error)
	GetSensor(ctx context.Context, sensorIndex int64) (*db.Sensor, error)
	FetchReadings(ctx context.Context, q db.ReadingQuery) ([]db.Reading, error)
	LatestReadings(ctx context.Context) ([]db.Reading, error)
	Summary(ctx context.Context) (*db.Summary, error)
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg      config.Config
	store    Store
	engine   *gin.Engine
	logger   *zap.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	now      func() time.Time
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "airquality_api_requests_total",
			Help: "Read API requests by route and status code",
		},
		[]string{"route", "status"},
	)
	registry.MustRegister(requests)

	server := &Server{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		logger:   logger,
		registry: registry,
		requests: requests,
		now:      time.Now,
	}

	engine.Use(server.requestLogger())
	engine.Use(corsMiddleware())

	if cfg.BearerToken != "" {
		engine.Use(bearerAuthMiddleware(cfg.BearerToken))
	}

	server.registerRoutes()
	server.registerV1Routes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	s.engine.GET("/sensor", s.handleListSensors)
	s.engine.GET("/sensor/:sensor_index", s.handleGetSensor)
	s.engine.GET("/now", s.handleLatest)
	s.engine.GET("/summary", s.handleSummary)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func bearerAuthMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// probes stay open
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		if token != expected {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListSensors(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	sensors, err := s.store.ListSensors(ctx)
	if err != nil {
		s.internalError(c, "list sensors failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sensors": sensors})
}

func parseSensorIndex(raw string) (int64, error) {
	idx, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || idx <= 0 {
		return 0, errors.New("invalid sensor index")
	}
	return idx, nil
}

// readingQuery parses last_n, last_n_days, start and end. With none of the
// time filters set, the window defaults to the last DefaultDays days.
func (s *Server) readingQuery(c *gin.Context, sensorIndex int64) (db.ReadingQuery, error) {
	q := db.ReadingQuery{SensorIndex: sensorIndex, Limit: s.cfg.DefaultLimit}

	if limitStr := c.Query("last_n"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return q, errors.New("invalid last_n")
		}
		q.Limit = parsed
	}

	if daysStr := c.Query("last_n_days"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days <= 0 {
			return q, errors.New("invalid last_n_days")
		}
		t := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		q.Since = &t
	}

	if startStr := c.Query("start"); startStr != "" {
		t, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return q, errors.New("invalid start timestamp")
		}
		tt := t.UTC()
		q.Since = &tt
	}

	if endStr := c.Query("end"); endStr != "" {
		t, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return q, errors.New("invalid end timestamp")
		}
		tt := t.UTC()
		q.Until = &tt
	}

	if q.Since != nil && q.Until != nil && q.Until.Before(*q.Since) {
		return q, errors.New("end must not be before start")
	}

	if q.Since == nil && q.Until == nil && s.cfg.DefaultDays > 0 {
		t := s.now().UTC().Add(-time.Duration(s.cfg.DefaultDays) * 24 * time.Hour)
		q.Since = &t
	}
	return q, nil
}

func (s *Server) handleGetSensor(c *gin.Context) {
	sensorIndex, err := parseSensorIndex(c.Param("sensor_index"))
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

	c.JSON(http.StatusOK, gin.H{
		"sensor_index": sensorIndex,
		"count":        len(readings),
		"readings":     readings,
	})
}

func (s *Server) handleLatest(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	latest, err := s.store.LatestReadings(ctx)
	if err != nil {
		s.internalError(c, "latest readings failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"readings": latest})
}

func (s *Server) handleSummary(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	summary, err := s.store.Summary(ctx)
	if err != nil {
		s.internalError(c, "summary failed", err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
