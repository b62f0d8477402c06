package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opendiscourse/congress-data-service/internal/analysis"
	"github.com/opendiscourse/congress-data-service/internal/config"
	"github.com/opendiscourse/congress-data-service/internal/ledger"
	"github.com/opendiscourse/congress-data-service/internal/storage"
)

// Server handles HTTP requests
type Server struct {
	config   config.ServerConfig
	storage  storage.Storage
	ledger   *ledger.Ledger
	analyzer *analysis.Analyzer
	logger   logrus.FieldLogger
	router   *gin.Engine
	server   *http.Server
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, store storage.Storage, logger logrus.FieldLogger) *Server {
	s := &Server{
		config:   cfg,
		storage:  store,
		ledger:   ledger.New(store),
		analyzer: analysis.New(store),
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())
	s.routes(router)
	s.router = router

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	records := r.Group("/records/:entity")
	records.GET("", s.handleListRecords)
	records.GET("/search", s.handleSearchRecords)
	records.GET("/sample", s.handleSampleRecords)
	records.GET("/:key", s.handleGetRecord)

	r.GET("/sync-runs", s.handleListRuns)
	r.GET("/sync-runs/:id", s.handleGetRun)

	a := r.Group("/analysis")
	a.GET("/bills/statistics", s.handleBillStatistics)
	a.GET("/bills/temporal", s.handleTemporal)
	a.GET("/bills/policy-areas", s.handlePolicyAreas)
	a.GET("/bills/bipartisan", s.handleBipartisan)
	a.GET("/bills/network", s.handleNetwork)
	a.GET("/bills/success", s.handleSuccessFactors)
	a.GET("/committees/effectiveness", s.handleCommitteeEffectiveness)
	a.GET("/members/:id", s.handleMemberStatistics)
	a.GET("/sessions", s.handleSessionStatistics)
	a.GET("/congresses/compare", s.handleCompare)
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
