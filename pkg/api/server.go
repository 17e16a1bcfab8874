package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rzzdr/euro-option-pricer/pkg/metrics"
	"github.com/rzzdr/euro-option-pricer/pkg/models"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/backpressure"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/circuit"
	"github.com/rzzdr/euro-option-pricer/pkg/utils/logger"
)

// Config holds the configuration for the API server
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration // bound on a single pricing run
	DefaultProcess models.ProcessKind
	Admission      *backpressure.Controller // reported by /health when set
	ResultFeed     http.Handler             // mounted at /ws/results when set
}

// Server represents the API server
type Server struct {
	config          Config
	router          *gin.Engine
	httpServer      *http.Server
	handlers        *Handlers
	metricsRecorder *metrics.Recorder
	log             *logger.Logger
}

// NewServer creates a new API server. breakers may be nil.
func NewServer(config Config, pricer Pricer, breakers *circuit.Manager, metricsRecorder *metrics.Recorder) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 120 * time.Second
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 90 * time.Second
	}

	server := &Server{
		config:          config,
		router:          gin.New(),
		handlers:        NewHandlers(pricer, breakers, config.RequestTimeout, config.DefaultProcess),
		metricsRecorder: metricsRecorder,
		log:             logger.GetLogger("api.server"),
	}

	server.handlers.admission = config.Admission
	server.setupRoutes()
	return server
}

// Router exposes the gin engine, mainly for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the API server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.log.Infof("Starting API server on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the API server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		s.log.Info("Stopping API server")
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(RecoveryMiddleware())
	s.router.Use(LoggingMiddleware())
	s.router.Use(MetricsMiddleware(s.metricsRecorder))
	s.router.Use(CORSMiddleware())

	s.router.GET("/health", s.handlers.HealthCheckHandler)
	if s.metricsRecorder != nil {
		s.router.GET("/metrics", gin.WrapH(s.metricsRecorder.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		options := v1.Group("/options")
		options.POST("/price", s.handlers.PriceOptionHandler)
		options.POST("/greeks", s.handlers.GreeksHandler)

		v1.GET("/rates/datasets", s.handlers.ListDatasetsHandler)
	}

	if s.config.ResultFeed != nil {
		s.router.GET("/ws/results", gin.WrapH(s.config.ResultFeed))
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "The requested resource was not found"})
	})
}
