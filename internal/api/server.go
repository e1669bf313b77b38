// Package api exposes OpportunityEngine over HTTP: GET /opportunities,
// POST /tick, POST /interactions. Adapted from the teacher's REST server
// (CORS, recovery, structured request logging, graceful shutdown) pointed
// at this engine's three operations instead of the exchange/db service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/arbedge/opportunity-engine/internal/config"
	"github.com/arbedge/opportunity-engine/internal/engine"
	"github.com/arbedge/opportunity-engine/internal/obs"
)

// Server is the REST surface over one Engine.
type Server struct {
	router  *gin.Engine
	engine  *engine.Engine
	metrics *obs.Metrics
	log     zerolog.Logger
	cfg     config.APIConfig
	addr    string
	server  *http.Server
}

// New builds a Server with routes and middleware installed. metrics may be
// nil to use the process-wide registry.
func New(cfg config.APIConfig, eng *engine.Engine, metrics *obs.Metrics, log zerolog.Logger) *Server {
	if metrics == nil {
		metrics = obs.NewMetrics()
	}
	router := gin.New()

	s := &Server{
		router:  router,
		engine:  eng,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
		addr:    cfg.GetAPIAddr(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	s.router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	s.router.Use(metricsMiddleware(s.metrics))
	s.router.Use(requestLogger(s.log))
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/opportunities", s.handleListOpportunities)
		v1.POST("/tick", s.handleTick)
		v1.POST("/interactions", s.handleRecordInteraction)
	}
}

// Start starts the HTTP server and blocks until it stops or fails.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", s.addr).Msg("starting api server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("stopping api server")
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}
