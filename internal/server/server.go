// file: internal/server/server.go
// version: 2.0.0
// guid: 4c5d6e7f-8a9b-0c1d-2e3f-4a5b6c7d8e9f

// Package server exposes the cache to local tools over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/logging"
	"github.com/jdfalk/erpcache/internal/metrics"
	"github.com/jdfalk/erpcache/internal/realtime"
	"github.com/jdfalk/erpcache/internal/resources"
	"github.com/jdfalk/erpcache/internal/server/middleware"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the components the daemon serves.
type Deps struct {
	Registry *resources.Registry
	Session  *session.Hook
	Hub      *realtime.EventHub
	Logger   *zap.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string
	Port        int
	ReadTimeout time.Duration
	IdleTimeout time.Duration
	// Token, when set, is required on every route except health and metrics.
	Token string
	// RateLimit is requests per minute per client; zero disables limiting.
	RateLimit int
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	deps       Deps
	cfg        ServerConfig
	logger     *zap.Logger
	detach     func()
}

// NewServer creates a new server instance and subscribes the event hub to
// session changes.
func NewServer(deps Deps, cfg ServerConfig) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	logger := logging.OrNop(deps.Logger)
	if deps.Hub == nil {
		deps.Hub = realtime.NewEventHub(logger)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())
	router.Use(middleware.RequireToken(cfg.Token, "/api/v1/health", "/metrics"))
	if cfg.RateLimit > 0 {
		router.Use(middleware.NewIPRateLimiter(cfg.RateLimit, cfg.RateLimit/10+1).Middleware())
	}
	router.Use(middleware.MaxRequestBodySize(middleware.DefaultBodyLimit))

	metrics.Register()

	s := &Server{
		router: router,
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	if deps.Session != nil {
		s.detach = deps.Hub.AttachSession(deps.Session)
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	// no write timeout: SSE streams stay open
	s.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:        s.router,
		ReadTimeout:    s.cfg.ReadTimeout,
		IdleTimeout:    s.cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		s.close()
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	s.deps.Hub.SendShutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	defer s.close()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	s.logger.Info("server exited")
	return nil
}

func (s *Server) close() {
	if s.detach != nil {
		s.detach()
		s.detach = nil
	}
}

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api/v1")
	{
		api.GET("/health", s.healthCheck)
		api.GET("/events", s.deps.Hub.HandleSSE)

		api.GET("/resources", s.listResources)
		api.GET("/resources/:name", s.getResource)
		api.POST("/resources/:name/refresh", s.refreshResource)

		api.GET("/cache/keys", s.listKeys)
		api.DELETE("/cache/:name", s.invalidateResource)
		api.DELETE("/cache", s.flushCache)

		api.GET("/session", s.getSession)
		api.POST("/session/logout", s.logout)
	}
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
