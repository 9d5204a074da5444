// Package api exposes the control surface, live feeds and clip browser over
// HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mikeyg42/motioncam/internal/control"
	"github.com/mikeyg42/motioncam/internal/events"
	"github.com/mikeyg42/motioncam/internal/storage"
)

// CameraControl switches and stops the capture source.
type CameraControl interface {
	Switch(target string) error
	Stop() error
	Current() (string, bool)
}

// CommentReader reads the embedded clip comment.
type CommentReader interface {
	ReadComment(ctx context.Context, clipPath string) (string, error)
}

// ClipCatalog is the optional clip index.
type ClipCatalog interface {
	ListClips(ctx context.Context, limit int) ([]storage.ClipRecord, error)
	DeleteClip(ctx context.Context, name string) error
}

// HealthChecker reports the health of a dependency.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Config contains HTTP server settings
type Config struct {
	Addr           string
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
	ClipsDir       string
	ClipExtension  string
}

// Deps are the components the handlers drive. State is required; the rest
// may be nil, in which case their routes answer 503.
type Deps struct {
	State    *control.State
	Camera   CameraControl
	Feed     http.Handler
	MJPEG    http.Handler
	Events   http.Handler
	Publish  events.Publisher
	Comments CommentReader
	Catalog  ClipCatalog
	Health   map[string]HealthChecker
	// Stats reports component counters for /api/stats.
	Stats func() map[string]any
}

// Server is the HTTP API server
type Server struct {
	cfg        Config
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
	limiter    *RateLimiter
	logger     *zap.Logger
}

func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	if deps.Publish == nil {
		deps.Publish = events.Nop{}
	}
	if cfg.ClipExtension == "" {
		cfg.ClipExtension = ".mp4"
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		router:  router,
		limiter: NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		logger:  logger.Named("api"),
	}

	router.Use(s.requestLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.AllowedOrigins))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Feeds stream indefinitely.
		WriteTimeout:   0,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router
	limited := s.limiter.Middleware()

	r.GET("/video_feed", s.handleFeed(s.deps.Feed))
	r.GET("/stream.mjpeg", s.handleFeed(s.deps.MJPEG))
	r.GET("/ws/events", s.handleFeed(s.deps.Events))

	api := r.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)

	api.GET("/exclusion_zones", s.handleGetZones)
	api.POST("/exclusion_zones", limited, s.handleSetZones)
	api.DELETE("/exclusion_zones", limited, s.handleClearZones)

	api.GET("/motion", s.handleGetMotion)
	api.POST("/motion/toggle", limited, s.handleToggleMotion)

	api.GET("/source", s.handleGetSource)
	api.POST("/source", limited, s.handleSwitchSource)
	api.DELETE("/source", limited, s.handleStopSource)

	api.GET("/clips", s.handleListClips)
	api.GET("/clips/:name", s.handleGetClip)
	api.DELETE("/clips/:name", limited, s.handleDeleteClip)

	// Paths used by the original browser page.
	r.POST("/set_exclusion_zones", limited, s.handleSetZones)
	r.POST("/clear_exclusion_zones", limited, s.handleClearZones)
	r.POST("/toggle_motion_detection", limited, s.handleToggleMotion)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Cleanup(ctx, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", getClientIP(c.Request)))
	}
}

// corsMiddleware only answers whitelisted origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && (allowed[origin] || allowed["*"]) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
