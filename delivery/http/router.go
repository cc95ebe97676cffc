package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"isectech/ratelimit-service/infrastructure/monitoring"
	"isectech/ratelimit-service/pkg/logging"
)

// RouterConfig holds HTTP router configuration
type RouterConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`
	APIPrefix       string        `mapstructure:"api_prefix"`
	DebugMode       bool          `mapstructure:"debug_mode"`
}

// DefaultRouterConfig returns production defaults
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		APIPrefix:       "/api/v1",
	}
}

// HealthChecker reports the health of a named dependency
type HealthChecker interface {
	Name() string
	Healthy(ctx context.Context) error
}

// HealthCheckFunc adapts a function to the HealthChecker interface
type HealthCheckFunc struct {
	ComponentName string
	Check         func(ctx context.Context) error
}

func (f HealthCheckFunc) Name() string { return f.ComponentName }

func (f HealthCheckFunc) Healthy(ctx context.Context) error { return f.Check(ctx) }

// HTTPServer wires middleware, admission and admin routes into a
// runnable server.
type HTTPServer struct {
	server    *http.Server
	router    *gin.Engine
	ratelimit *RateLimitMiddleware
	admin     *AdminHandler
	adminAuth *AdminAuthMiddleware
	metrics   *monitoring.Collector
	checkers  []HealthChecker
	config    RouterConfig
	logger    *logging.Logger
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(
	ratelimit *RateLimitMiddleware,
	admin *AdminHandler,
	adminAuth *AdminAuthMiddleware,
	metrics *monitoring.Collector,
	checkers []HealthChecker,
	config RouterConfig,
	logger *logging.Logger,
) *HTTPServer {
	if config.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	if len(config.TrustedProxies) > 0 {
		router.SetTrustedProxies(config.TrustedProxies)
	}

	s := &HTTPServer{
		router:    router,
		ratelimit: ratelimit,
		admin:     admin,
		adminAuth: adminAuth,
		metrics:   metrics,
		checkers:  checkers,
		config:    config,
		logger:    logger.WithComponent("http_server"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

func (s *HTTPServer) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CallerMiddleware())
}

func (s *HTTPServer) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := s.router.Group(s.config.APIPrefix)

	// sidecar decision endpoint, rate-limited by its own category
	api.POST("/check/:category", s.ratelimit.CheckHandler())

	admin := api.Group("/admin/rate-limits")
	admin.Use(s.adminAuth.Authenticate())
	admin.Use(s.adminAuth.RequireRole("platform-admin"))
	{
		admin.GET("/config", s.admin.GetConfig)
		admin.GET("/limits/:identity", s.admin.GetEffectiveLimit)
		admin.GET("/usage/:identity", s.admin.GetUsage)
		admin.POST("/reset/:identity", s.admin.ResetCounters)
		admin.PUT("/overrides/:identity", s.admin.SetOverride)
		admin.DELETE("/overrides/:identity", s.admin.ClearOverride)
		if s.admin.HasAuditLog() {
			admin.GET("/audit", s.admin.ListAuditEvents)
		}
	}
}

// healthHandler reports liveness only
func (s *HTTPServer) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "ratelimit-service",
		"timestamp": time.Now().UTC(),
	})
}

// readinessHandler checks every registered dependency. The service
// stays ready under fail-open even when a dependency is degraded; the
// body tells the two cases apart.
func (s *HTTPServer) readinessHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	components := make(map[string]string, len(s.checkers))
	healthy := true
	for _, checker := range s.checkers {
		if err := checker.Healthy(ctx); err != nil {
			components[checker.Name()] = err.Error()
			healthy = false
		} else {
			components[checker.Name()] = "ok"
		}
	}

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status":     state,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

// Start runs the HTTP server until it is shut down
func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", logging.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
