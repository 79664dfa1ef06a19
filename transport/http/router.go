package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passage/internal/logging"
	"github.com/layer-3/passage/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the dependencies of the HTTP surface
type RouterConfig struct {
	Auth       *service.AuthService
	Enrollment *service.EnrollmentService
	Logger     *slog.Logger

	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Health reports backing store reachability for /healthz. Nil means always healthy.
	Health func(ctx context.Context) error
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewAuthHandlers(cfg.Auth, cfg.Enrollment, logger)

	router.GET("/healthz", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c.Request.Context()); err != nil {
				logger.WarnContext(c.Request.Context(), "health check failed", slog.Any("error", err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/register/code", handlers.RequestEnrollmentCode)
		auth.POST("/register", handlers.Register)
		auth.POST("/reset/code", handlers.RequestResetCode)
		auth.POST("/reset", handlers.ResetPassword)
		auth.POST("/login", handlers.Login)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.Auth, logger))
	{
		api.POST("/logout", handlers.Logout)
		api.DELETE("/account", handlers.DeleteAccount)
		api.PUT("/password", handlers.ChangePassword)
		api.PATCH("/profile", handlers.UpdateProfile)
		api.GET("/me", handlers.Me)
	}

	return router
}
