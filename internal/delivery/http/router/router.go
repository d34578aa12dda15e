// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"net/http"

	"repohub/config"
	"repohub/internal/delivery/http/middleware"
	"repohub/internal/delivery/http/router/handler"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const credentialsLimit = "auth"

type RouterParams struct {
	fx.In

	Config              *config.Config
	AuthHandler         *handler.AuthHandler
	AuthMiddleware      *middleware.AuthMiddleware
	RateLimitMiddleware *middleware.RateLimitMiddleware
	MetricsHandler      http.Handler `name:"metrics" optional:"true"`
}

// Router holds all the handlers that need to be registered.
type Router struct {
	metricsEnabled      bool
	authHandler         *handler.AuthHandler
	authMiddleware      *middleware.AuthMiddleware
	rateLimitMiddleware *middleware.RateLimitMiddleware
	metricsHandler      http.Handler
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *Router {
	return &Router{
		metricsEnabled:      params.Config.Metrics.Enabled,
		authHandler:         params.AuthHandler,
		authMiddleware:      params.AuthMiddleware,
		rateLimitMiddleware: params.RateLimitMiddleware,
		metricsHandler:      params.MetricsHandler,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *Router) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.HealthCheck)

	if r.metricsEnabled && r.metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(r.metricsHandler))
	}

	limit := r.rateLimitMiddleware.Limit(credentialsLimit)

	authGroup := e.Group("/auth")
	{
		authGroup.POST("/register", r.authHandler.Register)
		authGroup.POST("/login", r.authHandler.Login, limit)
		authGroup.GET("/refresh-token", r.authHandler.RefreshToken, limit)
		authGroup.POST("/refresh-token", r.authHandler.RefreshToken, limit)
		authGroup.GET("/logout", r.authHandler.Logout)
		authGroup.POST("/logout", r.authHandler.Logout)
		authGroup.GET("/profile", r.authHandler.GetProfile, r.authMiddleware.Authenticate)
	}
}
