// Package apptest assembles the full HTTP stack over the in-memory credential store.
package apptest

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"repohub/config"
	deliveryhttp "repohub/internal/delivery/http"
	httpmiddleware "repohub/internal/delivery/http/middleware"
	"repohub/internal/delivery/http/router"
	"repohub/internal/delivery/http/router/handler"
	"repohub/internal/domain/service"
	"repohub/internal/infra/auth"
	"repohub/internal/infra/metrics"
	"repohub/internal/infra/ratelimit"
	"repohub/internal/testutil/memstore"
	"repohub/internal/usecase"
	"repohub/internal/usecase/impl"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// Env is a wired application without a network listener.
type Env struct {
	Echo    *echo.Echo
	Config  *config.Config
	Store   *memstore.Store
	Auth    usecase.AuthUsecase
	Tokens  service.TokenService
	Metrics *metrics.Metrics
}

// Option adjusts the configuration before the stack is built.
type Option func(*config.Config)

// WithRateLimit overrides the credential endpoint budget.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(cfg *config.Config) {
		cfg.RateLimit.Max = limit
		cfg.RateLimit.Window = window
	}
}

// WithAccessLifetime overrides the access token lifetime, e.g. "1s".
func WithAccessLifetime(lifetime string) Option {
	return func(cfg *config.Config) {
		cfg.JWT.AccessExpiresIn = lifetime
	}
}

// Config returns the configuration the stack uses by default.
func Config() *config.Config {
	cfg := &config.Config{}
	cfg.Env.Env = "test"
	cfg.Env.ServiceName = "repohub"
	cfg.HTTP.MaxRequestBodySize = "100KB"
	cfg.JWT = config.JWTConfig{
		AccessSecret:     "access-secret-for-tests",
		RefreshSecret:    "refresh-secret-for-tests",
		AccessExpiresIn:  "15m",
		RefreshExpiresIn: "7d",
	}
	cfg.Auth = config.AuthConfig{
		BcryptCost:        bcrypt.MinCost,
		AccessCookieName:  "access_token",
		RefreshCookieName: "refresh_token",
	}
	cfg.RateLimit = config.RateLimitConfig{Max: 100, Window: 15 * time.Minute}
	cfg.Metrics.Enabled = true

	return cfg
}

// New builds the stack. It fails the test on any construction error.
func New(t testing.TB, opts ...Option) *Env {
	t.Helper()

	cfg := Config()
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewJWTService(cfg)
	require.NoError(t, err)

	store := memstore.New()
	m := metrics.New()

	authUC := impl.NewAuthService(impl.AuthServiceParams{
		TxManager:        store,
		UserRepo:         store.UserRepo(),
		RevokedTokenRepo: store.RevokedTokenRepo(),
		Hasher:           auth.NewBcryptHasherWithCost(cfg.Auth.BcryptCost),
		TokenService:     tokens,
		Metrics:          m,
		Logger:           logger,
	})

	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window, time.Now)

	r := router.NewRouter(router.RouterParams{
		Config:              cfg,
		AuthHandler:         handler.NewAuthHandler(authUC, cfg),
		AuthMiddleware:      httpmiddleware.NewAuthMiddleware(authUC, cfg),
		RateLimitMiddleware: httpmiddleware.NewRateLimitMiddleware(limiter, m, logger),
		MetricsHandler:      m.Handler(),
	})

	return &Env{
		Echo:    deliveryhttp.NewEcho(cfg, logger, r),
		Config:  cfg,
		Store:   store,
		Auth:    authUC,
		Tokens:  tokens,
		Metrics: m,
	}
}
