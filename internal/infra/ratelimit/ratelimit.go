package ratelimit

import (
	"log/slog"
	"time"

	"repohub/config"
	"repohub/internal/domain/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Params defines the required parameters
type Params struct {
	fx.In

	Config *config.Config
	Logger *slog.Logger
	Redis  *redis.Client `optional:"true"`
}

// New picks the Redis limiter when a client is available, otherwise the in-process one.
func New(params Params) service.RateLimiter {
	cfg := params.Config.RateLimit

	if params.Redis != nil {
		params.Logger.Info("Rate limiter backed by Redis",
			slog.Int("max", cfg.Max),
			slog.Duration("window", cfg.Window),
		)

		return NewRedisLimiter(params.Redis, cfg.Max, cfg.Window, time.Now)
	}

	params.Logger.Info("Rate limiter backed by memory",
		slog.Int("max", cfg.Max),
		slog.Duration("window", cfg.Window),
	)

	return NewMemoryLimiter(cfg.Max, cfg.Window, time.Now)
}
