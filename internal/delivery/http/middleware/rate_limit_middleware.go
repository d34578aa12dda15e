package middleware

import (
	"log/slog"
	"math"
	"strconv"
	"time"

	deliverycontext "repohub/internal/delivery/context"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/domain/service"

	"github.com/labstack/echo/v4"
)

const (
	headerRetryAfter         = "Retry-After"
	headerRateLimitLimit     = "RateLimit-Limit"
	headerRateLimitRemaining = "RateLimit-Remaining"
	headerRateLimitReset     = "RateLimit-Reset"
)

// RateLimitMiddleware throttles requests per client IP.
type RateLimitMiddleware struct {
	limiter service.RateLimiter
	metrics service.AuthMetrics
	logger  *slog.Logger
}

// NewRateLimitMiddleware creates the middleware. A nil metrics sink is allowed.
func NewRateLimitMiddleware(limiter service.RateLimiter, metrics service.AuthMetrics, logger *slog.Logger) *RateLimitMiddleware {
	if metrics == nil {
		metrics = service.NopAuthMetrics{}
	}

	return &RateLimitMiddleware{limiter: limiter, metrics: metrics, logger: logger}
}

// Limit returns a middleware counting requests in the named bucket. Routes sharing a name
// share a budget. If the limiter store fails the request is let through.
func (m *RateLimitMiddleware) Limit(name string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			result, err := m.limiter.Allow(ctx, name+":"+c.RealIP())
			if err != nil {
				deliverycontext.GetLoggerOrDefault(ctx, m.logger).Warn("Rate limiter unavailable, admitting request",
					slog.String("limiter", m.limiter.Name()),
					slog.Any("error", err),
				)

				return next(c)
			}

			m.metrics.RecordRateLimit(m.limiter.Name(), result.Allowed)

			resetSeconds := ceilSeconds(result.ResetAfter)
			header := c.Response().Header()
			header.Set(headerRateLimitLimit, strconv.Itoa(result.Limit))
			header.Set(headerRateLimitRemaining, strconv.Itoa(result.Remaining))
			header.Set(headerRateLimitReset, strconv.Itoa(resetSeconds))

			if !result.Allowed {
				header.Set(headerRetryAfter, strconv.Itoa(resetSeconds))

				return domainerrors.ErrTooManyRequests
			}

			return next(c)
		}
	}
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}

	return int(math.Ceil(d.Seconds()))
}
