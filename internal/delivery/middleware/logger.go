package middleware

import (
	"log/slog"
	"time"

	"repohub/config"
	deliverycontext "repohub/internal/delivery/context"

	"github.com/labstack/echo/v4"
)

// LoggerMiddleware logs request details when env.debug is on. The access log proper
// comes from slog-echo; this adds latency, user and error detail for local debugging.
type LoggerMiddleware struct {
	logger *slog.Logger
	debug  bool
}

// NewLoggerMiddleware creates a new logger middleware
func NewLoggerMiddleware(logger *slog.Logger, config *config.Config) *LoggerMiddleware {
	return &LoggerMiddleware{
		logger: logger,
		debug:  config.Env.Debug,
	}
}

// Handle processes request logging
func (m *LoggerMiddleware) Handle(next echo.HandlerFunc) echo.HandlerFunc {
	if !m.debug {
		return next
	}

	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		m.logRequest(c, start, err)

		return err
	}
}

func (m *LoggerMiddleware) logRequest(c echo.Context, start time.Time, err error) {
	req := c.Request()
	res := c.Response()

	fields := []slog.Attr{
		slog.String("method", req.Method),
		slog.String("uri", req.URL.Path),
		slog.Int("status", res.Status),
		slog.Duration("latency", time.Since(start)),
		slog.String("remote_ip", c.RealIP()),
		slog.String("user_agent", req.UserAgent()),
	}

	// Query strings may carry tokens on misbehaving clients, so only their presence is logged.
	if req.URL.RawQuery != "" {
		fields = append(fields, slog.Bool("has_query", true))
	}
	if user, ok := deliverycontext.GetUser(c); ok {
		fields = append(fields, slog.Int64("userID", user.ID))
	}
	if err != nil {
		fields = append(fields, slog.Any("error", err))
	}

	logLevel := slog.LevelDebug
	if res.Status >= 500 || (err != nil && res.Status == 0) {
		logLevel = slog.LevelError
	} else if res.Status >= 400 {
		logLevel = slog.LevelWarn
	}

	logger := deliverycontext.GetLoggerOrDefault(req.Context(), m.logger)
	logger.LogAttrs(req.Context(), logLevel, "HTTP Request", fields...)
}
