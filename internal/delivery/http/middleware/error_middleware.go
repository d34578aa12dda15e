package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	deliverycontext "repohub/internal/delivery/context"
	"repohub/internal/delivery/http/response"
	domainerrors "repohub/internal/domain/errors"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// ErrorMiddleware error handling middleware
type ErrorMiddleware struct {
	logger *slog.Logger
}

// NewErrorMiddleware creates a new error handling middleware
func NewErrorMiddleware(logger *slog.Logger) *ErrorMiddleware {
	return &ErrorMiddleware{
		logger: logger,
	}
}

// HandleHTTPError handles errors as Echo's HTTPErrorHandler. Only AppError messages reach
// the client; anything else becomes a generic 500.
func (m *ErrorMiddleware) HandleHTTPError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	logger := deliverycontext.GetLoggerOrDefault(c.Request().Context(), m.logger)

	var validationErr *domainerrors.ValidationError
	if errors.As(err, &validationErr) {
		m.write(c, response.FieldsError(c, validationErr.HTTPCode(), validationErr.ErrorCode(),
			validationErr.Message(), validationErr.Details(), validationErr.Fields))

		return
	}

	var appErr domainerrors.AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPCode() >= http.StatusInternalServerError {
			logger.Error("Request failed",
				slog.Any("error", err),
				slog.String("code", appErr.ErrorCode()),
				slog.String("path", c.Request().URL.Path),
				slog.String("method", c.Request().Method),
			)
		}
		m.write(c, response.Error(c, appErr.HTTPCode(), appErr.ErrorCode(), appErr.Message(), appErr.Details()))

		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code < http.StatusInternalServerError {
		m.write(c, response.Error(c, httpErr.Code, httpErrorCode(httpErr.Code), httpErrorMessage(httpErr), ""))

		return
	}

	logger.Error("Unhandled error",
		slog.Any("error", err),
		slog.String("path", c.Request().URL.Path),
		slog.String("method", c.Request().Method),
	)

	m.write(c, response.Error(c, http.StatusInternalServerError,
		domainerrors.ErrInternalError.ErrorCode(), domainerrors.ErrInternalError.Message(), ""))
}

func (m *ErrorMiddleware) write(c echo.Context, err error) {
	if err != nil {
		m.logger.Warn("Failed to write error response", slog.Any("error", err))
	}
}

// httpErrorCode turns an echo status into an upper snake case code, e.g. 404 -> NOT_FOUND.
func httpErrorCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "HTTP_ERROR"
	}

	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}

func httpErrorMessage(httpErr *echo.HTTPError) string {
	if msg, ok := httpErr.Message.(string); ok && msg != "" {
		return msg
	}
	if httpErr.Message != nil {
		return fmt.Sprint(httpErr.Message)
	}

	return http.StatusText(httpErr.Code)
}
