package middleware

import (
	"strings"

	"repohub/config"
	deliverycontext "repohub/internal/delivery/context"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/usecase"

	"github.com/labstack/echo/v4"
)

const bearerPrefix = "bearer "

// AuthMiddleware rejects requests that do not carry a live access token.
type AuthMiddleware struct {
	authUC     usecase.AuthUsecase
	cookieName string
}

// NewAuthMiddleware is the constructor for AuthMiddleware.
func NewAuthMiddleware(authUC usecase.AuthUsecase, cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{authUC: authUC, cookieName: cfg.Auth.AccessCookieName}
}

// Authenticate resolves the access token to a user profile and stores both on the context.
// The access cookie takes precedence over the Authorization header.
func (m *AuthMiddleware) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := AccessTokenFromRequest(c, m.cookieName)
		if token == "" {
			return domainerrors.ErrAuthenticationRequired
		}

		profile, err := m.authUC.Authenticate(c.Request().Context(), token)
		if err != nil {
			return err
		}

		deliverycontext.SetUser(c, profile, token)

		return next(c)
	}
}

// AccessTokenFromRequest returns the token in the named cookie, or else the bearer token
// of the Authorization header.
func AccessTokenFromRequest(c echo.Context, cookieName string) string {
	if cookieName != "" {
		if cookie, err := c.Cookie(cookieName); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}

	return BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
}

// BearerToken extracts the credential of an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(header[len(bearerPrefix):])
}
