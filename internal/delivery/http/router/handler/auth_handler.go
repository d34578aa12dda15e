// Package handler contains the HTTP handlers for the application.
package handler

import (
	"net/http"
	"time"

	"repohub/config"
	deliverycontext "repohub/internal/delivery/context"
	"repohub/internal/delivery/http/middleware"
	"repohub/internal/delivery/http/response"
	"repohub/internal/domain/entity"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email,min=5,max=100"`
	Password string `json:"password" validate:"required,min=6,max=100"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,min=5,max=100"`
	Password string `json:"password" validate:"required,min=1,max=100"`
}

// TokenRequest is the optional body of the refresh and logout endpoints.
type TokenRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// UserResponse is the public profile as rendered to clients.
type UserResponse struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SessionResponse is returned by login and refresh.
type SessionResponse struct {
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	User         UserResponse `json:"user"`
}

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	uc                usecase.AuthUsecase
	accessCookieName  string
	refreshCookieName string
	secureCookies     bool
}

// NewAuthHandler is the constructor for AuthHandler, injected by Fx.
func NewAuthHandler(uc usecase.AuthUsecase, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		uc:                uc,
		accessCookieName:  cfg.Auth.AccessCookieName,
		refreshCookieName: cfg.Auth.RefreshCookieName,
		secureCookies:     cfg.IsProduction(),
	}
}

// Register creates an account. No session is started; the client logs in afterwards.
func (h *AuthHandler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid registration input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.Register(c.Request().Context(), &usecase.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusCreated, toUserResponse(output.User), "User registered successfully")
}

// Login exchanges credentials for a token pair, returned in the body and as cookies.
func (h *AuthHandler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return response.BindingError(c, "INVALID_INPUT", "Invalid login input")
	}
	if err := c.Validate(&req); err != nil {
		return errors.WithStack(err)
	}

	output, err := h.uc.Login(c.Request().Context(), &usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return errors.WithStack(err)
	}

	h.setSessionCookies(c, output.Tokens)

	return response.Success(c, http.StatusOK, toSessionResponse(output.Tokens, output.User), "Login successful")
}

// RefreshToken rotates the session. The refresh token is read from its cookie, then the
// body, then the Authorization header.
func (h *AuthHandler) RefreshToken(c echo.Context) error {
	body := bindTokenRequest(c)

	refreshToken := h.cookieValue(c, h.refreshCookieName)
	if refreshToken == "" {
		refreshToken = body.RefreshToken
	}
	if refreshToken == "" {
		refreshToken = middleware.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}

	output, err := h.uc.RefreshToken(c.Request().Context(), &usecase.RefreshTokenInput{RefreshToken: refreshToken})
	if err != nil {
		return errors.WithStack(err)
	}

	h.setSessionCookies(c, output.Tokens)

	return response.Success(c, http.StatusOK, toSessionResponse(output.Tokens, output.User), "Token refreshed successfully")
}

// Logout revokes whatever tokens the client presents and clears the session cookies. It
// succeeds even when no token is presented.
func (h *AuthHandler) Logout(c echo.Context) error {
	body := bindTokenRequest(c)

	accessToken := middleware.AccessTokenFromRequest(c, h.accessCookieName)
	if accessToken == "" {
		accessToken = body.AccessToken
	}
	refreshToken := h.cookieValue(c, h.refreshCookieName)
	if refreshToken == "" {
		refreshToken = body.RefreshToken
	}

	h.clearSessionCookies(c)

	if err := h.uc.Logout(c.Request().Context(), &usecase.LogoutInput{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}); err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, nil, "Successfully logged out")
}

// GetProfile returns the user resolved by the auth middleware.
func (h *AuthHandler) GetProfile(c echo.Context) error {
	user, ok := deliverycontext.GetUser(c)
	if !ok {
		return domainerrors.ErrAuthenticationRequired
	}

	profile, err := h.uc.GetUserByID(c.Request().Context(), user.ID)
	if err != nil {
		return errors.WithStack(err)
	}

	return response.Success(c, http.StatusOK, toUserResponse(*profile), "User profile retrieved")
}

// bindTokenRequest reads an optional JSON body. A missing or malformed body yields no tokens.
func bindTokenRequest(c echo.Context) TokenRequest {
	var req TokenRequest
	if c.Request().ContentLength == 0 {
		return req
	}
	if err := (&echo.DefaultBinder{}).BindBody(c, &req); err != nil {
		return TokenRequest{}
	}

	return req
}

func (h *AuthHandler) cookieValue(c echo.Context, name string) string {
	if name == "" {
		return ""
	}
	cookie, err := c.Cookie(name)
	if err != nil {
		return ""
	}

	return cookie.Value
}

func (h *AuthHandler) setSessionCookies(c echo.Context, tokens entity.TokenPair) {
	now := time.Now()
	c.SetCookie(h.cookie(h.accessCookieName, tokens.AccessToken, tokens.AccessExpiresAt.Sub(now)))
	c.SetCookie(h.cookie(h.refreshCookieName, tokens.RefreshToken, tokens.RefreshExpiresAt.Sub(now)))
}

func (h *AuthHandler) clearSessionCookies(c echo.Context) {
	for _, name := range []string{h.accessCookieName, h.refreshCookieName} {
		cookie := h.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		c.SetCookie(cookie)
	}
}

func (h *AuthHandler) cookie(name, value string, lifetime time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

func toUserResponse(p entity.UserProfile) UserResponse {
	return UserResponse{ID: p.ID, Email: p.Email, Name: p.Name}
}

func toSessionResponse(tokens entity.TokenPair, user entity.UserProfile) SessionResponse {
	return SessionResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         toUserResponse(user),
	}
}
