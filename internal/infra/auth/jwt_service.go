// Package auth provides concrete implementations for authentication-related domain services.
package auth

import (
	"strconv"
	"time"

	"repohub/config"
	"repohub/internal/domain/entity"
	"repohub/internal/domain/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// tokenClaims is the wire form of a token: {id, typ} plus the registered claims.
type tokenClaims struct {
	UserID int64  `json:"id"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// jwtService is a concrete implementation of the TokenService interface using HS256 JWTs.
type jwtService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewJWTService is the constructor for jwtService.
func NewJWTService(cfg *config.Config) (service.TokenService, error) {
	return NewJWTServiceWithClock(cfg, time.Now)
}

// NewJWTServiceWithClock builds the service with a custom time source.
func NewJWTServiceWithClock(cfg *config.Config, now func() time.Time) (service.TokenService, error) {
	if cfg.JWT.AccessSecret == "" || cfg.JWT.RefreshSecret == "" {
		return nil, errors.New("jwt secrets must be provided")
	}
	if cfg.JWT.AccessSecret == cfg.JWT.RefreshSecret {
		return nil, errors.New("access and refresh secrets must differ")
	}

	accessTTL, err := config.ParseDuration(cfg.JWT.AccessExpiresIn)
	if err != nil {
		return nil, errors.Wrap(err, "access token lifetime")
	}

	refreshTTL, err := config.ParseDuration(cfg.JWT.RefreshExpiresIn)
	if err != nil {
		return nil, errors.Wrap(err, "refresh token lifetime")
	}

	return &jwtService{
		accessSecret:  []byte(cfg.JWT.AccessSecret),
		refreshSecret: []byte(cfg.JWT.RefreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}, nil
}

// Issue signs a token of the given kind for the user.
func (s *jwtService) Issue(kind entity.TokenKind, userID int64) (string, time.Time, error) {
	secret, ttl, err := s.params(kind)
	if err != nil {
		return "", time.Time{}, err
	}

	issuedAt := s.now()
	expiresAt := issuedAt.Add(ttl)

	claims := tokenClaims{
		UserID: userID,
		Type:   string(kind),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "sign %s token", kind)
	}

	return signed, expiresAt, nil
}

// Verify checks the token against the secret of the given kind.
func (s *jwtService) Verify(kind entity.TokenKind, token string) (*service.Claims, error) {
	secret, _, err := s.params(kind)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	claims := &tokenClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		return nil, classifyParseError(err)
	}

	// Secrets differ per kind, so this only trips on a token minted with a leaked or
	// shared secret.
	if claims.Type != string(kind) {
		return nil, errors.Wrapf(service.ErrTokenInvalidSignature, "token type %q used as %q", claims.Type, kind)
	}
	if claims.UserID <= 0 {
		return nil, errors.Wrap(service.ErrTokenMalformed, "missing subject")
	}

	return &service.Claims{
		ID:        claims.ID,
		UserID:    claims.UserID,
		Kind:      kind,
		IssuedAt:  numericTime(claims.IssuedAt),
		ExpiresAt: numericTime(claims.ExpiresAt),
	}, nil
}

// Lifetime returns the configured lifetime of the given kind.
func (s *jwtService) Lifetime(kind entity.TokenKind) time.Duration {
	if kind == entity.TokenKindRefresh {
		return s.refreshTTL
	}

	return s.accessTTL
}

func (s *jwtService) params(kind entity.TokenKind) ([]byte, time.Duration, error) {
	switch kind {
	case entity.TokenKindAccess:
		return s.accessSecret, s.accessTTL, nil
	case entity.TokenKindRefresh:
		return s.refreshSecret, s.refreshTTL, nil
	default:
		return nil, 0, errors.Errorf("unknown token kind %q", kind)
	}
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return errors.Wrap(service.ErrTokenExpired, err.Error())
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return errors.Wrap(service.ErrTokenInvalidSignature, err.Error())
	default:
		return errors.Wrap(service.ErrTokenMalformed, err.Error())
	}
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}

	return d.Time
}
