package service

import (
	"time"

	"repohub/internal/domain/entity"

	"github.com/pkg/errors"
)

// Verification failures. Callers map all of them to 401; the distinction is kept for logs
// and tests.
var (
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired          = errors.New("token has expired")
)

// Claims is the verified content of a token.
type Claims struct {
	ID        string // Unique token ID, makes every issued string distinct.
	UserID    int64
	Kind      entity.TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService signs and verifies self-contained bearer tokens.
// Access and refresh tokens use different secrets, so a token of one kind never
// verifies as the other.
type TokenService interface {
	// Issue signs a token of the given kind for the user and returns its expiry.
	Issue(kind entity.TokenKind, userID int64) (token string, expiresAt time.Time, err error)

	// Verify checks signature, kind and expiry and returns the embedded claims.
	Verify(kind entity.TokenKind, token string) (*Claims, error)

	// Lifetime returns the configured lifetime of the given kind.
	Lifetime(kind entity.TokenKind) time.Duration
}
