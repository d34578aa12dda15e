package repository

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrTokenAlreadyRevoked is returned by Revoke when the token is already on the list.
var ErrTokenAlreadyRevoked = errors.New("token already revoked")

// RevokedTokenRepository is the append-only revocation list.
type RevokedTokenRepository interface {
	// Revoke records the token. The insert is atomic; of two concurrent calls for the
	// same token exactly one succeeds and the other gets ErrTokenAlreadyRevoked.
	Revoke(ctx context.Context, token string, expiresAt time.Time) error

	// IsRevoked reports whether the token was ever revoked.
	IsRevoked(ctx context.Context, token string) (bool, error)

	// DeleteExpired removes entries whose token expired before the given instant.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
