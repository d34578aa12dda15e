package entity

import "time"

// TokenKind distinguishes the two token flavors. Each kind has its own secret and lifetime.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenPair is what a successful login or refresh hands back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// RevokedToken marks a token string as no longer honorable, regardless of its expiry.
type RevokedToken struct {
	TokenHash string
	RevokedAt time.Time
	// ExpiresAt is the natural expiry of the revoked token. Rows past it can be pruned.
	ExpiresAt time.Time
}
