// Package usecase contains the application-specific business rules.
// It orchestrates the domain layer to perform tasks.
package usecase

import (
	"context"
	"time"

	"repohub/internal/domain/entity"
)

// --- Input DTOs ---

// RegisterInput defines the data required to register a new user.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput defines the data required for a user to log in.
type LoginInput struct {
	Email    string
	Password string
}

// RefreshTokenInput carries the refresh token being exchanged.
type RefreshTokenInput struct {
	RefreshToken string
}

// LogoutInput carries whichever tokens the client presented. Either may be empty.
type LogoutInput struct {
	AccessToken  string
	RefreshToken string
}

// --- Output DTOs ---

// RegisterOutput returns the newly created user's public profile. No tokens are issued;
// the client logs in explicitly.
type RegisterOutput struct {
	User entity.UserProfile
}

// LoginOutput returns the generated tokens after a successful login.
type LoginOutput struct {
	Tokens entity.TokenPair
	User   entity.UserProfile
}

// RefreshTokenOutput returns the rotated token pair.
type RefreshTokenOutput struct {
	Tokens entity.TokenPair
	User   entity.UserProfile
}

// AuthUsecase defines the authentication session lifecycle.
// This is the contract that the delivery layer (e.g., API handlers) will depend on.
type AuthUsecase interface {
	Register(ctx context.Context, input *RegisterInput) (*RegisterOutput, error)
	Login(ctx context.Context, input *LoginInput) (*LoginOutput, error)

	// RefreshToken consumes the refresh token and issues a new pair. A refresh token
	// succeeds at most once.
	RefreshToken(ctx context.Context, input *RefreshTokenInput) (*RefreshTokenOutput, error)

	// Logout revokes every presented token that still verifies. It only fails when the
	// store does.
	Logout(ctx context.Context, input *LogoutInput) error

	GetUserByID(ctx context.Context, id int64) (*entity.UserProfile, error)

	// Authenticate resolves an access token to its user: revocation check, verification,
	// then user lookup.
	Authenticate(ctx context.Context, accessToken string) (*entity.UserProfile, error)

	// PruneRevocations deletes revocation entries whose token expired before now.
	PruneRevocations(ctx context.Context, now time.Time) (int64, error)
}
