// Package impl contains the implementation of the application's business logic.
package impl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	deliverycontext "repohub/internal/delivery/context"
	"repohub/internal/domain/entity"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/domain/repository"
	"repohub/internal/domain/service"
	"repohub/internal/usecase"

	"github.com/pkg/errors"
	"go.uber.org/fx"
)

// Operation and outcome labels for auth metrics.
const (
	opRegister     = "register"
	opLogin        = "login"
	opRefresh      = "refresh"
	opLogout       = "logout"
	opAuthenticate = "authenticate"
	opProfile      = "profile"

	outcomeSuccess            = "success"
	outcomeConflict           = "conflict"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeInvalidToken       = "invalid_token"
	outcomeRevoked            = "revoked"
	outcomeNotFound           = "not_found"
	outcomeError              = "error"
)

// dummyPassword is hashed once so unknown-email logins pay for a bcrypt comparison too.
const dummyPassword = "repohub-timing-equalizer"

// authService implements the AuthUsecase interface.
type authService struct {
	txManager        repository.TransactionManager
	userRepo         repository.UserRepository
	revokedTokenRepo repository.RevokedTokenRepository
	hasher           service.PasswordHasher
	tokenService     service.TokenService
	metrics          service.AuthMetrics
	logger           *slog.Logger
	dummyHash        func() string
}

// AuthServiceParams holds dependencies for AuthService, injected by Fx.
type AuthServiceParams struct {
	fx.In

	TxManager        repository.TransactionManager
	UserRepo         repository.UserRepository
	RevokedTokenRepo repository.RevokedTokenRepository
	Hasher           service.PasswordHasher
	TokenService     service.TokenService
	Metrics          service.AuthMetrics `optional:"true"`
	Logger           *slog.Logger
}

// NewAuthService is the constructor for authService. It receives all dependencies as interfaces.
func NewAuthService(params AuthServiceParams) usecase.AuthUsecase {
	metrics := params.Metrics
	if metrics == nil {
		metrics = service.NopAuthMetrics{}
	}

	srv := &authService{
		txManager:        params.TxManager,
		userRepo:         params.UserRepo,
		revokedTokenRepo: params.RevokedTokenRepo,
		hasher:           params.Hasher,
		tokenService:     params.TokenService,
		metrics:          metrics,
		logger:           params.Logger,
	}
	srv.dummyHash = sync.OnceValue(func() string {
		hash, err := srv.hasher.Hash(dummyPassword)
		if err != nil {
			srv.logger.Error("Failed to prepare dummy password hash", slog.Any("error", err))
		}

		return hash
	})

	return srv
}

// log returns a request-scoped logger if available, otherwise falls back to the service's logger.
func (srv *authService) log(ctx context.Context) *slog.Logger {
	return deliverycontext.GetLoggerOrDefault(ctx, srv.logger)
}

// Register creates the account. The email pre-check gives the common case a clean
// conflict; the unique index settles concurrent registrations.
func (srv *authService) Register(ctx context.Context, input *usecase.RegisterInput) (*usecase.RegisterOutput, error) {
	srv.log(ctx).Info("Starting registration", slog.String("email", input.Email))

	_, err := srv.userRepo.FindByEmail(ctx, input.Email)
	switch {
	case err == nil:
		srv.metrics.RecordAuthEvent(opRegister, outcomeConflict)

		return nil, errors.Wrap(domainerrors.ErrUserAlreadyExists, "email already registered")
	case !errors.Is(err, repository.ErrUserNotFound):
		srv.metrics.RecordAuthEvent(opRegister, outcomeError)

		return nil, errors.Wrap(err, "failed to check existing user")
	}

	hashedPassword, err := srv.hasher.Hash(input.Password)
	if err != nil {
		srv.metrics.RecordAuthEvent(opRegister, outcomeError)
		srv.log(ctx).Error("Failed to hash password during registration", slog.Any("error", err))

		return nil, domainerrors.ErrPasswordHashFailed.WrapMessage(err.Error())
	}

	newUser := &entity.User{
		Name:         input.Name,
		Email:        input.Email,
		PasswordHash: hashedPassword,
	}
	if err := srv.userRepo.Create(ctx, newUser); err != nil {
		if errors.Is(err, domainerrors.ErrUserAlreadyExists) {
			srv.metrics.RecordAuthEvent(opRegister, outcomeConflict)
		} else {
			srv.metrics.RecordAuthEvent(opRegister, outcomeError)
		}

		return nil, errors.Wrap(err, "failed to create user during registration")
	}

	srv.metrics.RecordAuthEvent(opRegister, outcomeSuccess)
	srv.log(ctx).Debug("Registration completed", slog.Int64("userID", newUser.ID))

	return &usecase.RegisterOutput{User: newUser.Profile()}, nil
}

// Login checks the credentials and issues a fresh token pair. Unknown email and wrong
// password are indistinguishable to the caller.
func (srv *authService) Login(ctx context.Context, input *usecase.LoginInput) (*usecase.LoginOutput, error) {
	srv.log(ctx).Debug("Starting user login", slog.String("email", input.Email))

	user, err := srv.userRepo.FindByEmail(ctx, input.Email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			srv.metrics.RecordAuthEvent(opLogin, outcomeError)

			return nil, errors.Wrap(err, "failed to load user for login")
		}

		srv.hasher.Check(input.Password, srv.dummyHash())

		return nil, srv.loginFailed(ctx, input.Email)
	}

	if !srv.hasher.Check(input.Password, user.PasswordHash) {
		return nil, srv.loginFailed(ctx, input.Email)
	}

	tokens, err := srv.issueTokenPair(user.ID)
	if err != nil {
		srv.metrics.RecordAuthEvent(opLogin, outcomeError)

		return nil, err
	}

	srv.metrics.RecordAuthEvent(opLogin, outcomeSuccess)
	srv.log(ctx).Debug("User logged in successfully", slog.Int64("userID", user.ID))

	return &usecase.LoginOutput{Tokens: tokens, User: user.Profile()}, nil
}

func (srv *authService) loginFailed(ctx context.Context, email string) error {
	srv.metrics.RecordAuthEvent(opLogin, outcomeInvalidCredentials)
	srv.log(ctx).Warn("Login failed", slog.String("email", email))

	return errors.Wrap(domainerrors.ErrInvalidCredentials, "login failed")
}

// RefreshToken rotates the refresh token. Revocation check, user lookup and the revoking
// insert share one transaction; the unique insert lets exactly one of two concurrent
// refreshes with the same token through.
func (srv *authService) RefreshToken(ctx context.Context, input *usecase.RefreshTokenInput) (*usecase.RefreshTokenOutput, error) {
	srv.log(ctx).Debug("Attempting to refresh access token")

	claims, err := srv.tokenService.Verify(entity.TokenKindRefresh, input.RefreshToken)
	if err != nil {
		srv.metrics.RecordAuthEvent(opRefresh, outcomeInvalidToken)
		srv.log(ctx).Warn("Refresh token rejected", slog.Any("error", err))

		return nil, errors.Wrap(domainerrors.ErrRefreshTokenInvalid, err.Error())
	}

	var output usecase.RefreshTokenOutput
	err = srv.txManager.Execute(ctx, func(repoFactory repository.RepositoryFactory) error {
		revokedRepo := repoFactory.RevokedTokenRepo()

		revoked, err := revokedRepo.IsRevoked(ctx, input.RefreshToken)
		if err != nil {
			return errors.Wrap(err, "failed to check refresh token revocation")
		}
		if revoked {
			return errors.Wrap(domainerrors.ErrRefreshTokenInvalid, "refresh token already used or revoked")
		}

		user, err := repoFactory.UserRepo().FindByID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return errors.Wrap(domainerrors.ErrRefreshTokenInvalid, "refresh token subject no longer exists")
			}

			return errors.Wrap(err, "failed to find user")
		}

		if err := revokedRepo.Revoke(ctx, input.RefreshToken, claims.ExpiresAt); err != nil {
			if errors.Is(err, repository.ErrTokenAlreadyRevoked) {
				return errors.Wrap(domainerrors.ErrRefreshTokenInvalid, "refresh token consumed concurrently")
			}

			return errors.Wrap(err, "failed to revoke refresh token")
		}

		// Issue before commit so a signing failure leaves the old token usable.
		tokens, err := srv.issueTokenPair(user.ID)
		if err != nil {
			return err
		}

		output = usecase.RefreshTokenOutput{Tokens: tokens, User: user.Profile()}

		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrRefreshTokenInvalid) {
			srv.metrics.RecordAuthEvent(opRefresh, outcomeInvalidToken)
			srv.log(ctx).Warn("Refresh token rejected", slog.Int64("userID", claims.UserID), slog.Any("error", err))
		} else {
			srv.metrics.RecordAuthEvent(opRefresh, outcomeError)
			srv.log(ctx).Error("Failed to execute refresh token transaction", slog.Any("error", err))
		}

		return nil, errors.Wrap(err, "failed to refresh token")
	}

	srv.metrics.RecordAuthEvent(opRefresh, outcomeSuccess)

	return &output, nil
}

// Logout revokes whichever presented tokens still verify. Invalid, expired, absent and
// already revoked tokens are skipped.
func (srv *authService) Logout(ctx context.Context, input *usecase.LogoutInput) error {
	presented := []struct {
		kind  entity.TokenKind
		token string
	}{
		{kind: entity.TokenKindAccess, token: input.AccessToken},
		{kind: entity.TokenKindRefresh, token: input.RefreshToken},
	}

	revokedCount := 0
	for _, p := range presented {
		if p.token == "" {
			continue
		}

		claims, err := srv.tokenService.Verify(p.kind, p.token)
		if err != nil {
			srv.log(ctx).Debug("Skipping unverifiable token on logout", slog.String("kind", string(p.kind)), slog.Any("error", err))

			continue
		}

		if err := srv.revokedTokenRepo.Revoke(ctx, p.token, claims.ExpiresAt); err != nil {
			if errors.Is(err, repository.ErrTokenAlreadyRevoked) {
				continue
			}
			srv.metrics.RecordAuthEvent(opLogout, outcomeError)
			srv.log(ctx).Error("Failed to revoke token on logout", slog.String("kind", string(p.kind)), slog.Any("error", err))

			return errors.Wrapf(err, "failed to revoke %s token", p.kind)
		}
		revokedCount++
	}

	srv.metrics.RecordAuthEvent(opLogout, outcomeSuccess)
	srv.log(ctx).Info("Logged out", slog.Int("revoked", revokedCount))

	return nil
}

// GetUserByID returns the public profile of the user.
func (srv *authService) GetUserByID(ctx context.Context, id int64) (*entity.UserProfile, error) {
	user, err := srv.userRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			srv.metrics.RecordAuthEvent(opProfile, outcomeNotFound)

			return nil, errors.Wrap(domainerrors.ErrUserNotFound, "user not found")
		}
		srv.metrics.RecordAuthEvent(opProfile, outcomeError)

		return nil, errors.Wrap(err, "failed to find user")
	}

	srv.metrics.RecordAuthEvent(opProfile, outcomeSuccess)
	profile := user.Profile()

	return &profile, nil
}

// Authenticate runs the gate checks in order. Store failures are returned as-is so they
// surface as 500 rather than a 401.
func (srv *authService) Authenticate(ctx context.Context, accessToken string) (*entity.UserProfile, error) {
	revoked, err := srv.revokedTokenRepo.IsRevoked(ctx, accessToken)
	if err != nil {
		srv.metrics.RecordAuthEvent(opAuthenticate, outcomeError)

		return nil, errors.Wrap(err, "failed to check token revocation")
	}
	if revoked {
		srv.metrics.RecordAuthEvent(opAuthenticate, outcomeRevoked)

		return nil, errors.Wrap(domainerrors.ErrTokenRevoked, "access token revoked")
	}

	claims, err := srv.tokenService.Verify(entity.TokenKindAccess, accessToken)
	if err != nil {
		srv.metrics.RecordAuthEvent(opAuthenticate, outcomeInvalidToken)

		return nil, errors.Wrap(domainerrors.ErrTokenInvalid, err.Error())
	}

	user, err := srv.userRepo.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			srv.metrics.RecordAuthEvent(opAuthenticate, outcomeNotFound)

			return nil, errors.Wrap(domainerrors.ErrTokenSubjectNotFound, "token subject no longer exists")
		}
		srv.metrics.RecordAuthEvent(opAuthenticate, outcomeError)

		return nil, errors.Wrap(err, "failed to resolve token subject")
	}

	srv.metrics.RecordAuthEvent(opAuthenticate, outcomeSuccess)
	profile := user.Profile()

	return &profile, nil
}

// PruneRevocations deletes revocation entries whose token has expired.
func (srv *authService) PruneRevocations(ctx context.Context, now time.Time) (int64, error) {
	deleted, err := srv.revokedTokenRepo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune revocations")
	}

	srv.metrics.RecordRevocationsPruned(deleted)
	if deleted > 0 {
		srv.log(ctx).Info("Pruned expired revocations", slog.Int64("deleted", deleted))
	}

	return deleted, nil
}

func (srv *authService) issueTokenPair(userID int64) (entity.TokenPair, error) {
	accessToken, accessExpiresAt, err := srv.tokenService.Issue(entity.TokenKindAccess, userID)
	if err != nil {
		return entity.TokenPair{}, domainerrors.ErrTokenIssueFailed.WrapMessage(err.Error())
	}

	refreshToken, refreshExpiresAt, err := srv.tokenService.Issue(entity.TokenKindRefresh, userID)
	if err != nil {
		return entity.TokenPair{}, domainerrors.ErrTokenIssueFailed.WrapMessage(err.Error())
	}

	return entity.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}
