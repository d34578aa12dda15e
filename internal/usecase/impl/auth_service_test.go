package impl

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"repohub/config"
	"repohub/internal/domain/entity"
	domainerrors "repohub/internal/domain/errors"
	"repohub/internal/domain/service"
	"repohub/internal/infra/auth"
	"repohub/internal/testutil/memstore"
	"repohub/internal/usecase"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// countingHasher records how many comparisons ran.
type countingHasher struct {
	service.PasswordHasher
	checks atomic.Int32
}

func (h *countingHasher) Check(password, hash string) bool {
	h.checks.Add(1)

	return h.PasswordHasher.Check(password, hash)
}

type recordingMetrics struct {
	mu     sync.Mutex
	events map[string]int
	pruned int64
}

func (m *recordingMetrics) RecordAuthEvent(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.events == nil {
		m.events = make(map[string]int)
	}
	m.events[operation+"/"+outcome]++
}

func (m *recordingMetrics) RecordRateLimit(string, bool) {}

func (m *recordingMetrics) RecordRevocationsPruned(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruned += count
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.events[key]
}

type testEnv struct {
	svc     usecase.AuthUsecase
	store   *memstore.Store
	tokens  service.TokenService
	hasher  *countingHasher
	clock   *fakeClock
	metrics *recordingMetrics
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg := &config.Config{
		JWT: config.JWTConfig{
			AccessSecret:     "access-secret-for-tests",
			RefreshSecret:    "refresh-secret-for-tests",
			AccessExpiresIn:  "15m",
			RefreshExpiresIn: "7d",
		},
	}
	tokens, err := auth.NewJWTServiceWithClock(cfg, clock.Now)
	require.NoError(t, err)

	store := memstore.New()
	hasher := &countingHasher{PasswordHasher: auth.NewBcryptHasherWithCost(bcrypt.MinCost)}
	metrics := &recordingMetrics{}

	svc := NewAuthService(AuthServiceParams{
		TxManager:        store,
		UserRepo:         store.UserRepo(),
		RevokedTokenRepo: store.RevokedTokenRepo(),
		Hasher:           hasher,
		TokenService:     tokens,
		Metrics:          metrics,
		Logger:           newDiscardLogger(),
	})

	return &testEnv{svc: svc, store: store, tokens: tokens, hasher: hasher, clock: clock, metrics: metrics}
}

func (env *testEnv) register(t *testing.T, email string) entity.UserProfile {
	t.Helper()

	out, err := env.svc.Register(context.Background(), &usecase.RegisterInput{
		Name:     "Alice",
		Email:    email,
		Password: "password123",
	})
	require.NoError(t, err)

	return out.User
}

func (env *testEnv) login(t *testing.T, email string) *usecase.LoginOutput {
	t.Helper()

	out, err := env.svc.Login(context.Background(), &usecase.LoginInput{Email: email, Password: "password123"})
	require.NoError(t, err)

	return out
}

func assertAppError(t *testing.T, err error, want *domainerrors.BaseError) {
	t.Helper()

	require.Error(t, err)
	assert.True(t, errors.Is(err, want), "want %s, got %v", want.ErrorCode(), err)

	var appErr domainerrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, want.HTTPCode(), appErr.HTTPCode())
	assert.Equal(t, want.Message(), appErr.Message())
}

func TestAuthService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	profile := env.register(t, "alice@example.com")
	assert.Positive(t, profile.ID)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.Equal(t, "Alice", profile.Name)

	stored, err := env.store.UserRepo().FindByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("password123")))

	_, err = env.svc.Register(ctx, &usecase.RegisterInput{Name: "Other", Email: "alice@example.com", Password: "password456"})
	assertAppError(t, err, domainerrors.ErrUserAlreadyExists)

	// Emails are compared as stored.
	env.register(t, "Alice@example.com")
	assert.Equal(t, 2, env.store.UserCount())

	assert.Equal(t, 2, env.metrics.count("register/success"))
	assert.Equal(t, 1, env.metrics.count("register/conflict"))
}

func TestAuthService_Register_Concurrent(t *testing.T) {
	env := newTestEnv(t)

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Register(context.Background(), &usecase.RegisterInput{
				Name: "Alice", Email: "race@example.com", Password: "password123",
			})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domainerrors.ErrUserAlreadyExists):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
	assert.Equal(t, 1, env.store.UserCount())
}

func TestAuthService_Login(t *testing.T) {
	env := newTestEnv(t)
	profile := env.register(t, "alice@example.com")

	out := env.login(t, "alice@example.com")
	assert.Equal(t, profile, out.User)
	assert.NotEqual(t, out.Tokens.AccessToken, out.Tokens.RefreshToken)
	assert.Equal(t, env.clock.Now().Add(15*time.Minute), out.Tokens.AccessExpiresAt)
	assert.Equal(t, env.clock.Now().Add(7*24*time.Hour), out.Tokens.RefreshExpiresAt)

	claims, err := env.tokens.Verify(entity.TokenKindAccess, out.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, claims.UserID)

	claims, err = env.tokens.Verify(entity.TokenKindRefresh, out.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, profile.ID, claims.UserID)
}

func TestAuthService_Login_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	ctx := context.Background()

	checksBefore := env.hasher.checks.Load()

	_, wrongPassword := env.svc.Login(ctx, &usecase.LoginInput{Email: "alice@example.com", Password: "nope"})
	_, unknownEmail := env.svc.Login(ctx, &usecase.LoginInput{Email: "bob@example.com", Password: "nope"})

	assertAppError(t, wrongPassword, domainerrors.ErrInvalidCredentials)
	assertAppError(t, unknownEmail, domainerrors.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())

	// Both paths ran a bcrypt comparison.
	assert.Equal(t, int32(2), env.hasher.checks.Load()-checksBefore)
	assert.Equal(t, 2, env.metrics.count("login/invalid_credentials"))
}

func TestAuthService_Login_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailWith(errors.New("connection refused"))

	_, err := env.svc.Login(context.Background(), &usecase.LoginInput{Email: "alice@example.com", Password: "x"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domainerrors.ErrInvalidCredentials))
}

func TestAuthService_RefreshToken_Rotation(t *testing.T) {
	env := newTestEnv(t)
	profile := env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	first, err := env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
	require.NoError(t, err)
	assert.Equal(t, profile, first.User)
	assert.NotEqual(t, login.Tokens.RefreshToken, first.Tokens.RefreshToken)
	assert.NotEqual(t, login.Tokens.AccessToken, first.Tokens.AccessToken)

	// The consumed token is worthless from now on.
	_, err = env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
	assertAppError(t, err, domainerrors.ErrRefreshTokenInvalid)

	// The rotated one works exactly once too.
	_, err = env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: first.Tokens.RefreshToken})
	require.NoError(t, err)

	assert.Equal(t, 2, env.metrics.count("refresh/success"))
	assert.Equal(t, 1, env.metrics.count("refresh/invalid_token"))
}

func TestAuthService_RefreshToken_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")

	const workers = 8
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		rejected  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RefreshToken(context.Background(), &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, domainerrors.ErrRefreshTokenInvalid):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
}

func TestAuthService_RefreshToken_Rejections(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	tests := []struct {
		name  string
		token string
		setup func()
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "access token", token: login.Tokens.AccessToken},
		{
			name:  "expired",
			token: login.Tokens.RefreshToken,
			setup: func() { env.clock.Advance(8 * 24 * time.Hour) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: tt.token})
			assertAppError(t, err, domainerrors.ErrRefreshTokenInvalid)
		})
	}

	t.Run("deleted user", func(t *testing.T) {
		env := newTestEnv(t)
		profile := env.register(t, "bob@example.com")
		login := env.login(t, "bob@example.com")
		env.store.DeleteUser(profile.ID)

		_, err := env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
		assertAppError(t, err, domainerrors.ErrRefreshTokenInvalid)
		assert.Equal(t, 0, env.store.RevokedCount())
	})
}

func TestAuthService_RefreshToken_StoreFailureIsNotUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	env.store.FailWith(errors.New("connection refused"))

	_, err := env.svc.RefreshToken(context.Background(), &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domainerrors.ErrRefreshTokenInvalid))
	assert.Equal(t, 1, env.metrics.count("refresh/error"))
}

func TestAuthService_Logout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	input := &usecase.LogoutInput{AccessToken: login.Tokens.AccessToken, RefreshToken: login.Tokens.RefreshToken}
	require.NoError(t, env.svc.Logout(ctx, input))
	assert.Equal(t, 2, env.store.RevokedCount())

	// Idempotent.
	require.NoError(t, env.svc.Logout(ctx, input))
	assert.Equal(t, 2, env.store.RevokedCount())

	_, err := env.svc.Authenticate(ctx, login.Tokens.AccessToken)
	assertAppError(t, err, domainerrors.ErrTokenRevoked)

	_, err = env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
	assertAppError(t, err, domainerrors.ErrRefreshTokenInvalid)
}

func TestAuthService_Logout_IgnoresUnverifiableTokens(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, env.svc.Logout(ctx, &usecase.LogoutInput{}))
	require.NoError(t, env.svc.Logout(ctx, &usecase.LogoutInput{AccessToken: "garbage", RefreshToken: "garbage"}))
	// Kinds swapped: neither verifies.
	require.NoError(t, env.svc.Logout(ctx, &usecase.LogoutInput{
		AccessToken:  login.Tokens.RefreshToken,
		RefreshToken: login.Tokens.AccessToken,
	}))
	assert.Equal(t, 0, env.store.RevokedCount())

	env.clock.Advance(time.Hour)
	require.NoError(t, env.svc.Logout(ctx, &usecase.LogoutInput{AccessToken: login.Tokens.AccessToken}))
	assert.Equal(t, 0, env.store.RevokedCount())
}

func TestAuthService_Logout_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	env.store.FailWith(errors.New("disk full"))

	err := env.svc.Logout(context.Background(), &usecase.LogoutInput{AccessToken: login.Tokens.AccessToken})
	assert.Error(t, err)
}

func TestAuthService_Authenticate(t *testing.T) {
	env := newTestEnv(t)
	profile := env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	got, err := env.svc.Authenticate(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, profile, *got)

	_, err = env.svc.Authenticate(ctx, login.Tokens.RefreshToken)
	assertAppError(t, err, domainerrors.ErrTokenInvalid)

	_, err = env.svc.Authenticate(ctx, "garbage")
	assertAppError(t, err, domainerrors.ErrTokenInvalid)

	env.store.DeleteUser(profile.ID)
	_, err = env.svc.Authenticate(ctx, login.Tokens.AccessToken)
	assertAppError(t, err, domainerrors.ErrTokenSubjectNotFound)
}

func TestAuthService_Authenticate_Expired(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")

	env.clock.Advance(16 * time.Minute)
	_, err := env.svc.Authenticate(context.Background(), login.Tokens.AccessToken)
	assertAppError(t, err, domainerrors.ErrTokenInvalid)
}

func TestAuthService_Authenticate_StoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	env.store.FailWith(errors.New("connection refused"))

	_, err := env.svc.Authenticate(context.Background(), login.Tokens.AccessToken)
	require.Error(t, err)

	var appErr domainerrors.AppError
	assert.False(t, errors.As(err, &appErr), "store failures must not map to a 401")
}

func TestAuthService_GetUserByID(t *testing.T) {
	env := newTestEnv(t)
	profile := env.register(t, "alice@example.com")
	ctx := context.Background()

	got, err := env.svc.GetUserByID(ctx, profile.ID)
	require.NoError(t, err)
	assert.Equal(t, profile, *got)

	_, err = env.svc.GetUserByID(ctx, 999)
	assertAppError(t, err, domainerrors.ErrUserNotFound)
}

func TestAuthService_PruneRevocations(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice@example.com")
	login := env.login(t, "alice@example.com")
	ctx := context.Background()

	require.NoError(t, env.svc.Logout(ctx, &usecase.LogoutInput{
		AccessToken:  login.Tokens.AccessToken,
		RefreshToken: login.Tokens.RefreshToken,
	}))
	require.Equal(t, 2, env.store.RevokedCount())

	// Only the access token has expired an hour later.
	deleted, err := env.svc.PruneRevocations(ctx, env.clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, 1, env.store.RevokedCount())

	// The refresh token stays rejected while it could still verify.
	_, err = env.svc.RefreshToken(ctx, &usecase.RefreshTokenInput{RefreshToken: login.Tokens.RefreshToken})
	assertAppError(t, err, domainerrors.ErrRefreshTokenInvalid)

	deleted, err = env.svc.PruneRevocations(ctx, env.clock.Now().Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Equal(t, int64(2), env.metrics.pruned)
}
