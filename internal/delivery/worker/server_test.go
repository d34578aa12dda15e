package worker

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"repohub/config"
	"repohub/internal/testutil/memstore"
	"repohub/internal/usecase"
	"repohub/internal/usecase/impl"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAuthUsecase struct {
	usecase.AuthUsecase

	mu    sync.Mutex
	err   error
	calls chan time.Time
}

func (f *fakeAuthUsecase) PruneRevocations(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()

	select {
	case f.calls <- now:
	default:
	}

	return 0, err
}

func newPruner(t *testing.T, interval time.Duration, uc usecase.AuthUsecase) (*fxtest.Lifecycle, *revocationPruner) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Auth.RevocationPruneInterval = interval
	lc := fxtest.NewLifecycle(t)

	d, err := NewRevocationPruner(PrunerParams{Lc: lc, Cfg: cfg, Logger: newDiscardLogger(), AuthUC: uc})
	require.NoError(t, err)

	return lc, d.(*revocationPruner)
}

func serve(ctx context.Context, p *revocationPruner) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- p.Serve(ctx) }()

	return errCh
}

func TestRevocationPruner_TicksUntilStopped(t *testing.T) {
	uc := &fakeAuthUsecase{calls: make(chan time.Time, 16)}
	lc, p := newPruner(t, 10*time.Millisecond, uc)
	lc.RequireStart()

	errCh := serve(context.Background(), p)

	for range 3 {
		select {
		case <-uc.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("pruner did not tick")
		}
	}

	lc.RequireStop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after stop")
	}
}

func TestRevocationPruner_KeepsRunningAfterFailure(t *testing.T) {
	uc := &fakeAuthUsecase{calls: make(chan time.Time, 16), err: errors.New("database unavailable")}
	_, p := newPruner(t, 10*time.Millisecond, uc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := serve(ctx, p)

	for range 2 {
		select {
		case <-uc.calls:
		case <-time.After(2 * time.Second):
			t.Fatal("pruner stopped after a failure")
		}
	}

	cancel()
	assert.NoError(t, <-errCh)
}

func TestRevocationPruner_Disabled(t *testing.T) {
	uc := &fakeAuthUsecase{calls: make(chan time.Time, 1)}
	lc, p := newPruner(t, 0, uc)
	lc.RequireStart()

	require.NoError(t, p.Serve(context.Background()))
	assert.Empty(t, uc.calls)

	lc.RequireStop()
}

func TestRevocationPruner_StopBeforeServe(t *testing.T) {
	lc, _ := newPruner(t, time.Hour, &fakeAuthUsecase{calls: make(chan time.Time, 1)})
	lc.RequireStart()
	lc.RequireStop()
}

func TestRevocationPruner_DeletesOnlyExpired(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.RevokedTokenRepo().Revoke(ctx, "expired", now.Add(-time.Minute)))
	require.NoError(t, store.RevokedTokenRepo().Revoke(ctx, "live", now.Add(time.Hour)))

	svc := impl.NewAuthService(impl.AuthServiceParams{
		TxManager:        store,
		UserRepo:         store.UserRepo(),
		RevokedTokenRepo: store.RevokedTokenRepo(),
		Logger:           newDiscardLogger(),
	})

	_, p := newPruner(t, time.Hour, svc)
	p.now = func() time.Time { return now }
	p.prune(ctx)

	assert.Equal(t, 1, store.RevokedCount())
	revoked, err := store.RevokedTokenRepo().IsRevoked(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)
}
