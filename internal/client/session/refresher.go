package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

const refreshKey = "refresh"

// ErrNoSession means there is no refresh token to exchange.
var ErrNoSession = errors.New("no session to refresh")

// RefreshFunc exchanges a refresh token for a new pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Tokens, error)

// refresher runs at most one refresh at a time and shares its result with every waiter.
type refresher struct {
	store     TokenStore
	refresh   RefreshFunc
	timeout   time.Duration
	onExpired func()
	logger    *slog.Logger
	group     singleflight.Group
}

// accessToken returns an access token newer than stale, refreshing the session if needed.
// The refresh is detached from ctx so a caller giving up does not fail the other waiters.
func (r *refresher) accessToken(ctx context.Context, stale string) (string, error) {
	if current := r.store.Tokens().AccessToken; current != "" && current != stale {
		return current, nil
	}

	ch := r.group.DoChan(refreshKey, func() (any, error) {
		current := r.store.Tokens()
		if current.AccessToken != "" && current.AccessToken != stale {
			return current.AccessToken, nil
		}
		if current.RefreshToken == "" {
			return "", ErrNoSession
		}

		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		r.logger.Debug("Refreshing session")

		tokens, err := r.refresh(refreshCtx, current.RefreshToken)
		if err != nil {
			r.logger.Warn("Session refresh failed, clearing session", slog.Any("error", err))
			r.store.Clear()
			if r.onExpired != nil {
				r.onExpired()
			}

			return "", errors.Wrap(err, "refresh session")
		}

		r.store.Set(tokens)

		return tokens.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", errors.WithStack(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}

		return res.Val.(string), nil
	}
}
