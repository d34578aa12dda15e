package session

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

const defaultRefreshTimeout = 15 * time.Second

// TransportConfig configures a Transport.
type TransportConfig struct {
	// Base performs the actual requests. Defaults to http.DefaultTransport.
	Base  http.RoundTripper
	Store TokenStore
	// Refresh is called with the stored refresh token after a 401.
	Refresh RefreshFunc
	// RefreshTimeout bounds one refresh call. Defaults to 15s.
	RefreshTimeout time.Duration
	// OnSessionExpired runs once per failed refresh, after the store is cleared.
	OnSessionExpired func()
	Logger           *slog.Logger
}

// Transport is an http.RoundTripper that authenticates requests from a TokenStore and,
// on a 401, refreshes the session once and replays the request.
type Transport struct {
	base      http.RoundTripper
	store     TokenStore
	refresher *refresher
}

// NewTransport builds a Transport. Store and Refresh are required.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	if cfg.Store == nil {
		return nil, errors.New("session transport requires a token store")
	}
	if cfg.Refresh == nil {
		return nil, errors.New("session transport requires a refresh func")
	}
	if cfg.Base == nil {
		cfg.Base = http.DefaultTransport
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		base:  cfg.Base,
		store: cfg.Store,
		refresher: &refresher{
			store:     cfg.Store,
			refresh:   cfg.Refresh,
			timeout:   cfg.RefreshTimeout,
			onExpired: cfg.OnSessionExpired,
			logger:    cfg.Logger,
		},
	}, nil
}

// RoundTrip implements http.RoundTripper. Non-401 responses and transport errors are
// returned untouched. When the refresh fails, or the body cannot be sent again, the
// original 401 is returned with its body intact.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	sent := t.store.Tokens().AccessToken

	resp, err := t.base.RoundTrip(authorize(req, req.Body, sent))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	if !rewindable(req) {
		return resp, nil
	}

	token, err := t.refresher.accessToken(req.Context(), sent)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			closeBody(resp)

			return nil, err
		}

		return resp, nil
	}

	var body io.ReadCloser = http.NoBody
	if req.GetBody != nil {
		if body, err = req.GetBody(); err != nil {
			return resp, nil
		}
	}

	closeBody(resp)

	return t.base.RoundTrip(authorize(req, body, token))
}

// authorize clones req with the given body and bearer token. A RoundTripper must not
// modify the caller's request.
func authorize(req *http.Request, body io.ReadCloser, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
	}

	return out
}

func rewindable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
