// Package session is an HTTP client for the repohub API that keeps a login session alive.
// Concurrent requests that hit an expired access token share a single refresh.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultAuthTimeout    = 15 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// User is the public profile returned by the API.
type User struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// APIError is a non-2xx response decoded from the API envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Store defaults to a MemoryStore.
	Store TokenStore
	// OnSessionExpired runs after a failed refresh has cleared the store.
	OnSessionExpired func()
	// AuthTimeout bounds register, login, logout and refresh calls. Defaults to 15s.
	AuthTimeout time.Duration
	// RequestTimeout bounds authenticated calls, including any refresh and replay.
	// Defaults to 60s.
	RequestTimeout time.Duration
	// Transport is the underlying round tripper. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Client talks to the auth endpoints and performs authenticated requests.
type Client struct {
	baseURL *url.URL
	store   TokenStore
	auth    *http.Client
	private *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Details string `json:"details"`
	} `json:"error"`
}

type sessionData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         User   `json:"user"`
}

// New builds a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid base url %q", cfg.BaseURL)
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = http.DefaultTransport
	}

	c := &Client{
		baseURL: base,
		store:   cfg.Store,
		auth:    &http.Client{Transport: cfg.Transport, Timeout: cfg.AuthTimeout},
	}

	transport, err := NewTransport(TransportConfig{
		Base:             cfg.Transport,
		Store:            cfg.Store,
		Refresh:          c.refresh,
		RefreshTimeout:   cfg.AuthTimeout,
		OnSessionExpired: cfg.OnSessionExpired,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	c.private = &http.Client{Transport: transport, Timeout: cfg.RequestTimeout}

	return c, nil
}

// Store returns the token store backing the client.
func (c *Client) Store() TokenStore {
	return c.store
}

// Register creates an account. It does not log in.
func (c *Client) Register(ctx context.Context, name, email, password string) (*User, error) {
	var user User
	err := c.call(ctx, c.auth, http.MethodPost, "/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	}, &user)
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Login starts a session and stores its tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var data sessionData
	err := c.call(ctx, c.auth, http.MethodPost, "/auth/login", map[string]string{
		"email": email, "password": password,
	}, &data)
	if err != nil {
		return nil, err
	}

	c.store.Set(Tokens{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken})

	return &data.User, nil
}

// Logout revokes the session server side and clears the store. The store is cleared even
// when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	tokens := c.store.Tokens()
	c.store.Clear()

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", map[string]string{"refreshToken": tokens.RefreshToken})
	if err != nil {
		return err
	}
	if tokens.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}

	return c.send(c.auth, req, nil)
}

// Profile returns the logged in user.
func (c *Client) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.call(ctx, c.private, http.MethodGet, "/auth/profile", nil, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

// Do sends an authenticated request, refreshing the session on a 401. Relative request
// URLs are resolved against the base URL.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if !req.URL.IsAbs() {
		req.URL = c.baseURL.ResolveReference(&url.URL{Path: c.baseURL.Path + req.URL.Path, RawQuery: req.URL.RawQuery})
		req.Host = ""
	}

	resp, err := c.private.Do(req)

	return resp, errors.WithStack(err)
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	var data sessionData
	err := c.call(ctx, c.auth, http.MethodPost, "/auth/refresh-token", map[string]string{"refreshToken": refreshToken}, &data)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{AccessToken: data.AccessToken, RefreshToken: data.RefreshToken}, nil
}

func (c *Client) call(ctx context.Context, client *http.Client, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	return c.send(client, req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

func (c *Client) send(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}

		return errors.Wrap(err, "decode response")
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: env.Message}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
		}

		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}

	return errors.Wrap(json.Unmarshal(env.Data, out), "decode response data")
}
