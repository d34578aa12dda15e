package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAPI accepts only the current access token and rotates it on refresh.
type fakeAPI struct {
	mu      sync.Mutex
	access  string
	refresh string

	refreshCalls atomic.Int32
	refreshDelay time.Duration
	refreshFails bool
	entered      chan struct{}
	release      chan struct{}
	privateCode  int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{access: "access-1", refresh: "refresh-1"}
}

func (f *fakeAPI) rotate(refreshToken string) (Tokens, error) {
	f.refreshCalls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.refreshDelay)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.refreshFails || refreshToken != f.refresh {
		return Tokens{}, &APIError{StatusCode: http.StatusUnauthorized, Code: "REFRESH_TOKEN_INVALID"}
	}

	n := strconv.Itoa(int(f.refreshCalls.Load()) + 1)
	f.access = "access-" + n
	f.refresh = "refresh-" + n

	return Tokens{AccessToken: f.access, RefreshToken: f.refresh}, nil
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.privateCode != 0 {
		w.WriteHeader(f.privateCode)
		_, _ = io.WriteString(w, "upstream failure")

		return
	}

	f.mu.Lock()
	current := f.access
	f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+current {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"success":false,"code":401,"message":"Token expired or invalid"}`)

		return
	}

	body, _ := io.ReadAll(r.Body)
	_ = json.NewEncoder(w).Encode(map[string]string{"token": current, "body": string(body)})
}

type harness struct {
	api       *fakeAPI
	server    *httptest.Server
	store     *MemoryStore
	client    *http.Client
	expiredCh chan struct{}
}

func newHarness(t *testing.T, api *fakeAPI) *harness {
	t.Helper()

	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	h := &harness{api: api, server: server, store: NewMemoryStore(), expiredCh: make(chan struct{}, 8)}
	transport, err := NewTransport(TransportConfig{
		Store: h.store,
		Refresh: func(_ context.Context, refreshToken string) (Tokens, error) {
			return api.rotate(refreshToken)
		},
		OnSessionExpired: func() { h.expiredCh <- struct{}{} },
		Logger:           newDiscardLogger(),
	})
	require.NoError(t, err)
	h.client = &http.Client{Transport: transport}

	return h
}

func (h *harness) get(t *testing.T, ctx context.Context) (*http.Response, error) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/private", nil)
	require.NoError(t, err)

	return h.client.Do(req)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return string(raw)
}

func TestTransport_AttachesBearer(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.store.Set(Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := h.get(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"token":"access-1"`)
	assert.Zero(t, h.api.refreshCalls.Load())
}

func TestTransport_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	api := newFakeAPI()
	api.access = "access-live"
	api.refreshDelay = 50 * time.Millisecond
	h := newHarness(t, api)
	h.store.Set(Tokens{AccessToken: "access-stale", RefreshToken: "refresh-1"})

	const n = 5
	var wg sync.WaitGroup
	codes := make([]int, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := h.get(t, context.Background())
			if !assert.NoError(t, err) {
				return
			}
			codes[i] = resp.StatusCode
			_ = resp.Body.Close()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), api.refreshCalls.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, "access-2", h.store.Tokens().AccessToken)
	assert.Equal(t, "refresh-2", h.store.Tokens().RefreshToken)
}

func TestTransport_RefreshFailureReturnsOriginal401(t *testing.T) {
	api := newFakeAPI()
	api.refreshFails = true
	h := newHarness(t, api)
	h.store.Set(Tokens{AccessToken: "access-stale", RefreshToken: "refresh-1"})

	resp, err := h.get(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Token expired or invalid")
	assert.Equal(t, Tokens{}, h.store.Tokens())
	assert.Len(t, h.expiredCh, 1)
}

func TestTransport_NoSessionDoesNotRefresh(t *testing.T) {
	h := newHarness(t, newFakeAPI())

	resp, err := h.get(t, context.Background())
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.api.refreshCalls.Load())
	assert.Empty(t, h.expiredCh)
}

func TestTransport_NonUnauthorizedPassesThrough(t *testing.T) {
	api := newFakeAPI()
	api.privateCode = http.StatusInternalServerError
	h := newHarness(t, api)
	h.store.Set(Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})

	resp, err := h.get(t, context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "upstream failure", readBody(t, resp))
	assert.Zero(t, api.refreshCalls.Load())
	assert.Equal(t, "access-1", h.store.Tokens().AccessToken)
}

func TestTransport_TransportErrorPassesThrough(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.store.Set(Tokens{AccessToken: "access-1", RefreshToken: "refresh-1"})
	h.server.Close()

	_, err := h.get(t, context.Background())

	require.Error(t, err)
	assert.Zero(t, h.api.refreshCalls.Load())
	assert.Equal(t, "access-1", h.store.Tokens().AccessToken)
}

func TestTransport_ReplaysPostBody(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.store.Set(Tokens{AccessToken: "access-stale", RefreshToken: "refresh-1"})

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/private", strings.NewReader(`{"name":"repo"}`))
	require.NoError(t, err)

	resp, err := h.client.Do(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"token":"access-2","body":"{\"name\":\"repo\"}"}`, readBody(t, resp))
	assert.Equal(t, int32(1), h.api.refreshCalls.Load())
}

// onceReader hides its concrete type so http.NewRequest cannot set GetBody.
type onceReader struct{ io.Reader }

func TestTransport_UnrewindableBodyIsNotReplayed(t *testing.T) {
	h := newHarness(t, newFakeAPI())
	h.store.Set(Tokens{AccessToken: "access-stale", RefreshToken: "refresh-1"})

	req, err := http.NewRequest(http.MethodPost, h.server.URL+"/private", onceReader{strings.NewReader("payload")})
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, h.api.refreshCalls.Load())
	assert.Equal(t, "access-stale", h.store.Tokens().AccessToken)
}

func TestTransport_AlreadyRefreshedTokenIsReused(t *testing.T) {
	api := newFakeAPI()
	api.access = "access-new"
	h := newHarness(t, api)
	h.store.Set(Tokens{AccessToken: "access-new", RefreshToken: "refresh-1"})

	// The request goes out with a stale token, but the store moved on meanwhile.
	token, err := h.client.Transport.(*Transport).refresher.accessToken(context.Background(), "access-old")

	require.NoError(t, err)
	assert.Equal(t, "access-new", token)
	assert.Zero(t, api.refreshCalls.Load())
}

func TestTransport_CancelledCallerDoesNotFailOthers(t *testing.T) {
	api := newFakeAPI()
	api.access = "access-live"
	api.entered = make(chan struct{}, 1)
	api.release = make(chan struct{})
	h := newHarness(t, api)
	h.store.Set(Tokens{AccessToken: "access-stale", RefreshToken: "refresh-1"})

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		resp, err := h.get(t, ctx)
		if resp != nil {
			_ = resp.Body.Close()
		}
		firstErr <- err
	}()

	select {
	case <-api.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("refresh never started")
	}

	secondCode := make(chan int, 1)
	go func() {
		resp, err := h.get(t, context.Background())
		if err != nil {
			secondCode <- 0

			return
		}
		_ = resp.Body.Close()
		secondCode <- resp.StatusCode
	}()

	cancel()
	err := <-firstErr
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	close(api.release)

	select {
	case code := <-secondCode:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never finished")
	}
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestNewTransport_RequiresStoreAndRefresh(t *testing.T) {
	_, err := NewTransport(TransportConfig{Refresh: func(context.Context, string) (Tokens, error) { return Tokens{}, nil }})
	assert.Error(t, err)

	_, err = NewTransport(TransportConfig{Store: NewMemoryStore()})
	assert.Error(t, err)
}
