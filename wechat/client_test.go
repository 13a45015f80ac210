package wechat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"mp_publisher/kvstore"
	"mp_publisher/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeAPI is a scripted WeChat endpoint that counts calls per path.
type fakeAPI struct {
	mu       sync.Mutex
	calls    map[string]int
	tokens   []string
	handlers map[string]http.HandlerFunc
	bodies   map[string][]string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		calls:    map[string]int{},
		handlers: map[string]http.HandlerFunc{},
		bodies:   map[string][]string{},
	}
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(strings.NewReader(string(body)))

	f.mu.Lock()
	f.calls[r.URL.Path]++
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], string(body))
	h, ok := f.handlers[r.URL.Path]
	f.mu.Unlock()

	if !ok && r.URL.Path == stableTokenPath {
		f.mu.Lock()
		tok := "token-1"
		if n := f.calls[r.URL.Path]; n > 1 {
			tok = "token-" + string(rune('0'+n))
		}
		f.tokens = append(f.tokens, tok)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"access_token": tok, "expires_in": 7200})
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api *fakeAPI) (*Client, *fakeClock, *logging.Collector, *kvstore.Memory) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	notes := &logging.Collector{}
	store := kvstore.NewMemory()
	c, err := New(Options{
		AppID:     "wx-app",
		AppSecret: "secret",
		BaseURL:   srv.URL,
		Store:     store,
		Notifier:  notes,
		Now:       clock.Now,
		Sleep:     func(context.Context, time.Duration) error { return nil },
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c, clock, notes, store
}

func TestNew_RequiresCredentials(t *testing.T) {
	if _, err := New(Options{AppID: "x"}); !errors.Is(err, ErrMissingAppConfig) {
		t.Errorf("New() error = %v, want ErrMissingAppConfig", err)
	}
}

func TestAccessToken_CachedWithinLifetime(t *testing.T) {
	api := newFakeAPI()
	c, clock, _, store := newTestClient(t, api)
	ctx := context.Background()

	first, err := c.AccessToken(ctx, false)
	if err != nil || first == "" {
		t.Fatalf("AccessToken() = %q, %v", first, err)
	}
	clock.Advance(109 * time.Minute)
	second, _ := c.AccessToken(ctx, false)

	if second != first {
		t.Errorf("second token = %q, want cached %q", second, first)
	}
	if n := api.count(stableTokenPath); n != 1 {
		t.Errorf("token endpoint calls = %d, want 1", n)
	}

	var cached TokenCache
	if ok, _ := store.Get(tokenCacheKey, &cached); !ok || cached.Token != first {
		t.Errorf("persisted cache = %+v", cached)
	}
	want := time.UnixMilli(1_700_000_000_000).Add(110 * time.Minute).UnixMilli()
	if cached.ExpireTime != want {
		t.Errorf("ExpireTime = %d, want %d", cached.ExpireTime, want)
	}
}

func TestAccessToken_RefetchAfterExpiry(t *testing.T) {
	api := newFakeAPI()
	c, clock, _, _ := newTestClient(t, api)
	ctx := context.Background()

	if _, err := c.AccessToken(ctx, false); err != nil {
		t.Fatalf("AccessToken() failed: %v", err)
	}
	clock.Advance(111 * time.Minute)
	if _, err := c.AccessToken(ctx, false); err != nil {
		t.Fatalf("AccessToken() failed: %v", err)
	}
	if n := api.count(stableTokenPath); n != 2 {
		t.Errorf("token endpoint calls = %d, want 2", n)
	}
}

func TestAccessToken_ForceRefreshSendsFlag(t *testing.T) {
	api := newFakeAPI()
	c, _, _, _ := newTestClient(t, api)
	ctx := context.Background()

	_, _ = c.AccessToken(ctx, false)
	_, _ = c.AccessToken(ctx, true)

	if n := api.count(stableTokenPath); n != 2 {
		t.Fatalf("token endpoint calls = %d, want 2", n)
	}
	var req stableTokenRequest
	if err := json.Unmarshal([]byte(api.bodies[stableTokenPath][1]), &req); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if !req.ForceRefresh || req.AppID != "wx-app" || req.GrantType != "client_credential" {
		t.Errorf("request = %+v", req)
	}
}

func TestAccessToken_BusinessFailureExhaustsRetries(t *testing.T) {
	api := newFakeAPI()
	api.handlers[stableTokenPath] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"errcode": 40013, "errmsg": "invalid appid"})
	}
	c, _, notes, _ := newTestClient(t, api)

	tok, err := c.AccessToken(context.Background(), false)
	if err != nil {
		t.Fatalf("AccessToken() error = %v, want nil with empty token", err)
	}
	if tok != "" {
		t.Errorf("token = %q, want empty sentinel", tok)
	}
	if n := api.count(stableTokenPath); n != 4 {
		t.Errorf("token endpoint calls = %d, want 4 (first call + 3 retries)", n)
	}
	if !notes.Contains("invalid appid") {
		t.Errorf("notices = %v", notes.Messages())
	}
}

func TestAccessToken_NetworkFailureMessage(t *testing.T) {
	api := newFakeAPI()
	api.handlers[stableTokenPath] = func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("hijack unsupported")
		}
		conn, _, _ := hj.Hijack()
		conn.Close()
	}
	c, _, notes, _ := newTestClient(t, api)

	tok, _ := c.AccessToken(context.Background(), false)
	if tok != "" {
		t.Errorf("token = %q, want empty", tok)
	}
	if !notes.Contains("网络连接被关闭") {
		t.Errorf("notices = %v, want connection closed message", notes.Messages())
	}
}

func TestAccessToken_ConcurrentCallersShareFetch(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	api.handlers[stableTokenPath] = func(w http.ResponseWriter, r *http.Request) {
		<-release
		writeJSON(w, map[string]any{"access_token": "shared"})
	}
	c, _, _, _ := newTestClient(t, api)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = c.AccessToken(context.Background(), false)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		if r != "shared" {
			t.Errorf("token = %q, want shared", r)
		}
	}
	if n := api.count(stableTokenPath); n != 1 {
		t.Errorf("token endpoint calls = %d, want 1", n)
	}
}
