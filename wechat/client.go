// Package wechat is the client for the WeChat official account cgi-bin API: token
// management, authenticated calls with retry, media library and drafts.
package wechat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"mp_publisher/kvstore"
	"mp_publisher/logging"
)

const DefaultBaseURL = "https://api.weixin.qq.com"

const (
	stableTokenPath     = "/cgi-bin/stable_token"
	batchGetMaterial    = "/cgi-bin/material/batchget_material"
	addMaterialPath     = "/cgi-bin/material/add_material"
	addDraftPath        = "/cgi-bin/draft/add"
	updateDraftPath     = "/cgi-bin/draft/update"
	maxResponseBodySize = 8 << 20
)

var (
	ErrTokenUnavailable = errors.New("无法获取Access Token")
	ErrUploadFailed     = errors.New("image upload failed")
	ErrMissingAppConfig = errors.New("config must include app_id and app_secret")
)

// Options configures a Client.
type Options struct {
	AppID     string
	AppSecret string
	BaseURL   string

	HTTPClient *http.Client
	Store      kvstore.Store
	Logger     logging.Logger
	Notifier   logging.Notifier

	// TokenRetries is how many times a failed credential exchange is repeated
	// after the first call (default 3).
	TokenRetries int
	// RequestRetries bounds attempts of an authenticated call on transient network errors (default 2).
	RequestRetries int
	// BaseDelay is the first backoff delay, doubled on every further attempt (default 1s).
	BaseDelay time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client talks to the WeChat API on behalf of one official account.
type Client struct {
	appID     string
	appSecret string
	baseURL   string
	http      *http.Client
	store     kvstore.Store
	logger    logging.Logger
	notifier  logging.Notifier

	tokenRetries   int
	requestRetries int
	baseDelay      time.Duration
	now            func() time.Time
	sleep          func(ctx context.Context, d time.Duration) error

	group singleflight.Group
	mu    sync.Mutex
	cache *TokenCache
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.AppID == "" || opts.AppSecret == "" {
		return nil, ErrMissingAppConfig
	}
	c := &Client{
		appID:          opts.AppID,
		appSecret:      opts.AppSecret,
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		http:           opts.HTTPClient,
		store:          opts.Store,
		logger:         opts.Logger,
		notifier:       opts.Notifier,
		tokenRetries:   opts.TokenRetries,
		requestRetries: opts.RequestRetries,
		baseDelay:      opts.BaseDelay,
		now:            opts.Now,
		sleep:          opts.Sleep,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.store == nil {
		c.store = kvstore.NewMemory()
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.notifier == nil {
		c.notifier = logging.NotifierFunc(func(string) {})
	}
	if c.tokenRetries <= 0 {
		c.tokenRetries = 3
	}
	if c.requestRetries <= 0 {
		c.requestRetries = 2
	}
	if c.baseDelay == 0 {
		c.baseDelay = time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoff returns the delay before retry number attempt (1-based).
func (c *Client) backoff(attempt int) time.Duration {
	return c.baseDelay * time.Duration(1<<(attempt-1))
}

// Response is the errcode/errmsg envelope every endpoint may return, plus the raw body.
type Response struct {
	ErrCode    int    `json:"errcode"`
	ErrMsg     string `json:"errmsg"`
	StatusCode int    `json:"-"`
	Body       []byte `json:"-"`
}

// OK reports a zero or absent errcode.
func (r *Response) OK() bool { return r.ErrCode == 0 }

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Err converts a business failure into an *APIError.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{Code: r.ErrCode, Message: r.ErrMsg}
}

// APIError is a non-zero errcode returned by the API.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("errcode %d: %s", e.Code, e.Message)
}

func (c *Client) endpoint(path, token string, extra url.Values) string {
	q := url.Values{}
	for k, v := range extra {
		q[k] = v
	}
	if token != "" {
		q.Set("access_token", token)
	}
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (c *Client) postJSON(ctx context.Context, path, token string, extra url.Values, payload any) (*Response, error) {
	body, err := encodeJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return c.do(ctx, c.endpoint(path, token, extra), "application/json", bytes.NewReader(body))
}

func (c *Client) do(ctx context.Context, u, contentType string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	out := &Response{StatusCode: resp.StatusCode, Body: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode response (HTTP %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 400 && out.OK() {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Path)
	}
	return out, nil
}
