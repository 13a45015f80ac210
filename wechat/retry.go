package wechat

import (
	"context"
	"errors"
	"net"
	"strings"
)

// RequestFunc performs one authenticated call with the given token.
type RequestFunc func(ctx context.Context, token string) (*Response, error)

var tokenErrorCodes = map[int]bool{
	40001: true, // invalid credential
	40014: true, // invalid access_token
	42001: true, // access_token expired
}

// IsTokenError reports whether code means the token must be refreshed.
func IsTokenError(code int) bool { return tokenErrorCodes[code] }

// RequestWithTokenRetry runs fn with a token. A token-class errcode triggers at most
// one forced refresh and one replay per call. Transient network errors are retried up
// to the configured attempt budget; any other error is returned immediately.
func (c *Client) RequestWithTokenRetry(ctx context.Context, fn RequestFunc) (*Response, error) {
	var (
		lastErr   error
		refreshed bool
	)
	for attempt := 1; attempt <= c.requestRetries; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying request", "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp, err := c.attempt(ctx, fn, &refreshed)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !IsTransient(err) {
			c.logger.Error("wechat request failed", "error", err)
			return nil, err
		}
		c.logger.Error("wechat network error", "attempt", attempt, "of", c.requestRetries, "error", err)
	}
	return nil, lastErr
}

// attempt runs fn once. refreshed records whether a forced refresh already
// happened during this request.
func (c *Client) attempt(ctx context.Context, fn RequestFunc, refreshed *bool) (*Response, error) {
	token, err := c.AccessToken(ctx, false)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, ErrTokenUnavailable
	}

	resp, err := fn(ctx, token)
	if err != nil {
		return nil, err
	}
	if IsTokenError(resp.ErrCode) && !*refreshed {
		*refreshed = true
		c.logger.Warn("access token rejected, refreshing", "errcode", resp.ErrCode)
		fresh, err := c.AccessToken(ctx, true)
		if err != nil {
			return nil, err
		}
		if fresh != "" {
			return fn(ctx, fresh)
		}
	}
	return resp, nil
}

var transientSignatures = []string{
	"ERR_CONNECTION_CLOSED",
	"net::",
	"connection reset",
	"connection refused",
	"broken pipe",
	"EOF",
	"timeout",
}

// IsTransient reports whether err looks like a retryable transport failure.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, ErrTokenUnavailable) || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
