package wechat

import (
	"context"
	"strings"
	"time"
)

const (
	tokenCacheKey = "wechat_token_cache"
	// The platform documents a 2 hour lifetime; cache for less.
	tokenLifetime = 110 * time.Minute
)

// TokenCache is the persisted credential.
type TokenCache struct {
	Token      string `json:"token"`
	ExpireTime int64  `json:"expireTime"`
}

type stableTokenRequest struct {
	GrantType    string `json:"grant_type"`
	AppID        string `json:"appid"`
	Secret       string `json:"secret"`
	ForceRefresh bool   `json:"force_refresh"`
}

type stableTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
}

// AccessToken returns a usable token. Without forceRefresh a cached token that has
// not expired is returned without network I/O. When every attempt fails the user is
// notified and the empty string is returned.
func (c *Client) AccessToken(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if tok, ok := c.cachedToken(); ok {
			c.logger.Debug("using cached access token")
			return tok, nil
		}
	}

	key := "token"
	if forceRefresh {
		key = "token:force"
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if !forceRefresh {
			if tok, ok := c.cachedToken(); ok {
				return tok, nil
			}
		}
		return c.fetchToken(ctx, forceRefresh)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// InvalidateToken drops the cached token.
func (c *Client) InvalidateToken(ctx context.Context) error {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
	return c.store.Delete(ctx, tokenCacheKey)
}

func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache == nil {
		var stored TokenCache
		ok, err := c.store.Get(tokenCacheKey, &stored)
		if err != nil {
			c.logger.Error("read token cache failed", "error", err)
			return "", false
		}
		if !ok {
			return "", false
		}
		c.cache = &stored
	}
	if c.cache.Token != "" && c.now().UnixMilli() < c.cache.ExpireTime {
		return c.cache.Token, true
	}
	return "", false
}

func (c *Client) fetchToken(ctx context.Context, forceRefresh bool) (string, error) {
	var (
		lastNetErr error
		lastMsg    string
	)

	attempts := c.tokenRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff(attempt - 1)
			c.logger.Warn("retrying access token", "attempt", attempt, "delay", delay)
			if err := c.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
		c.logger.Debug("fetching access token", "force_refresh", forceRefresh)

		resp, err := c.postJSON(ctx, stableTokenPath, "", nil, stableTokenRequest{
			GrantType:    "client_credential",
			AppID:        c.appID,
			Secret:       c.appSecret,
			ForceRefresh: forceRefresh,
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.logger.Error("access token network error", "attempt", attempt, "of", attempts, "error", err)
			lastNetErr, lastMsg = err, ""
			continue
		}

		var body stableTokenResponse
		if err := resp.Decode(&body); err != nil {
			lastNetErr, lastMsg = err, ""
			continue
		}
		if body.AccessToken == "" {
			c.logger.Error("access token business failure", "errcode", body.ErrCode, "errmsg", body.ErrMsg)
			lastNetErr, lastMsg = nil, body.ErrMsg
			if lastMsg == "" {
				lastMsg = "未知错误"
			}
			continue
		}

		entry := &TokenCache{
			Token:      body.AccessToken,
			ExpireTime: c.now().Add(tokenLifetime).UnixMilli(),
		}
		c.mu.Lock()
		c.cache = entry
		c.mu.Unlock()
		if err := c.store.Set(ctx, tokenCacheKey, entry); err != nil {
			c.logger.Warn("persist token cache failed", "error", err)
		}
		return body.AccessToken, nil
	}

	switch {
	case lastNetErr != nil && isConnectionClosed(lastNetErr):
		c.notifier.Notify("获取微信令牌失败: 网络连接被关闭，请检查是否启用了代理或网络环境不稳定")
	case lastNetErr != nil:
		c.notifier.Notify("获取微信访问令牌时出错，请检查网络设置")
	default:
		c.notifier.Notify("获取微信访问令牌失败: " + lastMsg)
	}
	return "", nil
}

func isConnectionClosed(err error) bool {
	msg := err.Error()
	for _, sig := range []string{"ERR_CONNECTION_CLOSED", "net::", "connection reset", "EOF", "use of closed network connection"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
