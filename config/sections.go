package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/docker/go-units"

	"mp_publisher/styler"
	"mp_publisher/vault"
)

const (
	EnvAppID       = "MP_WECHAT_APP_ID"
	EnvAppSecret   = "MP_WECHAT_APP_SECRET"
	EnvVaultRoot   = "MP_VAULT_ROOT"
	EnvTheme       = "MP_THEME"
	EnvBrowserBin  = "MP_BROWSER_BIN"
	EnvMaxSize     = "MP_IMAGE_MAX_SIZE"
	EnvConvertMath = "MP_CONVERT_MATH"
)

// WeChatConfig holds the official account credentials and API behaviour.
type WeChatConfig struct {
	AppID          string `json:"app_id" toml:"app_id"`
	AppSecret      string `json:"app_secret" toml:"app_secret"`
	BaseURL        string `json:"base_url,omitempty" toml:"base_url"`
	Timeout        string `json:"timeout,omitempty" toml:"timeout"`
	TokenRetries   int    `json:"token_retries,omitempty" toml:"token_retries"`
	RequestRetries int    `json:"request_retries,omitempty" toml:"request_retries"`
	RetryDelay     string `json:"retry_delay,omitempty" toml:"retry_delay"`
}

// TimeoutDuration parses and returns the HTTP timeout.
func (c *WeChatConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// RetryDelayDuration parses and returns the first backoff delay.
func (c *WeChatConfig) RetryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryDelay)
	return d
}

// HasCredentials reports whether both app id and secret are set.
func (c *WeChatConfig) HasCredentials() bool {
	return c.AppID != "" && c.AppSecret != ""
}

func (c *WeChatConfig) Finalize() error {
	if c.Timeout == "" {
		c.Timeout = "60s"
	}
	if c.RetryDelay == "" {
		c.RetryDelay = "1s"
	}
	if c.TokenRetries == 0 {
		c.TokenRetries = 3
	}
	if c.RequestRetries == 0 {
		c.RequestRetries = 2
	}
	if v := os.Getenv(EnvAppID); v != "" {
		c.AppID = v
	}
	if v := os.Getenv(EnvAppSecret); v != "" {
		c.AppSecret = v
	}

	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.RetryDelay); err != nil {
		return fmt.Errorf("invalid retry_delay: %w", err)
	}
	if c.TokenRetries < 1 || c.RequestRetries < 1 {
		return errors.New("retry budgets must be at least 1")
	}
	return nil
}

func (c *WeChatConfig) Merge(overlay *WeChatConfig) {
	if overlay.AppID != "" {
		c.AppID = overlay.AppID
	}
	if overlay.AppSecret != "" {
		c.AppSecret = overlay.AppSecret
	}
	if overlay.BaseURL != "" {
		c.BaseURL = overlay.BaseURL
	}
	if overlay.Timeout != "" {
		c.Timeout = overlay.Timeout
	}
	if overlay.TokenRetries != 0 {
		c.TokenRetries = overlay.TokenRetries
	}
	if overlay.RequestRetries != 0 {
		c.RequestRetries = overlay.RequestRetries
	}
	if overlay.RetryDelay != "" {
		c.RetryDelay = overlay.RetryDelay
	}
}

// VaultConfig locates the documents and their asset folders.
type VaultConfig struct {
	Root              string `json:"root,omitempty" toml:"root"`
	AttachmentPattern string `json:"attachment_pattern,omitempty" toml:"attachment_pattern"`
}

func (c *VaultConfig) Finalize() error {
	if c.Root == "" {
		c.Root = "."
	}
	if c.AttachmentPattern == "" {
		c.AttachmentPattern = vault.DefaultAttachmentPattern
	}
	if v := os.Getenv(EnvVaultRoot); v != "" {
		c.Root = v
	}
	return nil
}

func (c *VaultConfig) Merge(overlay *VaultConfig) {
	if overlay.Root != "" {
		c.Root = overlay.Root
	}
	if overlay.AttachmentPattern != "" {
		c.AttachmentPattern = overlay.AttachmentPattern
	}
}

// StyleConfig controls theme inlining and the browser-backed conversions.
type StyleConfig struct {
	// Enabled defaults to true.
	Enabled        *bool  `json:"enabled,omitempty" toml:"enabled"`
	Theme          string `json:"theme,omitempty" toml:"theme"`
	ConvertMath    bool   `json:"convert_math,omitempty" toml:"convert_math"`
	ConvertMermaid bool   `json:"convert_mermaid,omitempty" toml:"convert_mermaid"`
	MathJaxURL     string `json:"mathjax_url,omitempty" toml:"mathjax_url"`
	MermaidURL     string `json:"mermaid_url,omitempty" toml:"mermaid_url"`
	BrowserBin     string `json:"browser_bin,omitempty" toml:"browser_bin"`
	RenderTimeout  string `json:"render_timeout,omitempty" toml:"render_timeout"`
}

// IsEnabled reports whether theme styling is applied.
func (c *StyleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// NeedsBrowser reports whether any enabled conversion runs in the browser.
func (c *StyleConfig) NeedsBrowser() bool {
	return c.IsEnabled() && (c.ConvertMath || c.ConvertMermaid)
}

// RenderTimeoutDuration parses and returns the per-render browser timeout.
func (c *StyleConfig) RenderTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.RenderTimeout)
	return d
}

func (c *StyleConfig) Finalize() error {
	if c.Theme == "" {
		c.Theme = string(styler.DefaultTheme)
	}
	if c.RenderTimeout == "" {
		c.RenderTimeout = "30s"
	}
	if v := os.Getenv(EnvTheme); v != "" {
		c.Theme = v
	}
	if v := os.Getenv(EnvBrowserBin); v != "" {
		c.BrowserBin = v
	}
	if v := os.Getenv(EnvConvertMath); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ConvertMath = b
		}
	}

	if _, err := styler.ParseTheme(c.Theme); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.RenderTimeout); err != nil {
		return fmt.Errorf("invalid render_timeout: %w", err)
	}
	return nil
}

func (c *StyleConfig) Merge(overlay *StyleConfig) {
	if overlay.Enabled != nil {
		c.Enabled = overlay.Enabled
	}
	if overlay.Theme != "" {
		c.Theme = overlay.Theme
	}
	if overlay.ConvertMath {
		c.ConvertMath = true
	}
	if overlay.ConvertMermaid {
		c.ConvertMermaid = true
	}
	if overlay.MathJaxURL != "" {
		c.MathJaxURL = overlay.MathJaxURL
	}
	if overlay.MermaidURL != "" {
		c.MermaidURL = overlay.MermaidURL
	}
	if overlay.BrowserBin != "" {
		c.BrowserBin = overlay.BrowserBin
	}
	if overlay.RenderTimeout != "" {
		c.RenderTimeout = overlay.RenderTimeout
	}
}

// ImageConfig bounds what is sent to the material API.
type ImageConfig struct {
	// MaxSize is a human readable size such as "10MB".
	MaxSize      string `json:"max_size,omitempty" toml:"max_size"`
	MaxDimension int    `json:"max_dimension,omitempty" toml:"max_dimension"`

	maxBytes int64
}

// MaxBytes returns MaxSize in bytes. Valid after Finalize.
func (c *ImageConfig) MaxBytes() int64 { return c.maxBytes }

func (c *ImageConfig) Finalize() error {
	if c.MaxSize == "" {
		c.MaxSize = "10MB"
	}
	if c.MaxDimension == 0 {
		c.MaxDimension = 2560
	}
	if v := os.Getenv(EnvMaxSize); v != "" {
		c.MaxSize = v
	}

	n, err := units.FromHumanSize(c.MaxSize)
	if err != nil {
		return fmt.Errorf("invalid max_size: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("invalid max_size: %s", c.MaxSize)
	}
	if c.MaxDimension < 0 {
		return fmt.Errorf("invalid max_dimension: %d", c.MaxDimension)
	}
	c.maxBytes = n
	return nil
}

func (c *ImageConfig) Merge(overlay *ImageConfig) {
	if overlay.MaxSize != "" {
		c.MaxSize = overlay.MaxSize
	}
	if overlay.MaxDimension != 0 {
		c.MaxDimension = overlay.MaxDimension
	}
}
