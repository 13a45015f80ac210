// Package config loads the publisher configuration from JSON or TOML files
// with environment variable overrides and per-environment overlays.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"mp_publisher/logging"
)

const (
	// DefaultPath is where the CLI looks for a config file.
	DefaultPath = "config/config.json"

	// EnvName selects the overlay file config.<name>.<ext> next to the base file.
	EnvName = "MP_ENV"

	EnvServerAddr = "MP_SERVER_ADDR"
	EnvStateFile  = "MP_STATE_FILE"
)

var loggingEnv = &logging.Env{
	Level:  "MP_LOG_LEVEL",
	Format: "MP_LOG_FORMAT",
	Debug:  "MP_DEBUG",
}

// Config is the root configuration.
type Config struct {
	WeChat     WeChatConfig   `json:"wechat" toml:"wechat"`
	Vault      VaultConfig    `json:"vault" toml:"vault"`
	Style      StyleConfig    `json:"style" toml:"style"`
	Images     ImageConfig    `json:"images" toml:"images"`
	Logging    logging.Config `json:"logging" toml:"logging"`
	LLM        *LLMConfig     `json:"llm,omitempty" toml:"llm,omitempty"`
	ServerAddr string         `json:"server_addr,omitempty" toml:"server_addr"`
	StateFile  string         `json:"state_file,omitempty" toml:"state_file"`

	// AppID and AppSecret are the flat credential keys of older config files.
	AppID     string `json:"app_id,omitempty" toml:"app_id"`
	AppSecret string `json:"app_secret,omitempty" toml:"app_secret"`
}

// LLMConfig selects the model used to write digests. Optional.
type LLMConfig struct {
	Provider string `json:"provider,omitempty" toml:"provider"`
	Model    string `json:"model,omitempty" toml:"model"`
	APIKey   string `json:"api_key,omitempty" toml:"api_key"`
	BaseURL  string `json:"base_url,omitempty" toml:"base_url"`
}

// Load reads path and applies the overlay selected by MP_ENV, if one exists.
// The result still needs Finalize.
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if overlay := overlayPath(path); overlay != "" {
		o, err := load(overlay)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", overlay, err)
		}
		cfg.Merge(o)
	}
	return cfg, nil
}

// Finalize applies defaults, loads environment overrides, and validates the configuration.
func (c *Config) Finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.WeChat.Finalize(); err != nil {
		return fmt.Errorf("wechat: %w", err)
	}
	if err := c.Vault.Finalize(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if err := c.Style.Finalize(); err != nil {
		return fmt.Errorf("style: %w", err)
	}
	if err := c.Images.Finalize(); err != nil {
		return fmt.Errorf("images: %w", err)
	}
	if err := c.Logging.Finalize(loggingEnv); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// Merge applies values from overlay configuration that differ from zero values.
func (c *Config) Merge(overlay *Config) {
	if overlay.ServerAddr != "" {
		c.ServerAddr = overlay.ServerAddr
	}
	if overlay.StateFile != "" {
		c.StateFile = overlay.StateFile
	}
	if overlay.AppID != "" {
		c.AppID = overlay.AppID
	}
	if overlay.AppSecret != "" {
		c.AppSecret = overlay.AppSecret
	}
	if overlay.LLM != nil {
		c.LLM = overlay.LLM
	}
	c.WeChat.Merge(&overlay.WeChat)
	c.Vault.Merge(&overlay.Vault)
	c.Style.Merge(&overlay.Style)
	c.Images.Merge(&overlay.Images)
	c.Logging.Merge(&overlay.Logging)
}

func (c *Config) loadDefaults() {
	if c.WeChat.AppID == "" {
		c.WeChat.AppID = c.AppID
	}
	if c.WeChat.AppSecret == "" {
		c.WeChat.AppSecret = c.AppSecret
	}
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.StateFile == "" {
		c.StateFile = "state.json"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvServerAddr); v != "" {
		c.ServerAddr = v
	}
	if v := os.Getenv(EnvStateFile); v != "" {
		c.StateFile = v
	}
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

func overlayPath(base string) string {
	env := os.Getenv(EnvName)
	if env == "" {
		return ""
	}
	ext := filepath.Ext(base)
	path := fmt.Sprintf("%s.%s%s", strings.TrimSuffix(base, ext), env, ext)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
