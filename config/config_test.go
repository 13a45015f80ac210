package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"mp_publisher/logging"
	"mp_publisher/styler"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_LegacyJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.json", `{
  "app_id": "wx123",
  "app_secret": "s3cret",
  "server_addr": ":9090",
  "llm": {"provider": "openai", "model": "gpt-4o-mini"}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if cfg.WeChat.AppID != "wx123" || cfg.WeChat.AppSecret != "s3cret" || !cfg.WeChat.HasCredentials() {
		t.Errorf("legacy credentials not carried: %+v", cfg.WeChat)
	}
	if cfg.ServerAddr != ":9090" || cfg.LLM == nil || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFinalize_Defaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if cfg.WeChat.TimeoutDuration() != 60*time.Second || cfg.WeChat.RetryDelayDuration() != time.Second {
		t.Errorf("durations = %v, %v", cfg.WeChat.TimeoutDuration(), cfg.WeChat.RetryDelayDuration())
	}
	if cfg.WeChat.TokenRetries != 3 || cfg.WeChat.RequestRetries != 2 {
		t.Errorf("retries = %d, %d", cfg.WeChat.TokenRetries, cfg.WeChat.RequestRetries)
	}
	if cfg.Style.Theme != string(styler.DefaultTheme) || !cfg.Style.IsEnabled() || cfg.Style.NeedsBrowser() {
		t.Errorf("style = %+v", cfg.Style)
	}
	if cfg.Images.MaxBytes() != 10_000_000 || cfg.Images.MaxDimension != 2560 {
		t.Errorf("images = %+v, %d bytes", cfg.Images, cfg.Images.MaxBytes())
	}
	if cfg.Vault.Root != "." || cfg.StateFile != "state.json" || cfg.Logging.Level != logging.LevelInfo {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.WeChat.HasCredentials() {
		t.Error("empty config should have no credentials")
	}
}

func TestLoad_TOMLWithOverlayAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", `
state_file = "base.json"

[wechat]
app_id = "wx-base"
app_secret = "base-secret"

[style]
theme = "warm-orange"
convert_math = true

[images]
max_size = "2MB"
`)
	writeFile(t, dir, "config.prod.toml", `
[wechat]
app_id = "wx-prod"

[style]
enabled = false
`)
	t.Setenv(EnvName, "prod")
	t.Setenv(EnvAppSecret, "env-secret")
	t.Setenv("MP_DEBUG", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if cfg.WeChat.AppID != "wx-prod" || cfg.WeChat.AppSecret != "env-secret" {
		t.Errorf("wechat = %+v", cfg.WeChat)
	}
	if cfg.Style.IsEnabled() || cfg.Style.Theme != "warm-orange" || !cfg.Style.ConvertMath {
		t.Errorf("style = %+v", cfg.Style)
	}
	if cfg.Style.NeedsBrowser() {
		t.Error("disabled styling should not need a browser")
	}
	if cfg.Images.MaxBytes() != 2_000_000 || cfg.StateFile != "base.json" || !cfg.Logging.Debug {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestFinalize_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"theme", Config{Style: StyleConfig{Theme: "neon"}}},
		{"size", Config{Images: ImageConfig{MaxSize: "lots"}}},
		{"timeout", Config{WeChat: WeChatConfig{Timeout: "soon"}}},
		{"retries", Config{WeChat: WeChatConfig{TokenRetries: -1}}},
		{"log level", Config{Logging: logging.Config{Level: "loud"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Finalize(); err == nil {
				t.Error("Finalize() should fail")
			}
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}
	path := writeFile(t, t.TempDir(), "bad.json", "{")
	if _, err := Load(path); err == nil {
		t.Error("malformed JSON should fail")
	}
}
