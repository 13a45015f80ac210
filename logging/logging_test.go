package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNew_DebugGate(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantDebug bool
	}{
		{"info level hides debug", Config{Level: LevelInfo, Format: FormatText}, false},
		{"debug flag shows debug", Config{Level: LevelInfo, Format: FormatText, Debug: true}, true},
		{"debug level shows debug", Config{Level: LevelDebug, Format: FormatText}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&tt.cfg, &buf)
			logger.Debug("debug line")
			if got := strings.Contains(buf.String(), "debug line"); got != tt.wantDebug {
				t.Errorf("debug emitted = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}

func TestNew_WarnAlwaysEmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: LevelError, Format: FormatJSON}, &buf)
	logger.Warn("careful", "key", "value")

	out := buf.String()
	if !strings.Contains(out, `"msg":"careful"`) {
		t.Errorf("warn not emitted as JSON: %q", out)
	}
}

func TestConfig_Finalize(t *testing.T) {
	t.Setenv("TEST_LOG_LEVEL", "debug")
	t.Setenv("TEST_LOG_DEBUG", "true")

	cfg := Config{}
	if err := cfg.Finalize(&Env{Level: "TEST_LOG_LEVEL", Format: "TEST_LOG_FORMAT", Debug: "TEST_LOG_DEBUG"}); err != nil {
		t.Fatalf("Finalize() failed: %v", err)
	}
	if cfg.Level != LevelDebug {
		t.Errorf("Level = %s, want debug", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("Format = %s, want text", cfg.Format)
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestConfig_FinalizeInvalid(t *testing.T) {
	cfg := Config{Level: "loud"}
	if err := cfg.Finalize(nil); err == nil {
		t.Error("Finalize() should reject unknown level")
	}
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	c.Notify("发布成功")
	c.Notify("second")

	if len(c.Messages()) != 2 {
		t.Fatalf("Messages() len = %d, want 2", len(c.Messages()))
	}
	if !c.Contains("发布") {
		t.Error("Contains() = false, want true")
	}
}
