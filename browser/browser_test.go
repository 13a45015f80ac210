package browser

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	b := New(Options{})
	if b.opts.Timeout != DefaultTimeout || b.opts.MathJaxURL != DefaultMathJaxURL || b.opts.MermaidURL != DefaultMermaidURL {
		t.Errorf("defaults not applied: %+v", b.opts)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() on unstarted browser = %v", err)
	}
}

func TestPages(t *testing.T) {
	svg := `<svg width="10" height="10"></svg>`
	if p := rasterPage(svg); !strings.Contains(p, `<div id="diagram">`+svg+`</div>`) {
		t.Errorf("rasterPage() = %s", p)
	}
	if p := mathPage(`https://cdn.example/tex-svg.js?a=1&b=2`); !strings.Contains(p, `src="https://cdn.example/tex-svg.js?a=1&amp;b=2"`) ||
		!strings.Contains(p, "fontCache:'none'") {
		t.Errorf("mathPage() = %s", p)
	}
	if p := mermaidPage("mermaid.js"); !strings.Contains(p, "startOnLoad:false") {
		t.Errorf("mermaidPage() = %s", p)
	}
}

func TestTimeout(t *testing.T) {
	b := New(Options{Timeout: time.Minute})
	if d, err := b.timeout(context.Background()); err != nil || d != time.Minute {
		t.Errorf("timeout() = %v, %v", d, err)
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	if _, err := b.timeout(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expired deadline = %v", err)
	}
}

func TestRasterize_CanceledContext(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Rasterize(ctx, "<svg></svg>", 10, 10, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWriteTempPage(t *testing.T) {
	path, err := writeTempPage("<p>x</p>")
	if err != nil {
		t.Fatalf("writeTempPage() failed: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "<p>x</p>" {
		t.Errorf("page file = %q, %v", data, err)
	}
}
