//go:build integration

package browser

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

// These tests launch Chrome; rod downloads Chromium on first run if needed.
// The math and mermaid cases also need network access to the script CDNs.

func TestRasterize_Integration(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="40" height="20"><rect width="40" height="20" fill="red"/></svg>`
	png, err := b.Rasterize(context.Background(), svg, 40, 20, 3)
	if err != nil {
		t.Fatalf("Rasterize() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Errorf("not a PNG: %q", png[:min(8, len(png))])
	}
}

func TestCompileMath_Integration(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	res, err := b.CompileMath(context.Background(), `\frac{a}{b}`, true)
	if err != nil {
		t.Fatalf("CompileMath() error = %v", err)
	}
	if !strings.HasPrefix(res.SVG, "<svg") || res.CSS == "" {
		t.Errorf("result = %+v", res)
	}
}

func TestRenderMermaid_Integration(t *testing.T) {
	b := New(Options{})
	defer b.Close()

	svg, err := b.RenderMermaid(context.Background(), "graph TD\n  A-->B")
	if err != nil {
		t.Fatalf("RenderMermaid() error = %v", err)
	}
	if !strings.Contains(svg, "<svg") {
		t.Errorf("svg = %s", svg)
	}
}
