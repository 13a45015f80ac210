package browser

import (
	"context"
	"fmt"
	"html"
	"math"
	"strings"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"mp_publisher/styler"
)

var (
	_ styler.Rasterizer   = (*Browser)(nil)
	_ styler.MathCompiler = (*Browser)(nil)
)

const (
	mathPageKey    = "mathjax"
	mermaidPageKey = "mermaid"
)

// rasterPage hosts one standalone svg on a white canvas of its own size.
func rasterPage(svg string) string {
	return `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<style>html,body{margin:0;padding:0;background:#ffffff}#diagram{display:inline-block;background:#ffffff;line-height:0}</style>` +
		`</head><body><div id="diagram">` + svg + `</div></body></html>`
}

func mathPage(src string) string {
	return `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<script>window.MathJax={svg:{fontCache:'none'},startup:{typeset:false}};</script>` +
		`<script src="` + html.EscapeString(src) + `"></script></head><body></body></html>`
}

func mermaidPage(src string) string {
	return `<!DOCTYPE html><html><head><meta charset="utf-8">` +
		`<script src="` + html.EscapeString(src) + `"></script>` +
		`<script>mermaid.initialize({startOnLoad:false,securityLevel:'loose',flowchart:{htmlLabels:true}});</script>` +
		`</head><body></body></html>`
}

const (
	mathReadyJS = `() => MathJax.startup.promise.then(() => true)`
	mathJS      = `async (tex, display) => {
  const node = await MathJax.tex2svgPromise(tex, {display: display});
  const svg = node.querySelector('svg');
  if (!svg) throw new Error('no svg produced');
  const err = svg.querySelector('[data-mjx-error]');
  if (err) throw new Error(err.getAttribute('data-mjx-error'));
  return {
    svg: svg.outerHTML,
    css: MathJax.svgStylesheet().textContent,
    verticalAlign: svg.style.verticalAlign || ''
  };
}`
	mermaidReadyJS = `() => typeof mermaid.render === 'function'`
	mermaidJS      = `async (id, code) => (await mermaid.render(id, code)).svg`
)

// Rasterize screenshots svg at width x height CSS pixels, scaled by scale.
func (b *Browser) Rasterize(ctx context.Context, svg string, width, height, scale float64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, cleanup, err := b.openPage(ctx, rasterPage(svg))
	if err != nil {
		return nil, err
	}
	defer cleanup()

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             int(math.Ceil(width)),
		Height:            int(math.Ceil(height)),
		DeviceScaleFactor: scale,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: set viewport: %v", ErrRender, err)
	}
	timeout, err := b.timeout(ctx)
	if err != nil {
		return nil, err
	}
	el, err := page.Context(ctx).Timeout(timeout).Element("#diagram")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	png, err := el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: screenshot: %v", ErrRender, err)
	}
	b.logger.Debug("diagram rasterized", "width", width, "height", height, "scale", scale, "bytes", len(png))
	return png, nil
}

// CompileMath renders tex to SVG with MathJax.
func (b *Browser) CompileMath(ctx context.Context, tex string, display bool) (*styler.CompiledMath, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.sharedPage(ctx, mathPageKey, mathPage(b.opts.MathJaxURL), mathReadyJS)
	if err != nil {
		return nil, err
	}
	timeout, err := b.timeout(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Context(ctx).Timeout(timeout).Eval(mathJS, tex, display)
	if err != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrRender, tex, err)
	}
	out := &styler.CompiledMath{
		SVG:           res.Value.Get("svg").Str(),
		CSS:           res.Value.Get("css").Str(),
		VerticalAlign: res.Value.Get("verticalAlign").Str(),
	}
	if !strings.Contains(out.SVG, "<svg") {
		return nil, fmt.Errorf("%w: compile %q: empty result", ErrRender, tex)
	}
	return out, nil
}

// RenderMermaid lays out a Mermaid definition and returns its SVG markup.
func (b *Browser) RenderMermaid(ctx context.Context, code string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	page, err := b.sharedPage(ctx, mermaidPageKey, mermaidPage(b.opts.MermaidURL), mermaidReadyJS)
	if err != nil {
		return "", err
	}
	timeout, err := b.timeout(ctx)
	if err != nil {
		return "", err
	}
	id := "mermaid-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	res, err := page.Context(ctx).Timeout(timeout).Eval(mermaidJS, id, code)
	if err != nil {
		return "", fmt.Errorf("%w: mermaid: %v", ErrRender, err)
	}
	svg := res.Value.Str()
	if !strings.Contains(svg, "<svg") {
		return "", fmt.Errorf("%w: mermaid: empty result", ErrRender)
	}
	return svg, nil
}
