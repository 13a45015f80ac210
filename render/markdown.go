// Package render turns Markdown documents into the HTML the rest of the
// pipeline works on, standing in for the editor's own preview renderer.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"mp_publisher/htmldom"
	"mp_publisher/logging"
	"mp_publisher/mathtex"
)

// ErrHTMLConversion indicates Markdown rendering failed.
var ErrHTMLConversion = errors.New("HTML conversion failed")

// Renderer renders a Markdown document located at sourcePath to an HTML
// fragment.
type Renderer interface {
	Render(ctx context.Context, markdown, sourcePath string) (string, error)
}

// DiagramRenderer lays out Mermaid source as SVG.
type DiagramRenderer interface {
	RenderMermaid(ctx context.Context, code string) (string, error)
}

type Options struct {
	// Diagrams renders mermaid fences. Without it they stay as source blocks.
	Diagrams DiagramRenderer
	Logger   logging.Logger
}

// GoldmarkRenderer renders GFM with footnotes, raw HTML, TeX delimiters,
// mermaid fences and wiki-style embeds.
type GoldmarkRenderer struct {
	md       goldmark.Markdown
	diagrams DiagramRenderer
	logger   logging.Logger
}

var _ Renderer = (*GoldmarkRenderer)(nil)

func New(opts Options) *GoldmarkRenderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
		),
		goldmark.WithRendererOptions(
			gmhtml.WithHardWraps(),
			gmhtml.WithXHTML(),
			gmhtml.WithUnsafe(),
		),
	)
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &GoldmarkRenderer{md: md, diagrams: opts.Diagrams, logger: logger}
}

const mathToken = "MPMATH%dX"

var wikiLink = regexp.MustCompile(`(!?)\[\[([^\[\]|\n]+)(?:\|([^\[\]\n]*))?\]\]`)

// Render returns the HTML fragment for markdown. Frontmatter is kept as a
// pre.frontmatter block, formulas become mjx-container elements holding their
// TeX and mermaid fences become div.mermaid when a diagram renderer is set.
func (r *GoldmarkRenderer) Render(ctx context.Context, markdown, sourcePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, body := SplitFrontmatter(markdown)
	formulas := mathtex.Extract(body)
	src := replaceFormulas(body, formulas)
	src = replaceWikiLinks(src)

	type result struct {
		html string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var buf bytes.Buffer
		if err := r.md.Convert([]byte(src), &buf); err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrHTMLConversion, err)}
			return
		}
		done <- result{html: buf.String()}
	}()

	var out string
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		out = res.html
	}

	out = restoreFormulas(out, formulas)
	if raw != "" {
		out = `<pre class="frontmatter"><code>` + html.EscapeString(raw) + "</code></pre>\n" + out
	}
	out, err := r.renderDiagrams(ctx, out)
	if err != nil {
		return "", err
	}
	r.logger.Debug("markdown rendered", "source", sourcePath, "formulas", len(formulas), "bytes", len(out))
	return out, nil
}

// replaceFormulas swaps every formula for an inert token so the Markdown
// parser never sees TeX.
func replaceFormulas(src string, formulas []mathtex.Formula) string {
	if len(formulas) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for i, f := range formulas {
		if f.Start < last {
			continue
		}
		b.WriteString(src[last:f.Start])
		fmt.Fprintf(&b, mathToken, i)
		last = f.End
	}
	b.WriteString(src[last:])
	return b.String()
}

func restoreFormulas(out string, formulas []mathtex.Formula) string {
	for i, f := range formulas {
		token := fmt.Sprintf(mathToken, i)
		attrs := `class="MathJax" jax="SVG"`
		if f.Display {
			attrs += ` display="true"`
		}
		container := "<mjx-container " + attrs + ">" + html.EscapeString(f.Tex) + "</mjx-container>"
		if f.Display {
			out = strings.Replace(out, "<p>"+token+"</p>", container, 1)
		}
		out = strings.Replace(out, token, container, 1)
	}
	return out
}

// replaceWikiLinks turns ![[target|alt]] embeds into internal-embed spans and
// [[target|alias]] links into their display text. Code is left alone.
func replaceWikiLinks(src string) string {
	masked := mathtex.Mask(src)
	matches := wikiLink.FindAllStringSubmatchIndex(masked, -1)
	if len(matches) == 0 {
		return src
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(src[last:m[0]])
		target := strings.TrimSpace(src[m[4]:m[5]])
		label := ""
		if m[6] >= 0 {
			label = strings.TrimSpace(src[m[6]:m[7]])
		}
		if m[3] > m[2] {
			linkSrc := target
			if label != "" {
				linkSrc += "|" + label
			}
			fmt.Fprintf(&b, `<span class="internal-embed" src="%s" alt="%s"></span>`,
				html.EscapeString(linkSrc), html.EscapeString(label))
		} else if label != "" {
			b.WriteString(label)
		} else {
			b.WriteString(target)
		}
		last = m[1]
	}
	b.WriteString(src[last:])
	return b.String()
}

// renderDiagrams lays out every mermaid fence. Fences that cannot be rendered
// stay as pre.mermaid blocks holding their source.
func (r *GoldmarkRenderer) renderDiagrams(ctx context.Context, fragment string) (string, error) {
	if !strings.Contains(fragment, "language-mermaid") {
		return fragment, nil
	}
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}
	for _, code := range htmldom.QueryAll(root, "pre > code.language-mermaid") {
		pre := code.Parent
		htmldom.AddClass(pre, "mermaid")
		if r.diagrams == nil {
			continue
		}
		svg, err := r.diagrams.RenderMermaid(ctx, htmldom.TextContent(code))
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.logger.Warn("mermaid render failed", "error", err)
			continue
		}
		div := htmldom.NewElement("div", "mermaid")
		if err := htmldom.ParseInto(div, svg); err != nil {
			r.logger.Warn("mermaid output unreadable", "error", err)
			continue
		}
		htmldom.ReplaceWith(pre, div)
	}
	return htmldom.Render(root)
}
