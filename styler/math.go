package styler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"mp_publisher/htmldom"
	"mp_publisher/mathtex"
)

// ErrFormulaMismatch means the rendered document and its Markdown source
// disagree on how many formulas there are, so they cannot be paired.
var ErrFormulaMismatch = errors.New("formula count mismatch")

// CompiledMath is the vector rendering of one formula.
type CompiledMath struct {
	SVG string
	// CSS is the stylesheet the SVG depends on, inlined before use.
	CSS string
	// VerticalAlign aligns inline formulas with the surrounding text.
	VerticalAlign string
}

// MathCompiler turns TeX into SVG.
type MathCompiler interface {
	CompileMath(ctx context.Context, tex string, display bool) (*CompiledMath, error)
}

const mathPlaceholder = "@@@MATH_SVG_PLACEHOLDER_%d@@@"

const blockMathStyle = "text-align: center; margin: 1em 0; max-width: 100%; overflow-x: auto; " +
	"display: block; line-height: 1.75; -webkit-overflow-scrolling: touch;"

const inlineMathStyle = "display: inline-block; vertical-align: middle;"

// convertMath pairs every top-level mjx-container with the formula at the same
// position in markdown, compiles it and swaps the container for a text
// placeholder. The returned map holds the SVG markup for each placeholder.
func (s *Styler) convertMath(ctx context.Context, root *html.Node, markdown string) (map[string]string, error) {
	formulas := mathtex.Extract(markdown)
	var containers []*html.Node
	for _, c := range htmldom.QueryAll(root, "mjx-container") {
		if htmldom.Closest(c, "mjx-container") == nil {
			containers = append(containers, c)
		}
	}
	if len(containers) != len(formulas) {
		return nil, fmt.Errorf("%w: %d in source, %d rendered", ErrFormulaMismatch, len(formulas), len(containers))
	}

	placeholders := make(map[string]string, len(formulas))
	for i, f := range formulas {
		svg, err := s.compileFormula(ctx, f)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Error("公式转换失败", "index", i, "tex", f.Tex, "error", err)
			continue
		}

		id := fmt.Sprintf(mathPlaceholder, i)
		tag, style := "span", inlineMathStyle
		if f.Display {
			tag, style = "section", blockMathStyle
		}
		ph := htmldom.NewElement(tag, "")
		htmldom.SetAttr(ph, "style", style)
		ph.AppendChild(htmldom.NewText(id))
		htmldom.ReplaceWith(containers[i], ph)
		placeholders[id] = svg
	}
	return placeholders, nil
}

func (s *Styler) compileFormula(ctx context.Context, f mathtex.Formula) (string, error) {
	res, err := s.math.CompileMath(ctx, f.Tex, f.Display)
	if err != nil {
		return "", err
	}
	frag, err := htmldom.Parse(res.SVG)
	if err != nil {
		return "", err
	}
	svg := firstSVG(frag)
	if svg == nil {
		return "", errors.New("compiled formula has no svg element")
	}
	if res.CSS != "" {
		InlineSVGStyles(svg, ParseStylesheet(res.CSS))
	}
	for _, st := range htmldom.Descendants(svg, "style") {
		htmldom.Remove(st)
	}

	va := res.VerticalAlign
	if va == "" {
		va = "middle"
	}
	htmldom.SetAttr(svg, "data-formula", f.Tex)
	htmldom.SetAttr(svg, "aria-hidden", "true")
	htmldom.SetAttr(svg, "style", MergeStyle(htmldom.Attr(svg, "style"),
		"display: initial; vertical-align: "+va+"; flex-shrink: 0; height: auto; max-width: 300% !important;"))
	return htmldom.OuterHTML(svg), nil
}

func firstSVG(n *html.Node) *html.Node {
	if svgs := htmldom.Descendants(n, "svg"); len(svgs) > 0 {
		return svgs[0]
	}
	return nil
}

// restoreMath swaps the placeholders back for the SVG markup.
func restoreMath(out string, placeholders map[string]string) string {
	for id, svg := range placeholders {
		out = strings.ReplaceAll(out, id, svg)
	}
	return out
}
