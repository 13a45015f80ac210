package styler

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vincent-petithory/dataurl"
	"golang.org/x/net/html"
	"golang.org/x/text/width"

	"mp_publisher/htmldom"
)

// Rasterizer renders standalone SVG markup to PNG at the given device scale.
type Rasterizer interface {
	Rasterize(ctx context.Context, svg string, width, height, scale float64) ([]byte, error)
}

const (
	rasterScale     = 3
	labelFontSize   = 16
	diagramImgStyle = "max-width: 100%; display: block; margin: 20px auto;"
	svgNamespace    = "http://www.w3.org/2000/svg"
)

// convertDiagrams replaces every diagram holding an svg with a PNG image.
// Failures leave the diagram as is.
func (s *Styler) convertDiagrams(ctx context.Context, root *html.Node) error {
	for _, container := range htmldom.QueryAll(root, ".mermaid") {
		svg := firstSVG(container)
		if svg == nil {
			continue
		}
		inlineEmbeddedStyles(svg)
		png, err := s.rasterizeDiagram(ctx, svg)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("图表转换为PNG失败", "error", err)
			continue
		}
		img := htmldom.NewElement("img", "")
		htmldom.SetAttr(img, "src", dataurl.New(png, "image/png").String())
		htmldom.SetAttr(img, "style", diagramImgStyle)
		htmldom.RemoveChildren(container)
		container.AppendChild(img)
	}
	return nil
}

func (s *Styler) rasterizeDiagram(ctx context.Context, svg *html.Node) ([]byte, error) {
	clone := cloneNode(svg)
	w, h := RepairDiagram(clone)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("diagram has no usable size")
	}
	return s.diagrams.Rasterize(ctx, htmldom.OuterHTML(clone), w, h, rasterScale)
}

// inlineEmbeddedStyles moves the rules of every style element inside n into
// style attributes and drops the style elements.
func inlineEmbeddedStyles(n *html.Node) {
	styles := htmldom.Descendants(n, "style")
	if len(styles) == 0 {
		return
	}
	var css strings.Builder
	for _, st := range styles {
		css.WriteString(htmldom.TextContent(st))
		css.WriteByte('\n')
		htmldom.Remove(st)
	}
	InlineSVGStyles(n, ParseStylesheet(css.String()))
}

// RepairDiagram fixes layout artifacts that clip diagram text once the SVG is
// rendered outside the page that produced it, pads the canvas and returns the
// final width and height.
func RepairDiagram(svg *html.Node) (float64, float64) {
	cleanTextArtifacts(svg)
	fixClipping(svg, 16, 8)
	expandForeignObjects(svg, 10, 8)
	normalizeFonts(svg)

	vx, vy, vw, vh, hasViewBox := viewBox(svg)
	w := lengthAttr(svg, "width", vw)
	h := lengthAttr(svg, "height", vh)
	if !hasViewBox {
		vw, vh = w, h
	}
	padX := math.Max(20, vw*0.12)
	padY := math.Max(20, vh*0.06)
	finalW, finalH := w+padX*2, h+padY*2

	htmldom.SetAttr(svg, "width", fmtFloat(finalW))
	htmldom.SetAttr(svg, "height", fmtFloat(finalH))
	if hasViewBox {
		htmldom.SetAttr(svg, "viewBox", fmt.Sprintf("%s %s %s %s",
			fmtFloat(vx-padX), fmtFloat(vy-padY), fmtFloat(vw+padX*2), fmtFloat(vh+padY*2)))
	} else {
		htmldom.SetAttr(svg, "viewBox", fmt.Sprintf("-%s -%s %s %s",
			fmtFloat(padX), fmtFloat(padY), fmtFloat(finalW), fmtFloat(finalH)))
	}
	htmldom.SetAttr(svg, "preserveAspectRatio", "xMinYMin meet")
	htmldom.SetAttr(svg, "xmlns", svgNamespace)
	htmldom.SetAttr(svg, "style", MergeStyle(htmldom.Attr(svg, "style"), "overflow: visible; max-width: none;"))
	return finalW, finalH
}

// cleanTextArtifacts drops editor leftovers inside labels: trailing breaks,
// empty paragraphs and empty spans. Paragraphs directly in a node label are
// flattened to text.
func cleanTextArtifacts(svg *html.Node) {
	for _, br := range htmldom.QueryAll(svg, "br.ProseMirror-trailingBreak") {
		htmldom.Remove(br)
	}
	for _, fo := range htmldom.Descendants(svg, "foreignObject") {
		for _, p := range htmldom.Descendants(fo, "p") {
			all := htmldom.Elements(p)
			brs := htmldom.Descendants(p, "br")
			if blank(htmldom.TextContent(p)) || (len(brs) > 0 && len(brs) == len(all)) {
				htmldom.Remove(p)
			}
		}
		for _, p := range htmldom.QueryAll(fo, "span.nodeLabel > p") {
			span := p.Parent
			text := strings.TrimSpace(strings.ReplaceAll(htmldom.TextContent(p), "\u00a0", " "))
			if text == "" {
				htmldom.Remove(p)
				continue
			}
			htmldom.RemoveChildren(span)
			span.AppendChild(htmldom.NewText(text))
		}
		for _, span := range htmldom.Descendants(fo, "span") {
			if span.Parent != nil && blank(htmldom.TextContent(span)) {
				htmldom.Remove(span)
			}
		}
	}
}

func blank(s string) bool {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " ")) == ""
}

// fixClipping widens clip rectangles, then drops clipping and text length
// constraints altogether.
func fixClipping(svg *html.Node, padX, padY float64) {
	for _, cp := range htmldom.Descendants(svg, "clipPath") {
		for _, rect := range htmldom.Descendants(cp, "rect") {
			x, y := numAttr(rect, "x"), numAttr(rect, "y")
			w, h := numAttr(rect, "width"), numAttr(rect, "height")
			if w > 0 {
				htmldom.SetAttr(rect, "x", fmtFloat(x-padX))
				htmldom.SetAttr(rect, "width", fmtFloat(w+padX*2))
			}
			if h > 0 {
				htmldom.SetAttr(rect, "y", fmtFloat(y-padY))
				htmldom.SetAttr(rect, "height", fmtFloat(h+padY*2))
			}
		}
	}
	for _, el := range htmldom.Elements(svg) {
		if htmldom.IsTag(el, "text") || htmldom.IsTag(el, "tspan") {
			htmldom.RemoveAttr(el, "textLength")
			htmldom.RemoveAttr(el, "lengthAdjust")
		}
		htmldom.RemoveAttr(el, "clip-path")
	}
	htmldom.RemoveAttr(svg, "clip-path")
	for _, cp := range htmldom.Descendants(svg, "clipPath") {
		htmldom.Remove(cp)
	}
}

// LabelExtra estimates how much wider a label must be to fit text: wide
// glyphs count 0.6 em, others 0.2 em, never less than minPad.
func LabelExtra(text string, minPad float64) float64 {
	wide, other := 0, 0
	for _, r := range text {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			wide++
		default:
			other++
		}
	}
	return math.Max(minPad, float64(wide)*labelFontSize*0.6+float64(other)*labelFontSize*0.2)
}

// expandForeignObjects grows every rich text label by its estimated text
// width and the vertical padding, keeping it centred.
func expandForeignObjects(svg *html.Node, padX, padY float64) {
	for _, fo := range htmldom.Descendants(svg, "foreignObject") {
		text := strings.TrimSpace(htmldom.TextContent(fo))
		w, ok := parseLength(htmldom.Attr(fo, "width"))
		if text == "" || !ok {
			continue
		}
		extra := LabelExtra(text, padX)
		htmldom.SetAttr(fo, "width", fmtFloat(w+extra))
		htmldom.SetAttr(fo, "x", fmtFloat(numAttr(fo, "x")-extra/2))
		if h, ok := parseLength(htmldom.Attr(fo, "height")); ok {
			htmldom.SetAttr(fo, "height", fmtFloat(h+padY*2))
			htmldom.SetAttr(fo, "y", fmtFloat(numAttr(fo, "y")-padY))
		}

		divs := htmldom.Descendants(fo, "div")
		if len(divs) == 0 {
			continue
		}
		div := divs[0]
		htmldom.SetAttr(div, "style", MergeStyle(htmldom.Attr(div, "style"),
			"overflow: visible; width: 100%; max-width: none; display: flex; align-items: center; "+
				"justify-content: center; white-space: nowrap; height: 100%; line-height: 1.2; padding: 0; "+
				"box-sizing: border-box; transform: translateY(-0.1em); transform-origin: center;"))
		for _, el := range htmldom.Elements(div) {
			if htmldom.IsTag(el, "p") || htmldom.IsTag(el, "span") {
				htmldom.SetAttr(el, "style", MergeStyle(htmldom.Attr(el, "style"), "margin: 0; padding: 0; line-height: 1.2;"))
			}
		}
	}
}

// normalizeFonts forces a narrow font so text measured by the diagram
// renderer still fits when rasterized elsewhere.
func normalizeFonts(svg *html.Node) {
	hasLabels := htmldom.HasDescendant(svg, "foreignObject")
	htmldom.SetAttr(svg, "style", MergeStyle(htmldom.Attr(svg, "style"), "text-rendering: geometricPrecision;"))
	for _, el := range htmldom.Elements(svg) {
		decl := "overflow: visible !important; font-family: Arial, sans-serif;"
		if htmldom.IsTag(el, "text") || htmldom.IsTag(el, "tspan") || strings.TrimSpace(htmldom.TextContent(el)) != "" {
			decl += " text-rendering: geometricPrecision !important;"
			if hasLabels {
				decl += " dominant-baseline: middle !important; alignment-baseline: middle !important;"
			} else {
				decl += " font-size: 90% !important; letter-spacing: -0.8px !important;"
			}
		}
		htmldom.SetAttr(el, "style", MergeStyle(htmldom.Attr(el, "style"), decl))
	}
}

func viewBox(svg *html.Node) (x, y, w, h float64, ok bool) {
	fields := strings.FieldsFunc(htmldom.Attr(svg, "viewBox"), func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) != 4 {
		return 0, 0, 0, 0, false
	}
	var vals [4]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, 0, 0, 0, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], true
}

// lengthAttr reads an absolute length attribute, using fallback for missing
// or relative values.
func lengthAttr(n *html.Node, key string, fallback float64) float64 {
	v := htmldom.Attr(n, key)
	if strings.HasSuffix(v, "%") {
		return fallback
	}
	if f, ok := parseLength(v); ok && f > 0 {
		return f
	}
	return fallback
}

func numAttr(n *html.Node, key string) float64 {
	f, _ := parseLength(htmldom.Attr(n, key))
	return f
}

// parseLength reads the leading number of v, so "120px" is 120.
func parseLength(v string) (float64, bool) {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && strings.ContainsRune("+-.0123456789eE", rune(v[end])) {
		end++
	}
	for end > 0 {
		if f, err := strconv.ParseFloat(v[:end], 64); err == nil {
			return f, true
		}
		end--
	}
	return 0, false
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}
