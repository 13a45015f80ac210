package styler

import (
	"fmt"

	"golang.org/x/net/html"

	"mp_publisher/htmldom"
)

const (
	protectedID          = "__WECHAT_PROTECTED_%d__"
	protectedClass       = "wechat-protected-placeholder"
	protectedSelector    = `.mermaid, [class*="mermaid"], .math, .math-inline, .math-block, mjx-container`
	protectedPlaceholder = "display: none;"
)

// protected maps placeholder ids to the subtrees they stand in for.
type protected map[string]*html.Node

// protect swaps vector, diagram and math subtrees for hidden placeholders so
// the stylesheet never reaches their internals. Only outermost matches are
// swapped. Every svg gets its own style elements inlined first.
func protect(root *html.Node) protected {
	var candidates []*html.Node
	for _, svg := range htmldom.Descendants(root, "svg") {
		if htmldom.HasDescendant(svg, "foreignObject") {
			cleanTextArtifacts(svg)
		}
		inlineEmbeddedStyles(svg)
		candidates = append(candidates, svg)
	}
	candidates = append(candidates, htmldom.QueryAll(root, protectedSelector)...)
	for _, pre := range htmldom.QueryAll(root, "pre") {
		if htmldom.HasDescendant(pre, "svg") || htmldom.HasClass(pre, "mermaid") {
			candidates = append(candidates, pre)
		}
	}

	out := protected{}
	for i, el := range htmldom.Outermost(candidates) {
		if el.Parent == nil {
			continue
		}
		id := fmt.Sprintf(protectedID, i)
		ph := htmldom.NewElement("div", protectedClass)
		htmldom.SetAttr(ph, "id", id)
		htmldom.SetAttr(ph, "style", protectedPlaceholder)
		htmldom.ReplaceWith(el, ph)
		out[id] = el
	}
	return out
}

// restore puts every protected subtree back in place of its placeholder.
func (p protected) restore(root *html.Node) {
	for _, ph := range htmldom.QueryAll(root, "div."+protectedClass) {
		if el, ok := p[htmldom.Attr(ph, "id")]; ok {
			htmldom.ReplaceWith(ph, el)
		}
	}
}
