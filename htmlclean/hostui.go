package htmlclean

import (
	"golang.org/x/net/html"

	"mp_publisher/htmldom"
)

var hostUISelectors = []string{
	".copy-code-button",
	".clickable-icon",
	".markdown-embed-link",
	".internal-link",
	".collapse-indicator",
	".file-embed-link",
	".popover",
	".tooltip",
}

const (
	diagramAncestor  = ".mermaid, .plantuml, pre.mermaid, pre.plantuml"
	diagramContainer = `.mermaid, .plantuml, [class*="mermaid"]`
	taskCheckbox     = `input[type="checkbox"].task-list-item-checkbox, li > input[type="checkbox"]`
)

// StripHostUI removes editor-only controls from the fragment. Elements that are
// or contain an svg, or that sit inside a diagram, are never removed. Code
// blocks lose their buttons and every non-code child unless they hold a diagram.
// Task checkboxes become "[x] " or "[ ] " text.
func StripHostUI(fragment string) (string, error) {
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}
	stripHostUI(root)
	return htmldom.Render(root)
}

func stripHostUI(root *html.Node) {
	for _, sel := range hostUISelectors {
		for _, el := range htmldom.QueryAll(root, sel) {
			if htmldom.IsTag(el, "svg") || htmldom.HasDescendant(el, "svg") {
				continue
			}
			if htmldom.Closest(el, diagramAncestor) != nil {
				continue
			}
			htmldom.Remove(el)
		}
	}

	for _, pre := range htmldom.QueryAll(root, "pre") {
		for _, btn := range htmldom.QueryAll(pre, "button") {
			htmldom.Remove(btn)
		}
		if IsDiagram(pre) {
			continue
		}
		for c := pre.FirstChild; c != nil; {
			next := c.NextSibling
			if c.Type == html.ElementNode && !htmldom.IsTag(c, "code") && !htmldom.HasDescendant(c, "svg") {
				pre.RemoveChild(c)
			}
			c = next
		}
	}

	for _, box := range htmldom.QueryAll(root, taskCheckbox) {
		mark := "[ ] "
		if htmldom.HasAttr(box, "checked") {
			mark = "[x] "
		}
		box.Parent.InsertBefore(htmldom.NewText(mark), box)
		htmldom.Remove(box)
	}
}

// IsDiagram reports whether a pre block holds a diagram: an explicit diagram
// class, a nested diagram container or an svg.
func IsDiagram(pre *html.Node) bool {
	if htmldom.HasClass(pre, "mermaid") || htmldom.HasClass(pre, "plantuml") {
		return true
	}
	if htmldom.Query(pre, diagramContainer) != nil {
		return true
	}
	return htmldom.HasDescendant(pre, "svg")
}
