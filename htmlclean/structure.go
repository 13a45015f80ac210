// Package htmlclean turns rendered document HTML into markup the WeChat editor
// accepts: a structural pass after rendering, host UI stripping before anything
// leaves the process, and the clipboard cleanup.
package htmlclean

import (
	"strings"

	"golang.org/x/net/html"

	"mp_publisher/htmldom"
)

const (
	// ContentSectionClass marks the section FormatContent wraps the document in.
	ContentSectionClass = "mp-content-section"
	codeHeaderClass     = "mp-code-header"
	codeDotClass        = "mp-code-dot"
)

// FormatContent wraps the fragment in the content section, gives every list item
// a nested section, drops frontmatter blocks, decorates code blocks with a
// three-dot header and turns embed spans into images.
func FormatContent(fragment string) (string, error) {
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}

	section := htmldom.NewElement("section", ContentSectionClass)
	htmldom.MoveChildren(root, section)
	root.AppendChild(section)

	for _, li := range htmldom.QueryAll(section, "li") {
		inner := htmldom.NewElement("section", "")
		htmldom.MoveChildren(li, inner)
		li.AppendChild(inner)
	}

	for _, pre := range htmldom.QueryAll(section, "pre") {
		if htmldom.HasClass(pre, "frontmatter") {
			htmldom.Remove(pre)
			continue
		}
		if htmldom.Query(pre, "code") == nil {
			continue
		}
		pre.InsertBefore(codeHeader(), pre.FirstChild)
		if btn := htmldom.Query(pre, ".copy-code-button"); btn != nil {
			htmldom.Remove(btn)
		}
	}

	for _, span := range htmldom.QueryAll(section, "span.internal-embed[src]") {
		replaceEmbed(span)
	}

	return htmldom.Render(root)
}

func codeHeader() *html.Node {
	header := htmldom.NewElement("div", codeHeaderClass)
	for i := 0; i < 3; i++ {
		header.AppendChild(htmldom.NewElement("span", codeDotClass))
	}
	return header
}

// replaceEmbed swaps a wiki embed span for an img pointing at the link target.
// The target keeps its vault-relative form; the publisher resolves it later.
func replaceEmbed(span *html.Node) {
	src := htmldom.Attr(span, "src")
	link, _, _ := strings.Cut(src, "|")
	if link == "" {
		return
	}
	img := htmldom.NewElement("img", "")
	htmldom.SetAttr(img, "src", link)
	if alt := htmldom.Attr(span, "alt"); alt != "" {
		htmldom.SetAttr(img, "alt", alt)
	}
	htmldom.ReplaceWith(span, img)
}
