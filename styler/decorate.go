package styler

import (
	"golang.org/x/net/html"

	"mp_publisher/htmldom"
)

// Pseudo-elements cannot be inlined, so the chinese-style ornaments are
// inserted as real spans.
const (
	h1OrnamentLeft  = "position: absolute; left: 8px; top: 50%; transform: translateY(-50%); color: #c8161d; font-size: 18px;"
	h1OrnamentRight = "position: absolute; right: 8px; top: 50%; transform: translateY(-50%); color: #c8161d; font-size: 18px;"
	quoteOpen       = "position: absolute; left: 8px; top: 5px; font-size: 32px; color: rgba(200, 22, 29, 0.2); font-family: Georgia, serif; line-height: 1;"
	quoteClose      = "position: absolute; right: 8px; bottom: 5px; font-size: 32px; color: rgba(200, 22, 29, 0.2); font-family: Georgia, serif; line-height: 1;"
	hrWrapper       = "position: relative; margin: 30px 0; text-align: center;"
	hrLine          = "position: absolute; left: 0; right: 0; top: 50%; height: 1px; background: linear-gradient(to right, transparent, #c8161d, transparent);"
	hrOrnament      = "display: inline-block; background-color: #ffffff; color: #c8161d; padding: 0 10px; font-size: 14px; position: relative; z-index: 1;"
	strongUnderline = "position: absolute; bottom: 2px; left: 0; right: 0; height: 3px; background: linear-gradient(to right, transparent, rgba(200, 22, 29, 0.2), transparent); display: block;"
)

func styledSpan(text, style string) *html.Node {
	span := htmldom.NewElement("span", "")
	htmldom.SetAttr(span, "style", style)
	if text != "" {
		span.AppendChild(htmldom.NewText(text))
	}
	return span
}

func addChineseDecorations(root *html.Node) {
	for _, h1 := range htmldom.QueryAll(root, ".wechat-content h1") {
		h1.InsertBefore(styledSpan("◈", h1OrnamentLeft), h1.FirstChild)
		h1.AppendChild(styledSpan("◈", h1OrnamentRight))
	}
	for _, bq := range htmldom.QueryAll(root, ".wechat-content blockquote") {
		bq.InsertBefore(styledSpan(`"`, quoteOpen), bq.FirstChild)
		bq.AppendChild(styledSpan(`"`, quoteClose))
	}
	for _, hr := range htmldom.QueryAll(root, ".wechat-content hr") {
		wrapper := htmldom.NewElement("div", "")
		htmldom.SetAttr(wrapper, "style", hrWrapper)
		line := htmldom.NewElement("div", "")
		htmldom.SetAttr(line, "style", hrLine)
		wrapper.AppendChild(line)
		wrapper.AppendChild(styledSpan("❖", hrOrnament))
		htmldom.ReplaceWith(hr, wrapper)
	}
	for _, strong := range htmldom.QueryAll(root, ".wechat-content strong") {
		strong.AppendChild(styledSpan("", strongUnderline))
	}
}
