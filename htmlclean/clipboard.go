package htmlclean

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/JohannesKaufmann/dom"
	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/gabriel-vasile/mimetype"
	"github.com/vincent-petithory/dataurl"
	"golang.org/x/net/html"

	"mp_publisher/htmldom"
	"mp_publisher/logging"
)

const xhtmlNamespace = "http://www.w3.org/1999/xhtml"

// ErrNoContentSection is returned when a clipboard fragment was never passed
// through FormatContent.
var ErrNoContentSection = errors.New("找不到内容区域")

// ImageFetcher loads the bytes behind an img src.
type ImageFetcher interface {
	Fetch(ctx context.Context, src string) ([]byte, error)
}

// FetcherFunc adapts a function to ImageFetcher.
type FetcherFunc func(ctx context.Context, src string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, src string) ([]byte, error) { return f(ctx, src) }

// Clipboard carries both flavours written to the clipboard.
type Clipboard struct {
	HTML string `json:"html"`
	Text string `json:"text"`
}

// CleanupHTML strips every data-*, class and id attribute and the XHTML
// namespace. When the fragment holds the content section only that section is
// returned.
func CleanupHTML(fragment string) (string, error) {
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}
	target := root
	if section := htmldom.Query(root, "."+ContentSectionClass); section != nil {
		target = section
	}
	for _, el := range append([]*html.Node{target}, htmldom.Elements(target)...) {
		if el == root {
			continue
		}
		htmldom.RemoveAttrs(el, func(a html.Attribute) bool {
			if a.Key == "xmlns" && a.Val == xhtmlNamespace {
				return true
			}
			return a.Key == "class" || a.Key == "id" || strings.HasPrefix(a.Key, "data-")
		})
	}
	if target == root {
		return htmldom.Render(root)
	}
	return htmldom.OuterHTML(target), nil
}

// InlineImages replaces every img src with a data URI of the fetched bytes so
// the fragment is self-contained. Images that fail to load keep their src.
func InlineImages(ctx context.Context, fragment string, fetch ImageFetcher, logger logging.Logger) (string, error) {
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}
	for _, img := range htmldom.QueryAll(root, "img[src]") {
		src := htmldom.Attr(img, "src")
		if strings.HasPrefix(src, "data:") {
			continue
		}
		data, err := fetch.Fetch(ctx, src)
		if err != nil {
			logger.Error("图片转换失败", "src", src, "error", err)
			continue
		}
		mediaType, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
		htmldom.SetAttr(img, "src", dataurl.New(data, mediaType).String())
	}
	return htmldom.Render(root)
}

// ClipboardPayload builds the self-contained HTML flavour and a Markdown text
// flavour of a styled fragment.
func ClipboardPayload(ctx context.Context, fragment string, fetch ImageFetcher, logger logging.Logger) (Clipboard, error) {
	inlined, err := InlineImages(ctx, fragment, fetch, logger)
	if err != nil {
		return Clipboard{}, fmt.Errorf("inline images: %w", err)
	}
	if !strings.Contains(inlined, ContentSectionClass) {
		return Clipboard{}, ErrNoContentSection
	}
	clean, err := CleanupHTML(inlined)
	if err != nil {
		return Clipboard{}, err
	}
	text, err := markdownConverter().ConvertString(clean)
	if err != nil {
		return Clipboard{}, fmt.Errorf("markdown conversion: %w", err)
	}
	return Clipboard{HTML: clean, Text: strings.TrimSpace(text)}, nil
}

var (
	mdConverter     *converter.Converter
	mdConverterOnce sync.Once
)

// markdownConverter renders data URI images as alt text placeholders so the
// text flavour never carries base64 payloads.
func markdownConverter() *converter.Converter {
	mdConverterOnce.Do(func() {
		mdConverter = converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		)
		mdConverter.Register.RendererFor("img", converter.TagTypeInline,
			func(ctx converter.Context, w converter.Writer, n *html.Node) converter.RenderStatus {
				if !strings.HasPrefix(dom.GetAttributeOr(n, "src", ""), "data:") {
					return converter.RenderTryNext
				}
				if alt := strings.TrimSpace(dom.GetAttributeOr(n, "alt", "")); alt != "" {
					w.WriteString("[图片: " + alt + "]")
				}
				return converter.RenderSuccess
			},
			converter.PriorityEarly,
		)
	})
	return mdConverter
}
