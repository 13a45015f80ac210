// Package styler inlines a theme stylesheet into document HTML, since the
// WeChat editor drops style elements. Code is highlighted, formulas become SVG
// and diagrams become PNG along the way.
package styler

import (
	"context"
	"fmt"

	"golang.org/x/net/html"

	"mp_publisher/htmldom"
	"mp_publisher/logging"
)

const rootClass = "wechat-content"

type Options struct {
	Theme Theme
	// Math compiles formulas when math conversion is requested. Nil disables it.
	Math MathCompiler
	// Diagrams rasterizes diagrams when diagram conversion is requested. Nil disables it.
	Diagrams Rasterizer
	Logger   logging.Logger
}

type Styler struct {
	theme    Theme
	rules    []Rule
	math     MathCompiler
	diagrams Rasterizer
	logger   logging.Logger
}

func New(opts Options) (*Styler, error) {
	theme, err := ParseTheme(string(opts.Theme))
	if err != nil {
		return nil, err
	}
	css, err := Stylesheet(theme)
	if err != nil {
		return nil, fmt.Errorf("load stylesheet: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Styler{
		theme:    theme,
		rules:    ParseStylesheet(css),
		math:     opts.Math,
		diagrams: opts.Diagrams,
		logger:   logger,
	}, nil
}

func (s *Styler) Theme() Theme { return s.theme }

// Apply returns fragment with every theme rule written into style attributes.
// markdown is the document source; it is required when convertMath is set so
// formulas can be recompiled from their TeX.
func (s *Styler) Apply(ctx context.Context, fragment, markdown string, convertMath, convertMermaid bool) (string, error) {
	root, err := htmldom.Parse(fragment)
	if err != nil {
		return "", err
	}
	wrapper := htmldom.NewElement("div", rootClass)
	htmldom.MoveChildren(root, wrapper)
	root.AppendChild(wrapper)

	highlightCode(wrapper, s.logger)

	var formulas map[string]string
	if convertMath && s.math != nil && markdown != "" {
		if formulas, err = s.convertMath(ctx, root, markdown); err != nil {
			return "", err
		}
	}

	if s.theme == ChineseStyle {
		addChineseDecorations(root)
	}

	if convertMermaid && s.diagrams != nil {
		if err := s.convertDiagrams(ctx, root); err != nil {
			return "", err
		}
	}

	saved := protect(root)
	InlineStyles(root, s.rules)
	saved.restore(root)

	out, err := unwrap(wrapper)
	if err != nil {
		return "", err
	}
	return restoreMath(out, formulas), nil
}

// unwrap returns the children of the themed root. When there is a single
// top-level element it inherits the root's inline declarations, its own
// taking precedence, so the base typography survives.
func unwrap(wrapper *html.Node) (string, error) {
	var only *html.Node
	count := 0
	for c := wrapper.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			only = c
			count++
		}
	}
	if count == 1 {
		if rootStyle := htmldom.Attr(wrapper, "style"); rootStyle != "" {
			htmldom.SetAttr(only, "style", MergeStyle(rootStyle, htmldom.Attr(only, "style")))
		}
	}
	return htmldom.Render(wrapper)
}
