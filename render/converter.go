package render

import (
	"context"
	"fmt"

	"mp_publisher/htmlclean"
	"mp_publisher/logging"
	"mp_publisher/styler"
)

// Converter runs the full Markdown to WeChat HTML pipeline: render, strip
// host UI, format the structure, then inline the theme.
type Converter struct {
	renderer Renderer

	// styler is nil when theme styling is disabled.
	styler         *styler.Styler
	convertMath    bool
	convertMermaid bool
	logger         logging.Logger
}

type ConverterOptions struct {
	Styler         *styler.Styler
	ConvertMath    bool
	ConvertMermaid bool
	Logger         logging.Logger
}

func NewConverter(r Renderer, opts ConverterOptions) *Converter {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Converter{
		renderer:       r,
		styler:         opts.Styler,
		convertMath:    opts.ConvertMath,
		convertMermaid: opts.ConvertMermaid,
		logger:         logger,
	}
}

// Preview returns the themed document wrapped in its content section, the
// form the copy action and the preview both start from.
func (c *Converter) Preview(ctx context.Context, markdown, sourcePath string) (string, error) {
	_, body := SplitFrontmatter(markdown)

	out, err := c.renderer.Render(ctx, markdown, sourcePath)
	if err != nil {
		return "", err
	}
	if out, err = htmlclean.StripHostUI(out); err != nil {
		return "", fmt.Errorf("strip host ui: %w", err)
	}
	if out, err = htmlclean.FormatContent(out); err != nil {
		return "", fmt.Errorf("format content: %w", err)
	}
	if c.styler == nil {
		return out, nil
	}
	styled, err := c.styler.Apply(ctx, out, body, c.convertMath, c.convertMermaid)
	if err != nil {
		return "", fmt.Errorf("apply %s theme: %w", c.styler.Theme(), err)
	}
	c.logger.Debug("document styled", "source", sourcePath, "theme", c.styler.Theme())
	return styled, nil
}

// ArticleHTML returns the preview stripped of classes, ids and data
// attributes, ready to be submitted as draft content.
func (c *Converter) ArticleHTML(ctx context.Context, markdown, sourcePath string) (string, error) {
	preview, err := c.Preview(ctx, markdown, sourcePath)
	if err != nil {
		return "", err
	}
	return htmlclean.CleanupHTML(preview)
}
