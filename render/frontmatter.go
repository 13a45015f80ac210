package render

import (
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"
)

// Frontmatter holds the document properties the publisher understands.
// Unknown keys are ignored.
type Frontmatter struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Digest string `yaml:"digest"`
	Cover  string `yaml:"cover"`
	Theme  string `yaml:"theme"`
}

// SplitFrontmatter separates a leading YAML block delimited by "---" lines
// from the Markdown body. raw is the YAML text, empty when there is none.
func SplitFrontmatter(markdown string) (raw, body string) {
	src := strings.TrimPrefix(markdown, "\ufeff")
	if !strings.HasPrefix(src, "---\n") && !strings.HasPrefix(src, "---\r\n") {
		return "", markdown
	}
	rest := src[strings.IndexByte(src, '\n')+1:]
	for offset := 0; offset < len(rest); {
		end := strings.IndexByte(rest[offset:], '\n')
		line := rest[offset:]
		next := len(rest)
		if end >= 0 {
			line = rest[offset : offset+end]
			next = offset + end + 1
		}
		if strings.TrimRight(line, " \r") == "---" {
			return rest[:offset], rest[next:]
		}
		offset = next
	}
	return "", markdown
}

// ParseFrontmatter decodes the frontmatter of markdown. A document without
// frontmatter yields the zero value.
func ParseFrontmatter(markdown string) (Frontmatter, string, error) {
	raw, body := SplitFrontmatter(markdown)
	var fm Frontmatter
	if strings.TrimSpace(raw) == "" {
		return fm, body, nil
	}
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return Frontmatter{}, body, fmt.Errorf("parse frontmatter: %w", err)
	}
	return fm, body, nil
}
