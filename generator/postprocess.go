package generator

import (
	"regexp"
	"strings"
)

var (
	digestLabel = regexp.MustCompile(`^(摘要|Digest)\s*[:：]\s*`)
	markdownRun = regexp.MustCompile("[*_`#>]+")
	imageOrLink = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
)

// CleanDigest 把模型输出整理成单段摘要，并按字数截断。
func CleanDigest(raw string, limit int) string {
	s := strings.TrimSpace(raw)
	s = digestLabel.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'“”‘’「」")
	s = strings.Join(strings.Fields(s), " ")
	return truncateRunes(s, limit)
}

// 摘要取首段（去掉标题行、代码块和 frontmatter）。
func extractDigest(md string) string {
	lines := strings.Split(md, "\n")
	var b strings.Builder
	inFence, inFrontmatter := false, false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && trimmed == "---" {
			inFrontmatter = true
			continue
		}
		if inFrontmatter {
			if trimmed == "---" {
				inFrontmatter = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if trimmed == "" {
			if b.Len() > 0 {
				break
			}
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(trimmed)
	}
	s := imageOrLink.ReplaceAllString(b.String(), "$1")
	return strings.TrimSpace(markdownRun.ReplaceAllString(s, ""))
}

// FallbackDigest 在没有模型时从正文截取摘要。
func FallbackDigest(md string, limit int) string {
	return truncateRunes(extractDigest(md), limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
