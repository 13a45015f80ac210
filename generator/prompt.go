package generator

import (
	"fmt"
	"strings"
)

// maxSourceRunes bounds the article text sent to the model.
const maxSourceRunes = 6000

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System string
	User   string
	// Source is the article the prompt is about. Not sent as is.
	Source string
	// Limit is the digest length in runes.
	Limit int
}

// BuildDigestPrompt 生成摘要提示词。
func BuildDigestPrompt(title, markdown string, limit int) Prompt {
	var sb strings.Builder
	sb.WriteString("你是一名微信公众号编辑，请为文章撰写摘要（Digest），直接输出摘要正文，不要额外解释。\n")
	sb.WriteString("要求：\n")
	sb.WriteString(fmt.Sprintf("- 不超过 %d 字。\n", limit))
	sb.WriteString("- 单段纯文本，不使用 Markdown、引号或表情。\n")
	sb.WriteString("- 概括全文要点，不要复述标题。\n")

	source := truncateRunes(strings.TrimSpace(markdown), maxSourceRunes)
	user := fmt.Sprintf("标题：%s\n\n正文：\n%s", title, source)

	return Prompt{
		System: sb.String(),
		User:   user,
		Source: source,
		Limit:  limit,
	}
}
