package generator

import (
	"context"
)

// MockLLM 本地调试用，不调用外部模型：直接取正文首段作为摘要。
type MockLLM struct{}

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	return extractDigest(prompt.Source), nil
}
