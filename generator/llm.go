package generator

import (
	"context"
	"fmt"
	"strings"
)

// LLMClient 抽象大模型客户端，便于替换/Mock。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// NewLLM picks the client for settings.Provider. Any OpenAI compatible
// endpoint is reached through BaseURL.
func NewLLM(settings *LLMSettings) (LLMClient, error) {
	if settings == nil {
		return nil, fmt.Errorf("llm config is nil")
	}
	switch strings.ToLower(settings.Provider) {
	case "", "openai":
		return NewOpenAILLMFromConfig(settings)
	case "deepseek":
		// DeepSeek 提供 OpenAI 兼容接口，需填写 base_url。
		if settings.BaseURL == "" {
			return nil, fmt.Errorf("llm provider deepseek requires base_url (OpenAI-compatible endpoint)")
		}
		return NewOpenAILLMFromConfig(settings)
	case "mock":
		return MockLLM{}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", settings.Provider)
	}
}
