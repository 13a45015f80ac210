package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	// ErrLLMRequest wraps failures reported by the model endpoint.
	ErrLLMRequest = errors.New("llm request failed")
	// ErrEmptyCompletion means the model answered without any text.
	ErrEmptyCompletion = errors.New("llm returned no digest")
)

const (
	digestTemperature = 0.3
	digestTimeout     = 45 * time.Second
	// tokensPerRune over-provisions CJK output so a digest at the limit is never cut.
	tokensPerRune = 2
)

// OpenAILLM writes digests through an OpenAI compatible chat completions endpoint.
type OpenAILLM struct {
	Model  string
	client openai.Client
}

func NewOpenAILLMFromConfig(cfg *LLMSettings) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(1),
		option.WithRequestTimeout(digestTimeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{Model: cfg.Model, client: openai.NewClient(opts...)}, nil
}

// Complete sends the digest prompt as one system and one user message.
func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt.System),
			openai.UserMessage(prompt.User),
		},
		Temperature: openai.Float(digestTemperature),
	}
	if prompt.Limit > 0 {
		params.MaxTokens = openai.Int(int64(prompt.Limit * tokensPerRune))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: %s: status %d: %s", ErrLLMRequest, o.Model, apiErr.StatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %s: %w", ErrLLMRequest, o.Model, err)
	}
	for _, choice := range resp.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", ErrEmptyCompletion
}
