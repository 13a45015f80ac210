// Package generator writes article digests with a language model.
package generator

import (
	"context"
	"errors"

	"mp_publisher/logging"
)

// DefaultDigestLength is the digest limit of the draft API, in characters.
const DefaultDigestLength = 120

// Summarizer 负责根据正文生成摘要。
type Summarizer struct {
	llm    LLMClient
	limit  int
	logger logging.Logger
}

func NewSummarizer(llm LLMClient, limit int, logger logging.Logger) (*Summarizer, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	if limit <= 0 {
		limit = DefaultDigestLength
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Summarizer{llm: llm, limit: limit, logger: logger}, nil
}

// Summarize returns a digest of markdown. An empty model answer falls back to
// the first paragraph of the article.
func (s *Summarizer) Summarize(ctx context.Context, title, markdown string) (string, error) {
	prompt := BuildDigestPrompt(title, markdown, s.limit)
	raw, err := s.llm.Complete(ctx, prompt)
	if err != nil && !errors.Is(err, ErrEmptyCompletion) {
		return "", err
	}
	digest := CleanDigest(raw, s.limit)
	if digest == "" {
		s.logger.Warn("model returned an empty digest, using the first paragraph")
		digest = FallbackDigest(markdown, s.limit)
	}
	return digest, nil
}
