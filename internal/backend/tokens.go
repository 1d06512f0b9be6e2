package backend

import (
	"context"
	"log/slog"

	"LocalChat/internal/prompt"
)

// TokenCounter returns a prompt.Counter for m. Models implementing Tokenizer
// are asked for exact counts under the caller's context; on error, or for
// other models, the estimate is used.
func TokenCounter(m Model, logger *slog.Logger) prompt.Counter {
	tok, ok := m.(Tokenizer)
	if !ok {
		return prompt.Estimator
	}
	if logger == nil {
		logger = slog.Default()
	}
	return prompt.CounterFunc(func(ctx context.Context, text string) int {
		n, err := tok.Tokenize(ctx, text)
		if err != nil {
			logger.Warn("tokenize failed, using estimate", "error", err)
			return prompt.EstimateTokens(text)
		}
		return n
	})
}
