package prompt

import (
	"context"
	"unicode/utf8"
)

// Counter measures text in model tokens
type Counter interface {
	CountTokens(ctx context.Context, text string) int
}

// CounterFunc adapts a function to the Counter interface
type CounterFunc func(ctx context.Context, text string) int

// CountTokens calls f(ctx, text)
func (f CounterFunc) CountTokens(ctx context.Context, text string) int {
	return f(ctx, text)
}

// EstimateTokens approximates a token count at four characters per token,
// rounding up. It is deterministic and never contacts the model runtime.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// Estimator is the Counter used when the backend offers no tokenizer
var Estimator Counter = CounterFunc(func(_ context.Context, text string) int {
	return EstimateTokens(text)
})
