package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalChat/internal/session"
)

func turn(role session.Role, text string) session.Turn {
	return session.Turn{Role: role, Text: text}
}

func TestAssembler_RendersChronologically(t *testing.T) {
	a := &Assembler{Instruction: DefaultInstruction}
	history := []session.Turn{
		turn(session.RoleUser, "prev question"),
		turn(session.RoleAssistant, "prev answer"),
	}

	res := a.Assemble(context.Background(), history, "new question")

	want := "Instruction: " + DefaultInstruction + "\n\n" +
		"Human: prev question\n" +
		"Assistant: prev answer\n" +
		"Human: new question\n" +
		"Assistant:"
	assert.Equal(t, want, res.Prompt)
	assert.Equal(t, 2, res.Included)
	assert.Equal(t, 0, res.Dropped)
	assert.False(t, res.Overflow)
}

func TestAssembler_EmptyHistory(t *testing.T) {
	a := &Assembler{}
	res := a.Assemble(context.Background(), nil, "hello")

	assert.Equal(t, "Human: hello\nAssistant:", res.Prompt)
	assert.Equal(t, 0, res.Included)
}

// wordCounter counts whitespace-separated words, which keeps budgets easy to reason about.
var wordCounter = CounterFunc(func(_ context.Context, s string) int { return len(strings.Fields(s)) })

func TestAssembler_DropsOldestTurnsToFitWindow(t *testing.T) {
	history := []session.Turn{
		turn(session.RoleUser, "one"),
		turn(session.RoleAssistant, "two"),
		turn(session.RoleUser, "three"),
	}
	// "Human: x" is two words; the trailing "Assistant:" is one.
	// Full prompt: 3 turns * 2 + 2 + 1 = 9 words. Budget 6 keeps one prior turn.
	a := &Assembler{ContextSize: 10, MaxTokens: 4, Counter: wordCounter}

	res := a.Assemble(context.Background(), history, "four")

	assert.Equal(t, "Human: three\nHuman: four\nAssistant:", res.Prompt)
	assert.Equal(t, 1, res.Included)
	assert.Equal(t, 2, res.Dropped)
	assert.LessOrEqual(t, res.Tokens+a.MaxTokens, a.ContextSize)
}

func TestAssembler_NeverDropsNewMessage(t *testing.T) {
	history := []session.Turn{turn(session.RoleUser, "old")}
	a := &Assembler{ContextSize: 3, MaxTokens: 2, Counter: wordCounter}

	res := a.Assemble(context.Background(), history, "a very long new message")

	assert.True(t, res.Overflow)
	assert.Equal(t, 1, res.Dropped)
	assert.Contains(t, res.Prompt, "Human: a very long new message")
}

func TestAssembler_Deterministic(t *testing.T) {
	history := []session.Turn{
		turn(session.RoleUser, "a"),
		turn(session.RoleAssistant, "b"),
	}
	a := &Assembler{Instruction: "be brief", ContextSize: 64, MaxTokens: 8}

	first := a.Assemble(context.Background(), history, "c")
	second := a.Assemble(context.Background(), history, "c")

	require.Equal(t, first, second)
}

type ctxKey struct{}

func TestAssembler_CountsEachTurnOnceWithCallerContext(t *testing.T) {
	history := []session.Turn{
		turn(session.RoleUser, "one"),
		turn(session.RoleAssistant, "two"),
		turn(session.RoleUser, "three"),
	}
	ctx := context.WithValue(context.Background(), ctxKey{}, "request")

	var calls int
	counter := CounterFunc(func(ctx context.Context, s string) int {
		calls++
		assert.Equal(t, "request", ctx.Value(ctxKey{}))
		return len(strings.Fields(s))
	})
	a := &Assembler{ContextSize: 10, MaxTokens: 4, Counter: counter}

	res := a.Assemble(ctx, history, "four")

	assert.Equal(t, len(history)+1, calls)
	assert.Equal(t, 1, res.Included)
	assert.Equal(t, 5, res.Tokens)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("héé"))
}
