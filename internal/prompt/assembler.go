// Package prompt turns bounded chat history into a single completion prompt
// and cleans up what the model sends back.
package prompt

import (
	"context"
	"strings"

	"LocalChat/internal/session"
)

// DefaultInstruction is the instruction line placed at the top of every prompt
const DefaultInstruction = "Provide a helpful, concise response to the human's request."

const (
	userTag      = "Human"
	assistantTag = "Assistant"
)

// StopSequences end a completion before the model starts speaking for the user
var StopSequences = []string{"Human:", "###", "\n\n", "<|endoftext|>"}

// Assembler builds prompts that fit, together with the generation budget,
// inside the model's context window.
type Assembler struct {
	Instruction string
	ContextSize int // 0 disables the window check
	MaxTokens   int
	Counter     Counter
}

// Result is an assembled prompt and how it was fitted
type Result struct {
	Prompt   string
	Tokens   int
	Included int  // prior turns kept
	Dropped  int  // prior turns dropped to fit the window
	Overflow bool // even the bare message does not fit
}

// Assemble renders prior turns in chronological order followed by the new
// user message. When the window is too small, prior turns are dropped oldest
// first; the new message is always kept. Each turn is counted once, so the
// counter sees len(history)+1 texts.
func (a *Assembler) Assemble(ctx context.Context, history []session.Turn, userText string) Result {
	counter := a.Counter
	if counter == nil {
		counter = Estimator
	}
	budget := a.ContextSize - a.MaxTokens

	var frame strings.Builder
	a.writeHeader(&frame)
	writeTail(&frame, userText)
	total := counter.CountTokens(ctx, frame.String())

	counts := make([]int, len(history))
	for i, t := range history {
		var line strings.Builder
		writeTurn(&line, t)
		counts[i] = counter.CountTokens(ctx, line.String())
		total += counts[i]
	}

	start := 0
	if a.ContextSize > 0 {
		for start < len(history) && total > budget {
			total -= counts[start]
			start++
		}
	}

	return Result{
		Prompt:   a.render(history[start:], userText),
		Tokens:   total,
		Included: len(history) - start,
		Dropped:  start,
		Overflow: a.ContextSize > 0 && total > budget,
	}
}

func (a *Assembler) render(turns []session.Turn, userText string) string {
	var b strings.Builder
	a.writeHeader(&b)
	for _, t := range turns {
		writeTurn(&b, t)
	}
	writeTail(&b, userText)
	return b.String()
}

func (a *Assembler) writeHeader(b *strings.Builder) {
	if a.Instruction != "" {
		b.WriteString("Instruction: ")
		b.WriteString(a.Instruction)
		b.WriteString("\n\n")
	}
}

func writeTurn(b *strings.Builder, t session.Turn) {
	b.WriteString(tag(t.Role))
	b.WriteString(": ")
	b.WriteString(t.Text)
	b.WriteString("\n")
}

func writeTail(b *strings.Builder, userText string) {
	b.WriteString(userTag)
	b.WriteString(": ")
	b.WriteString(userText)
	b.WriteString("\n")
	b.WriteString(assistantTag)
	b.WriteString(":")
}

func tag(r session.Role) string {
	if r == session.RoleAssistant {
		return assistantTag
	}
	return userTag
}
