package chatbot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"LocalChat/internal/chat"
	"LocalChat/internal/export"
	"LocalChat/internal/session"
)

const (
	welcomeMessage = "Hello! I'm ready to assist you. How can I help you today?"
	clearedMessage = "Chat history cleared. How can I help you?"
)

// Run starts the terminal chat loop. It returns when input ends, the user
// quits or ctx is cancelled.
func (cb *ChatBot) Run(ctx context.Context) error {
	sess := cb.ctrl.Session()
	fmt.Fprintln(cb.out, "=== LocalChat ===")
	fmt.Fprintf(cb.out, "Session: %s\n", sess.ID)
	fmt.Fprintf(cb.out, "Model: %s (%s)\n", sess.Model, sess.Backend)
	fmt.Fprintln(cb.out, "Type /help for commands, /quit to exit")
	fmt.Fprintln(cb.out)

	if n := len(cb.ctrl.Snapshot()); n > 0 {
		fmt.Fprintf(cb.out, "Resumed %d turns from the previous conversation\n\n", n)
	}
	cb.printAI(time.Now(), welcomeMessage)

	lines, readErr := cb.readLines(ctx)
loop:
	for {
		if ctx.Err() != nil {
			break loop
		}
		fmt.Fprint(cb.out, "You: ")

		var input string
		select {
		case <-ctx.Done():
			fmt.Fprintln(cb.out)
			break loop
		case line, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read input: %w", err)
				}
				break loop
			}
			input = strings.TrimSpace(line)
		}
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := cb.handleCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(cb.out, "Error: %v\n", err)
				cb.logger.Error("command error", "command", input, "error", err)
			}
			if shouldQuit {
				break loop
			}
			continue
		}

		turn, err := cb.sendMessage(ctx, input)
		if err != nil {
			if ctx.Err() != nil {
				break loop
			}
			cb.printError(err)
			continue
		}
		cb.printAI(turn.Timestamp, turn.Text)
	}
	if ctx.Err() != nil {
		cb.logger.Info("chat loop interrupted", "reason", context.Cause(ctx))
	}

	fmt.Fprintln(cb.out, "Goodbye!")
	return nil
}

// readLines scans cb.in on its own goroutine so the loop can stop on ctx.
// readErr receives the scanner error before lines is closed.
func (cb *ChatBot) readLines(ctx context.Context) (<-chan string, <-chan error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(cb.in)
		defer func() {
			readErr <- scanner.Err()
			close(lines)
		}()
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines, readErr
}

// sendMessage hands the message to the controller's background generation
// and waits for the reply
func (cb *ChatBot) sendMessage(ctx context.Context, text string) (session.Turn, error) {
	results, err := cb.ctrl.SubmitAsync(ctx, text)
	if err != nil {
		return session.Turn{}, err
	}
	fmt.Fprintln(cb.out, "Generating response...")
	select {
	case res := <-results:
		return res.Turn, res.Err
	case <-ctx.Done():
		return session.Turn{}, ctx.Err()
	}
}

func (cb *ChatBot) printAI(ts time.Time, text string) {
	fmt.Fprintf(cb.out, "[%s] AI: %s\n\n", ts.Format(export.TimeLayout), text)
}

func (cb *ChatBot) printError(err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return
	case isBackendFailure(err):
		fmt.Fprintf(cb.out, "[Model error]: %v\n\n", err)
	default:
		fmt.Fprintf(cb.out, "Error: %v\n\n", err)
	}
	cb.logger.Error("failed to send message", "error", err)
}

// handleCommand handles slash commands. It reports whether the loop should stop.
func (cb *ChatBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/clear":
		if err := cb.ctrl.Clear(); err != nil {
			return false, err
		}
		cb.printAI(time.Now(), clearedMessage)
		return false, nil

	case "/save":
		if len(cb.ctrl.Snapshot()) == 0 {
			fmt.Fprintln(cb.out, "No chat content to save!")
			return false, nil
		}
		path := fmt.Sprintf("chat-%s.txt", time.Now().Format("20060102-150405"))
		if len(parts) > 1 {
			path = strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))
		}
		if err := cb.ctrl.Export(path); err != nil {
			return false, fmt.Errorf("failed to save chat: %w", err)
		}
		fmt.Fprintf(cb.out, "Chat saved successfully to: %s\n", path)
		return false, nil

	case "/history":
		turns := cb.ctrl.Snapshot()
		if len(turns) == 0 {
			fmt.Fprintln(cb.out, "History is empty.")
			return false, nil
		}
		for _, t := range turns {
			fmt.Fprintln(cb.out, export.FormatLine(t))
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/status":
		sess := cb.ctrl.Session()
		fmt.Fprintf(cb.out, "Session: %s\n", sess.ID)
		fmt.Fprintf(cb.out, "Model:   %s (%s)\n", sess.Model, sess.Backend)
		fmt.Fprintf(cb.out, "State:   %s\n", cb.ctrl.State())
		fmt.Fprintf(cb.out, "History: %d/%d turns\n\n", len(cb.ctrl.Snapshot()), cb.ctrl.HistoryLength())
		return false, nil

	case "/models":
		if cb.lister == nil {
			fmt.Fprintln(cb.out, "Model listing is only available with the ollama backend.")
			return false, nil
		}
		models, err := cb.lister.ListModels(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list models: %w", err)
		}
		fmt.Fprintln(cb.out, "\nAvailable models:")
		for i, model := range models {
			sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
			current := ""
			if model.Name == cb.ctrl.Session().Model {
				current = " (current)"
			}
			fmt.Fprintf(cb.out, "%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, current)
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/sessions":
		if cb.store == nil {
			fmt.Fprintln(cb.out, "Session storage is not enabled.")
			return false, nil
		}
		sessions, err := cb.store.ListSessions(ctx, 10)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(cb.out, "\nRecent sessions:")
		for _, s := range sessions {
			fmt.Fprintf(cb.out, "%s  %s  %s  %d turns\n", s.ID, s.StartTime.Format("2006-01-02 15:04"), s.Model, s.Turns)
		}
		fmt.Fprintln(cb.out)
		return false, nil

	case "/help":
		fmt.Fprintln(cb.out, "Available commands:")
		fmt.Fprintln(cb.out, "  /quit, /exit   - Exit the chatbot")
		fmt.Fprintln(cb.out, "  /clear         - Clear the chat history")
		fmt.Fprintln(cb.out, "  /save [path]   - Save the conversation as plain text")
		fmt.Fprintln(cb.out, "  /history       - Show the turns kept in history")
		fmt.Fprintln(cb.out, "  /status        - Show session, model and history state")
		fmt.Fprintln(cb.out, "  /models        - List available models (ollama)")
		fmt.Fprintln(cb.out, "  /sessions      - List stored sessions")
		fmt.Fprintln(cb.out, "  /help          - Show this help message")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (type /help)", parts[0])
	}
}
