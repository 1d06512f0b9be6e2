package chatbot

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LocalChat/internal/backend"
	"LocalChat/internal/chat"
	"LocalChat/internal/config"
	"LocalChat/internal/session"
)

type echoModel struct {
	err error
}

func (m *echoModel) Generate(ctx context.Context, req backend.Request) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "Echo reply.", nil
}

func (m *echoModel) Name() string { return "echo" }
func (m *echoModel) Close() error { return nil }

func newTestBot(t *testing.T, model backend.Model, input string) (*ChatBot, *bytes.Buffer) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := chat.NewController(model, session.New("llamacpp", model.Name()), chat.Settings{
		HistoryLength: 3,
		Params:        backend.Params{MaxTokens: 100, ContextSize: 2048},
	}, chat.WithLogger(logger))
	require.NoError(t, err)

	out := &bytes.Buffer{}
	return New(config.Defaults(), ctrl, strings.NewReader(input), out, logger), out
}

func TestRunConversation(t *testing.T) {
	cb, out := newTestBot(t, &echoModel{}, "Hello there\n/quit\n")

	require.NoError(t, cb.Run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "=== LocalChat ===")
	assert.Contains(t, text, welcomeMessage)
	assert.Contains(t, text, "Generating response...")
	assert.Contains(t, text, "AI: Echo reply.")
	assert.Contains(t, text, "Goodbye!")

	turns := cb.Controller().Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "Hello there", turns[0].Text)
	assert.Equal(t, "Echo reply.", turns[1].Text)
}

func TestRunEndsOnEOF(t *testing.T) {
	cb, out := newTestBot(t, &echoModel{}, "")

	require.NoError(t, cb.Run(context.Background()))
	assert.Contains(t, out.String(), "Goodbye!")
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	cb, out := newTestBot(t, &echoModel{}, "hello\nhow are you\n/quit\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, cb.Run(ctx))

	assert.NotContains(t, out.String(), "Generating response...")
	assert.Contains(t, out.String(), "Goodbye!")
	assert.Empty(t, cb.Controller().Snapshot())
}

func TestRunStopsWhileWaitingForInput(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl, err := chat.NewController(&echoModel{}, session.New("llamacpp", "echo"), chat.Settings{HistoryLength: 3})
	require.NoError(t, err)

	pr, pw := io.Pipe()
	t.Cleanup(func() { pw.Close() })
	out := &bytes.Buffer{}
	cb := New(config.Defaults(), ctrl, pr, out, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cb.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the context was cancelled")
	}
}

func TestRunReportsModelError(t *testing.T) {
	cb, out := newTestBot(t, &echoModel{err: backend.ErrUnavailable}, "hi\n")

	require.NoError(t, cb.Run(context.Background()))

	assert.Contains(t, out.String(), "[Model error]:")
	turns := cb.Controller().Snapshot()
	require.Len(t, turns, 1)
	assert.Equal(t, session.RoleUser, turns[0].Role)
}

func TestCommands(t *testing.T) {
	ctx := context.Background()

	t.Run("clear", func(t *testing.T) {
		cb, out := newTestBot(t, &echoModel{}, "")
		_, err := cb.Controller().Submit(ctx, "hello")
		require.NoError(t, err)

		quit, err := cb.handleCommand(ctx, "/clear")
		require.NoError(t, err)
		assert.False(t, quit)
		assert.Empty(t, cb.Controller().Snapshot())
		assert.Contains(t, out.String(), clearedMessage)
	})

	t.Run("save", func(t *testing.T) {
		cb, out := newTestBot(t, &echoModel{}, "")
		path := filepath.Join(t.TempDir(), "chat log.txt")

		_, err := cb.handleCommand(ctx, "/save "+path)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "No chat content to save!")
		assert.NoFileExists(t, path)

		_, err = cb.Controller().Submit(ctx, "hello")
		require.NoError(t, err)
		_, err = cb.handleCommand(ctx, "/save "+path)
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "] user: hello")
		assert.Contains(t, lines[1], "] assistant: Echo reply.")
	})

	t.Run("history and status", func(t *testing.T) {
		cb, out := newTestBot(t, &echoModel{}, "")
		_, err := cb.Controller().Submit(ctx, "hello")
		require.NoError(t, err)

		_, err = cb.handleCommand(ctx, "/history")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "user: hello")

		_, err = cb.handleCommand(ctx, "/status")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "State:   idle")
		assert.Contains(t, out.String(), "History: 2/3 turns")
	})

	t.Run("models without lister", func(t *testing.T) {
		cb, out := newTestBot(t, &echoModel{}, "")
		_, err := cb.handleCommand(ctx, "/models")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "only available with the ollama backend")
	})

	t.Run("sessions without store", func(t *testing.T) {
		cb, out := newTestBot(t, &echoModel{}, "")
		_, err := cb.handleCommand(ctx, "/sessions")
		require.NoError(t, err)
		assert.Contains(t, out.String(), "Session storage is not enabled.")
	})

	t.Run("quit", func(t *testing.T) {
		cb, _ := newTestBot(t, &echoModel{}, "")
		for _, cmd := range []string{"/quit", "/exit"} {
			quit, err := cb.handleCommand(ctx, cmd)
			require.NoError(t, err)
			assert.True(t, quit)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		cb, _ := newTestBot(t, &echoModel{}, "")
		quit, err := cb.handleCommand(ctx, "/dance")
		assert.Error(t, err)
		assert.False(t, quit)
	})
}

type fakeLister struct {
	models []backend.OllamaModel
}

func (f fakeLister) ListModels(ctx context.Context) ([]backend.OllamaModel, error) {
	return f.models, nil
}

func TestModelsCommand(t *testing.T) {
	cb, out := newTestBot(t, &echoModel{}, "")
	cb.lister = fakeLister{models: []backend.OllamaModel{
		{Name: "echo", Size: 2 * 1024 * 1024 * 1024},
		{Name: "phi:latest", Size: 1024 * 1024 * 1024},
	}}

	_, err := cb.handleCommand(context.Background(), "/models")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "1. echo - 2.00 GB (current)")
	assert.Contains(t, out.String(), "2. phi:latest - 1.00 GB")
}

func TestIsBackendFailure(t *testing.T) {
	assert.True(t, isBackendFailure(&backend.Error{Op: "generate", Err: backend.ErrUnavailable}))
	assert.False(t, isBackendFailure(chat.ErrBusy))
	assert.False(t, isBackendFailure(&backend.Error{Op: "generate", Err: context.Canceled}))
}
