package chatbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"LocalChat/internal/backend"
	"LocalChat/internal/cache"
	"LocalChat/internal/chat"
	"LocalChat/internal/config"
	"LocalChat/internal/httpapi"
	"LocalChat/internal/session"
	"LocalChat/internal/store"
	"LocalChat/internal/telemetry"
)

// ModelLister lists the models a runtime can serve
type ModelLister interface {
	ListModels(ctx context.Context) ([]backend.OllamaModel, error)
}

// ChatBot represents the main application
type ChatBot struct {
	config  config.Config
	ctrl    *chat.Controller
	store   *store.Store
	lister  ModelLister
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	closers []func()
}

// NewChatBot wires logging, telemetry, the transcript store and the model
// backend, then builds the session controller. A model that cannot be loaded
// is returned as an error and the program should not continue.
func NewChatBot(ctx context.Context, cfg config.Config) (*ChatBot, error) {
	cb := &ChatBot{config: cfg, in: os.Stdin, out: os.Stdout}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cb.logger = logger
	cb.closers = append(cb.closers, func() { logFile.Close() })

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	cb.closers = append(cb.closers, cleanup)

	st, err := store.Open(cfg.DBDriver, cfg.DBPath, logger)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	cb.store = st
	cb.closers = append(cb.closers, func() {
		if err := st.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	})

	var loader backend.Loader
	switch cfg.Backend {
	case config.BackendOllama:
		ol := backend.NewOllamaLoader(cfg.ServerURL, nil, logger)
		cb.lister = ol
		loader = ol
	default:
		loader = backend.NewLlamaCppLoader(cfg.ServerURL, nil, logger)
	}

	model, err := loader.Load(ctx, cfg.ModelRef())
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to load model: %w", err)
	}
	cb.closers = append(cb.closers, func() { model.Close() })

	var generator backend.Model = model
	if cfg.Cache {
		generator = cache.Wrap(model, logger)
	}

	sess, history := cb.resumeOrCreate(ctx, model.Name())

	ctrl, err := chat.NewController(generator, sess, chat.Settings{
		HistoryLength: cfg.HistoryLength,
		Instruction:   cfg.Instruction,
		Params: backend.Params{
			MaxTokens:     cfg.MaxTokens,
			Temperature:   cfg.Temperature,
			TopP:          cfg.TopP,
			TopK:          cfg.TopK,
			RepeatPenalty: cfg.RepeatPenalty,
			ContextSize:   cfg.ContextSize,
		},
	},
		chat.WithLogger(logger),
		chat.WithTracer(tracer),
		chat.WithMeter(meter),
		chat.WithRecorder(st),
		chat.WithCounter(backend.TokenCounter(model, logger)),
	)
	if err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}
	if err := ctrl.Restore(history); err != nil {
		cb.Close()
		return nil, fmt.Errorf("failed to restore history: %w", err)
	}
	cb.ctrl = ctrl

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	return cb, nil
}

// New creates a ChatBot around an existing controller, reading commands from
// in and writing the conversation to out
func New(cfg config.Config, ctrl *chat.Controller, in io.Reader, out io.Writer, logger *slog.Logger) *ChatBot {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatBot{config: cfg, ctrl: ctrl, in: in, out: out, logger: logger}
}

// resumeOrCreate loads the configured session from the store, falling back
// to a fresh one when it cannot be found
func (cb *ChatBot) resumeOrCreate(ctx context.Context, modelName string) (session.Session, []session.Turn) {
	if cb.config.SessionID != "" {
		sess, turns, err := cb.store.LoadSession(ctx, cb.config.SessionID)
		if err == nil {
			cb.logger.Info("loaded existing session", "session_id", sess.ID, "turns", len(turns))
			return sess, turns
		}
		cb.logger.Warn("failed to load session, creating new one", "error", err)
	}

	sess := session.New(cb.config.Backend, modelName)
	cb.logger.Info("created new session", "session_id", sess.ID, "backend", sess.Backend, "model", sess.Model)
	return sess, nil
}

// Controller returns the session controller
func (cb *ChatBot) Controller() *chat.Controller {
	return cb.ctrl
}

// Serve runs the HTTP front end on addr until ctx is done
func (cb *ChatBot) Serve(ctx context.Context, addr string) error {
	if err := os.MkdirAll(cb.config.ExportDir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	return httpapi.New(cb.ctrl, cb.config.ExportDir, cb.logger).ListenAndServe(ctx, addr)
}

// Close releases everything NewChatBot opened, in reverse order
func (cb *ChatBot) Close() {
	for i := len(cb.closers) - 1; i >= 0; i-- {
		cb.closers[i]()
	}
	cb.closers = nil
}

// isBackendFailure reports whether err should be shown as a model error
func isBackendFailure(err error) bool {
	return backend.IsBackendError(err) && !errors.Is(err, context.Canceled)
}
