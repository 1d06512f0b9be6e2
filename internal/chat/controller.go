// Package chat runs a chat session against a loaded model: it owns the
// bounded history, builds prompts from it and allows one generation at a time.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"LocalChat/internal/backend"
	"LocalChat/internal/export"
	"LocalChat/internal/prompt"
	"LocalChat/internal/session"
)

var (
	// ErrBusy is returned by Submit and Clear while a generation is in flight.
	// Nothing is queued; the caller may try again once the controller is idle.
	ErrBusy = errors.New("a response is still being generated")

	// ErrEmptyMessage is returned for blank user input
	ErrEmptyMessage = errors.New("message is empty")
)

// Recorder persists turns as they are added. Failures are logged, never surfaced.
type Recorder interface {
	RecordTurn(ctx context.Context, sess session.Session, turn session.Turn) error
}

// Settings are fixed for the lifetime of a controller
type Settings struct {
	HistoryLength int
	Instruction   string
	Params        backend.Params
}

// Result is delivered by SubmitAsync when a generation finishes
type Result struct {
	Turn session.Turn
	Err  error
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTracer sets the tracer used for generation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// WithMeter sets the meter used for chat metrics
func WithMeter(meter metric.Meter) Option {
	return func(c *Controller) { c.meter = meter }
}

// WithRecorder persists every turn through r
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithCounter sets the token counter used to fit prompts into the context window
func WithCounter(counter prompt.Counter) Option {
	return func(c *Controller) { c.assembler.Counter = counter }
}

// WithClock overrides time.Now for turn timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the session state machine: Idle -> Generating -> Idle.
// It is the only writer of its history.
type Controller struct {
	model     backend.Model
	sess      session.Session
	history   *session.History
	assembler prompt.Assembler
	params    backend.Params
	recorder  Recorder
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	now       func() time.Time

	turnCounter     metric.Int64Counter
	failureCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter
	durationHist    metric.Float64Histogram

	mu    sync.Mutex
	state State
}

// NewController creates an idle controller with an empty history.
// The model handle is owned by the caller.
func NewController(model backend.Model, sess session.Session, settings Settings, opts ...Option) (*Controller, error) {
	if model == nil {
		return nil, fmt.Errorf("model cannot be nil")
	}

	params := settings.Params
	if params.Stop == nil {
		params.Stop = prompt.StopSequences
	}

	c := &Controller{
		model:   model,
		sess:    sess,
		history: session.NewHistory(settings.HistoryLength),
		assembler: prompt.Assembler{
			Instruction: settings.Instruction,
			ContextSize: params.ContextSize,
			MaxTokens:   params.MaxTokens,
		},
		params: params,
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = tracenoop.NewTracerProvider().Tracer("chat")
	}
	if c.meter == nil {
		c.meter = metricnoop.NewMeterProvider().Meter("chat")
	}

	var err error
	if c.turnCounter, err = c.meter.Int64Counter("chat.turns",
		metric.WithDescription("Turns appended to the history")); err != nil {
		return nil, fmt.Errorf("failed to create turn counter: %w", err)
	}
	if c.failureCounter, err = c.meter.Int64Counter("chat.generation.failures",
		metric.WithDescription("Generations that ended in a backend error")); err != nil {
		return nil, fmt.Errorf("failed to create failure counter: %w", err)
	}
	if c.rejectedCounter, err = c.meter.Int64Counter("chat.submit.rejected",
		metric.WithDescription("Submits rejected because a generation was in flight")); err != nil {
		return nil, fmt.Errorf("failed to create rejection counter: %w", err)
	}
	if c.durationHist, err = c.meter.Float64Histogram("chat.generation.duration",
		metric.WithDescription("Generation duration in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return c, nil
}

// Session returns the session metadata
func (c *Controller) Session() session.Session {
	return c.sess
}

// Model returns the model handle the controller generates with
func (c *Controller) Model() backend.Model {
	return c.model
}

// HistoryLength returns the history bound
func (c *Controller) HistoryLength() int {
	return c.history.Limit()
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the history. It is valid in any state.
func (c *Controller) Snapshot() []session.Turn {
	return c.history.Snapshot()
}

// Restore replaces the history with the most recent of the given turns.
// It is used when resuming a stored session.
func (c *Controller) Restore(turns []session.Turn) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.history.Load(turns)
	c.logger.Info("history restored", "session_id", c.sess.ID, "turns", c.history.Len())
	return nil
}

// Submit records the user's message, generates a reply and records it.
// It blocks for the whole generation. On a backend failure the user turn
// stays in the history, no assistant turn is added and the error is returned;
// nothing is retried.
func (c *Controller) Submit(ctx context.Context, text string) (session.Turn, error) {
	p, err := c.begin(ctx, text)
	if err != nil {
		return session.Turn{}, err
	}
	return c.generate(ctx, c.request(ctx, p))
}

// SubmitAsync is Submit with prompt assembly and generation moved to a
// goroutine. Validation and the Idle -> Generating transition happen before
// it returns, so ErrBusy and ErrEmptyMessage are reported synchronously. The
// channel receives exactly one Result and is then closed.
func (c *Controller) SubmitAsync(ctx context.Context, text string) (<-chan Result, error) {
	p, err := c.begin(ctx, text)
	if err != nil {
		return nil, err
	}

	results := make(chan Result, 1)
	go func() {
		defer close(results)
		turn, err := c.generate(ctx, c.request(ctx, p))
		results <- Result{Turn: turn, Err: err}
	}()
	return results, nil
}

// Clear empties the history. It is only valid while idle.
func (c *Controller) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrBusy
	}
	c.history.Clear()
	c.logger.Info("history cleared", "session_id", c.sess.ID)
	return nil
}

// Export writes the current history to path. It is valid in any state and
// never changes the history.
func (c *Controller) Export(path string) error {
	turns := c.Snapshot()
	if err := export.WriteFile(path, turns); err != nil {
		c.logger.Error("export failed", "path", path, "error", err)
		return err
	}
	c.logger.Info("history exported", "path", path, "turns", len(turns))
	return nil
}

// pending is a submitted message waiting for its prompt
type pending struct {
	prior []session.Turn
	text  string
}

// begin validates input, appends the user turn and moves to Generating
func (c *Controller) begin(ctx context.Context, text string) (pending, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return pending{}, ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		c.rejectedCounter.Add(ctx, 1)
		c.logger.Warn("submit rejected", "session_id", c.sess.ID, "state", StateGenerating.String())
		return pending{}, ErrBusy
	}
	prior := c.history.Snapshot()
	userTurn := session.Turn{Role: session.RoleUser, Text: text, Timestamp: c.now()}
	c.history.Append(userTurn)
	c.state = StateGenerating
	c.mu.Unlock()

	c.recordTurn(ctx, userTurn)
	return pending{prior: prior, text: text}, nil
}

// request fits the prior turns and the new message into a prompt
func (c *Controller) request(ctx context.Context, p pending) backend.Request {
	assembled := c.assembler.Assemble(ctx, p.prior, p.text)
	if assembled.Overflow {
		c.logger.Warn("prompt exceeds context window",
			"tokens", assembled.Tokens,
			"max_tokens", c.params.MaxTokens,
			"context_size", c.params.ContextSize,
		)
	}
	c.logger.Debug("prompt assembled",
		"tokens", assembled.Tokens,
		"included_turns", assembled.Included,
		"dropped_turns", assembled.Dropped,
	)

	return backend.Request{Prompt: assembled.Prompt, Params: c.params}
}

// generate calls the model and moves back to Idle whatever the outcome
func (c *Controller) generate(ctx context.Context, req backend.Request) (session.Turn, error) {
	ctx, span := c.tracer.Start(ctx, "generate",
		trace.WithAttributes(
			attribute.String("session.id", c.sess.ID),
			attribute.String("model", c.model.Name()),
			attribute.Int("max_tokens", req.MaxTokens),
		),
	)
	defer span.End()

	start := time.Now()
	raw, err := c.model.Generate(ctx, req)
	c.durationHist.Record(ctx, float64(time.Since(start).Milliseconds()))

	var reply string
	if err == nil {
		reply = prompt.Clean(raw)
		if reply == "" {
			err = backend.ErrEmptyCompletion
		}
	}
	if err != nil && !backend.IsBackendError(err) {
		err = &backend.Error{Op: "generate", Model: c.model.Name(), Err: err}
	}

	var turn session.Turn
	c.mu.Lock()
	if err == nil {
		turn = session.Turn{Role: session.RoleAssistant, Text: reply, Timestamp: c.now()}
		c.history.Append(turn)
	}
	c.state = StateIdle
	c.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.failureCounter.Add(ctx, 1)
		c.logger.Error("generation failed", "session_id", c.sess.ID, "error", err)
		return session.Turn{}, err
	}

	c.recordTurn(ctx, turn)
	c.logger.Info("generation finished",
		"session_id", c.sess.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"reply_chars", len(reply),
	)
	return turn, nil
}

func (c *Controller) recordTurn(ctx context.Context, turn session.Turn) {
	c.turnCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("role", string(turn.Role))))
	if c.recorder == nil {
		return
	}
	if err := c.recorder.RecordTurn(ctx, c.sess, turn); err != nil {
		c.logger.Warn("failed to record turn", "session_id", c.sess.ID, "role", turn.Role, "error", err)
	}
}
