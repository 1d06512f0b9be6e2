// Package backend talks to the local model runtime that actually runs the
// GGUF model. The rest of the program only sees the Loader and Model interfaces.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	NameLlamaCpp = "llamacpp"
	NameOllama   = "ollama"
)

var (
	// ErrUnavailable means the model runtime could not be reached or is not ready.
	ErrUnavailable = errors.New("model runtime unavailable")

	// ErrMalformedModel means the model file is not a valid GGUF file.
	ErrMalformedModel = errors.New("malformed model file")

	// ErrModelNotFound means the runtime does not know the requested model.
	ErrModelNotFound = errors.New("model not found")

	// ErrModelMismatch means the runtime is serving a different model file.
	ErrModelMismatch = errors.New("runtime is serving a different model")

	// ErrMalformedResponse means the runtime answered with something we could not decode.
	ErrMalformedResponse = errors.New("malformed model response")

	// ErrEmptyCompletion means the model produced no usable text.
	ErrEmptyCompletion = errors.New("empty completion")
)

// Params are the sampling parameters sent with every generation
type Params struct {
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	ContextSize   int
	Stop          []string
}

// Request is a single generation request. It is built per turn and never stored.
type Request struct {
	Prompt string
	Params
}

// Model is a loaded model handle
type Model interface {
	// Generate returns the raw completion for the request
	Generate(ctx context.Context, req Request) (string, error)

	// Name identifies the loaded model
	Name() string

	// Close releases the handle
	Close() error
}

// Loader loads a model and returns a handle to it
type Loader interface {
	Load(ctx context.Context, modelPath string) (Model, error)
}

// Tokenizer is implemented by models whose runtime can count tokens exactly
type Tokenizer interface {
	Tokenize(ctx context.Context, text string) (int, error)
}

// Error is returned for any load or generation failure. The session can
// continue after one.
type Error struct {
	Op    string // load, generate or tokenize
	Model string
	Err   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.Model, e.Err)
	if e.OutOfMemory() {
		msg += " (hint: try reducing max_tokens or history_length)"
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// OutOfMemory reports whether the runtime ran out of memory
func (e *Error) OutOfMemory() bool {
	return e.Err != nil && strings.Contains(strings.ToLower(e.Err.Error()), "out of memory")
}

// IsBackendError reports whether err is, or wraps, an *Error
func IsBackendError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}
