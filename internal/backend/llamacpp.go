package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultLlamaCppURL is where llama.cpp's llama-server listens by default
const DefaultLlamaCppURL = "http://localhost:8080"

// LlamaCppCompletionRequest is the body of POST /completion
type LlamaCppCompletionRequest struct {
	Prompt        string   `json:"prompt"`
	NPredict      int      `json:"n_predict"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
	Stream        bool     `json:"stream"`
}

// LlamaCppCompletionResponse is the non-streaming answer of POST /completion
type LlamaCppCompletionResponse struct {
	Content         string `json:"content"`
	Stop            bool   `json:"stop"`
	TokensPredicted int    `json:"tokens_predicted"`
	TokensEvaluated int    `json:"tokens_evaluated"`
	StoppingWord    string `json:"stopping_word"`
}

// LlamaCppTokenizeRequest is the body of POST /tokenize
type LlamaCppTokenizeRequest struct {
	Content string `json:"content"`
}

// LlamaCppTokenizeResponse is the answer of POST /tokenize
type LlamaCppTokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

// LlamaCppPropsResponse is the part of GET /props we check on load
type LlamaCppPropsResponse struct {
	ModelPath string `json:"model_path"`
}

// LlamaCppLoader loads GGUF models served by a local llama-server process
type LlamaCppLoader struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLlamaCppLoader creates a loader for the llama-server at baseURL
func NewLlamaCppLoader(baseURL string, client *http.Client, logger *slog.Logger) *LlamaCppLoader {
	if baseURL == "" {
		baseURL = DefaultLlamaCppURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LlamaCppLoader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(client),
		logger:     logger,
	}
}

// Load validates the GGUF file, checks that the server reports healthy and
// that it serves the same file. A server that is down or still loading
// yields ErrUnavailable; one serving another model yields ErrModelMismatch.
func (l *LlamaCppLoader) Load(ctx context.Context, modelPath string) (Model, error) {
	name := filepath.Base(modelPath)

	version, err := ValidateGGUF(modelPath)
	if err != nil {
		return nil, &Error{Op: "load", Model: name, Err: err}
	}

	if err := doJSON(ctx, l.httpClient, http.MethodGet, l.baseURL+"/health", nil, nil); err != nil {
		return nil, &Error{Op: "load", Model: name, Err: err}
	}
	if err := l.checkServedModel(ctx, name); err != nil {
		return nil, &Error{Op: "load", Model: name, Err: err}
	}

	l.logger.Info("model loaded", "backend", NameLlamaCpp, "model", name, "gguf_version", version, "url", l.baseURL)
	return &LlamaCppModel{
		name:       name,
		baseURL:    l.baseURL,
		httpClient: l.httpClient,
		logger:     l.logger,
	}, nil
}

// checkServedModel compares the server's model file name with name. Servers
// too old to report model_path are trusted with a warning.
func (l *LlamaCppLoader) checkServedModel(ctx context.Context, name string) error {
	var props LlamaCppPropsResponse
	if err := doJSON(ctx, l.httpClient, http.MethodGet, l.baseURL+"/props", nil, &props); err != nil {
		l.logger.Warn("cannot read server props, model file not verified", "model", name, "error", err)
		return nil
	}
	if props.ModelPath == "" {
		l.logger.Warn("server did not report its model path", "model", name)
		return nil
	}
	if served := filepath.Base(props.ModelPath); served != name {
		return fmt.Errorf("%w: requested %s, server has %s", ErrModelMismatch, name, served)
	}
	return nil
}

// LlamaCppModel is a handle to a model served by llama-server
type LlamaCppModel struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Name returns the model file name
func (m *LlamaCppModel) Name() string {
	return m.name
}

// Generate runs a non-streaming completion
func (m *LlamaCppModel) Generate(ctx context.Context, req Request) (string, error) {
	body := LlamaCppCompletionRequest{
		Prompt:        req.Prompt,
		NPredict:      req.MaxTokens,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		RepeatPenalty: req.RepeatPenalty,
		Stop:          req.Stop,
		Stream:        false,
	}

	var resp LlamaCppCompletionResponse
	if err := doJSON(ctx, m.httpClient, http.MethodPost, m.baseURL+"/completion", body, &resp); err != nil {
		return "", &Error{Op: "generate", Model: m.name, Err: err}
	}

	m.logger.Debug("completion finished",
		"model", m.name,
		"tokens_predicted", resp.TokensPredicted,
		"tokens_evaluated", resp.TokensEvaluated,
		"stopping_word", resp.StoppingWord,
	)
	return resp.Content, nil
}

// Tokenize returns the exact token count of text
func (m *LlamaCppModel) Tokenize(ctx context.Context, text string) (int, error) {
	var resp LlamaCppTokenizeResponse
	err := doJSON(ctx, m.httpClient, http.MethodPost, m.baseURL+"/tokenize", LlamaCppTokenizeRequest{Content: text}, &resp)
	if err != nil {
		return 0, &Error{Op: "tokenize", Model: m.name, Err: err}
	}
	return len(resp.Tokens), nil
}

// Close is a no-op; the server process owns the model memory
func (m *LlamaCppModel) Close() error {
	return nil
}
