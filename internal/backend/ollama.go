package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultOllamaURL is the local Ollama API
const DefaultOllamaURL = "http://localhost:11434"

// OllamaGenerateRequest represents the request body for Ollama /api/generate
type OllamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options OllamaOptions `json:"options"`
}

// OllamaOptions carries the sampling parameters
type OllamaOptions struct {
	NumPredict    int      `json:"num_predict"`
	NumCtx        int      `json:"num_ctx,omitempty"`
	Temperature   float64  `json:"temperature"`
	TopP          float64  `json:"top_p"`
	TopK          int      `json:"top_k"`
	RepeatPenalty float64  `json:"repeat_penalty"`
	Stop          []string `json:"stop,omitempty"`
}

// OllamaGenerateResponse represents the response from Ollama /api/generate
type OllamaGenerateResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Response  string `json:"response"`
	Done      bool   `json:"done"`
	EvalCount int    `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags endpoint
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaLoader loads models already pulled or created in a local Ollama
type OllamaLoader struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaLoader creates a loader for the Ollama API at baseURL
func NewOllamaLoader(baseURL string, client *http.Client, logger *slog.Logger) *OllamaLoader {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaLoader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: newHTTPClient(client),
		logger:     logger,
	}
}

// ListModels fetches the list of available Ollama models
func (l *OllamaLoader) ListModels(ctx context.Context) ([]OllamaModel, error) {
	var tagsResp OllamaTagsResponse
	if err := doJSON(ctx, l.httpClient, http.MethodGet, l.baseURL+"/api/tags", nil, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to list models (is Ollama running?): %w", err)
	}
	return tagsResp.Models, nil
}

// Load resolves modelName (format model:version) against the models Ollama knows
func (l *OllamaLoader) Load(ctx context.Context, modelName string) (Model, error) {
	models, err := l.ListModels(ctx)
	if err != nil {
		return nil, &Error{Op: "load", Model: modelName, Err: err}
	}

	for _, m := range models {
		if m.Name == modelName {
			l.logger.Info("model loaded", "backend", NameOllama, "model", modelName, "size", m.Size, "url", l.baseURL)
			return &OllamaHandle{
				name:       modelName,
				baseURL:    l.baseURL,
				httpClient: l.httpClient,
				logger:     l.logger,
			}, nil
		}
	}
	return nil, &Error{Op: "load", Model: modelName, Err: ErrModelNotFound}
}

// OllamaHandle is a handle to a model served by Ollama
type OllamaHandle struct {
	name       string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Name returns the Ollama model name
func (m *OllamaHandle) Name() string {
	return m.name
}

// Generate runs a raw, non-streaming completion so our own prompt format is used verbatim
func (m *OllamaHandle) Generate(ctx context.Context, req Request) (string, error) {
	body := OllamaGenerateRequest{
		Model:  m.name,
		Prompt: req.Prompt,
		Raw:    true,
		Stream: false,
		Options: OllamaOptions{
			NumPredict:    req.MaxTokens,
			NumCtx:        req.ContextSize,
			Temperature:   req.Temperature,
			TopP:          req.TopP,
			TopK:          req.TopK,
			RepeatPenalty: req.RepeatPenalty,
			Stop:          req.Stop,
		},
	}

	var resp OllamaGenerateResponse
	if err := doJSON(ctx, m.httpClient, http.MethodPost, m.baseURL+"/api/generate", body, &resp); err != nil {
		return "", &Error{Op: "generate", Model: m.name, Err: err}
	}
	if !resp.Done {
		return "", &Error{Op: "generate", Model: m.name, Err: fmt.Errorf("%w: response not done", ErrMalformedResponse)}
	}

	m.logger.Debug("completion finished", "model", m.name, "eval_count", resp.EvalCount)
	return resp.Response, nil
}

// Close is a no-op; Ollama manages model residency itself
func (m *OllamaHandle) Close() error {
	return nil
}
