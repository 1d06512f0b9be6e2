package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOllamaServer(t *testing.T, generate http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OllamaTagsResponse{Models: []OllamaModel{
			{Name: "phi:latest", Size: 1 << 30},
			{Name: "llama3:latest", Size: 4 << 30},
		}})
	})
	if generate != nil {
		mux.HandleFunc("POST /api/generate", generate)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestOllama_ListModels(t *testing.T) {
	srv := newOllamaServer(t, nil)

	models, err := NewOllamaLoader(srv.URL, nil, nil).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "phi:latest", models[0].Name)
}

func TestOllama_LoadUnknownModel(t *testing.T) {
	srv := newOllamaServer(t, nil)

	_, err := NewOllamaLoader(srv.URL, nil, nil).Load(context.Background(), "mistral:7b")

	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.True(t, IsBackendError(err))
}

func TestOllama_Generate(t *testing.T) {
	var got OllamaGenerateRequest
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(OllamaGenerateResponse{Model: got.Model, Response: "Hi there.", Done: true})
	})

	model, err := NewOllamaLoader(srv.URL, nil, nil).Load(context.Background(), "phi:latest")
	require.NoError(t, err)

	text, err := model.Generate(context.Background(), Request{
		Prompt: "Human: hello\nAssistant:",
		Params: Params{MaxTokens: 64, ContextSize: 2048, Temperature: 0.2, TopK: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there.", text)

	assert.Equal(t, "phi:latest", got.Model)
	assert.True(t, got.Raw)
	assert.False(t, got.Stream)
	assert.Equal(t, 64, got.Options.NumPredict)
	assert.Equal(t, 2048, got.Options.NumCtx)
}

func TestOllama_GenerateNotDone(t *testing.T) {
	srv := newOllamaServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(OllamaGenerateResponse{Response: "partial", Done: false})
	})
	model, err := NewOllamaLoader(srv.URL, nil, nil).Load(context.Background(), "phi:latest")
	require.NoError(t, err)

	_, err = model.Generate(context.Background(), Request{Prompt: "x"})

	assert.ErrorIs(t, err, ErrMalformedResponse)
}
