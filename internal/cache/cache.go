package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"LocalChat/internal/backend"
)

// CachedResponse represents a cached completion
type CachedResponse struct {
	Response  string
	Timestamp time.Time
}

// GenerateCacheKey generates a cache key from the prompt and every sampling parameter
func GenerateCacheKey(req backend.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Prompt))
	fmt.Fprintf(h, "\x00%d|%g|%g|%d|%g|%d", req.MaxTokens, req.Temperature, req.TopP, req.TopK, req.RepeatPenalty, req.ContextSize)
	for _, s := range req.Stop {
		h.Write([]byte{0})
		h.Write([]byte(s))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Model wraps a backend.Model and answers repeated identical requests from memory.
// Failed generations are never cached.
type Model struct {
	backend.Model
	entries sync.Map
	hits    atomic.Int64
	logger  *slog.Logger
}

// Wrap returns a caching decorator around m
func Wrap(m backend.Model, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{Model: m, logger: logger}
}

// Generate returns a cached completion or delegates to the wrapped model
func (c *Model) Generate(ctx context.Context, req backend.Request) (string, error) {
	key := GenerateCacheKey(req)
	if val, ok := c.entries.Load(key); ok {
		cached := val.(CachedResponse)
		c.hits.Add(1)
		c.logger.Info("cache hit", "key", key[:16])
		return cached.Response, nil
	}

	response, err := c.Model.Generate(ctx, req)
	if err != nil {
		return "", err
	}

	c.entries.Store(key, CachedResponse{
		Response:  response,
		Timestamp: time.Now(),
	})
	c.logger.Info("cached response", "key", key[:16])
	return response, nil
}

// Hits returns how many generations were served from the cache
func (c *Model) Hits() int64 {
	return c.hits.Load()
}
