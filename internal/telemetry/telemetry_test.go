package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitLogger_WritesJSONToFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	dir := filepath.Join(t.TempDir(), "logs")

	logger, closer, err := InitLogger(dir, false)
	require.NoError(t, err)
	logger.Info("hello", "turns", 2)
	logger.Debug("hidden")
	require.NoError(t, closer.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "localchat.log"))
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.EqualValues(t, 2, entry["turns"])
	assert.NotContains(t, string(raw), "hidden")
}

func TestInitTelemetry_ProvidesInstruments(t *testing.T) {
	tracer, meter, cleanup, err := InitTelemetry(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer cleanup()

	_, span := tracer.Start(context.Background(), "test")
	span.End()

	counter, err := meter.Int64Counter("test.counter")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)
}
