package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"LocalChat/internal/backend"
	"LocalChat/internal/prompt"
)

const (
	BackendLlamaCpp = backend.NameLlamaCpp
	BackendOllama   = backend.NameOllama
)

// database/sql driver names accepted by -db-driver
const (
	DBDriverCgo  = "sqlite3" // github.com/mattn/go-sqlite3
	DBDriverPure = "sqlite"  // modernc.org/sqlite
)

// envPrefix is prepended to every environment variable name
const envPrefix = "LOCALCHAT_"

// Config holds application configuration. It is fixed once loaded.
type Config struct {
	// Model
	Backend     string
	ModelPath   string // GGUF file; discovered in ModelsDir when empty
	ModelsDir   string
	ServerURL   string // llama-server or Ollama base URL
	OllamaModel string // Model specification in format "model:version" (e.g., "phi:latest")

	// Generation
	MaxTokens     int
	Temperature   float64
	TopP          float64
	TopK          int
	RepeatPenalty float64
	ContextSize   int
	HistoryLength int
	Instruction   string
	Cache         bool

	// Persistence and front ends
	SessionID string
	DBDriver  string
	DBPath    string
	LogDir    string
	Listen    string // serve HTTP on this address instead of the terminal
	ExportDir string // HTTP export requests are confined to this directory
	Debug     bool
}

// Defaults returns the configuration used when nothing is set
func Defaults() Config {
	return Config{
		Backend:       BackendLlamaCpp,
		ModelsDir:     ".",
		OllamaModel:   "phi:latest",
		MaxTokens:     100,
		Temperature:   0.2,
		TopP:          0.8,
		TopK:          30,
		RepeatPenalty: 1.2,
		ContextSize:   2048,
		HistoryLength: 3,
		Instruction:   prompt.DefaultInstruction,
		DBDriver:      DBDriverCgo,
		DBPath:        "chatbot.db",
		LogDir:        "logs",
		ExportDir:     "exports",
	}
}

// Error is a fatal configuration problem found at startup
type Error struct {
	Field  string
	Reason string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s: %s: %v", e.Field, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Load parses args (without the program name) over environment defaults,
// resolves the model file and validates the result
func Load(args []string) (Config, error) {
	cfg, err := parse(args, os.LookupEnv, os.Stderr)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ResolveModel(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parse(args []string, lookup func(string) (string, bool), output io.Writer) (Config, error) {
	cfg := Defaults()
	env := envReader{lookup: lookup}

	fs := flag.NewFlagSet("localchat", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cfg.Backend, "backend", env.getString("BACKEND", cfg.Backend), "Model runtime (llamacpp|ollama)")
	fs.StringVar(&cfg.ModelPath, "model", env.getString("MODEL_PATH", cfg.ModelPath), "Path to the GGUF model file")
	fs.StringVar(&cfg.ModelsDir, "models-dir", env.getString("MODELS_DIR", cfg.ModelsDir), "Directory searched for a .gguf when -model is empty")
	fs.StringVar(&cfg.ServerURL, "server-url", env.getString("SERVER_URL", cfg.ServerURL), "Model runtime base URL (default depends on backend)")
	fs.StringVar(&cfg.OllamaModel, "ollama-model", env.getString("OLLAMA_MODEL", cfg.OllamaModel), "Ollama model specification (format: model:version)")

	fs.IntVar(&cfg.MaxTokens, "max-tokens", env.getInt("MAX_TOKENS", cfg.MaxTokens), "Maximum tokens generated per reply")
	fs.Float64Var(&cfg.Temperature, "temperature", env.getFloat("TEMPERATURE", cfg.Temperature), "Sampling temperature")
	fs.Float64Var(&cfg.TopP, "top-p", env.getFloat("TOP_P", cfg.TopP), "Nucleus sampling probability")
	fs.IntVar(&cfg.TopK, "top-k", env.getInt("TOP_K", cfg.TopK), "Top-k sampling (0 disables)")
	fs.Float64Var(&cfg.RepeatPenalty, "repeat-penalty", env.getFloat("REPEAT_PENALTY", cfg.RepeatPenalty), "Repetition penalty")
	fs.IntVar(&cfg.ContextSize, "context-size", env.getInt("CONTEXT_SIZE", cfg.ContextSize), "Model context window in tokens")
	fs.IntVar(&cfg.HistoryLength, "history-length", env.getInt("HISTORY_LENGTH", cfg.HistoryLength), "Maximum turns kept in history")
	fs.StringVar(&cfg.Instruction, "instruction", env.getString("INSTRUCTION", cfg.Instruction), "Instruction line at the top of every prompt")
	fs.BoolVar(&cfg.Cache, "cache", env.getBool("CACHE", cfg.Cache), "Cache identical generation requests")

	fs.StringVar(&cfg.SessionID, "session-id", env.getString("SESSION_ID", cfg.SessionID), "Resume a stored session by ID")
	fs.StringVar(&cfg.DBDriver, "db-driver", env.getString("DB_DRIVER", cfg.DBDriver), "SQLite driver (sqlite3|sqlite)")
	fs.StringVar(&cfg.DBPath, "db", env.getString("DB_PATH", cfg.DBPath), "Transcript database path")
	fs.StringVar(&cfg.LogDir, "log-dir", env.getString("LOG_DIR", cfg.LogDir), "Directory for logs, traces and metrics")
	fs.StringVar(&cfg.Listen, "listen", env.getString("LISTEN", cfg.Listen), "Serve the HTTP API on this address instead of the terminal")
	fs.StringVar(&cfg.ExportDir, "export-dir", env.getString("EXPORT_DIR", cfg.ExportDir), "Directory for exports requested over HTTP")
	fs.BoolVar(&cfg.Debug, "debug", env.getBool("DEBUG", cfg.Debug), "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, &Error{Field: "flags", Reason: "cannot parse command line", Err: err}
	}
	if fs.NArg() > 0 {
		return Config{}, &Error{Field: "flags", Reason: fmt.Sprintf("unexpected arguments %q", fs.Args())}
	}
	if len(env.errs) > 0 {
		return Config{}, &Error{Field: "environment", Reason: "bad value", Err: errors.Join(env.errs...)}
	}
	return cfg, nil
}

// ResolveModel fills ModelPath from ModelsDir for the llamacpp backend
func (c *Config) ResolveModel() error {
	if c.Backend != BackendLlamaCpp || c.ModelPath != "" {
		return nil
	}
	p, err := backend.FindModelFile(c.ModelsDir, "")
	if err != nil {
		return &Error{Field: "model", Reason: fmt.Sprintf("put a .gguf model file under %s or pass -model", c.ModelsDir), Err: err}
	}
	c.ModelPath = p
	return nil
}

// Validate checks types and ranges. Anything out of range is fatal.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendLlamaCpp:
		if c.ModelPath == "" {
			return &Error{Field: "model", Reason: "model path is required"}
		}
		if !strings.EqualFold(filepath.Ext(c.ModelPath), ".gguf") {
			return &Error{Field: "model", Reason: fmt.Sprintf("%s is not a .gguf file", c.ModelPath)}
		}
		info, err := os.Stat(c.ModelPath)
		if err != nil {
			return &Error{Field: "model", Reason: "model file not found", Err: err}
		}
		if info.IsDir() {
			return &Error{Field: "model", Reason: fmt.Sprintf("%s is a directory", c.ModelPath)}
		}
	case BackendOllama:
		if c.OllamaModel == "" {
			return &Error{Field: "ollama-model", Reason: "model name is required"}
		}
	default:
		return &Error{Field: "backend", Reason: fmt.Sprintf("unknown backend %q (llamacpp|ollama)", c.Backend)}
	}

	if c.ContextSize < 128 {
		return &Error{Field: "context-size", Reason: fmt.Sprintf("must be at least 128, got %d", c.ContextSize)}
	}
	if c.MaxTokens < 1 || c.MaxTokens >= c.ContextSize {
		return &Error{Field: "max-tokens", Reason: fmt.Sprintf("must be between 1 and %d, got %d", c.ContextSize-1, c.MaxTokens)}
	}
	if !(c.Temperature >= 0 && c.Temperature <= 2) {
		return &Error{Field: "temperature", Reason: fmt.Sprintf("must be between 0 and 2, got %g", c.Temperature)}
	}
	if !(c.TopP > 0 && c.TopP <= 1) {
		return &Error{Field: "top-p", Reason: fmt.Sprintf("must be in (0, 1], got %g", c.TopP)}
	}
	if c.TopK < 0 {
		return &Error{Field: "top-k", Reason: fmt.Sprintf("must not be negative, got %d", c.TopK)}
	}
	if !(c.RepeatPenalty > 0) || math.IsInf(c.RepeatPenalty, 0) {
		return &Error{Field: "repeat-penalty", Reason: fmt.Sprintf("must be a positive number, got %g", c.RepeatPenalty)}
	}
	if c.HistoryLength < 1 {
		return &Error{Field: "history-length", Reason: fmt.Sprintf("must be at least 1, got %d", c.HistoryLength)}
	}
	switch c.DBDriver {
	case DBDriverCgo, DBDriverPure:
	default:
		return &Error{Field: "db-driver", Reason: fmt.Sprintf("unknown driver %q (sqlite3|sqlite)", c.DBDriver)}
	}
	if c.DBPath == "" {
		return &Error{Field: "db", Reason: "database path cannot be empty"}
	}
	if c.LogDir == "" {
		return &Error{Field: "log-dir", Reason: "log directory cannot be empty"}
	}
	if c.ExportDir == "" {
		return &Error{Field: "export-dir", Reason: "export directory cannot be empty"}
	}
	return nil
}

// ModelRef is what the backend loader is asked to load
func (c *Config) ModelRef() string {
	if c.Backend == BackendOllama {
		return c.OllamaModel
	}
	return c.ModelPath
}

// envReader reads LOCALCHAT_* variables, collecting parse errors instead of
// silently falling back
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) getString(key, fallback string) string {
	if v, ok := e.lookup(envPrefix + key); ok {
		return v
	}
	return fallback
}

func (e *envReader) getInt(key string, fallback int) int {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return n
}

func (e *envReader) getFloat(key string, fallback float64) float64 {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return f
}

func (e *envReader) getBool(key string, fallback bool) bool {
	v, ok := e.lookup(envPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		e.errs = append(e.errs, fmt.Errorf("%s%s: not a boolean: %q", envPrefix, key, v))
		return fallback
	}
}
