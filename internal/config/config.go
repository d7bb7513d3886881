// Package config loads engine configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for engine limits. These match the documented environment
// variables and are used whenever a variable is unset.
const (
	DefaultMaxContextSize    = 500_000
	DefaultChunkSize         = 50_000
	DefaultMaxRecursionDepth = 10
	DefaultExecutionTimeout  = 300 * time.Second
	DefaultLLMCallTimeout    = 120 * time.Second
	DefaultModel             = "gpt-4o-mini"
	DefaultDatabasePath      = "rlm-engine.db"
	DefaultHost              = "0.0.0.0"
	DefaultPort              = 8000
)

// Config holds all runtime settings for the engine and server.
type Config struct {
	// MaxContextSize is the largest context (in characters) accepted at
	// execution entry. Larger contexts are rejected before any node is
	// created.
	MaxContextSize int

	// DefaultChunkSize is the advisory chunk size given to the root LM in
	// its system prompt.
	DefaultChunkSize int

	// MaxRecursionDepth caps llm_query nesting. The root runs at depth 0.
	MaxRecursionDepth int

	// ExecutionTimeout is the global wall-clock deadline per execution.
	ExecutionTimeout time.Duration

	// LLMCallTimeout caps a single LM call or sandbox run, bounded further
	// by the remaining execution deadline.
	LLMCallTimeout time.Duration

	// DefaultModel is used when a request does not name a model.
	DefaultModel string

	// OpenAIAPIKey authenticates against the OpenAI-compatible provider.
	OpenAIAPIKey string

	// OpenAIBaseURL overrides the OpenAI endpoint (for compatible servers).
	OpenAIBaseURL string

	// AnthropicAPIKey authenticates against the Anthropic provider.
	AnthropicAPIKey string

	// DatabasePath is the sqlite database file. ":memory:" is accepted.
	DatabasePath string

	// Host and Port configure the HTTP listener.
	Host string
	Port int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present, without overriding real env vars.
func Load() (*Config, error) {
	// Missing .env is the common case, not an error.
	_ = godotenv.Load()

	cfg := &Config{
		MaxContextSize:    DefaultMaxContextSize,
		DefaultChunkSize:  DefaultChunkSize,
		MaxRecursionDepth: DefaultMaxRecursionDepth,
		ExecutionTimeout:  DefaultExecutionTimeout,
		LLMCallTimeout:    DefaultLLMCallTimeout,
		DefaultModel:      DefaultModel,
		DatabasePath:      DefaultDatabasePath,
		Host:              DefaultHost,
		Port:              DefaultPort,
	}

	var err error
	if cfg.MaxContextSize, err = envInt("MAX_CONTEXT_SIZE", cfg.MaxContextSize); err != nil {
		return nil, err
	}
	if cfg.DefaultChunkSize, err = envInt("DEFAULT_CHUNK_SIZE", cfg.DefaultChunkSize); err != nil {
		return nil, err
	}
	if cfg.MaxRecursionDepth, err = envInt("MAX_RECURSION_DEPTH", cfg.MaxRecursionDepth); err != nil {
		return nil, err
	}
	if cfg.ExecutionTimeout, err = envSeconds("EXECUTION_TIMEOUT", cfg.ExecutionTimeout); err != nil {
		return nil, err
	}
	if cfg.LLMCallTimeout, err = envSeconds("LLM_CALL_TIMEOUT", cfg.LLMCallTimeout); err != nil {
		return nil, err
	}
	if v := os.Getenv("DEFAULT_MODEL"); v != "" {
		cfg.DefaultModel = v
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return nil, err
	}

	return cfg, cfg.Validate()
}

// Validate checks that the configured limits are usable.
func (c *Config) Validate() error {
	if c.MaxContextSize <= 0 {
		return fmt.Errorf("MAX_CONTEXT_SIZE must be positive, got %d", c.MaxContextSize)
	}
	if c.DefaultChunkSize <= 0 {
		return fmt.Errorf("DEFAULT_CHUNK_SIZE must be positive, got %d", c.DefaultChunkSize)
	}
	if c.MaxRecursionDepth < 0 {
		return fmt.Errorf("MAX_RECURSION_DEPTH must not be negative, got %d", c.MaxRecursionDepth)
	}
	if c.ExecutionTimeout <= 0 {
		return fmt.Errorf("EXECUTION_TIMEOUT must be positive, got %s", c.ExecutionTimeout)
	}
	if c.LLMCallTimeout <= 0 {
		return fmt.Errorf("LLM_CALL_TIMEOUT must be positive, got %s", c.LLMCallTimeout)
	}
	return nil
}

// Addr returns the host:port pair for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

// envSeconds parses an integer number of seconds, matching how the original
// deployment expressed timeouts.
func envSeconds(name string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return time.Duration(n) * time.Second, nil
}
