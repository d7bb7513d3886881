package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 500_000, cfg.MaxContextSize)
	assert.Equal(t, 50_000, cfg.DefaultChunkSize)
	assert.Equal(t, 10, cfg.MaxRecursionDepth)
	assert.Equal(t, 300*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, 120*time.Second, cfg.LLMCallTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MAX_CONTEXT_SIZE", "1000")
	t.Setenv("DEFAULT_CHUNK_SIZE", "100")
	t.Setenv("MAX_RECURSION_DEPTH", "3")
	t.Setenv("EXECUTION_TIMEOUT", "5")
	t.Setenv("DEFAULT_MODEL", "gpt-4o")
	t.Setenv("PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1000, cfg.MaxContextSize)
	assert.Equal(t, 100, cfg.DefaultChunkSize)
	assert.Equal(t, 3, cfg.MaxRecursionDepth)
	assert.Equal(t, 5*time.Second, cfg.ExecutionTimeout)
	assert.Equal(t, "gpt-4o", cfg.DefaultModel)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_CONTEXT_SIZE", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		MaxContextSize:    1,
		DefaultChunkSize:  1,
		MaxRecursionDepth: 0,
		ExecutionTimeout:  time.Second,
		LLMCallTimeout:    time.Second,
	}
	require.NoError(t, cfg.Validate())

	cfg.ExecutionTimeout = 0
	require.Error(t, cfg.Validate())
}

func TestAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 8000}
	assert.Equal(t, "127.0.0.1:8000", cfg.Addr())
}
