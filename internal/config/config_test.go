package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healbot/internal/llm/providers"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY",
		"GOOGLE_API_KEY", "GROQ_API_KEY", "OLLAMA_BASE_URL", "OLLAMA_API_KEY",
		"AGENT_RETRY_LIMIT", "API_TIMEOUT", "GITHUB_TOKEN", "GITHUB_CI_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresAProvider(t *testing.T) {
	clearProviderEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrNoProviders)
}

func TestLoadWithSingleProvider(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "OpenAI", cfg.Providers[0].Name)
	assert.Equal(t, providers.KindOpenAI, cfg.Providers[0].Kind)
	assert.Equal(t, "sk-test", cfg.Providers[0].Credential)
}

func TestLoadDefaults(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RetryLimit)
	assert.Equal(t, 25*time.Second, cfg.APITimeout)
	assert.Equal(t, 300*time.Second, cfg.GithubCITimeout)
	assert.Equal(t, "./workspace", cfg.Workspace)
}

func TestLoadOverrides(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AGENT_RETRY_LIMIT", "9")
	t.Setenv("API_TIMEOUT", "40")
	t.Setenv("GITHUB_TOKEN", "ghp_test")
	t.Setenv("GITHUB_CI_TIMEOUT", "120")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.RetryLimit)
	assert.Equal(t, 40*time.Second, cfg.APITimeout)
	assert.Equal(t, "ghp_test", cfg.GithubToken)
	assert.Equal(t, 120*time.Second, cfg.GithubCITimeout)
}

func TestLoadProviderPriorityOrder(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GOOGLE_API_KEY", "g-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "OpenAI", cfg.Providers[0].Name)
	assert.Equal(t, "Gemini", cfg.Providers[1].Name)
	assert.Equal(t, "Groq", cfg.Providers[2].Name)
}

func TestLocalProviderNeedsBaseURL(t *testing.T) {
	clearProviderEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OLLAMA_BASE_URL", "http://localhost:11434/v1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "Ollama", cfg.Providers[1].Name)
	assert.Equal(t, providers.CapLocal, cfg.Providers[1].Capability)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Providers[1].BaseURL)
}
