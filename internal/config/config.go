// Package config loads the agent's configuration from the environment.
// Provider credentials resolve env-first with an OS-keyring fallback.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/zalando/go-keyring"

	"healbot/internal/llm/providers"
	"healbot/internal/utils"
)

const keyringService = "healbot"

type Config struct {
	Providers       []providers.Spec
	RetryLimit      int
	Workspace       string
	APITimeout      time.Duration
	GithubToken     string
	GithubCITimeout time.Duration
	HistoryPath     string
	DatabasePath    string
	ListenAddr      string
}

// providerDefs: the known providers, in priority order. A provider is
// configured when its credential resolves; local endpoints only need a
// base URL.
var providerDefs = []struct {
	name       string
	envKey     string
	envBaseURL string
	spec       providers.Spec
}{
	{
		name:   "OpenAI",
		envKey: "OPENAI_API_KEY",
		spec: providers.Spec{
			Name:           "OpenAI",
			Kind:           providers.KindOpenAI,
			Capability:     providers.CapReasoning,
			ReasoningModel: "gpt-4o",
			FastModel:      "gpt-4o-mini",
		},
	},
	{
		name:   "OpenRouter",
		envKey: "OPENROUTER_API_KEY",
		spec: providers.Spec{
			Name:           "OpenRouter",
			Kind:           providers.KindOpenAI,
			Capability:     providers.CapReasoning,
			BaseURL:        "https://openrouter.ai/api/v1",
			ReasoningModel: "anthropic/claude-3.5-sonnet",
			FastModel:      "openai/gpt-4o-mini",
		},
	},
	{
		name:   "Anthropic",
		envKey: "ANTHROPIC_API_KEY",
		spec: providers.Spec{
			Name:           "Anthropic",
			Kind:           providers.KindAnthropic,
			Capability:     providers.CapReasoning,
			ReasoningModel: "claude-3-5-sonnet-20241022",
			FastModel:      "claude-3-5-haiku-20241022",
		},
	},
	{
		name:   "Gemini",
		envKey: "GOOGLE_API_KEY",
		spec: providers.Spec{
			Name:           "Gemini",
			Kind:           providers.KindGemini,
			Capability:     providers.CapFast,
			ReasoningModel: "gemini-1.5-pro",
			FastModel:      "gemini-2.0-flash",
		},
	},
	{
		name:   "Groq",
		envKey: "GROQ_API_KEY",
		spec: providers.Spec{
			Name:           "Groq",
			Kind:           providers.KindOpenAI,
			Capability:     providers.CapFast,
			BaseURL:        "https://api.groq.com/openai/v1",
			ReasoningModel: "llama-3.3-70b-versatile",
			FastModel:      "llama-3.3-70b-versatile",
		},
	},
	{
		name:       "Ollama",
		envKey:     "OLLAMA_API_KEY",
		envBaseURL: "OLLAMA_BASE_URL",
		spec: providers.Spec{
			Name:           "Ollama",
			Kind:           providers.KindOpenAI,
			Capability:     providers.CapLocal,
			ReasoningModel: "codellama",
			FastModel:      "llama3.2",
		},
	},
}

// Load reads the environment (after a best-effort .env load) and builds
// the configuration. At least one provider credential must resolve.
func Load() (*Config, error) {
	if err := utils.LoadEnv(); err != nil {
		log.Printf("config: no .env loaded: %v", err)
	}

	cfg := &Config{
		RetryLimit:      envInt("AGENT_RETRY_LIMIT", 5),
		Workspace:       envString("AGENT_WORKSPACE", "./workspace"),
		APITimeout:      time.Duration(envInt("API_TIMEOUT", 25)) * time.Second,
		GithubToken:     os.Getenv("GITHUB_TOKEN"),
		GithubCITimeout: time.Duration(envInt("GITHUB_CI_TIMEOUT", 300)) * time.Second,
		HistoryPath:     envString("AGENT_HISTORY_PATH", "./error_history.jsonl"),
		DatabasePath:    envString("AGENT_DB_PATH", "healbot.db"),
		ListenAddr:      envString("AGENT_LISTEN_ADDR", ":8000"),
	}

	for _, def := range providerDefs {
		spec := def.spec
		if def.envBaseURL != "" {
			base := os.Getenv(def.envBaseURL)
			if base == "" {
				continue // local endpoint disabled unless pointed somewhere
			}
			spec.BaseURL = base
			spec.Credential = envString(def.envKey, "ollama")
			cfg.Providers = append(cfg.Providers, spec)
			continue
		}
		cred := credential(def.envKey, def.name)
		if cred == "" {
			continue
		}
		spec.Credential = cred
		cfg.Providers = append(cfg.Providers, spec)
	}

	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("config: %w", providers.ErrNoProviders)
	}
	return cfg, nil
}

// credential resolves env first, then the OS keyring.
func credential(envKey, provider string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	v, err := keyring.Get(keyringService, provider)
	if err != nil {
		return ""
	}
	return v
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: %s=%q is not a number, using %d", key, v, def)
		return def
	}
	return n
}
