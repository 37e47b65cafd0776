// Package providers maintains the configured LLM providers and picks
// (provider, model) candidates per bug type.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Capability tags a provider by what it is good at.
type Capability string

const (
	CapFast      Capability = "fast"
	CapReasoning Capability = "reasoning"
	CapCode      Capability = "code"
	CapLocal     Capability = "local"
)

// Kind selects the wire adapter used to reach a provider.
type Kind string

const (
	KindOpenAI    Kind = "openai" // OpenAI and any OpenAI-compatible endpoint
	KindAnthropic Kind = "anthropic"
	KindGemini    Kind = "gemini"
)

// Spec describes one configured provider.
type Spec struct {
	Name           string
	Kind           Kind
	Capability     Capability
	BaseURL        string
	Credential     string
	ReasoningModel string
	FastModel      string
}

// ErrNoProviders is returned when the registry would be empty; the core
// refuses to initialize without at least one credential.
var ErrNoProviders = errors.New("no LLM providers configured")

// Registry owns the configured providers and builds chat-model clients
// lazily, one per (provider, model).
type Registry struct {
	specs []Spec

	mu      sync.Mutex
	clients map[string]einomodel.BaseChatModel

	// Timeout bounds a single completion call.
	Timeout time.Duration
}

func NewRegistry(specs []Spec, timeout time.Duration) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ErrNoProviders
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	return &Registry{
		specs:   specs,
		clients: make(map[string]einomodel.BaseChatModel),
		Timeout: timeout,
	}, nil
}

// Names returns the configured provider names in priority order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.specs))
	for i, s := range r.specs {
		names[i] = s.Name
	}
	return names
}

func (r *Registry) spec(name string) (Spec, bool) {
	for _, s := range r.specs {
		if s.Name == name {
			return s, true
		}
	}
	return Spec{}, false
}

// Complete sends a system+user prompt to the named provider and model and
// returns the text completion. Transport errors are retried once;
// anything the model itself rejects is not.
func (r *Registry) Complete(ctx context.Context, provider, model, system, user string) (string, error) {
	cm, err := r.client(ctx, provider, model)
	if err != nil {
		return "", err
	}

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	out, err := r.generate(ctx, cm, messages)
	if err != nil && isTransport(err) {
		log.Printf("providers: %s(%s) transport error, retrying once: %v", provider, model, err)
		out, err = r.generate(ctx, cm, messages)
	}
	if err != nil {
		return "", fmt.Errorf("%s(%s): %w", provider, model, err)
	}
	return strings.TrimSpace(out.Content), nil
}

func (r *Registry) generate(ctx context.Context, cm einomodel.BaseChatModel, messages []*schema.Message) (*schema.Message, error) {
	cctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	return cm.Generate(cctx, messages)
}

func (r *Registry) client(ctx context.Context, provider, model string) (einomodel.BaseChatModel, error) {
	key := provider + "/" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if cm, ok := r.clients[key]; ok {
		return cm, nil
	}

	spec, ok := r.spec(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	cm, err := r.build(ctx, spec, model)
	if err != nil {
		return nil, err
	}
	r.clients[key] = cm
	return cm, nil
}

func (r *Registry) build(ctx context.Context, spec Spec, model string) (einomodel.BaseChatModel, error) {
	temperature := float32(0.1)
	switch spec.Kind {
	case KindAnthropic:
		cfg := &claude.Config{
			APIKey:      spec.Credential,
			Model:       model,
			MaxTokens:   8192,
			Temperature: &temperature,
		}
		if spec.BaseURL != "" {
			base := spec.BaseURL
			cfg.BaseURL = &base
		}
		return claude.NewChatModel(ctx, cfg)
	case KindGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  spec.Credential,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  model,
		})
	default:
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			APIKey:      spec.Credential,
			BaseURL:     spec.BaseURL,
			Model:       model,
			Timeout:     r.Timeout,
			Temperature: &temperature,
		})
	}
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	m := err.Error()
	return strings.Contains(m, "connection refused") ||
		strings.Contains(m, "connection reset") ||
		strings.Contains(m, "EOF") ||
		strings.Contains(m, "no such host")
}
