package llms

import (
	"context"
	"fmt"

	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/registry"
)

// LLMProvider is the uniform capability set every vendor adapter exposes:
// model listing, unary chat, streaming chat, cost estimation, and config
// validation.
type LLMProvider interface {
	// Generate performs a non-streaming chat completion and returns the
	// assistant text, any requested tool calls, and token usage.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error)

	// GenerateStreaming performs the same request but yields an ordered
	// sequence of StreamChunks terminated by a chunk with Type "done" or
	// "error".
	GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error)

	// ListModels returns the models this adapter can serve.
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// EstimateCost estimates the USD cost of a usage against a model's
	// published pricing.
	EstimateCost(model string, usage TokenUsage) (float64, error)

	// MaxOutputTokens returns the effective max output tokens for a model
	// given this adapter's configuration.
	MaxOutputTokens(model string) int

	// Name identifies the provider ("anthropic", "openai", ...).
	Name() string

	// Close releases the adapter's pooled HTTP client.
	Close() error
}

// StructuredOutputProvider is implemented by adapters that can constrain
// generation to a JSON schema or enum.
type StructuredOutputProvider interface {
	LLMProvider
	GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, cfg *StructuredOutputConfig) (Response, error)
	SupportsStructuredOutput() bool
}

// LLMRegistry is the generic registry of configured providers, keyed by the
// caller-assigned provider name (not the vendor name — a session may wire
// up multiple accounts of the same vendor).
type LLMRegistry struct {
	*registry.BaseRegistry[LLMProvider]
}

func NewLLMRegistry() *LLMRegistry {
	return &LLMRegistry{BaseRegistry: registry.NewBaseRegistry[LLMProvider]()}
}

func (r *LLMRegistry) RegisterLLM(name string, provider LLMProvider) error {
	if name == "" {
		return fmt.Errorf("LLM name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("LLM provider cannot be nil")
	}
	return r.Register(name, provider)
}

// CreateLLMFromConfig builds and registers a provider from its declared
// type. The switch is the one place new provider families get wired in —
// a registry mapping a closed string set to constructors, not a dynamic
// class-by-string factory.
func (r *LLMRegistry) CreateLLMFromConfig(name string, cfg *config.LLMConfig) (LLMProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("LLM name cannot be empty")
	}
	if cfg == nil {
		return nil, fmt.Errorf("LLM config cannot be nil")
	}

	var provider LLMProvider
	var err error

	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		provider, err = NewAnthropicProvider(cfg)
	case config.LLMProviderOpenAI:
		provider, err = NewOpenAIProvider(cfg, "https://api.openai.com/v1", "openai")
	case "openai_compatible":
		provider, err = NewOpenAIProvider(cfg, cfg.BaseURL, "openai_compatible")
	case "openrouter":
		provider, err = NewOpenAIProvider(cfg, "https://openrouter.ai/api/v1", "openrouter")
	case "groq":
		provider, err = NewOpenAIProvider(cfg, "https://api.groq.com/openai/v1", "groq")
	case "zhipu":
		provider, err = NewOpenAIProvider(cfg, "https://open.bigmodel.cn/api/paas/v4", "zhipu")
	case config.LLMProviderOllama:
		provider, err = NewOllamaProvider(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: anthropic, openai, openai_compatible, openrouter, groq, zhipu, ollama)", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider %q: %w", name, err)
	}
	if err := r.RegisterLLM(name, provider); err != nil {
		return nil, fmt.Errorf("failed to register LLM %q: %w", name, err)
	}
	return provider, nil
}

func (r *LLMRegistry) GetLLM(name string) (LLMProvider, error) {
	provider, exists := r.Get(name)
	if !exists {
		return nil, fmt.Errorf("LLM provider '%s' not found", name)
	}
	return provider, nil
}

func (r *LLMRegistry) ListLLMs() []string {
	names := make([]string, 0, r.Count())
	for _, provider := range r.List() {
		names = append(names, provider.Name())
	}
	return names
}
