package llms

import (
	"fmt"
	"strings"
)

// ============================================================================
// COMMON FUNCTION CALLING TYPES
// Shared across OpenAI and Anthropic providers
// ============================================================================

// Message represents a single message in a conversation
// This is the universal format for multi-turn conversations with tool support
type Message struct {
	Role       string     `json:"role"`                   // "user", "assistant", "system", "tool"
	Content    string     `json:"content,omitempty"`      // Text content
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // Tool calls (from assistant)
	ToolCallID string     `json:"tool_call_id,omitempty"` // Tool call ID (for tool role)
	Name       string     `json:"name,omitempty"`         // Tool name (for tool role)
}

// ToolDefinition represents a tool/function that can be called
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON Schema
}

// ToolCall represents a tool call requested by the LLM
type ToolCall struct {
	ID        string                 `json:"id"`        // Unique identifier for this call
	Name      string                 `json:"name"`      // Tool name
	Arguments map[string]interface{} `json:"arguments"` // Parsed arguments
	RawArgs   string                 `json:"raw_args"`  // Original JSON string
}

// StreamChunk represents a chunk of streaming response
type StreamChunk struct {
	Type     string    // "text", "tool_call", "done", "error"
	Text     string    // For text chunks
	ToolCall *ToolCall // For tool_call chunks
	Tokens   int       // For done chunks
	Error    error     // For error chunks
}

// ============================================================================
// STRUCTURED OUTPUT TYPES
// Provider-agnostic structured output configuration
// ============================================================================

// StructuredOutputConfig represents structured output configuration in a
// provider-agnostic shape; OpenAIProvider is the only adapter that
// implements GenerateStructured
type StructuredOutputConfig struct {
	// Format specifies the output format: "json", "xml", "enum"
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Schema is the JSON schema for structured output (for format="json")
	// Can be provided as a JSON string or map
	Schema interface{} `json:"schema,omitempty" yaml:"schema,omitempty"`

	// Enum values (for format="enum")
	Enum []string `json:"enum,omitempty" yaml:"enum,omitempty"`

	// Prefill string for Anthropic (optional, Anthropic-specific optimization)
	Prefill string `json:"prefill,omitempty" yaml:"prefill,omitempty"`

	// PropertyOrdering for Gemini (optional, Gemini-specific optimization)
	PropertyOrdering []string `json:"property_ordering,omitempty" yaml:"property_ordering,omitempty"`
}

// JSONSchema represents a JSON Schema (simplified for common use)
type JSONSchema struct {
	Type                 string                `json:"type"`
	Properties           map[string]JSONSchema `json:"properties,omitempty"`
	Items                *JSONSchema           `json:"items,omitempty"`
	Required             []string              `json:"required,omitempty"`
	Enum                 []string              `json:"enum,omitempty"`
	Description          string                `json:"description,omitempty"`
	PropertyOrdering     []string              `json:"propertyOrdering,omitempty"`     // Gemini-specific
	AdditionalProperties *bool                 `json:"additionalProperties,omitempty"` // JSON Schema standard
}

// ============================================================================
// PROVIDER CAPABILITY TYPES
// ============================================================================

// ModelCapabilities describes what a model can do.
type ModelCapabilities struct {
	Images         bool `json:"images"`
	PromptCache    bool `json:"prompt_cache"`
	ReasoningBudget bool `json:"reasoning_budget"`
	Temperature    bool `json:"temperature"`
}

// ModelPricing is USD per 1e6 tokens.
type ModelPricing struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheWrite float64 `json:"cache_write,omitempty"`
	CacheRead  float64 `json:"cache_read,omitempty"`
}

// ModelInfo describes one model a provider adapter can serve.
type ModelInfo struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	MaxTokens     int               `json:"max_tokens"`
	ContextWindow int               `json:"context_window"`
	Capabilities  ModelCapabilities `json:"capabilities"`
	Pricing       ModelPricing      `json:"pricing"`
	Deprecated    bool              `json:"deprecated"`
}

// TokenUsage records prompt/completion token accounting, including the
// prompt-cache split some providers bill separately.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
}

// Response is the result of a unary Generate call.
type Response struct {
	Text      string
	ToolCalls []ToolCall
	Usage     TokenUsage
	Model     string
	// FinishReason mirrors the vendor's stop reason ("stop", "tool_calls",
	// "length", ...).
	FinishReason string
}

// Priority is the caller-declared urgency of a scheduled request.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// RequestContext is what a caller submits to the scheduler; it is also
// what the scheduler passes, unmodified but for a cleared Model, to a
// fallback provider.
type RequestContext struct {
	Messages        []Message
	Model           string
	MaxTokens       int
	Temperature     *float64
	Stream          bool
	Priority        Priority
	Tools           []ToolDefinition
	ToolChoice      string
	System          string
	ReasoningBudget int
}

// HasImageContent reports whether any message in the request embeds image
// content, used by the scheduler to exclude image-incapable models.
func (r RequestContext) HasImageContent() bool {
	for _, m := range r.Messages {
		if strings.Contains(m.Content, "data:image/") {
			return true
		}
	}
	return false
}

// ApiError is returned by an adapter for any non-2xx HTTP response.
type ApiError struct {
	Status int
	Body   string
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.Status, e.Body)
}

// IsRetryable reports whether the scheduler should retry this error: 5xx
// and 408 are transient, other 4xx are permanent.
func (e *ApiError) IsRetryable() bool {
	return e.Status == 408 || e.Status >= 500
}

// ConvertToolInfoToDefinition converts from tools package format
func ConvertToolInfoToDefinition(name, description string, parameters []interface{}) ToolDefinition {
	// Convert parameters to JSON Schema format
	schema := map[string]interface{}{
		"type":       "object",
		"properties": make(map[string]interface{}),
		"required":   []string{},
	}

	properties := schema["properties"].(map[string]interface{})
	required := []string{}

	// Parse parameters (assuming they're in a specific format)
	for _, param := range parameters {
		if p, ok := param.(map[string]interface{}); ok {
			paramName := p["name"].(string)
			paramType := p["type"].(string)
			paramDesc := p["description"].(string)
			isRequired := p["required"].(bool)

			properties[paramName] = map[string]interface{}{
				"type":        paramType,
				"description": paramDesc,
			}

			if isRequired {
				required = append(required, paramName)
			}
		}
	}

	schema["required"] = required

	return ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
	}
}
