package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/taleforge/dungeonmaster/pkg/config"
	"github.com/taleforge/dungeonmaster/pkg/httpclient"
)

// OpenAIProvider talks to any OpenAI-chat-completions-shaped API: OpenAI
// itself, an OpenAI-compatible endpoint, OpenRouter, Groq, or Zhipu. The
// vendor differs only in base URL and display name; the wire shape is
// shared.
type OpenAIProvider struct {
	cfg        *config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
	name       string
}

func NewOpenAIProvider(cfg *config.LLMConfig, baseURL, name string) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key is required", name)
	}
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base_url is required", name)
	}
	return &OpenAIProvider{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		name:    name,
		httpClient: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}, nil
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) MaxOutputTokens(model string) int {
	if p.cfg.MaxTokens > 0 {
		return p.cfg.MaxTokens
	}
	return 4096
}

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	switch p.name {
	case "groq":
		return []ModelInfo{
			{ID: "llama-3.3-70b-versatile", Name: "Llama 3.3 70B Versatile", MaxTokens: 32768, ContextWindow: 128000,
				Capabilities: ModelCapabilities{Temperature: true},
				Pricing:      ModelPricing{Input: 0.59, Output: 0.79}},
		}, nil
	case "zhipu":
		return []ModelInfo{
			{ID: "glm-4-plus", Name: "GLM-4-Plus", MaxTokens: 8192, ContextWindow: 128000,
				Capabilities: ModelCapabilities{Temperature: true},
				Pricing:      ModelPricing{Input: 0.5, Output: 0.5}},
		}, nil
	case "openrouter":
		return []ModelInfo{
			{ID: "openrouter/auto", Name: "OpenRouter Auto", MaxTokens: 4096, ContextWindow: 128000,
				Capabilities: ModelCapabilities{Images: true, Temperature: true},
				Pricing:      ModelPricing{Input: 1, Output: 3}},
		}, nil
	default:
		return []ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", MaxTokens: 16384, ContextWindow: 128000,
				Capabilities: ModelCapabilities{Images: true, PromptCache: true, Temperature: true},
				Pricing:      ModelPricing{Input: 2.5, Output: 10, CacheRead: 1.25}},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", MaxTokens: 16384, ContextWindow: 128000,
				Capabilities: ModelCapabilities{Images: true, PromptCache: true, Temperature: true},
				Pricing:      ModelPricing{Input: 0.15, Output: 0.6, CacheRead: 0.075}},
		}, nil
	}
}

func (p *OpenAIProvider) EstimateCost(model string, usage TokenUsage) (float64, error) {
	models, _ := p.ListModels(context.Background())
	for _, m := range models {
		if m.ID == model {
			return estimateCost(m.Pricing, usage), nil
		}
	}
	return estimateCost(ModelPricing{Input: 2.5, Output: 10}, usage), nil
}

type openAIMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []openAIToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	Name       string             `json:"name,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema interface{} `json:"json_schema,omitempty"`
}

type openAIChoice struct {
	Message struct {
		Content   string           `json:"content"`
		ToolCalls []openAIToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) openAIRequest {
	converted := make([]openAIMessage, 0, len(messages))
	for _, m := range messages {
		om := openAIMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			raw := tc.RawArgs
			if raw == "" {
				b, _ := json.Marshal(tc.Arguments)
				raw = string(b)
			}
			otc := openAIToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = raw
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		converted = append(converted, om)
	}

	req := openAIRequest{
		Model:       p.cfg.Model,
		Messages:    converted,
		MaxTokens:   p.MaxOutputTokens(p.cfg.Model),
		Temperature: p.cfg.Temperature,
		Stream:      stream,
	}
	for _, t := range tools {
		var ot openAITool
		ot.Type = "function"
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, ot)
	}
	return req
}

func (p *OpenAIProvider) doRequest(ctx context.Context, body openAIRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, &ApiError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: empty choices in response", p.name)
	}

	choice := parsed.Choices[0]
	out := Response{
		Model:        p.cfg.Model,
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args, RawArgs: tc.Function.Arguments})
	}
	return out, nil
}

func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, cfg *StructuredOutputConfig) (Response, error) {
	req := p.buildRequest(messages, tools, false)
	if cfg != nil && cfg.Format == "json" {
		req.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	resp, err := p.doRequest(ctx, req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var parsed openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("%s: decode structured response: %w", p.name, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%s: empty choices in structured response", p.name)
	}

	return Response{
		Model:        p.cfg.Model,
		Text:         parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) SupportsStructuredOutput() bool {
	return p.name == "openai" || p.name == "openai_compatible"
}

// GenerateStreaming parses OpenAI's SSE chunk stream into StreamChunks.
// Partial lines are re-buffered until a newline; unparseable lines are
// skipped without aborting the stream; the buffer is capped.
func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(messages, tools, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReaderSize(resp.Body, 4096)
		var pending bytes.Buffer
		toolArgs := map[int]*strings.Builder{}
		toolMeta := map[int]ToolCall{}

		for {
			line, err := reader.ReadString('\n')
			if pending.Len()+len(line) > maxStreamBuffer {
				ch <- StreamChunk{Type: "error", Error: fmt.Errorf("%s: stream buffer overflow", p.name)}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if err != nil {
					break
				}
				continue
			}
			if !strings.HasPrefix(line, "data:") {
				if err != nil {
					break
				}
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var event struct {
				Choices []struct {
					Delta struct {
						Content   string `json:"content"`
						ToolCalls []struct {
							Index    int    `json:"index"`
							ID       string `json:"id"`
							Function struct {
								Name      string `json:"name"`
								Arguments string `json:"arguments"`
							} `json:"function"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Usage *struct {
					CompletionTokens int `json:"completion_tokens"`
				} `json:"usage"`
			}
			if jsonErr := json.Unmarshal([]byte(payload), &event); jsonErr != nil {
				slog.Debug("openai: skipping unparseable SSE line", "provider", p.name, "error", jsonErr)
				if err != nil {
					break
				}
				continue
			}

			for _, choice := range event.Choices {
				if choice.Delta.Content != "" {
					ch <- StreamChunk{Type: "text", Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					builder, ok := toolArgs[tc.Index]
					if !ok {
						builder = &strings.Builder{}
						toolArgs[tc.Index] = builder
						toolMeta[tc.Index] = ToolCall{ID: tc.ID, Name: tc.Function.Name}
					}
					builder.WriteString(tc.Function.Arguments)
				}
				if choice.FinishReason != nil {
					for idx, builder := range toolArgs {
						meta := toolMeta[idx]
						var args map[string]interface{}
						_ = json.Unmarshal([]byte(builder.String()), &args)
						ch <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{ID: meta.ID, Name: meta.Name, Arguments: args, RawArgs: builder.String()}}
					}
					tokens := 0
					if event.Usage != nil {
						tokens = event.Usage.CompletionTokens
					}
					ch <- StreamChunk{Type: "done", Tokens: tokens}
				}
			}

			if err != nil {
				break
			}
		}
	}()
	return ch, nil
}

var (
	_ LLMProvider              = (*OpenAIProvider)(nil)
	_ StructuredOutputProvider = (*OpenAIProvider)(nil)
)
