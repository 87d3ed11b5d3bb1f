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

// maxStreamBuffer bounds the pending-line buffer for a streaming response;
// exceeding it aborts the stream rather than growing unbounded.
const maxStreamBuffer = 10 << 20 // 10MB

// AnthropicProvider talks to the Anthropic Messages API. Reasoning-budget
// handling and the text/tool_use block split are Anthropic-specific.
// Message content is sent as a plain string: an image data URI inside it
// goes out as text and is not converted to a base64 image block.
type AnthropicProvider struct {
	cfg        *config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

func NewAnthropicProvider(cfg *config.LLMConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api_key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicProvider{
		cfg:     cfg,
		baseURL: baseURL,
		httpClient: httpclient.New(
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) MaxOutputTokens(model string) int {
	if p.cfg.MaxTokens > 0 {
		return p.cfg.MaxTokens
	}
	return 4096
}

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", MaxTokens: 64000, ContextWindow: 200000,
			Capabilities: ModelCapabilities{Images: true, PromptCache: true, ReasoningBudget: true, Temperature: true},
			Pricing:      ModelPricing{Input: 3, Output: 15, CacheWrite: 3.75, CacheRead: 0.3}},
		{ID: "claude-haiku-4-20250514", Name: "Claude Haiku 4", MaxTokens: 64000, ContextWindow: 200000,
			Capabilities: ModelCapabilities{Images: true, PromptCache: true, ReasoningBudget: true, Temperature: true},
			Pricing:      ModelPricing{Input: 0.8, Output: 4}},
	}, nil
}

func (p *AnthropicProvider) EstimateCost(model string, usage TokenUsage) (float64, error) {
	models, _ := p.ListModels(context.Background())
	for _, m := range models {
		if m.ID == model {
			return estimateCost(m.Pricing, usage), nil
		}
	}
	return estimateCost(ModelPricing{Input: 3, Output: 15}, usage), nil
}

func estimateCost(pricing ModelPricing, usage TokenUsage) float64 {
	cost := float64(usage.PromptTokens)/1e6*pricing.Input +
		float64(usage.CompletionTokens)/1e6*pricing.Output
	if usage.CacheWriteTokens > 0 {
		cost += float64(usage.CacheWriteTokens) / 1e6 * pricing.CacheWrite
	}
	if usage.CacheReadTokens > 0 {
		cost += float64(usage.CacheReadTokens) / 1e6 * pricing.CacheRead
	}
	return cost
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Thinking    *anthropicThinking `json:"thinking,omitempty"`
}

type anthropicThinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicContentBlock struct {
	Type  string                 `json:"type"`
	Text  string                 `json:"text,omitempty"`
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

func (p *AnthropicProvider) buildRequest(messages []Message, tools []ToolDefinition, stream bool) anthropicRequest {
	var system string
	converted := make([]anthropicMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		converted = append(converted, anthropicMessage{Role: m.Role, Content: m.Content})
	}

	req := anthropicRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.MaxOutputTokens(p.cfg.Model),
		Messages:    converted,
		System:      system,
		Temperature: p.cfg.Temperature,
		Stream:      stream,
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	if p.cfg.Thinking != nil && p.cfg.Thinking.Enabled != nil && *p.cfg.Thinking.Enabled {
		req.Thinking = &anthropicThinking{Type: "enabled", BudgetTokens: p.cfg.Thinking.BudgetTokens}
	}
	return req
}

func (p *AnthropicProvider) doRequest(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

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

func (p *AnthropicProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(messages, tools, false))
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	out := Response{Model: p.cfg.Model, FinishReason: parsed.StopReason}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			raw, _ := json.Marshal(block.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input, RawArgs: string(raw)})
		}
	}
	out.Usage = TokenUsage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		CacheWriteTokens: parsed.Usage.CacheCreationInputTokens,
		CacheReadTokens:  parsed.Usage.CacheReadInputTokens,
	}
	return out, nil
}

// GenerateStreaming parses Anthropic's SSE event stream into StreamChunks.
// Partial lines are re-buffered until a newline; unparseable lines are
// skipped without aborting the stream; the buffer is capped.
func (p *AnthropicProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
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
		var currentToolID, currentToolName string
		var currentToolArgs strings.Builder

		for {
			line, err := reader.ReadString('\n')
			if pending.Len()+len(line) > maxStreamBuffer {
				ch <- StreamChunk{Type: "error", Error: fmt.Errorf("anthropic: stream buffer overflow")}
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

			var event map[string]interface{}
			if jsonErr := json.Unmarshal([]byte(payload), &event); jsonErr != nil {
				slog.Debug("anthropic: skipping unparseable SSE line", "error", jsonErr)
				if err != nil {
					break
				}
				continue
			}

			switch event["type"] {
			case "content_block_start":
				if block, ok := event["content_block"].(map[string]interface{}); ok && block["type"] == "tool_use" {
					currentToolID, _ = block["id"].(string)
					currentToolName, _ = block["name"].(string)
					currentToolArgs.Reset()
				}
			case "content_block_delta":
				if delta, ok := event["delta"].(map[string]interface{}); ok {
					if text, ok := delta["text"].(string); ok {
						ch <- StreamChunk{Type: "text", Text: text}
					}
					if partial, ok := delta["partial_json"].(string); ok {
						currentToolArgs.WriteString(partial)
					}
				}
			case "content_block_stop":
				if currentToolName != "" {
					var args map[string]interface{}
					_ = json.Unmarshal([]byte(currentToolArgs.String()), &args)
					ch <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{ID: currentToolID, Name: currentToolName, Arguments: args, RawArgs: currentToolArgs.String()}}
					currentToolName = ""
				}
			case "message_delta":
				if usage, ok := event["usage"].(map[string]interface{}); ok {
					if out, ok := usage["output_tokens"].(float64); ok {
						ch <- StreamChunk{Type: "done", Tokens: int(out)}
					}
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
	_ LLMProvider = (*AnthropicProvider)(nil)
)
