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

// OllamaProvider talks to a local or self-hosted Ollama server. No API key
// is required; the base URL defaults to the standard local daemon address.
type OllamaProvider struct {
	cfg        *config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

func NewOllamaProvider(cfg *config.LLMConfig) (*OllamaProvider, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: httpclient.New(
			httpclient.WithRetryStrategy(httpclient.DefaultStrategy),
		),
	}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Close() error { return nil }

func (p *OllamaProvider) MaxOutputTokens(model string) int {
	if p.cfg.MaxTokens > 0 {
		return p.cfg.MaxTokens
	}
	return 4096
}

func (p *OllamaProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		// Local daemon may not be reachable; report the configured model only.
		return []ModelInfo{{ID: p.cfg.Model, Name: p.cfg.Model, ContextWindow: 4096, Capabilities: ModelCapabilities{Temperature: true}}}, nil
	}
	defer resp.Body.Close()

	var parsed struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("ollama: decode model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(parsed.Models))
	for _, m := range parsed.Models {
		models = append(models, ModelInfo{
			ID:            m.Name,
			Name:          m.Name,
			ContextWindow: 4096,
			Capabilities:  ModelCapabilities{Temperature: true},
		})
	}
	return models, nil
}

func (p *OllamaProvider) EstimateCost(model string, usage TokenUsage) (float64, error) {
	// Local inference has no per-token billing.
	return 0, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done               bool `json:"done"`
	EvalCount          int  `json:"eval_count"`
	PromptEvalCount    int  `json:"prompt_eval_count"`
}

func (p *OllamaProvider) buildRequest(messages []Message, stream bool) ollamaRequest {
	converted := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	return ollamaRequest{
		Model:    p.cfg.Model,
		Messages: converted,
		Stream:   stream,
		Options:  &ollamaOptions{Temperature: p.cfg.Temperature, NumPredict: p.MaxOutputTokens(p.cfg.Model)},
	}
}

func (p *OllamaProvider) doRequest(ctx context.Context, body ollamaRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

// Ollama has no native tool-calling contract in its chat API for older
// models; tools are accepted for interface compatibility but not sent.
func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (Response, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(messages, false))
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	return Response{
		Model:        p.cfg.Model,
		Text:         parsed.Message.Content,
		FinishReason: "stop",
		Usage: TokenUsage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

// GenerateStreaming parses Ollama's line-delimited JSON stream (one object
// per line, not SSE-prefixed) into StreamChunks. Partial lines are
// re-buffered until a newline; unparseable lines are skipped.
func (p *OllamaProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	resp, err := p.doRequest(ctx, p.buildRequest(messages, true))
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		reader := bufio.NewReaderSize(resp.Body, 4096)
		var pending bytes.Buffer

		for {
			line, err := reader.ReadString('\n')
			if pending.Len()+len(line) > maxStreamBuffer {
				ch <- StreamChunk{Type: "error", Error: fmt.Errorf("ollama: stream buffer overflow")}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				if err != nil {
					break
				}
				continue
			}

			var parsed ollamaResponse
			if jsonErr := json.Unmarshal([]byte(line), &parsed); jsonErr != nil {
				slog.Debug("ollama: skipping unparseable stream line", "error", jsonErr)
				if err != nil {
					break
				}
				continue
			}

			if parsed.Message.Content != "" {
				ch <- StreamChunk{Type: "text", Text: parsed.Message.Content}
			}
			if parsed.Done {
				ch <- StreamChunk{Type: "done", Tokens: parsed.EvalCount}
				break
			}

			if err != nil {
				break
			}
		}
	}()
	return ch, nil
}

var (
	_ LLMProvider = (*OllamaProvider)(nil)
)
