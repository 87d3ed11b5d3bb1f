package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/llms"
)

// fakeProvider is a minimal llms.LLMProvider stand-in for scheduler tests.
type fakeProvider struct {
	name      string
	models    []llms.ModelInfo
	failTimes int // Generate fails this many times before succeeding
	calls     int
}

func (f *fakeProvider) Generate(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (llms.Response, error) {
	f.calls++
	if f.calls <= f.failTimes {
		return llms.Response{}, &llms.ApiError{Status: 500, Body: "boom"}
	}
	return llms.Response{Text: "ok from " + f.name, FinishReason: "stop"}, nil
}

func (f *fakeProvider) GenerateStreaming(ctx context.Context, messages []llms.Message, tools []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	return nil, &llms.ApiError{Status: 500, Body: "no streaming"}
}

func (f *fakeProvider) ListModels(ctx context.Context) ([]llms.ModelInfo, error) { return f.models, nil }

func (f *fakeProvider) EstimateCost(model string, usage llms.TokenUsage) (float64, error) {
	return 0.001, nil
}

func (f *fakeProvider) MaxOutputTokens(model string) int { return 4096 }
func (f *fakeProvider) Name() string                     { return f.name }
func (f *fakeProvider) Close() error                     { return nil }

func defaultModel(id string) llms.ModelInfo {
	return llms.ModelInfo{ID: id, MaxTokens: 4096, Capabilities: llms.ModelCapabilities{Temperature: true}}
}

func TestScheduleFallsBackAfterRetriesExhausted(t *testing.T) {
	// S5: default provider P1 always fails, fallback P2 succeeds.
	reg := llms.NewLLMRegistry()
	p1 := &fakeProvider{name: "p1", models: []llms.ModelInfo{defaultModel("m1")}, failTimes: 1000}
	p2 := &fakeProvider{name: "p2", models: []llms.ModelInfo{defaultModel("m2")}, failTimes: 0}
	require.NoError(t, reg.RegisterLLM("p1", p1))
	require.NoError(t, reg.RegisterLLM("p2", p2))

	s := New(reg, Config{DefaultProvider: "p1", FallbackProviders: []string{"p2"}, MaxRetries: 1})

	result, err := s.Schedule(context.Background(), llms.RequestContext{Messages: []llms.Message{{Role: "user", Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "p2", result.Provider)
	assert.Contains(t, result.Response.Text, "p2")

	p1Metrics := s.Metrics("p1")
	assert.GreaterOrEqual(t, p1Metrics.ErrorCount, int64(1))
	p2Metrics := s.Metrics("p2")
	assert.GreaterOrEqual(t, p2Metrics.SuccessCount, int64(1))
}

func TestScheduleNeverSelectsDeprecatedModel(t *testing.T) {
	reg := llms.NewLLMRegistry()
	deprecated := defaultModel("old")
	deprecated.Deprecated = true
	fresh := defaultModel("new")
	p := &fakeProvider{name: "p1", models: []llms.ModelInfo{deprecated, fresh}}
	require.NoError(t, reg.RegisterLLM("p1", p))

	s := New(reg, Config{DefaultProvider: "p1"})
	cands, err := s.candidates(context.Background(), llms.RequestContext{})
	require.NoError(t, err)
	for _, c := range cands {
		assert.False(t, c.model.Deprecated)
	}
}

func TestScheduleExcludesImageIncapableModelsWhenImagePresent(t *testing.T) {
	reg := llms.NewLLMRegistry()
	noImages := defaultModel("text-only")
	withImages := defaultModel("vision")
	withImages.Capabilities.Images = true
	p := &fakeProvider{name: "p1", models: []llms.ModelInfo{noImages, withImages}}
	require.NoError(t, reg.RegisterLLM("p1", p))

	s := New(reg, Config{DefaultProvider: "p1"})
	req := llms.RequestContext{Messages: []llms.Message{{Role: "user", Content: "data:image/png;base64,abcd"}}}
	cands, err := s.candidates(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "vision", cands[0].model.ID)
}

func TestScoreHigherPriorityScoresHigher(t *testing.T) {
	low := score(0.001, 100, llms.PriorityLow, 0.05)
	high := score(0.001, 100, llms.PriorityHigh, 0.05)
	assert.Greater(t, high, low)
}
