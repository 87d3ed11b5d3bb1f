package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/llms"
)

// scriptedChatter returns responses from a fixed script in order,
// looping the last one if exhausted.
type scriptedChatter struct {
	responses []string
	calls     int
}

func (s *scriptedChatter) Chat(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, priority llms.Priority) (llms.Response, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return llms.Response{Text: s.responses[idx]}, nil
}

func TestFactoryCreatesAllModes(t *testing.T) {
	f := NewEngineFactory()
	for _, mode := range []EngineMode{ModeChainOfThought, ModeTreeOfThought, ModeGraphOfThought, ModeAlgorithmOfThought, ModeSkeletonOfThought, ModeReAct} {
		engine, err := f.Create(string(mode), EngineConfig{})
		require.NoError(t, err, mode)
		assert.NotNil(t, engine)
	}
}

func TestFactoryUnknownModeErrors(t *testing.T) {
	f := NewEngineFactory()
	_, err := f.Create("nonsense", EngineConfig{})
	assert.Error(t, err)
}

func TestChainEngineStopsOnFinalKeyword(t *testing.T) {
	f := NewEngineFactory()
	engine, err := f.Create("chain_of_thought", EngineConfig{MaxSteps: 5})
	require.NoError(t, err)

	chatter := &scriptedChatter{responses: []string{"thinking...", "Final Answer: 42"}}
	result, err := engine.Process(context.Background(), "agent-1", "what is the answer?", chatter, nil)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Contains(t, result.FinalAnswer, "42")
	assert.Len(t, result.Thoughts, 2)
}

func TestChainEngineRespectsMaxSteps(t *testing.T) {
	f := NewEngineFactory()
	engine, err := f.Create("chain_of_thought", EngineConfig{MaxSteps: 2})
	require.NoError(t, err)

	chatter := &scriptedChatter{responses: []string{"step one", "step two", "step three"}}
	result, err := engine.Process(context.Background(), "agent-1", "task", chatter, nil)
	require.NoError(t, err)
	assert.Len(t, result.Thoughts, 2)
}
