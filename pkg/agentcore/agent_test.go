package agentcore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/bus"
	"github.com/taleforge/dungeonmaster/pkg/llms"
	"github.com/taleforge/dungeonmaster/pkg/reasoning"
)

// scriptedChatter returns a fixed response for every call; good enough
// for exercising ExecuteTask's three branches in isolation.
type scriptedChatter struct {
	text string
}

func (s *scriptedChatter) Chat(ctx context.Context, messages []llms.Message, toolDefs []llms.ToolDefinition, priority llms.Priority) (llms.Response, error) {
	return llms.Response{Text: s.text}, nil
}

func TestExecuteTaskPlainChatWhenNoCapabilities(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	a := New("npc-1", Capabilities{}, &scriptedChatter{text: "hello there"}, nil, nil, b)
	result, err := a.ExecuteTask(context.Background(), "greet the player")
	require.NoError(t, err)
	assert.Equal(t, "plain_chat", result.Path)
	assert.Equal(t, "hello there", result.Answer)
}

func TestExecuteTaskUsesReasoningEngineWhenConfigured(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	factory := reasoning.NewEngineFactory()
	a := New("npc-2", Capabilities{ReasoningMode: "chain_of_thought"}, &scriptedChatter{text: "Final Answer: done"}, nil, factory, b)
	result, err := a.ExecuteTask(context.Background(), "what next?")
	require.NoError(t, err)
	assert.Equal(t, "reasoning", result.Path)
	assert.Contains(t, result.Answer, "done")
}

func TestExecuteTaskUsesReActWhenConfigured(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	a := New("npc-3", Capabilities{UseReAct: true}, &scriptedChatter{text: "Thought: easy.\nFinal Answer: 42"}, nil, nil, b)
	result, err := a.ExecuteTask(context.Background(), "what is the answer?")
	require.NoError(t, err)
	assert.Equal(t, "react", result.Path)
	assert.Equal(t, "42", result.Answer)
}

func TestStateTransitionsIdleProcessingIdle(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	a := New("npc-4", Capabilities{}, &scriptedChatter{text: "ok"}, nil, nil, b)
	assert.Equal(t, StateIdle, a.State())
	_, err := a.ExecuteTask(context.Background(), "task")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, a.State())
}

func TestMessageLoopRepliesToRequestWithResponse(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	a := New("npc-5", Capabilities{}, &scriptedChatter{text: "reply text"}, nil, nil, b)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.Start(ctx)
	defer a.Stop()

	b.Register("caller", bus.RegisterOptions{MaxSize: 10, Policy: bus.OverflowDropNew})
	defer b.Unregister("caller")

	err := b.Send(ctx, bus.AgentMessage{SenderID: "caller", ReceiverID: "npc-5", Type: bus.TypeRequest, Content: "hi"})
	require.NoError(t, err)

	msg, ok, err := b.Receive(ctx, "caller", 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bus.TypeResponse, msg.Type)
	assert.Equal(t, "reply text", msg.Content)
}

func TestStopTransitionsToShutdown(t *testing.T) {
	b := bus.New(bus.Options{})
	defer b.Shutdown()

	a := New("npc-6", Capabilities{}, &scriptedChatter{text: "ok"}, nil, nil, b)
	ctx := context.Background()
	a.Start(ctx)
	a.Stop()
	assert.Equal(t, StateShutdown, a.State())
}
