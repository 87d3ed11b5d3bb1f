package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taleforge/dungeonmaster/pkg/tools"
)

func TestParseActionInputJSON(t *testing.T) {
	args := parseActionInput(`{"expression": "1+1"}`)
	assert.Equal(t, "1+1", args["expression"])
}

func TestParseActionInputSafeLiteral(t *testing.T) {
	args := parseActionInput(`{'expression': '2+2'}`)
	assert.Equal(t, "2+2", args["expression"])
}

func TestParseActionInputFallsBackToRaw(t *testing.T) {
	args := parseActionInput(`not json at all {{{`)
	assert.Equal(t, "not json at all {{{", args["raw_input"])
}

func TestReActRunReachesFinalAnswer(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{
		"Thought: I should just answer.\nFinal Answer: done",
	}}
	exec := NewExecutor(ReActConfig{MaxIterations: 3})
	result := exec.Run(context.Background(), "finish the task", nil, chatter, nil)
	assert.True(t, result.OK)
	assert.Equal(t, "done", result.FinalAnswer)
}

func TestReActRunCallsToolThenFinishes(t *testing.T) {
	reg := tools.NewToolRegistry()
	src := tools.NewLocalToolSource("test")
	require.NoError(t, src.RegisterTool(tools.NewCalculatorTool()))
	require.NoError(t, reg.RegisterSource(src))
	manager := tools.NewManager(reg)

	chatter := &scriptedChatter{responses: []string{
		"Thought: I need to calculate.\nAction: calculator\nAction Input: {\"expression\": \"2+2\"}",
		"Thought: Now I know.\nFinal Answer: 4",
	}}
	exec := NewExecutor(ReActConfig{MaxIterations: 5})
	result := exec.Run(context.Background(), "what is 2+2?", nil, chatter, manager)
	assert.True(t, result.OK)
	assert.Equal(t, "4", result.FinalAnswer)

	var sawObservation bool
	for _, s := range result.Steps {
		if s.Type == StepObservation && s.Content == "4" {
			sawObservation = true
		}
	}
	assert.True(t, sawObservation)
}

func TestReActRunMaxIterations(t *testing.T) {
	chatter := &scriptedChatter{responses: []string{"Thought: still thinking, no action given"}}
	exec := NewExecutor(ReActConfig{MaxIterations: 2})
	result := exec.Run(context.Background(), "task", nil, chatter, nil)
	assert.False(t, result.OK)
	assert.Equal(t, "max iterations", result.Error)
}
