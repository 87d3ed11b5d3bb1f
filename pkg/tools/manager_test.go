package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	reg := NewToolRegistry()
	src := NewLocalToolSource("test")
	require.NoError(t, src.RegisterTool(NewCalculatorTool()))
	require.NoError(t, src.RegisterTool(NewRandomTool()))
	require.NoError(t, reg.RegisterSource(src))
	return NewManager(reg)
}

func TestManagerCallValidatesRequiredArgs(t *testing.T) {
	m := newTestManager(t)
	result, err := m.Call(context.Background(), "calculator", map[string]interface{}{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "expression")
}

func TestManagerCallRejectsBadEnum(t *testing.T) {
	m := newTestManager(t)
	result, err := m.Call(context.Background(), "random", map[string]interface{}{"kind": "weird", "min": 1, "max": 2})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestManagerCallSuccessTracksStats(t *testing.T) {
	m := newTestManager(t)
	result, err := m.Call(context.Background(), "calculator", map[string]interface{}{"expression": "2 + 3*4"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "14", result.Content)

	stats := m.Stats("calculator")
	assert.EqualValues(t, 1, stats.Calls)
	assert.EqualValues(t, 1, stats.Successes)
}

func TestManagerBatchCallRunsConcurrently(t *testing.T) {
	m := newTestManager(t)
	results := m.BatchCall(context.Background(), []Call{
		{Name: "calculator", Args: map[string]interface{}{"expression": "1+1"}},
		{Name: "calculator", Args: map[string]interface{}{"expression": "2+2"}},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "2", results[0].Result.Content)
	assert.Equal(t, "4", results[1].Result.Content)
}

func TestManagerChainToolsStopsOnFailure(t *testing.T) {
	m := newTestManager(t)
	results, err := m.ChainTools(context.Background(), []Call{
		{Name: "calculator", Args: map[string]interface{}{"expression": "1+1"}},
		{Name: "calculator", Args: map[string]interface{}{}}, // missing expression
		{Name: "calculator", Args: map[string]interface{}{"expression": "99"}},
	})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}
