package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParamsFromStructReflectsRequiredAndDescription(t *testing.T) {
	params := paramsFromStruct[calculatorArgs]()
	require.Len(t, params, 1)
	assert.Equal(t, "expression", params[0].Name)
	assert.Equal(t, "string", params[0].Type)
	assert.True(t, params[0].Required)
	assert.NotEmpty(t, params[0].Description)
}

func TestParamsFromStructReflectsEnum(t *testing.T) {
	params := paramsFromStruct[randomArgs]()
	byName := make(map[string]ToolParameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	kind, ok := byName["kind"]
	require.True(t, ok)
	assert.True(t, kind.Required)
	assert.ElementsMatch(t, []string{"int", "float"}, kind.Enum)

	min, ok := byName["min"]
	require.True(t, ok)
	assert.Equal(t, "number", min.Type)
	assert.True(t, min.Required)
}

func TestCalculatorToolInfoMatchesReflectedSchema(t *testing.T) {
	info := NewCalculatorTool().GetInfo()
	require.Len(t, info.Parameters, 1)
	assert.Equal(t, "expression", info.Parameters[0].Name)
}
