package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/dungeonmaster/pkg/config"
)

func TestNewLocalToolSource(t *testing.T) {
	source := NewLocalToolSource("test-source")
	require.NotNil(t, source)
	assert.Equal(t, "test-source", source.GetName())
	assert.Equal(t, "local", source.GetType())
}

func TestNewLocalToolSource_EmptyNameDefaultsToLocal(t *testing.T) {
	source := NewLocalToolSource("")
	assert.Equal(t, "local", source.GetName())
}

func TestLocalToolSource_RegisterTool(t *testing.T) {
	source := NewLocalToolSource("test-source")

	require.NoError(t, source.RegisterTool(NewTimeTool()))

	registeredTool, exists := source.GetTool("time")
	assert.True(t, exists)
	assert.NotNil(t, registeredTool)

	require.NoError(t, source.RegisterTool(NewCalculatorTool()))
	assert.Len(t, source.ListTools(), 2)

	// Duplicate registration fails.
	assert.Error(t, source.RegisterTool(NewTimeTool()))
}

func TestLocalToolSource_WithConfig(t *testing.T) {
	enabled := true
	toolConfigs := map[string]*config.ToolConfig{
		"time":       {Type: config.ToolTypeTime, Enabled: &enabled},
		"calculator": {Type: config.ToolTypeCalculator, Enabled: &enabled},
	}

	source, err := NewLocalToolSourceWithConfig(toolConfigs)
	require.NoError(t, err)
	require.NotNil(t, source)

	tools := source.ListTools()
	assert.Len(t, tools, 2)

	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.Name] = true
	}
	assert.True(t, names["time"])
	assert.True(t, names["calculator"])
}

func TestLocalToolSource_WithConfig_FilesystemRoot(t *testing.T) {
	enabled := true
	dir := t.TempDir()
	toolConfigs := map[string]*config.ToolConfig{
		"filesystem": {Type: config.ToolTypeFilesystem, Enabled: &enabled, WorkingDirectory: dir},
	}

	source, err := NewLocalToolSourceWithConfig(toolConfigs)
	require.NoError(t, err)

	_, exists := source.GetTool("filesystem")
	assert.True(t, exists)
}

func TestLocalToolSource_WithConfig_DisabledToolSkipped(t *testing.T) {
	enabled := true
	disabled := false
	toolConfigs := map[string]*config.ToolConfig{
		"time":       {Type: config.ToolTypeTime, Enabled: &disabled},
		"calculator": {Type: config.ToolTypeCalculator, Enabled: &enabled},
	}

	source, err := NewLocalToolSourceWithConfig(toolConfigs)
	require.NoError(t, err)

	tools := source.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "calculator", tools[0].Name)
}

func TestLocalToolSource_WithEmptyConfig(t *testing.T) {
	source, err := NewLocalToolSourceWithConfig(map[string]*config.ToolConfig{})
	require.NoError(t, err)
	require.NotNil(t, source)
	assert.Empty(t, source.ListTools())
}

func TestLocalToolSource_ListTools(t *testing.T) {
	source := NewLocalToolSource("test-source")
	assert.Empty(t, source.ListTools())

	require.NoError(t, source.RegisterTool(NewTimeTool()))
	require.NoError(t, source.RegisterTool(NewCalculatorTool()))

	tools := source.ListTools()
	assert.Len(t, tools, 2)
	for _, tool := range tools {
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "test-source", tool.ServerURL)
	}
}

func TestLocalToolSource_GetTool(t *testing.T) {
	source := NewLocalToolSource("test-source")

	_, exists := source.GetTool("non-existent")
	assert.False(t, exists)

	tool := NewTimeTool()
	require.NoError(t, source.RegisterTool(tool))

	registeredTool, exists := source.GetTool("time")
	assert.True(t, exists)
	assert.Same(t, tool, registeredTool.(*TimeTool))

	_, exists = source.GetTool("TIME")
	assert.False(t, exists)
}

func TestLocalToolSource_RemoveTool(t *testing.T) {
	source := NewLocalToolSource("test-source")

	assert.Error(t, source.RemoveTool("non-existent"))

	require.NoError(t, source.RegisterTool(NewTimeTool()))
	_, exists := source.GetTool("time")
	require.True(t, exists)

	require.NoError(t, source.RemoveTool("time"))

	_, exists = source.GetTool("time")
	assert.False(t, exists)
	assert.Empty(t, source.ListTools())
}

func TestLocalToolSource_DiscoverTools(t *testing.T) {
	source := NewLocalToolSource("test-source")
	assert.NoError(t, source.DiscoverTools(context.Background()))
	assert.Empty(t, source.ListTools())
}

func TestLocalToolSource_Concurrency(t *testing.T) {
	source := NewLocalToolSource("test-source")

	done := make(chan bool, 2)
	go func() {
		source.RegisterTool(NewTimeTool())
		done <- true
	}()
	go func() {
		source.RegisterTool(NewCalculatorTool())
		done <- true
	}()
	<-done
	<-done

	assert.Len(t, source.ListTools(), 2)
}
