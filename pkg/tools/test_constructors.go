package tools

import (
	"context"
)

// ============================================================================
// TEST-FRIENDLY CONSTRUCTORS
// ============================================================================

// NewLocalToolSourceForTesting creates a local tool source with test tools.
func NewLocalToolSourceForTesting() *LocalToolSource {
	source := NewLocalToolSource("test-local")

	source.RegisterTool(NewTimeTool())

	return source
}

// NewToolRegistryForTesting creates a tool registry with test tools.
func NewToolRegistryForTesting() *ToolRegistry {
	registry := NewToolRegistry()

	registry.Register("time", ToolEntry{
		Tool:       NewTimeTool(),
		Source:     &TestToolSource{name: "test-local"},
		SourceType: "local",
		Name:       "time",
	})

	return registry
}

// ============================================================================
// TEST UTILITIES AND MOCKS
// ============================================================================

// TestToolSource is a simple tool source for testing.
type TestToolSource struct {
	name  string
	tools map[string]Tool
}

func NewTestToolSource(name string) *TestToolSource {
	return &TestToolSource{
		name:  name,
		tools: make(map[string]Tool),
	}
}

func (t *TestToolSource) GetName() string {
	return t.name
}

func (t *TestToolSource) GetType() string {
	return "test"
}

func (t *TestToolSource) DiscoverTools(ctx context.Context) error {
	return nil
}

func (t *TestToolSource) ListTools() []ToolInfo {
	tools := make([]ToolInfo, 0, len(t.tools))
	for _, tool := range t.tools {
		tools = append(tools, tool.GetInfo())
	}
	return tools
}

func (t *TestToolSource) GetTool(name string) (Tool, bool) {
	tool, exists := t.tools[name]
	return tool, exists
}

func (t *TestToolSource) RegisterTool(tool Tool) {
	t.tools[tool.GetName()] = tool
}
