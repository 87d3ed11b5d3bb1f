package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taleforge/dungeonmaster/pkg/config/provider"
)

func writeTestConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const validConfigYAML = `
version: "1"
name: test-campaign
llms:
  openai:
    provider: openai
    model: gpt-4
    api_key: test-key
agents:
  dm:
    llm: openai
`

func TestLoader_File_Load(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "test.yaml", validConfigYAML)

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	loader := NewLoader(p)
	defer loader.Close()

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, "test-campaign", cfg.Name)
	require.Len(t, cfg.Agents, 1)
	require.Len(t, cfg.LLMs, 1)
	assert.Equal(t, "test-key", cfg.LLMs["openai"].APIKey)
}

func TestLoader_File_NotFound(t *testing.T) {
	p, err := provider.NewFileProvider(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	loader := NewLoader(p)
	defer loader.Close()

	_, err = loader.Load(context.Background())
	assert.Error(t, err)
}

func TestLoader_File_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "invalid.yaml", "version: \"1\"\nagents:\n  - invalid: [unclosed\n")

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	loader := NewLoader(p)
	defer loader.Close()

	_, err = loader.Load(context.Background())
	assert.Error(t, err)
}

func TestLoader_EnvVarExpansion(t *testing.T) {
	os.Setenv("DM_TEST_API_KEY", "secret-key-123")
	defer os.Unsetenv("DM_TEST_API_KEY")

	dir := t.TempDir()
	path := writeTestConfig(t, dir, "env.yaml", `
version: "1"
agents:
  dm:
    llm: openai
llms:
  openai:
    provider: openai
    model: gpt-4
    api_key: ${DM_TEST_API_KEY}
`)

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)
	loader := NewLoader(p)
	defer loader.Close()

	cfg, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-key-123", cfg.LLMs["openai"].APIKey)
}

func TestLoader_Watch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "watch.yaml", validConfigYAML)

	p, err := provider.NewFileProvider(path)
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	loader := NewLoader(p, WithOnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}))
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loader.Watch(ctx)

	time.Sleep(200 * time.Millisecond)
	writeTestConfig(t, dir, "watch.yaml", `
version: "1"
name: updated-campaign
llms:
  openai:
    provider: openai
    model: gpt-4
    api_key: test-key
agents:
  dm:
    llm: openai
`)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "updated-campaign", cfg.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("expected config reload within timeout")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "test.yaml", validConfigYAML)

	cfg, loader, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer loader.Close()

	assert.Equal(t, "test-campaign", cfg.Name)
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		expected provider.Type
		wantErr  bool
	}{
		{"file", provider.TypeFile, false},
		{"", provider.TypeFile, false},
		{"consul", "", true},
	}
	for _, tt := range tests {
		got, err := provider.ParseType(tt.input)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}
