package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolConfig_SetDefaults(t *testing.T) {
	c := &ToolConfig{}
	c.SetDefaults()
	assert.Equal(t, ToolTypeCalculator, c.Type)
	require.NotNil(t, c.Enabled)
	assert.True(t, *c.Enabled)
}

func TestToolConfig_SetDefaults_FilesystemRoot(t *testing.T) {
	c := &ToolConfig{Type: ToolTypeFilesystem}
	c.SetDefaults()
	assert.Equal(t, ".", c.WorkingDirectory)
}

func TestToolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		toolCfg ToolConfig
		wantErr bool
	}{
		{"calculator", ToolConfig{Type: ToolTypeCalculator}, false},
		{"time", ToolConfig{Type: ToolTypeTime}, false},
		{"random", ToolConfig{Type: ToolTypeRandom}, false},
		{"filesystem", ToolConfig{Type: ToolTypeFilesystem}, false},
		{"web_search", ToolConfig{Type: ToolTypeWebSearch}, false},
		{"weather", ToolConfig{Type: ToolTypeWeather}, false},
		{"unknown", ToolConfig{Type: "apply_patch"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.toolCfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToolConfig_IsEnabled(t *testing.T) {
	var c ToolConfig
	assert.True(t, c.IsEnabled())

	disabled := false
	c.Enabled = &disabled
	assert.False(t, c.IsEnabled())
}

func TestGetDefaultToolConfigs(t *testing.T) {
	defaults := GetDefaultToolConfigs()
	require.Contains(t, defaults, "calculator")
	assert.Equal(t, ToolTypeCalculator, defaults["calculator"].Type)
	assert.True(t, defaults["calculator"].IsEnabled())
	assert.False(t, defaults["filesystem"].IsEnabled())
}
