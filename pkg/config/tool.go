// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// ToolType identifies the tool type. The runtime ships the built-in
// catalogue §4.3 names; there is no dynamic class-by-string discovery
// (see REDESIGN FLAGS) — each type maps to one concrete constructor in
// pkg/tools.
type ToolType string

const (
	// ToolTypeCalculator evaluates a sandboxed arithmetic expression.
	ToolTypeCalculator ToolType = "calculator"

	// ToolTypeTime returns the current wall-clock time.
	ToolTypeTime ToolType = "time"

	// ToolTypeRandom returns a random int or float in a range.
	ToolTypeRandom ToolType = "random"

	// ToolTypeFilesystem is a read/write/list tool confined to a
	// configured root directory.
	ToolTypeFilesystem ToolType = "filesystem"

	// ToolTypeWebSearch is a stub web-search tool (no backing index).
	ToolTypeWebSearch ToolType = "web_search"

	// ToolTypeWeather is a stub weather-forecast tool.
	ToolTypeWeather ToolType = "weather"
)

// ToolConfig configures a tool.
type ToolConfig struct {
	// Type of built-in tool.
	Type ToolType `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"title=Tool Type,description=Type of tool,enum=calculator,enum=time,enum=random,enum=filesystem,enum=web_search,enum=weather,default=calculator"`

	// Enabled controls whether the tool is active.
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" jsonschema:"title=Enabled,description=Whether the tool is active,default=true"`

	// Description of the tool, shown to the reasoning engine alongside
	// its declared schema.
	Description string `yaml:"description,omitempty" json:"description,omitempty" jsonschema:"title=Description,description=What this tool does"`

	// WorkingDirectory confines the filesystem tool's reads/writes to
	// this root; path traversal outside it is rejected (§4.3, §6).
	WorkingDirectory string `yaml:"working_directory,omitempty" json:"working_directory,omitempty" jsonschema:"title=Working Directory,description=Root directory the filesystem tool is confined to"`
}

// SetDefaults applies default values.
func (c *ToolConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = ToolTypeCalculator
	}
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.Type == ToolTypeFilesystem && c.WorkingDirectory == "" {
		c.WorkingDirectory = "."
	}
}

// Validate checks the tool configuration.
func (c *ToolConfig) Validate() error {
	switch c.Type {
	case ToolTypeCalculator, ToolTypeTime, ToolTypeRandom,
		ToolTypeFilesystem, ToolTypeWebSearch, ToolTypeWeather:
		return nil
	default:
		return fmt.Errorf("invalid tool type %q (valid: calculator, time, random, filesystem, web_search, weather)", c.Type)
	}
}

// IsEnabled returns whether the tool is enabled.
func (c *ToolConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// GetDefaultToolConfigs returns the default built-in tool set (§4.3)
// registered for every agent unless overridden in config.
func GetDefaultToolConfigs() map[string]*ToolConfig {
	return map[string]*ToolConfig{
		"calculator": {
			Type:        ToolTypeCalculator,
			Enabled:     BoolPtr(true),
			Description: "Evaluate a sandboxed arithmetic expression (dice modifiers, damage totals, skill math).",
		},
		"time": {
			Type:        ToolTypeTime,
			Enabled:     BoolPtr(true),
			Description: "Return the current wall-clock time.",
		},
		"random": {
			Type:        ToolTypeRandom,
			Enabled:     BoolPtr(true),
			Description: "Return a random int or float in a range.",
		},
		"filesystem": {
			Type:             ToolTypeFilesystem,
			Enabled:          BoolPtr(false),
			Description:      "Read/write/list files confined to a configured campaign-data root.",
			WorkingDirectory: "./campaign-data",
		},
		"web_search": {
			Type:        ToolTypeWebSearch,
			Enabled:     BoolPtr(false),
			Description: "Search the web (stub, no backing index configured).",
		},
		"weather": {
			Type:        ToolTypeWeather,
			Enabled:     BoolPtr(false),
			Description: "Return a placeholder weather forecast (stub).",
		},
	}
}
