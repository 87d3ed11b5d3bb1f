// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides configuration loading and management for the
// dungeon-master runtime, config-first: LLM providers,
// tools, and agents are declared in YAML and the runtime builds them.
//
// Example config:
//
//	version: "1"
//	name: my-campaign
//
//	llms:
//	  default:
//	    provider: anthropic
//	    model: claude-sonnet-4-20250514
//	    api_key: ${ANTHROPIC_API_KEY}
//
//	tools:
//	  dice:
//	    type: random
//
//	agents:
//	  dm:
//	    llm: default
//	    tools: [dice]
//
//	session_store:
//	  driver: sqlite
//	  database: ./campaign.db
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure.
type Config struct {
	// Version of the config schema (e.g., "1").
	Version string `yaml:"version,omitempty"`

	// Name of this configuration (for logging/display).
	Name string `yaml:"name,omitempty"`

	// Description of this configuration.
	Description string `yaml:"description,omitempty"`

	// Databases defines available database connections, referenced by
	// SessionStore and RateLimiting.
	Databases map[string]*DatabaseConfig `yaml:"databases,omitempty"`

	// LLMs defines available LLM providers.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty"`

	// Tools defines available tools.
	Tools map[string]*ToolConfig `yaml:"tools,omitempty"`

	// Agents defines available agents (the DM agent plus one per NPC
	// archetype); the NPC pool builds concrete per-session instances
	// from whichever entry matches an NPC's archetype.
	Agents map[string]*AgentConfig `yaml:"agents,omitempty"`

	// Scheduler configures the provider scheduler (C2): fallback order,
	// retry policy, and scoring thresholds.
	Scheduler *SchedulerConfig `yaml:"scheduler,omitempty"`

	// SessionStore configures where GameSessions, snapshots, and the
	// rollback log are persisted (C16).
	SessionStore *DatabaseConfig `yaml:"session_store,omitempty"`

	// Logger configures logging behavior.
	Logger *LoggerConfig `yaml:"logger,omitempty"`

	// RateLimiting configures rate limiting.
	RateLimiting *RateLimitConfig `yaml:"rate_limiting,omitempty"`

	// Defaults provides default values for agents.
	Defaults *DefaultsConfig `yaml:"defaults,omitempty"`
}

// SchedulerConfig configures the provider scheduler (C2).
type SchedulerConfig struct {
	// DefaultProvider is the provider name preferred when it is
	// "acceptable" per the scoring rule.
	DefaultProvider string `yaml:"default_provider,omitempty"`

	// FallbackProviders are tried, in order, after DefaultProvider
	// exhausts its retries.
	FallbackProviders []string `yaml:"fallback_providers,omitempty"`

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// RetryDelay is the base delay for exponential backoff.
	RetryDelay string `yaml:"retry_delay,omitempty"`

	// CostThreshold is the USD cost above which a candidate is
	// penalized heavily in scoring.
	CostThreshold float64 `yaml:"cost_threshold,omitempty"`

	// HighPriorityLatencyThresholdMS bounds acceptable latency for
	// high-priority requests when preferring the default provider.
	HighPriorityLatencyThresholdMS int `yaml:"high_priority_latency_threshold_ms,omitempty"`

	// DefaultLatencyMS seeds the rolling per-provider latency average
	// before any requests have been observed.
	DefaultLatencyMS int `yaml:"default_latency_ms,omitempty"`

	// BatchConcurrency caps the number of requests the scheduler will
	// run concurrently for a single batch call.
	BatchConcurrency int `yaml:"batch_concurrency,omitempty"`
}

// SetDefaults applies default values to the scheduler configuration.
func (c *SchedulerConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryDelay == "" {
		c.RetryDelay = "200ms"
	}
	if c.CostThreshold == 0 {
		c.CostThreshold = 0.05
	}
	if c.HighPriorityLatencyThresholdMS == 0 {
		c.HighPriorityLatencyThresholdMS = 2000
	}
	if c.DefaultLatencyMS == 0 {
		c.DefaultLatencyMS = 1500
	}
	if c.BatchConcurrency == 0 {
		c.BatchConcurrency = 4
	}
}

// Validate checks the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.CostThreshold < 0 {
		return fmt.Errorf("cost_threshold must be non-negative")
	}
	if c.BatchConcurrency < 0 {
		return fmt.Errorf("batch_concurrency must be non-negative")
	}
	return nil
}

// DefaultsConfig provides default values for agent configurations.
type DefaultsConfig struct {
	// LLM is the default LLM reference for agents.
	LLM string `yaml:"llm,omitempty"`
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]*DatabaseConfig)
	}
	if c.LLMs == nil {
		c.LLMs = make(map[string]*LLMConfig)
	}
	if c.Tools == nil {
		c.Tools = make(map[string]*ToolConfig)
	}
	if c.Agents == nil {
		c.Agents = make(map[string]*AgentConfig)
	}

	if len(c.LLMs) == 0 {
		c.LLMs["default"] = &LLMConfig{}
	}
	if len(c.Agents) == 0 {
		c.Agents["dm"] = &AgentConfig{}
	}

	for name, db := range c.Databases {
		if db == nil {
			db = &DatabaseConfig{}
			c.Databases[name] = db
		}
		db.SetDefaults()
	}

	for name, llm := range c.LLMs {
		if llm == nil {
			llm = &LLMConfig{}
			c.LLMs[name] = llm
		}
		llm.SetDefaults()
	}

	for name, tool := range c.Tools {
		if tool == nil {
			tool = &ToolConfig{}
			c.Tools[name] = tool
		}
		tool.SetDefaults()
	}

	for name, agent := range c.Agents {
		if agent == nil {
			agent = &AgentConfig{}
			c.Agents[name] = agent
		}
		agent.SetDefaults(c.Defaults)
	}

	if c.Scheduler == nil {
		c.Scheduler = &SchedulerConfig{}
	}
	c.Scheduler.SetDefaults()

	if c.SessionStore == nil {
		c.SessionStore = &DatabaseConfig{Driver: "sqlite", Database: "./dungeonmaster.db"}
	}
	c.SessionStore.SetDefaults()

	if c.RateLimiting != nil {
		c.RateLimiting.SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	for name, db := range c.Databases {
		if db == nil {
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("database %q: %v", name, err))
		}
	}

	for name, llm := range c.LLMs {
		if llm == nil {
			continue
		}
		if err := llm.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("llm %q: %v", name, err))
		}
	}

	for name, tool := range c.Tools {
		if tool == nil {
			continue
		}
		if err := tool.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("tool %q: %v", name, err))
		}
	}

	for name, agent := range c.Agents {
		if agent == nil {
			continue
		}
		if err := agent.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("agent %q: %v", name, err))
		}
	}

	if c.Scheduler != nil {
		if err := c.Scheduler.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("scheduler: %v", err))
		}
	}

	if c.SessionStore != nil {
		if err := c.SessionStore.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("session_store: %v", err))
		}
	}

	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("logger: %v", err))
		}
	}

	if c.RateLimiting != nil {
		if err := c.RateLimiting.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("rate_limiting: %v", err))
		}
	}

	if err := c.validateReferences(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateReferences checks that all references are valid.
func (c *Config) validateReferences() error {
	var errs []string

	for agentName, agent := range c.Agents {
		if agent == nil {
			continue
		}

		if agent.LLM != "" {
			if _, ok := c.LLMs[agent.LLM]; !ok {
				errs = append(errs, fmt.Sprintf("agent %q references undefined llm %q", agentName, agent.LLM))
			}
		}

		for _, toolName := range agent.Tools {
			if _, ok := c.Tools[toolName]; !ok {
				errs = append(errs, fmt.Sprintf("agent %q references undefined tool %q", agentName, toolName))
			}
		}
	}

	if c.Scheduler != nil {
		if c.Scheduler.DefaultProvider != "" {
			if _, ok := c.LLMs[c.Scheduler.DefaultProvider]; !ok {
				errs = append(errs, fmt.Sprintf("scheduler.default_provider references undefined llm %q", c.Scheduler.DefaultProvider))
			}
		}
		for _, p := range c.Scheduler.FallbackProviders {
			if _, ok := c.LLMs[p]; !ok {
				errs = append(errs, fmt.Sprintf("scheduler.fallback_providers references undefined llm %q", p))
			}
		}
	}

	if c.RateLimiting != nil && c.RateLimiting.Backend == "sql" && c.RateLimiting.SQLDatabase != "" {
		if _, ok := c.Databases[c.RateLimiting.SQLDatabase]; !ok {
			errs = append(errs, fmt.Sprintf("rate_limiting references undefined database %q", c.RateLimiting.SQLDatabase))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("reference errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// GetAgent returns the agent config by name.
func (c *Config) GetAgent(name string) (*AgentConfig, bool) {
	agent, ok := c.Agents[name]
	return agent, ok
}

// GetLLM returns the LLM config by name.
func (c *Config) GetLLM(name string) (*LLMConfig, bool) {
	llm, ok := c.LLMs[name]
	return llm, ok
}

// GetTool returns the tool config by name.
func (c *Config) GetTool(name string) (*ToolConfig, bool) {
	tool, ok := c.Tools[name]
	return tool, ok
}

// ListAgents returns the names of all configured agents.
func (c *Config) ListAgents() []string {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	return names
}

// GetDatabase returns the database config by name.
func (c *Config) GetDatabase(name string) (*DatabaseConfig, bool) {
	db, ok := c.Databases[name]
	return db, ok
}
