// Package config handles Arbiter configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/arbiter/config.yaml, /etc/arbiter/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "arbiter", "config.yaml"))
	}

	paths = append(paths, "/etc/arbiter/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Arbiter configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Model    ModelConfig    `yaml:"model"`
	Approval ApprovalConfig `yaml:"approval"`
	Memory   MemoryConfig   `yaml:"memory"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	DataDir  string         `yaml:"data_dir"`
	// SystemPrompt overrides the built-in agent system prompt. Tool
	// descriptions and the current timestamp are substituted in at run
	// start regardless of the source of the prompt text.
	SystemPrompt string `yaml:"system_prompt"`
	LogLevel     string `yaml:"log_level"`
	// LogFormat is "text" or "json" (default text).
	LogFormat string `yaml:"log_format"`
}

// ListenConfig defines the observation API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the language model endpoint.
type ModelConfig struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"` // Ollama-compatible endpoint
	// TimeoutSec bounds a single model call, streaming included
	// (default 300).
	TimeoutSec int `yaml:"timeout_sec"`
}

// ApprovalConfig governs tool-call gating.
type ApprovalConfig struct {
	// Mode is one of "always_ask", "auto_approve", "per_thread".
	Mode string `yaml:"mode"`
	// MaxToolCallsPerRun forces a human checkpoint once a single run
	// has executed this many tool calls, regardless of mode (default 10).
	MaxToolCallsPerRun int `yaml:"max_tool_calls_per_run"`
	// ToolTimeoutSec bounds a single tool invocation (default 30).
	ToolTimeoutSec int `yaml:"tool_timeout_sec"`
}

// MemoryConfig defines the memory subsystem settings.
type MemoryConfig struct {
	// WorkingCapacity caps the working-memory ring buffer (default 50).
	WorkingCapacity int `yaml:"working_capacity"`
	// LongTermPath is the SQLite database path for long-term memory.
	// Relative paths resolve against data_dir. Empty uses
	// <data_dir>/memory.db.
	LongTermPath string `yaml:"long_term_path"`
	// ReflectionThreshold is the minimum recommendation priority that
	// gets written back into long-term memory (default 0.6).
	ReflectionThreshold float64 `yaml:"reflection_threshold"`
}

// MQTTConfig defines the optional state-transition publisher. Disabled
// when Broker is empty.
type MQTTConfig struct {
	Broker     string `yaml:"broker"` // e.g. mqtt://host:1883 or mqtts://host:8883
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
	// TopicPrefix defaults to "arbiter".
	TopicPrefix string `yaml:"topic_prefix"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8216},
		Model: ModelConfig{
			Name:       "qwen3:4b",
			BaseURL:    "http://localhost:11434",
			TimeoutSec: 300,
		},
		Approval: ApprovalConfig{
			Mode:               "always_ask",
			MaxToolCallsPerRun: 10,
			ToolTimeoutSec:     30,
		},
		Memory: MemoryConfig{
			WorkingCapacity:     50,
			ReflectionThreshold: 0.6,
		},
		MQTT:    MQTTConfig{TopicPrefix: "arbiter"},
		DataDir: ".",
	}
}
