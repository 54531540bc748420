// Package config loads datascribe configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all datascribe configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Generative model configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval memory configuration
	Memory MemoryConfig `yaml:"memory"`

	// Generated-code sandbox configuration
	Sandbox SandboxConfig `yaml:"sandbox"`

	// Prompt assembly configuration
	Prompt PromptConfig `yaml:"prompt"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the generative capability client.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	// Provider: "genai" or "local"
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
}

// MemoryConfig configures the retrieval memory store.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
	ChunkWindow  int    `yaml:"chunk_window"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	TopK         int    `yaml:"top_k"`
}

// SandboxConfig configures generated-code execution.
type SandboxConfig struct {
	Timeout string `yaml:"timeout"`
	// MaxParallelCharts bounds concurrent chart snippet execution.
	MaxParallelCharts int `yaml:"max_parallel_charts"`
}

// PromptConfig configures context assembly.
type PromptConfig struct {
	// MaxBytes caps the assembled user message size.
	MaxBytes int `yaml:"max_bytes"`
	// SampleRows is the number of dataset rows included in summaries.
	SampleRows int `yaml:"sample_rows"`
}

// LoggingConfig controls the category file loggers.
type LoggingConfig struct {
	DebugMode bool   `yaml:"debug_mode"`
	Level     string `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "datascribe",
		Version: "0.1.0",
		LLM: LLMConfig{
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "5m",
		},
		Embedding: EmbeddingConfig{
			Provider: "genai",
			Model:    "gemini-embedding-001",
		},
		Memory: MemoryConfig{
			DatabasePath: ".datascribe/memory.db",
			ChunkWindow:  1200,
			ChunkOverlap: 200,
			TopK:         5,
		},
		Sandbox: SandboxConfig{
			Timeout:           "30s",
			MaxParallelCharts: 4,
		},
		Prompt: PromptConfig{
			MaxBytes:   48 * 1024,
			SampleRows: 5,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
// Secrets should come from the environment, not the config file.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = key
		}
		if c.Embedding.APIKey == "" {
			c.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("DATASCRIBE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if path := os.Getenv("DATASCRIBE_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if model := os.Getenv("DATASCRIBE_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetSandboxTimeout returns the sandbox timeout as a duration.
func (c *Config) GetSandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// Validate checks the configuration for basic sanity.
func (c *Config) Validate() error {
	if c.Memory.ChunkWindow <= 0 {
		return fmt.Errorf("memory.chunk_window must be positive")
	}
	if c.Memory.ChunkOverlap < 0 || c.Memory.ChunkOverlap >= c.Memory.ChunkWindow {
		return fmt.Errorf("memory.chunk_overlap must be in [0, chunk_window)")
	}
	if c.Memory.TopK < 0 {
		return fmt.Errorf("memory.top_k must not be negative")
	}
	if c.Prompt.MaxBytes <= 0 {
		return fmt.Errorf("prompt.max_bytes must be positive")
	}
	return nil
}
