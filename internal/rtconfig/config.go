// Package rtconfig loads the runtime configuration for the orchestrator
// daemon: scheduler/shutdown/concurrency tuning, conversation budgets,
// storage locations, and LLM provider credentials. Loading adapts the
// teacher's $include-resolving, JSON5/YAML-sniffing, env-expanding raw
// loader (internal/config.LoadRaw, see rawload.go) and decodes the merged
// result into this package's own, narrower schema.
package rtconfig

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Shutdown      ShutdownConfig      `yaml:"shutdown"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	Concurrency   ConcurrencyConfig   `yaml:"concurrency"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts"`
	Persistence   PersistenceConfig   `yaml:"persistence"`
	LLM           LLMConfig           `yaml:"llm"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type SchedulerConfig struct {
	MaxConcurrent  int `yaml:"max_concurrent"`
	WaitTimeoutMs  int `yaml:"wait_timeout_ms"`
	SpinIntervalMs int `yaml:"spin_interval_ms"`
	DrainPollMs    int `yaml:"drain_poll_ms"`
	// MaxToolRounds bounds how many LLM↔tool iterations a single turn may
	// take before llmhandler escalates with max_tool_rounds_exceeded.
	MaxToolRounds int `yaml:"max_tool_rounds"`
}

type ShutdownConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// TimeoutDuration returns TimeoutMs as a time.Duration.
func (c ShutdownConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

type ConversationConfig struct {
	DefaultMaxTokens   int     `yaml:"default_max_tokens"`
	WarningThreshold   float64 `yaml:"warning_threshold"`
	CriticalThreshold  float64 `yaml:"critical_threshold"`
	HardLimitThreshold float64 `yaml:"hard_limit_threshold"`
}

type ConcurrencyConfig struct {
	// MaxConcurrentLLM caps simultaneous in-flight LLM calls across all
	// agents.
	MaxConcurrentLLM int `yaml:"max_concurrent_llm"`
}

type WorkspaceConfig struct {
	BaseDir string `yaml:"base_dir"`
}

type ArtifactsConfig struct {
	// Backend is "memory" or "local". "local" persists under BaseDir via
	// internal/artifacts's LocalStore.
	Backend string `yaml:"backend"`
	BaseDir string `yaml:"base_dir"`
}

type PersistenceConfig struct {
	// Backend is "none", "jsonfile", or "sqlite".
	Backend string `yaml:"backend"`
	// Path is a directory (jsonfile) or DSN (sqlite).
	Path string `yaml:"path"`
}

type LLMConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`
}

// ProviderConfig configures one named LLM backend. Kind selects which
// llmclient constructor to use; the rest mirrors llmclient.AnthropicConfig
// / llmclient.OpenAIConfig.
type ProviderConfig struct {
	Kind         string `yaml:"kind"` // "anthropic" or "openai"
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
	MaxRetries   int    `yaml:"max_retries"`
	RetryDelayMs int    `yaml:"retry_delay_ms"`
	SystemPrompt string `yaml:"system_prompt"`
	// SupportsVision selects whether llmhandler builds image attachments
	// into a multimodal ContentBlock for this provider (spec §4.8 step 3)
	// instead of summarizing them as text.
	SupportsVision bool `yaml:"supports_vision"`
}

// RetryDelay returns RetryDelayMs as a time.Duration.
func (p ProviderConfig) RetryDelay() time.Duration {
	return time.Duration(p.RetryDelayMs) * time.Millisecond
}

type ObservabilityConfig struct {
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	ServiceName     string `yaml:"service_name"`
}

// Default returns a Config with every field at its documented default,
// suitable for running with no config file at all.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (JSON5 or YAML, with $include support), decodes it
// into a Config, applies defaults for anything left zero, and validates
// the result.
func Load(path string) (*Config, error) {
	raw, err := loadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("rtconfig: %w", err)
	}

	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("rtconfig: re-encode raw config: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("rtconfig: decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scheduler.MaxConcurrent <= 0 {
		c.Scheduler.MaxConcurrent = 8
	}
	if c.Scheduler.WaitTimeoutMs <= 0 {
		c.Scheduler.WaitTimeoutMs = 100
	}
	if c.Scheduler.SpinIntervalMs <= 0 {
		c.Scheduler.SpinIntervalMs = 10
	}
	if c.Scheduler.DrainPollMs <= 0 {
		c.Scheduler.DrainPollMs = 10
	}
	if c.Scheduler.MaxToolRounds <= 0 {
		c.Scheduler.MaxToolRounds = 200
	}
	if c.Shutdown.TimeoutMs <= 0 {
		c.Shutdown.TimeoutMs = 30_000
	}
	if c.Conversation.DefaultMaxTokens <= 0 {
		c.Conversation.DefaultMaxTokens = 128_000
	}
	if c.Conversation.WarningThreshold <= 0 {
		c.Conversation.WarningThreshold = 0.70
	}
	if c.Conversation.CriticalThreshold <= 0 {
		c.Conversation.CriticalThreshold = 0.85
	}
	if c.Conversation.HardLimitThreshold <= 0 {
		c.Conversation.HardLimitThreshold = 0.95
	}
	if c.Concurrency.MaxConcurrentLLM <= 0 {
		c.Concurrency.MaxConcurrentLLM = 4
	}
	if c.Workspace.BaseDir == "" {
		c.Workspace.BaseDir = "./data/workspaces"
	}
	if c.Artifacts.Backend == "" {
		c.Artifacts.Backend = "memory"
	}
	if c.Artifacts.BaseDir == "" {
		c.Artifacts.BaseDir = "./data/artifacts"
	}
	if c.Persistence.Backend == "" {
		c.Persistence.Backend = "none"
	}
	if c.Persistence.Path == "" {
		c.Persistence.Path = "./data/state"
	}
	if c.LLM.DefaultProvider == "" && len(c.LLM.Providers) == 1 {
		for name := range c.LLM.Providers {
			c.LLM.DefaultProvider = name
		}
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
	if c.Observability.LogFormat == "" {
		c.Observability.LogFormat = "json"
	}
	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = "orchestratord"
	}
}

// Validate reports configuration errors that applyDefaults cannot paper
// over: an unknown persistence/artifact backend, or a default LLM
// provider that names no entry in Providers.
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case "none", "jsonfile", "sqlite":
	default:
		return fmt.Errorf("rtconfig: unknown persistence backend %q", c.Persistence.Backend)
	}
	switch c.Artifacts.Backend {
	case "memory", "local":
	default:
		return fmt.Errorf("rtconfig: unknown artifacts backend %q", c.Artifacts.Backend)
	}
	if c.LLM.DefaultProvider != "" {
		if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
			return fmt.Errorf("rtconfig: default_provider %q has no matching entry under llm.providers", c.LLM.DefaultProvider)
		}
	}
	for name, p := range c.LLM.Providers {
		switch p.Kind {
		case "anthropic", "openai":
		default:
			return fmt.Errorf("rtconfig: llm.providers.%s: unknown kind %q", name, p.Kind)
		}
	}
	return nil
}
