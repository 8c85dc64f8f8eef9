// Package config handles Vika configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/vika/config.yaml, /etc/vika/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vika", "config.yaml"))
	}

	paths = append(paths, "/etc/vika/config.yaml")
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

// Config holds all Vika configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Store     StoreConfig     `yaml:"store"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Limits    LimitsConfig    `yaml:"limits"`
	DataDir   string          `yaml:"data_dir"`
	PromptDir string          `yaml:"prompt_dir"`
	LogLevel  string          `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`      // Default: claude-sonnet-4-20250514
	MaxTokens int    `yaml:"max_tokens"` // Per-response cap (default 1024; spoken replies are short)
}

// StoreConfig defines the tire store / ERP backend connection.
type StoreConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"` // Per-request timeout (default 10)
	Retries    int    `yaml:"retries"`     // Retry count for idempotent reads (default 2)
}

// KnowledgeConfig defines the knowledge base used by lookup_knowledge.
type KnowledgeConfig struct {
	// DBPath overrides the default location under data_dir.
	DBPath string `yaml:"db_path"`
	// SourceDir holds markdown documents imported by `vika ingest`.
	SourceDir string `yaml:"source_dir"`
}

// MQTTConfig defines the optional telemetry publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g. mqtt://broker:1883 or mqtts://broker:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`          // Topic segment; default "vika"
	PublishIntervalSec int    `yaml:"publish_interval_sec"` // State publish period; default 60
}

// LimitsConfig bounds the per-turn conversation loop.
type LimitsConfig struct {
	// MaxHistoryMessages caps conversation history sent to the model.
	// Oldest messages beyond the window are trimmed (the opening
	// message is always kept as anchor context).
	MaxHistoryMessages int `yaml:"max_history_messages"`
	// MaxToolCallsPerTurn caps cumulative tool dispatches within one
	// caller utterance, bounding runaway tool-calling loops.
	MaxToolCallsPerTurn int `yaml:"max_tool_calls_per_turn"`
}

// Defaults applied when limits are unset or nonsensical.
const (
	DefaultMaxHistoryMessages  = 40
	DefaultMaxToolCallsPerTurn = 8
)

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
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 1024,
		},
		Store: StoreConfig{
			TimeoutSec: 10,
			Retries:    2,
		},
		DataDir: "data",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Limits.MaxHistoryMessages <= 0 {
		c.Limits.MaxHistoryMessages = DefaultMaxHistoryMessages
	}
	if c.Limits.MaxToolCallsPerTurn <= 0 {
		c.Limits.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = 1024
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "vika"
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
}

// KnowledgeDBPath returns the knowledge database location, honoring
// the db_path override and defaulting under data_dir.
func (c *Config) KnowledgeDBPath() string {
	if c.Knowledge.DBPath != "" {
		return c.Knowledge.DBPath
	}
	return filepath.Join(c.DataDir, "knowledge.db")
}

// ArchiveDBPath returns the call transcript archive location.
func (c *Config) ArchiveDBPath() string {
	return filepath.Join(c.DataDir, "calls.db")
}
