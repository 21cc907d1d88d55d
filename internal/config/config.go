// Package config handles Wellpen configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit -config flag is given: ./config.yaml,
// ~/.config/wellpen/config.yaml, /etc/wellpen/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wellpen", "config.yaml"))
	}

	return append(paths, "/etc/wellpen/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist;
// otherwise the first existing entry of DefaultSearchPaths wins.
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

// Config holds all Wellpen configuration.
type Config struct {
	Anthropic  AnthropicConfig         `yaml:"anthropic"`
	Ollama     OllamaConfig            `yaml:"ollama"`
	Models     ModelsConfig            `yaml:"models"`
	Pricing    map[string]PricingEntry `yaml:"pricing"`
	Loop       LoopConfig              `yaml:"loop"`
	Retry      RetryConfig             `yaml:"retry"`
	RateLimit  RateLimitConfig         `yaml:"rate_limit"`
	Embeddings EmbeddingsConfig        `yaml:"embeddings"`
	Search     SearchConfig            `yaml:"search"`
	MQTT       MQTTConfig              `yaml:"mqtt"`
	Metrics    MetricsConfig           `yaml:"metrics"`
	DataDir    string                  `yaml:"data_dir"`
	TalentsDir string                  `yaml:"talents_dir"`
	LogLevel   string                  `yaml:"log_level"`
	LogFormat  string                  `yaml:"log_format"` // text (default) or json
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`   // Default: https://api.anthropic.com
	MaxTokens int    `yaml:"max_tokens"` // Default: 4096
}

// OllamaConfig defines a local Ollama server used for chat and embeddings.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// ModelsConfig selects which model each agent role talks to.
type ModelsConfig struct {
	// Default is used for any role without an explicit entry in Roles.
	Default string `yaml:"default"`
	// Roles maps an agent role name (briefing, wellness, preview,
	// generation, feedback) to a model name.
	Roles map[string]string `yaml:"roles"`
	// Available lists known models and the provider serving them.
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig binds a model name to a provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic, ollama
}

// ForRole returns the model configured for role, falling back to Default.
func (m ModelsConfig) ForRole(role string) string {
	if model, ok := m.Roles[role]; ok && model != "" {
		return model
	}
	return m.Default
}

// PricingEntry is the per-million-token price of one model. The key
// "default" in Config.Pricing applies to models missing from the table.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// LoopConfig bounds a single tool-use turn.
type LoopConfig struct {
	MaxRounds      int `yaml:"max_rounds"`       // Default: 8
	ToolTimeoutSec int `yaml:"tool_timeout_sec"` // Default: 30
}

// RetryConfig controls retry of transient provider failures.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`     // Default: 4 (first call included)
	InitialDelayMs int `yaml:"initial_delay_ms"` // Default: 500
	MaxDelayMs     int `yaml:"max_delay_ms"`     // Default: 8000
	CallTimeoutSec int `yaml:"call_timeout_sec"` // Default: 120
}

// RateLimitConfig defines the per-user sliding window.
type RateLimitConfig struct {
	Requests  int `yaml:"requests"`   // Default: 20
	WindowSec int `yaml:"window_sec"` // Default: 60
}

// EmbeddingsConfig defines the embedding model used by knowledge search.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Default: nomic-embed-text
	BaseURL string `yaml:"baseurl"` // Defaults to ollama.url
}

// SearchConfig enables the web_search tool for fact checking. Every
// configured backend is used; Primary is tried first.
type SearchConfig struct {
	Primary string `yaml:"primary"` // searxng or brave; default: first configured
	SearXNG struct {
		URL string `yaml:"url"`
	} `yaml:"searxng"`
	Brave struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"brave"`
}

// Configured reports whether any search backend is set.
func (s SearchConfig) Configured() bool {
	return s.SearXNG.URL != "" || s.Brave.APIKey != ""
}

// MQTTConfig enables publishing stage handoffs to an MQTT broker.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. mqtt://localhost:1883; empty disables
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: wellpen
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether a broker was given.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// MetricsConfig exposes Prometheus metrics on an optional listener.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // e.g. 127.0.0.1:9464; empty disables
}

// Load reads configuration from a YAML file, expanding environment
// variables, and applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Default returns a configuration that talks to a local Ollama server.
func Default() *Config {
	cfg := &Config{
		Ollama: OllamaConfig{URL: "http://localhost:11434"},
		Models: ModelsConfig{
			Default: "qwen3:8b",
			Available: []ModelConfig{
				{Name: "qwen3:8b", Provider: "ollama"},
			},
		},
		DataDir: "./data",
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Anthropic.BaseURL == "" {
		c.Anthropic.BaseURL = "https://api.anthropic.com"
	}
	if c.Anthropic.MaxTokens <= 0 {
		c.Anthropic.MaxTokens = 4096
	}
	if c.Loop.MaxRounds <= 0 {
		c.Loop.MaxRounds = 8
	}
	if c.Loop.ToolTimeoutSec <= 0 {
		c.Loop.ToolTimeoutSec = 30
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 4
	}
	if c.Retry.InitialDelayMs <= 0 {
		c.Retry.InitialDelayMs = 500
	}
	if c.Retry.MaxDelayMs <= 0 {
		c.Retry.MaxDelayMs = 8000
	}
	if c.Retry.CallTimeoutSec <= 0 {
		c.Retry.CallTimeoutSec = 120
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 20
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "nomic-embed-text"
	}
	if c.Embeddings.BaseURL == "" {
		c.Embeddings.BaseURL = c.Ollama.URL
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "wellpen"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "wellpen"
	}
	c.DataDir = expandHome(c.DataDir)
	c.TalentsDir = expandHome(c.TalentsDir)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "anthropic":
			if c.Anthropic.APIKey == "" {
				errs = append(errs, fmt.Errorf("model %q uses anthropic but anthropic.api_key is empty", m.Name))
			}
		case "ollama":
			if c.Ollama.URL == "" {
				errs = append(errs, fmt.Errorf("model %q uses ollama but ollama.url is empty", m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider))
		}
	}
	for name, p := range c.Pricing {
		if p.InputPerMillion < 0 || p.OutputPerMillion < 0 {
			errs = append(errs, fmt.Errorf("pricing %q: negative rate", name))
		}
	}
	switch c.Search.Primary {
	case "", "searxng", "brave":
	default:
		errs = append(errs, fmt.Errorf("search.primary: unknown backend %q", c.Search.Primary))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
