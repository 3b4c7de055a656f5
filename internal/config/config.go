// Package config loads and validates the application configuration from
// YAML, with credentials overridable through the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"llmbridge/internal/models"
)

const (
	// DefaultConnectTimeoutSeconds applies uniformly to every upstream
	// HTTP call when the configuration leaves it unset.
	DefaultConnectTimeoutSeconds = 120

	defaultSystemPrompt = "You are an AI assistant of an AI aggregation platform."

	defaultPort = 8000
)

// Config is the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Chat      ChatConfig      `yaml:"chat"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig points at the optional PostgreSQL store. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ChatConfig tunes the orchestration layer.
type ChatConfig struct {
	// ConnectTimeoutSeconds bounds every upstream HTTP call.
	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	// DefaultProvider receives requests whose model name matches no
	// inference rule.
	DefaultProvider string `yaml:"default_provider"`
	// SystemPrompt is prepended when the caller supplies no system turn.
	SystemPrompt string `yaml:"system_prompt"`
	// SavePartialOnDisconnect persists a partially streamed reply when
	// the client goes away mid-stream.
	SavePartialOnDisconnect bool `yaml:"save_partial_on_disconnect"`
}

// ProvidersConfig holds per-vendor credentials and endpoint overrides.
type ProvidersConfig struct {
	OpenAI      ProviderConfig `yaml:"openai"`
	DeepSeek    ProviderConfig `yaml:"deepseek"`
	SiliconFlow ProviderConfig `yaml:"siliconflow"`
	Aliyuncs    ProviderConfig `yaml:"aliyuncs"`
	Doubao      ProviderConfig `yaml:"doubao"`
}

// ProviderConfig captures one vendor's default credential pair. BaseURL
// may stay empty to use the vendor's public endpoint.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// envKeyVars maps each provider to the environment variables that
// override its YAML credentials.
var envKeyVars = map[models.Provider][2]string{
	models.ProviderOpenAI:      {"OPENAI_API_KEY", "OPENAI_BASE_URL"},
	models.ProviderDeepSeek:    {"DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL"},
	models.ProviderSiliconFlow: {"SILICONFLOW_API_KEY", "SILICONFLOW_BASE_URL"},
	models.ProviderAliyuncs:    {"ALIYUNCS_API_KEY", "ALIYUNCS_BASE_URL"},
	models.ProviderDoubao:      {"DOUBAO_API_KEY", "DOUBAO_BASE_URL"},
}

// Load reads YAML configuration from disk, applies environment
// overrides, and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Chat.ConnectTimeoutSeconds == 0 {
		c.Chat.ConnectTimeoutSeconds = DefaultConnectTimeoutSeconds
	}
	if c.Chat.DefaultProvider == "" {
		c.Chat.DefaultProvider = models.ProviderOpenAI.String()
	}
	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = defaultSystemPrompt
	}
	if v := os.Getenv("DATABASE_URL"); v != "" && c.Database.URL == "" {
		c.Database.URL = v
	}
}

func (c *Config) applyEnvOverrides() {
	for provider, vars := range envKeyVars {
		pc := c.provider(provider)
		if pc == nil {
			continue
		}
		if v := os.Getenv(vars[0]); v != "" {
			pc.APIKey = v
		}
		if v := os.Getenv(vars[1]); v != "" {
			pc.BaseURL = v
		}
	}
}

func (c *Config) provider(p models.Provider) *ProviderConfig {
	switch p {
	case models.ProviderOpenAI:
		return &c.Providers.OpenAI
	case models.ProviderDeepSeek:
		return &c.Providers.DeepSeek
	case models.ProviderSiliconFlow:
		return &c.Providers.SiliconFlow
	case models.ProviderAliyuncs:
		return &c.Providers.Aliyuncs
	case models.ProviderDoubao:
		return &c.Providers.Doubao
	default:
		return nil
	}
}

// Credentials returns the default credential pair for a provider.
func (c Config) Credentials(p models.Provider) (ProviderConfig, bool) {
	pc := c.provider(p)
	if pc == nil {
		return ProviderConfig{}, false
	}
	return *pc, true
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Chat.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("chat.connect_timeout_seconds must be positive, got %d", c.Chat.ConnectTimeoutSeconds)
	}
	if _, err := models.ParseProvider(c.Chat.DefaultProvider); err != nil {
		return fmt.Errorf("chat.default_provider: %w", err)
	}
	if url := strings.TrimSpace(c.Database.URL); url != "" && !strings.HasPrefix(url, "postgres") {
		return fmt.Errorf("database.url must be a postgres DSN, got %q", c.Database.URL)
	}
	return nil
}
