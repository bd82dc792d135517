// Package config loads runtime settings from environment variables and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreDynamoDB = "dynamodb"
	StoreMemory   = "memory"
)

type Config struct {
	ParamPrefix      string        `mapstructure:"param_prefix"`
	LedgerTable      string        `mapstructure:"ledger_table"`
	Store            string        `mapstructure:"store"`
	DynamoDBEndpoint string        `mapstructure:"dynamodb_endpoint"`
	Port             int           `mapstructure:"port"`
	FastModel        string        `mapstructure:"fast_model"`
	ToolsModel       string        `mapstructure:"tools_model"`
	MaxTokens        int64         `mapstructure:"max_tokens"`
	ToolsEnabled     bool          `mapstructure:"tools_enabled"`
	HistoryWindow    int           `mapstructure:"history_window"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
	MaxIterations    int           `mapstructure:"max_iterations"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	ModelTimeout     time.Duration `mapstructure:"model_timeout"`
	BaselineParam    string        `mapstructure:"baseline_param"`
	AnthropicBaseURL string        `mapstructure:"anthropic_base_url"`
	AnthropicAPIKey  string        `mapstructure:"anthropic_api_key"`
	PersonaPrompt    string        `mapstructure:"persona_prompt"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
}

// Load reads settings. Environment variables (upper-case key names) win over
// the file at path; an empty path skips the file.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetDefault("param_prefix", "/stark")
	v.SetDefault("ledger_table", "stark-ledger")
	v.SetDefault("store", StoreDynamoDB)
	v.SetDefault("dynamodb_endpoint", "")
	v.SetDefault("port", 8080)
	v.SetDefault("fast_model", "claude-3-5-haiku-20241022")
	v.SetDefault("tools_model", "claude-sonnet-4-20250514")
	v.SetDefault("max_tokens", 8192)
	v.SetDefault("tools_enabled", true)
	v.SetDefault("history_window", 6)
	v.SetDefault("max_message_length", 20000)
	v.SetDefault("max_iterations", 10)
	v.SetDefault("request_timeout", "5m")
	v.SetDefault("model_timeout", "60s")
	v.SetDefault("baseline_param", "")
	v.SetDefault("anthropic_base_url", "")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("persona_prompt", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.Trim(strings.TrimSpace(c.ParamPrefix), "/") == "" {
		return fmt.Errorf("param_prefix is required")
	}
	switch c.Store {
	case StoreDynamoDB:
		if strings.TrimSpace(c.LedgerTable) == "" {
			return fmt.Errorf("ledger_table is required for the dynamodb store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store must be %q or %q, got %q", StoreDynamoDB, StoreMemory, c.Store)
	}
	if c.FastModel == "" || c.ToolsModel == "" {
		return fmt.Errorf("fast_model and tools_model are required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	return nil
}

// Local reports whether secrets come from the environment instead of SSM.
func (c *Config) Local() bool {
	return c.AnthropicAPIKey != ""
}
