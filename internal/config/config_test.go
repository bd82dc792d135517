package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// clearEnv blanks every key so the host environment cannot leak in. Viper
// ignores empty variables.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PARAM_PREFIX", "LEDGER_TABLE", "STORE", "DYNAMODB_ENDPOINT", "PORT",
		"FAST_MODEL", "TOOLS_MODEL", "MAX_TOKENS", "TOOLS_ENABLED", "HISTORY_WINDOW",
		"MAX_MESSAGE_LENGTH", "MAX_ITERATIONS", "REQUEST_TIMEOUT", "MODEL_TIMEOUT",
		"BASELINE_PARAM", "ANTHROPIC_BASE_URL", "ANTHROPIC_API_KEY", "PERSONA_PROMPT",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/stark", cfg.ParamPrefix)
	require.Equal(t, StoreDynamoDB, cfg.Store)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, "claude-3-5-haiku-20241022", cfg.FastModel)
	require.Equal(t, "claude-sonnet-4-20250514", cfg.ToolsModel)
	require.Equal(t, int64(8192), cfg.MaxTokens)
	require.True(t, cfg.ToolsEnabled)
	require.Equal(t, 6, cfg.HistoryWindow)
	require.Equal(t, 10, cfg.MaxIterations)
	require.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	require.Equal(t, time.Minute, cfg.ModelTimeout)
	require.False(t, cfg.Local())
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "Memory")
	t.Setenv("TOOLS_ENABLED", "false")
	t.Setenv("MODEL_TIMEOUT", "90s")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store)
	require.False(t, cfg.ToolsEnabled)
	require.Equal(t, 90*time.Second, cfg.ModelTimeout)
	require.True(t, cfg.Local())
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stark.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9090\nfast_model: from-file\nlog_level: debug\n"), 0o600))
	t.Setenv("FAST_MODEL", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, "from-env", cfg.FastModel)
	require.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")

	t.Setenv("STORE", "postgres")
	_, err = Load("")
	require.ErrorContains(t, err, "store must be")
}

func TestValidate(t *testing.T) {
	valid := Config{ParamPrefix: "/stark", Store: StoreMemory, FastModel: "f", ToolsModel: "t", Port: 80, MaxTokens: 1}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"prefix", func(c *Config) { c.ParamPrefix = "/" }},
		{"table", func(c *Config) { c.Store = StoreDynamoDB; c.LedgerTable = "" }},
		{"model", func(c *Config) { c.ToolsModel = "" }},
		{"port", func(c *Config) { c.Port = 0 }},
		{"tokens", func(c *Config) { c.MaxTokens = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
