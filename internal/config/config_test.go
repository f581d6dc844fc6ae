package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.json5")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Pipeline.RateLimit.MaxRequests)
	assert.Equal(t, 60, cfg.Pipeline.RateLimit.WindowSeconds)
	assert.Equal(t, "America/Sao_Paulo", cfg.Overrides.BusinessHours.Timezone)
	assert.Equal(t, 5000.0, cfg.Overrides.HighValueThreshold)
	assert.Equal(t, 72.0, cfg.Urgency.RecentProcedureHours)
	assert.Equal(t, "sqlite", cfg.Database.Backend)
	assert.True(t, cfg.Audit.LogEnabled())
	assert.True(t, cfg.Audit.StoreEnabled())
	assert.False(t, cfg.Classifier.UseLLM(), "auto without a key falls back to keywords")
}

func TestLoad_JSON5(t *testing.T) {
	p := writeConfig(t, `{
		// comments and trailing commas are fine
		gateway: { port: 9000, allowed_origins: ["https://ops.example.com"] },
		pipeline: { rate_limit: { max_requests: 3, window_seconds: 10 }, handler_timeout_ms: 2500 },
		overrides: { high_value_threshold: 8000, business_hours: { start: 9, end: 18, timezone: "UTC" } },
		handlers: { scheduler: { url: "http://flows.local/sched" } },
		audit: { log: false },
		channels: { telegram: { enabled: true, allow_from: [386246614, "alice"] } },
	}`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Gateway.Port)
	assert.Equal(t, 3, cfg.Pipeline.RateLimit.MaxRequests)
	assert.Equal(t, "2.5s", cfg.Pipeline.HandlerTimeout().String())
	assert.Equal(t, 8000.0, cfg.Overrides.HighValueThreshold)
	assert.Equal(t, 9, cfg.Overrides.BusinessHours.Start)
	assert.Equal(t, "http://flows.local/sched", cfg.Handlers["scheduler"].URL)
	assert.False(t, cfg.Audit.LogEnabled())
	assert.Equal(t, FlexibleStringSlice{"386246614", "alice"}, cfg.Channels.Telegram.AllowFrom)
	// untouched sections keep defaults
	assert.Equal(t, 20, cfg.Pipeline.HistoryLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("INTENTROUTER_PORT", "7001")
	t.Setenv("INTENTROUTER_GATEWAY_TOKEN", "tok")
	t.Setenv("INTENTROUTER_LLM_API_KEY", "sk-test")
	t.Setenv("INTENTROUTER_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("INTENTROUTER_RATE_LIMIT_MAX", "5")
	t.Setenv("INTENTROUTER_HANDLER_CLOSER_TOKEN", "flow-secret")
	t.Setenv("INTENTROUTER_TELEMETRY_ENABLED", "1")

	p := writeConfig(t, `{ handlers: { closer: { url: "http://flows.local/closer" } } }`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Gateway.Port)
	assert.Equal(t, "tok", cfg.Gateway.Token)
	assert.True(t, cfg.Classifier.UseLLM())
	assert.True(t, cfg.Channels.Telegram.Enabled, "token in env enables the channel")
	assert.Equal(t, 5, cfg.Pipeline.RateLimit.MaxRequests)
	assert.Equal(t, "flow-secret", cfg.Handlers["closer"].Token)
	assert.True(t, cfg.Telemetry.Enabled)
}

func TestLoad_SecretsIgnoredInFile(t *testing.T) {
	p := writeConfig(t, `{ gateway: { token: "from-file" }, database: { postgres_dsn: "postgres://x" } }`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Empty(t, cfg.Gateway.Token)
	assert.Empty(t, cfg.Database.PostgresDSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Backend = "postgres" }, wantErr: "POSTGRES_DSN"},
		{name: "unknown backend", mutate: func(c *Config) { c.Database.Backend = "mongo" }, wantErr: "unknown backend"},
		{name: "llm without key", mutate: func(c *Config) { c.Classifier.Mode = "llm" }, wantErr: "LLM_API_KEY"},
		{name: "bad spam mode", mutate: func(c *Config) { c.Spam.Mode = "strict" }, wantErr: "spam.mode"},
		{name: "bad timezone", mutate: func(c *Config) { c.Overrides.BusinessHours.Timezone = "Mars/Base" }, wantErr: "timezone"},
		{name: "bad hours", mutate: func(c *Config) { c.Overrides.BusinessHours.End = 30 }, wantErr: "invalid hours"},
		{name: "zero window", mutate: func(c *Config) { c.Pipeline.RateLimit.WindowSeconds = 0 }, wantErr: "window_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfigPath(t *testing.T) {
	assert.Equal(t, "x.json", ConfigPath("x.json"))
	t.Setenv("INTENTROUTER_CONFIG", "/etc/ir.json5")
	assert.Equal(t, "/etc/ir.json5", ConfigPath(""))
}

func TestHash_Stable(t *testing.T) {
	a, b := Default(), Default()
	assert.Equal(t, a.Hash(), b.Hash())
	b.Gateway.Port++
	assert.NotEqual(t, a.Hash(), b.Hash())
}
