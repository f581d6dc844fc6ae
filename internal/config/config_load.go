package config

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/urgency"
)

const envPrefix = "INTENTROUTER_"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18800,
			MaxMessageChars: 4000,
			RateLimitRPM:    60,
		},
		Pipeline: PipelineConfig{
			RateLimit:           RateLimitConfig{MaxRequests: 10, WindowSeconds: 60},
			ClassifierTimeoutMs: 10000,
			SpamTimeoutMs:       5000,
			HandlerTimeoutMs:    15000,
			HistoryLimit:        20,
			ActorIdleMinutes:    24 * 60,
			DedupeTTLMinutes:    20,
			DedupeMax:           5000,
		},
		Urgency:   urgency.DefaultConfig(),
		Overrides: dispatch.DefaultOverrideConfig(),
		Classifier: ClassifierConfig{
			Mode:        "auto",
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0,
			MaxTokens:   400,
		},
		Spam: SpamConfig{Mode: "heuristic"},
		Audit: AuditConfig{
			Buffer: 1024,
		},
		Database: DatabaseConfig{
			Backend:       "sqlite",
			SQLitePath:    "data/intentrouter.db",
			MigrationsDir: "migrations",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "intentrouter",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets
	envStr("GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("LLM_API_KEY", &c.Classifier.APIKey)
	envStr("POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("DISCORD_TOKEN", &c.Channels.Discord.Token)
	for name, hook := range c.Handlers {
		envStr("HANDLER_"+strings.ToUpper(name)+"_TOKEN", &hook.Token)
		c.Handlers[name] = hook
	}

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Gateway host/port
	envStr("HOST", &c.Gateway.Host)
	if v := os.Getenv(envPrefix + "PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Pipeline
	envInt("RATE_LIMIT_MAX", &c.Pipeline.RateLimit.MaxRequests)
	envInt("RATE_LIMIT_WINDOW", &c.Pipeline.RateLimit.WindowSeconds)

	// Classifier
	envStr("CLASSIFIER_MODE", &c.Classifier.Mode)
	envStr("LLM_PROVIDER", &c.Classifier.Provider)
	envStr("LLM_MODEL", &c.Classifier.Model)
	envStr("LLM_API_BASE", &c.Classifier.APIBase)
	envStr("INPUT_LANGUAGE", &c.Classifier.InputLanguage)
	envStr("SPAM_MODE", &c.Spam.Mode)

	// Business hours
	envStr("TIMEZONE", &c.Overrides.BusinessHours.Timezone)

	// Database
	envStr("DB_BACKEND", &c.Database.Backend)
	envStr("SQLITE_PATH", &c.Database.SQLitePath)
	envStr("MIGRATIONS_DIR", &c.Database.MigrationsDir)

	// Telemetry
	envStr("TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Backend {
	case "sqlite", "memory":
	case "postgres":
		if c.Database.PostgresDSN == "" {
			errs = append(errs, errors.New("database.backend is postgres but INTENTROUTER_POSTGRES_DSN is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.backend: unknown backend %q", c.Database.Backend))
	}
	switch c.Classifier.Mode {
	case "", "auto", "keyword":
	case "llm":
		if c.Classifier.APIKey == "" {
			errs = append(errs, errors.New("classifier.mode is llm but INTENTROUTER_LLM_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier.mode: unknown mode %q", c.Classifier.Mode))
	}
	switch c.Spam.Mode {
	case "", "heuristic", "off":
	case "llm":
		if c.Classifier.APIKey == "" {
			errs = append(errs, errors.New("spam.mode is llm but INTENTROUTER_LLM_API_KEY is not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("spam.mode: unknown mode %q", c.Spam.Mode))
	}
	if c.Pipeline.RateLimit.MaxRequests > 0 && c.Pipeline.RateLimit.WindowSeconds <= 0 {
		errs = append(errs, errors.New("pipeline.rate_limit.window_seconds must be positive"))
	}
	bh := c.Overrides.BusinessHours
	if bh.Start < 0 || bh.Start > 24 || bh.End < 0 || bh.End > 24 {
		errs = append(errs, fmt.Errorf("overrides.business_hours: invalid hours %d-%d", bh.Start, bh.End))
	}
	if _, err := time.LoadLocation(bh.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("overrides.business_hours.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Hash returns a SHA-256 hash of the non-secret config, for display in doctor.
func (c *Config) Hash() string {
	data, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(data))[:12]
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// ConfigPath resolves the config file from the flag value, then
// INTENTROUTER_CONFIG, then config.json.
func ConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(envPrefix + "CONFIG"); v != "" {
		return v
	}
	return "config.json"
}
