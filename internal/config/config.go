package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/intentrouter/internal/dispatch"
	"github.com/nextlevelbuilder/intentrouter/internal/handlers"
	"github.com/nextlevelbuilder/intentrouter/internal/store"
	"github.com/nextlevelbuilder/intentrouter/internal/tracing"
	"github.com/nextlevelbuilder/intentrouter/internal/urgency"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for intentrouter.
type Config struct {
	Gateway    GatewayConfig                     `json:"gateway"`
	Pipeline   PipelineConfig                    `json:"pipeline"`
	Urgency    urgency.Config                    `json:"urgency"`
	Overrides  dispatch.OverrideConfig           `json:"overrides"`
	Classifier ClassifierConfig                  `json:"classifier"`
	Spam       SpamConfig                        `json:"spam"`
	Handlers   map[string]handlers.WebhookConfig `json:"handlers,omitempty"` // target name -> webhook
	Audit      AuditConfig                       `json:"audit"`
	Database   DatabaseConfig                    `json:"database"`
	Channels   ChannelsConfig                    `json:"channels"`
	Telemetry  TelemetryConfig                   `json:"telemetry,omitempty"`
}

// PipelineConfig tunes admission and the per-turn timeouts.
type PipelineConfig struct {
	RateLimit           RateLimitConfig `json:"rate_limit"`
	ClassifierTimeoutMs int             `json:"classifier_timeout_ms,omitempty"` // default 10000
	SpamTimeoutMs       int             `json:"spam_timeout_ms,omitempty"`       // default 5000
	HandlerTimeoutMs    int             `json:"handler_timeout_ms,omitempty"`    // default 15000
	HistoryLimit        int             `json:"history_limit,omitempty"`         // history entries kept per actor (default 20)
	ActorIdleMinutes    int             `json:"actor_idle_minutes,omitempty"`    // evict idle actor state from memory (default 1440)
	DedupeTTLMinutes    int             `json:"dedupe_ttl_minutes,omitempty"`    // default 20, -1 = disabled
	DedupeMax           int             `json:"dedupe_max,omitempty"`            // default 5000
}

// RateLimitConfig is the per-actor sliding window at the pipeline entry.
type RateLimitConfig struct {
	MaxRequests   int `json:"max_requests"`   // default 10, <0 disables
	WindowSeconds int `json:"window_seconds"` // default 60
}

func (p PipelineConfig) ClassifierTimeout() time.Duration { return ms(p.ClassifierTimeoutMs) }
func (p PipelineConfig) SpamTimeout() time.Duration       { return ms(p.SpamTimeoutMs) }
func (p PipelineConfig) HandlerTimeout() time.Duration    { return ms(p.HandlerTimeoutMs) }
func (p PipelineConfig) ActorIdleTTL() time.Duration {
	return time.Duration(p.ActorIdleMinutes) * time.Minute
}
func (p PipelineConfig) DedupeTTL() time.Duration {
	return time.Duration(p.DedupeTTLMinutes) * time.Minute
}
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// ClassifierConfig selects the intent classifier.
// Mode "llm" needs an API key; "keyword" is the offline rule table; "auto"
// picks llm when a key is present.
type ClassifierConfig struct {
	Mode          string  `json:"mode,omitempty"`     // "auto" (default), "llm", "keyword"
	Provider      string  `json:"provider,omitempty"` // "openai" (default), "groq", "openrouter"
	APIBase       string  `json:"api_base,omitempty"`
	APIKey        string  `json:"-"` // from env INTENTROUTER_LLM_API_KEY only
	Model         string  `json:"model,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	InputLanguage string  `json:"input_language,omitempty"`
}

// UseLLM reports whether the configured mode resolves to the LLM classifier.
func (c ClassifierConfig) UseLLM() bool {
	switch c.Mode {
	case "llm":
		return true
	case "keyword":
		return false
	}
	return c.APIKey != ""
}

// SpamConfig selects the spam checker.
type SpamConfig struct {
	Mode  string `json:"mode,omitempty"`  // "heuristic" (default), "llm", "off"
	Model string `json:"model,omitempty"` // llm mode only; defaults to the classifier model
}

// AuditConfig controls where finished turns are recorded.
type AuditConfig struct {
	Buffer int   `json:"buffer,omitempty"` // recorder queue size (default 1024)
	Log    *bool `json:"log,omitempty"`    // log one line per turn (default true)
	Store  *bool `json:"store,omitempty"`  // persist to the database (default true)
}

func (a AuditConfig) LogEnabled() bool   { return a.Log == nil || *a.Log }
func (a AuditConfig) StoreEnabled() bool { return a.Store == nil || *a.Store }

// DatabaseConfig selects the storage backend.
// PostgresDSN is NEVER read from config.json (secret), only from env INTENTROUTER_POSTGRES_DSN.
type DatabaseConfig struct {
	Backend       string `json:"backend,omitempty"`        // "sqlite" (default), "postgres", "memory"
	SQLitePath    string `json:"sqlite_path,omitempty"`    // default data/intentrouter.db
	PostgresDSN   string `json:"-"`                        // from env INTENTROUTER_POSTGRES_DSN only
	MigrationsDir string `json:"migrations_dir,omitempty"` // default ./migrations
}

func (d DatabaseConfig) StoreConfig() store.StoreConfig {
	return store.StoreConfig{Backend: d.Backend, SQLitePath: ExpandHome(d.SQLitePath), PostgresDSN: d.PostgresDSN}
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`      // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext export, for local collectors
	ServiceName string            `json:"service_name,omitempty"` // default "intentrouter"
	Headers     map[string]string `json:"headers,omitempty"`      // extra headers (e.g. auth tokens for cloud backends)
}

func (t TelemetryConfig) TracingConfig() tracing.Config {
	return tracing.Config{
		Enabled:     t.Enabled,
		Endpoint:    t.Endpoint,
		Protocol:    t.Protocol,
		Insecure:    t.Insecure,
		ServiceName: t.ServiceName,
		Headers:     t.Headers,
	}
}
