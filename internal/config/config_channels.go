package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env INTENTROUTER_TELEGRAM_TOKEN only
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

type DiscordConfig struct {
	Enabled   bool                `json:"enabled"`
	Token     string              `json:"-"` // from env INTENTROUTER_DISCORD_TOKEN only
	AllowFrom FlexibleStringSlice `json:"allow_from"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	Token           string   `json:"-"`                           // bearer token for WS/HTTP auth, env only
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`   // WebSocket CORS whitelist (empty = allow all)
	MaxMessageChars int      `json:"max_message_chars,omitempty"` // max patient message characters (default 4000)
	RateLimitRPM    int      `json:"rate_limit_rpm,omitempty"`    // coarse per-IP limit (default 60, <0 = disabled)
}
