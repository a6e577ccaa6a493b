package config

import "time"

// Config holds configuration for both the reference server and the chat client.
type Config struct {
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LogConfig controls the zerolog output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig holds reference backend values.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	JWTSecret         string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer         string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience       string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	AllowAnonymous    bool          `mapstructure:"allow_anonymous" yaml:"allow_anonymous"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxPageSize       int           `mapstructure:"max_page_size" yaml:"max_page_size"`
	SendRateLimit     int           `mapstructure:"send_rate_limit" yaml:"send_rate_limit"`
	RedisAddr         string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisChannel      string        `mapstructure:"redis_channel" yaml:"redis_channel"`
}

// ClientConfig holds chat client values.
type ClientConfig struct {
	APIURL            string        `mapstructure:"api_url" yaml:"api_url"`
	WSURL             string        `mapstructure:"ws_url" yaml:"ws_url"`
	Token             string        `mapstructure:"token" yaml:"token"`
	PageSize          int           `mapstructure:"page_size" yaml:"page_size"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	MaxReconnects     int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	TypingIdle        time.Duration `mapstructure:"typing_idle" yaml:"typing_idle"`
	ReadFlushDelay    time.Duration `mapstructure:"read_flush_delay" yaml:"read_flush_delay"`
	ViewportRows      int           `mapstructure:"viewport_rows" yaml:"viewport_rows"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   5 * time.Second,
			DatabasePath:      "engly.db",
			JWTSecret:         "change-me",
			JWTIssuer:         "engly",
			JWTAudience:       "engly-chat",
			TokenTTL:          24 * time.Hour,
			AllowAnonymous:    true,
			MaxMessageBytes:   1 << 20,
			MaxPageSize:       100,
			SendRateLimit:     120,
			RedisChannel:      "engly:topics",
		},
		Client: ClientConfig{
			APIURL:            "http://localhost:8080",
			WSURL:             "ws://localhost:8080/chat",
			PageSize:          30,
			ReconnectDelay:    8 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			TypingIdle:        2 * time.Second,
			ReadFlushDelay:    time.Second,
			ViewportRows:      20,
		},
	}
}
