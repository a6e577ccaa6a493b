package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	envConfigDefaultPath = "ENGLY_CONFIG_DEFAULT_PATH"
	envPrefix            = "ENGLY"
	defaultConfigName    = "config.yaml"
	dotEnvFile           = ".env"
)

// Load builds configuration from defaults, optional config file, env vars and
// flags, and returns the resolved path.
// Precedence: defaults < config file < env vars (.env included) < changed flags.
// Flags are bound by name, so a flag must be named after its key, e.g. "server.addr".
func Load(logger *zerolog.Logger, explicitPath string, flags *pflag.FlagSet) (Config, string, error) {
	cfg := Default()

	if err := godotenv.Load(dotEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, "", fmt.Errorf("load %s: %w", dotEnvFile, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, cfg)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if !strings.Contains(f.Name, ".") {
				return
			}
			if err := v.BindPFlag(f.Name, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return cfg, "", fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	configPath := resolveConfigPath(explicitPath)
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			if writeErr := writeDefaultConfig(configPath, cfg); writeErr != nil && logger != nil {
				logger.Warn().Err(writeErr).Str("path", configPath).Msg("failed to write default config")
			} else if logger != nil {
				logger.Info().Str("path", configPath).Msg("created default config")
			}
			// try reading again in case it was just written
			if readErr := v.ReadInConfig(); readErr != nil && logger != nil {
				logger.Warn().Err(readErr).Str("path", configPath).Msg("failed to read config after writing default")
			}
		} else {
			return cfg, configPath, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, configPath, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, configPath, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_header_timeout", cfg.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.database_path", cfg.Server.DatabasePath)
	v.SetDefault("server.jwt_secret", cfg.Server.JWTSecret)
	v.SetDefault("server.jwt_issuer", cfg.Server.JWTIssuer)
	v.SetDefault("server.jwt_audience", cfg.Server.JWTAudience)
	v.SetDefault("server.token_ttl", cfg.Server.TokenTTL)
	v.SetDefault("server.allow_anonymous", cfg.Server.AllowAnonymous)
	v.SetDefault("server.max_message_bytes", cfg.Server.MaxMessageBytes)
	v.SetDefault("server.max_page_size", cfg.Server.MaxPageSize)
	v.SetDefault("server.send_rate_limit", cfg.Server.SendRateLimit)
	v.SetDefault("server.redis_addr", cfg.Server.RedisAddr)
	v.SetDefault("server.redis_channel", cfg.Server.RedisChannel)

	v.SetDefault("client.api_url", cfg.Client.APIURL)
	v.SetDefault("client.ws_url", cfg.Client.WSURL)
	v.SetDefault("client.token", cfg.Client.Token)
	v.SetDefault("client.page_size", cfg.Client.PageSize)
	v.SetDefault("client.reconnect_delay", cfg.Client.ReconnectDelay)
	v.SetDefault("client.max_reconnects", cfg.Client.MaxReconnects)
	v.SetDefault("client.heartbeat_interval", cfg.Client.HeartbeatInterval)
	v.SetDefault("client.typing_idle", cfg.Client.TypingIdle)
	v.SetDefault("client.read_flush_delay", cfg.Client.ReadFlushDelay)
	v.SetDefault("client.viewport_rows", cfg.Client.ViewportRows)
}

func resolveConfigPath(explicitPath string) string {
	if explicitPath != "" {
		return explicitPath
	}

	if base := os.Getenv(envConfigDefaultPath); base != "" {
		if err := os.MkdirAll(base, 0o755); err == nil {
			return filepath.Join(base, defaultConfigName)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return defaultConfigName
	}
	return filepath.Join(cwd, defaultConfigName)
}

func writeDefaultConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
