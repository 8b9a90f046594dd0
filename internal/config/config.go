// Package config loads application configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrMissingCredentials is returned when the Spotify client ID or secret is not set.
var ErrMissingCredentials = errors.New("missing SPOTIFY_ID or SPOTIFY_SECRET")

// PathEnvVar overrides the config file location.
const PathEnvVar = "CONFIG_PATH"

// DefaultPaths are searched in order when no explicit path is given.
var DefaultPaths = []string{
	"vibe-match.yaml",
	"vibe-match.yml",
	"/etc/vibe-match/config.yaml",
}

// Config is the complete application configuration.
type Config struct {
	Spotify  SpotifyConfig  `koanf:"spotify"`
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Refresh  RefreshConfig  `koanf:"refresh"`
	LastFM   LastFMConfig   `koanf:"lastfm"`
	Redis    RedisConfig    `koanf:"redis"`
	Log      LogConfig      `koanf:"log"`
}

// SpotifyConfig holds OAuth application credentials.
type SpotifyConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	RedirectURL  string `koanf:"redirect_url" validate:"required,url"`
}

// DatabaseConfig holds the PostgreSQL connection string.
type DatabaseConfig struct {
	URL string `koanf:"url" validate:"required"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `koanf:"addr" validate:"required,hostname_port"`

	// CORSOrigins lists browser origins allowed to call the API. Empty disables CORS.
	CORSOrigins []string `koanf:"cors_origins" validate:"dive,url"`

	// RefreshLimit caps Spotify-backed requests per user per minute.
	RefreshLimit int `koanf:"refresh_limit" validate:"min=1"`
}

// RefreshConfig controls snapshot staleness.
type RefreshConfig struct {
	Interval time.Duration `koanf:"interval" validate:"min=1m"`
}

// LastFMConfig enables genre fallback when APIKey is set.
type LastFMConfig struct {
	APIKey string `koanf:"api_key"`
}

// RedisConfig enables the pairwise result cache when Addr is set.
type RedisConfig struct {
	Addr string        `koanf:"addr" validate:"omitempty,hostname_port"`
	TTL  time.Duration `koanf:"ttl"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

func defaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			RefreshLimit: 6,
		},
		Refresh: RefreshConfig{
			Interval: 7 * 24 * time.Hour,
		},
		Redis: RedisConfig{
			TTL: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// envMappings maps supported environment variables to config keys.
var envMappings = map[string]string{
	"SPOTIFY_ID":           "spotify.client_id",
	"SPOTIFY_SECRET":       "spotify.client_secret",
	"SPOTIFY_REDIRECT_URL": "spotify.redirect_url",
	"DATABASE_URL":         "database.url",
	"SERVER_ADDR":          "server.addr",
	"SERVER_REFRESH_LIMIT": "server.refresh_limit",
	"REFRESH_INTERVAL":     "refresh.interval",
	"LASTFM_API_KEY":       "lastfm.api_key",
	"REDIS_ADDR":           "redis.addr",
	"REDIS_TTL":            "redis.ttl",
	"LOG_LEVEL":            "log.level",
	"LOG_FORMAT":           "log.format",
}

// envTransform returns the config key for an environment variable, or ""
// to ignore it.
func envTransform(key string) string {
	return envMappings[strings.ToUpper(key)]
}

// Load builds the configuration. An empty path falls back to CONFIG_PATH and
// then DefaultPaths; a missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// RequireSpotify returns ErrMissingCredentials unless both Spotify
// credentials are set.
func (c *Config) RequireSpotify() error {
	if c.Spotify.ClientID == "" || c.Spotify.ClientSecret == "" {
		return ErrMissingCredentials
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
