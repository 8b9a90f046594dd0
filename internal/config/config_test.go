package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate clears supported environment variables and moves into a temp dir
// so that no config file from the developer's machine is picked up.
func isolate(t *testing.T) {
	t.Helper()
	for key := range envMappings {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/vibe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://localhost/vibe" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Refresh.Interval != 7*24*time.Hour {
		t.Errorf("Refresh.Interval = %v, want 168h", cfg.Refresh.Interval)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want json", cfg.Log.Format)
	}
	if cfg.Redis.Addr != "" {
		t.Errorf("Redis.Addr = %q, want empty", cfg.Redis.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://db/vibe")
	t.Setenv("SPOTIFY_ID", "client-id")
	t.Setenv("SPOTIFY_SECRET", "client-secret")
	t.Setenv("REFRESH_INTERVAL", "48h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Spotify.ClientID != "client-id" || cfg.Spotify.ClientSecret != "client-secret" {
		t.Errorf("Spotify = %+v", cfg.Spotify)
	}
	if cfg.Refresh.Interval != 48*time.Hour {
		t.Errorf("Refresh.Interval = %v, want 48h", cfg.Refresh.Interval)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if err := cfg.RequireSpotify(); err != nil {
		t.Errorf("RequireSpotify() error = %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  url: postgres://file/vibe
server:
  addr: 0.0.0.0:9090
  cors_origins:
    - http://localhost:3000
refresh:
  interval: 72h
lastfm:
  api_key: from-file
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	// Environment wins over the file.
	t.Setenv("LASTFM_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.URL != "postgres://file/vibe" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Server.Addr != "0.0.0.0:9090" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.CORSOrigins) != 1 || cfg.Server.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.Server.RefreshLimit != 6 {
		t.Errorf("Server.RefreshLimit = %d, want default 6", cfg.Server.RefreshLimit)
	}
	if cfg.Refresh.Interval != 72*time.Hour {
		t.Errorf("Refresh.Interval = %v, want 72h", cfg.Refresh.Interval)
	}
	if cfg.LastFM.APIKey != "from-env" {
		t.Errorf("LastFM.APIKey = %q, want from-env", cfg.LastFM.APIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing database url",
			env:  map[string]string{},
		},
		{
			name: "refresh interval too short",
			env: map[string]string{
				"DATABASE_URL":     "postgres://db/vibe",
				"REFRESH_INTERVAL": "10s",
			},
		},
		{
			name: "unknown log format",
			env: map[string]string{
				"DATABASE_URL": "postgres://db/vibe",
				"LOG_FORMAT":   "xml",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			if _, err := Load(""); err == nil {
				t.Error("Load() error = nil, want validation error")
			}
		})
	}
}

func TestRequireSpotify(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.RequireSpotify(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("RequireSpotify() error = %v, want ErrMissingCredentials", err)
	}

	cfg.Spotify.ClientID = "id"
	if err := cfg.RequireSpotify(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("RequireSpotify() with only ID error = %v, want ErrMissingCredentials", err)
	}

	cfg.Spotify.ClientSecret = "secret"
	if err := cfg.RequireSpotify(); err != nil {
		t.Errorf("RequireSpotify() error = %v, want nil", err)
	}
}
