// Package auth logs the CLI into Spotify and keeps the login on disk.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

const (
	configDirName = "vibe-match"
	tokenFileName = "login.json"
)

// CachedLogin is a Spotify login remembered between CLI runs.
type CachedLogin struct {
	UserID  string        `json:"user_id,omitempty"`
	Token   *oauth2.Token `json:"token"`
	SavedAt time.Time     `json:"saved_at"`
}

// TokenCache stores a CachedLogin as a private JSON file.
type TokenCache struct {
	path string
}

// DefaultTokenCache uses ~/.config/vibe-match/login.json (or the platform's
// equivalent config directory).
func DefaultTokenCache() (*TokenCache, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("locating config dir: %w", err)
	}
	return NewTokenCache(filepath.Join(dir, configDirName, tokenFileName)), nil
}

// NewTokenCache creates a TokenCache backed by path.
func NewTokenCache(path string) *TokenCache {
	return &TokenCache{path: path}
}

// Path returns the backing file.
func (c *TokenCache) Path() string {
	return c.path
}

// Load returns the cached login, or nil if none was saved.
func (c *TokenCache) Load() (*CachedLogin, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.path, err)
	}

	var login CachedLogin
	if err := json.Unmarshal(data, &login); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", c.path, err)
	}
	if login.Token == nil {
		return nil, nil
	}
	return &login, nil
}

// Save writes the login atomically with owner-only permissions.
func (c *TokenCache) Save(login CachedLogin) error {
	if login.Token == nil {
		return errors.New("refusing to cache a login without a token")
	}
	if login.SavedAt.IsZero() {
		login.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(login, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding login: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".login-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("restricting temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("replacing %s: %w", c.path, err)
	}
	return nil
}

// Delete forgets the cached login. A missing file is not an error.
func (c *TokenCache) Delete() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", c.path, err)
	}
	return nil
}
