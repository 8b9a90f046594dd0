package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-vibe-match/internal/config"
)

func testCache(t *testing.T) *TokenCache {
	t.Helper()
	return NewTokenCache(filepath.Join(t.TempDir(), "nested", "login.json"))
}

func testConfig() config.SpotifyConfig {
	return config.SpotifyConfig{
		ClientID:     "id",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:0/callback",
	}
}

func TestTokenCacheRoundTrip(t *testing.T) {
	cache := testCache(t)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)

	err := cache.Save(CachedLogin{
		UserID: "alice",
		Token: &oauth2.Token{
			AccessToken:  "access",
			RefreshToken: "refresh",
			TokenType:    "Bearer",
			Expiry:       expiry,
		},
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	login, err := cache.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if login == nil {
		t.Fatal("Load() = nil, want login")
	}
	if login.UserID != "alice" {
		t.Errorf("UserID = %q, want alice", login.UserID)
	}
	if login.Token.AccessToken != "access" || login.Token.RefreshToken != "refresh" {
		t.Errorf("Token = %+v", login.Token)
	}
	if !login.Token.Expiry.Equal(expiry) {
		t.Errorf("Expiry = %v, want %v", login.Token.Expiry, expiry)
	}
	if login.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}
}

func TestTokenCacheLoadMissing(t *testing.T) {
	login, err := testCache(t).Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if login != nil {
		t.Errorf("Load() = %+v, want nil", login)
	}
}

func TestTokenCacheLoadCorrupt(t *testing.T) {
	cache := testCache(t)
	if err := os.MkdirAll(filepath.Dir(cache.Path()), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cache.Path(), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Load(); err == nil {
		t.Error("Load() error = nil, want decode error")
	}
}

func TestTokenCacheSaveRejectsMissingToken(t *testing.T) {
	if err := testCache(t).Save(CachedLogin{UserID: "alice"}); err == nil {
		t.Error("Save() error = nil, want error")
	}
}

func TestTokenCacheFilePermissions(t *testing.T) {
	cache := testCache(t)
	if err := cache.Save(CachedLogin{Token: &oauth2.Token{AccessToken: "secret"}}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(cache.Path())
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		t.Errorf("permissions = %o, want no group/other access", perm)
	}

	entries, err := os.ReadDir(filepath.Dir(cache.Path()))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the login file", len(entries))
	}
}

func TestTokenCacheDelete(t *testing.T) {
	cache := testCache(t)
	if err := cache.Save(CachedLogin{Token: &oauth2.Token{AccessToken: "a"}}); err != nil {
		t.Fatal(err)
	}

	if err := cache.Delete(); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(cache.Path()); !os.IsNotExist(err) {
		t.Error("login file still exists")
	}
	if err := cache.Delete(); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
}

func TestNewMissingCredentials(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{"both missing", "", ""},
		{"id missing", "", "secret"},
		{"secret missing", "id", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.ClientID, cfg.ClientSecret = tt.id, tt.secret

			_, err := New(cfg, testCache(t))
			if !errors.Is(err, config.ErrMissingCredentials) {
				t.Errorf("New() error = %v, want ErrMissingCredentials", err)
			}
		})
	}
}

func TestNewParsesRedirect(t *testing.T) {
	cfg := testConfig()
	cfg.RedirectURL = "http://127.0.0.1:9999/auth/callback"

	a, err := New(cfg, testCache(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if a.callbackURL.Host != "127.0.0.1:9999" || a.callbackURL.Path != "/auth/callback" {
		t.Errorf("callbackURL = %v", a.callbackURL)
	}
	if a.timeout != DefaultCallbackTimeout {
		t.Errorf("timeout = %v, want %v", a.timeout, DefaultCallbackTimeout)
	}

	cfg.RedirectURL = "not a url"
	if _, err := New(cfg, testCache(t)); err == nil {
		t.Error("New() with bad redirect error = nil, want error")
	}
}

func TestNewSpotifyAuthScopes(t *testing.T) {
	authURL, err := url.Parse(NewSpotifyAuth(testConfig()).AuthURL("state-123"))
	if err != nil {
		t.Fatalf("parsing AuthURL: %v", err)
	}
	q := authURL.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q, want state-123", q.Get("state"))
	}
	for _, scope := range []string{"user-top-read", "user-read-email"} {
		if !strings.Contains(q.Get("scope"), scope) {
			t.Errorf("scope = %q, want %s", q.Get("scope"), scope)
		}
	}
}

func TestCallbackHandlerRejects(t *testing.T) {
	a, err := New(testConfig(), testCache(t))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		query   string
		wantErr error
	}{
		{"state mismatch", "state=other&code=abc", ErrStateMismatch},
		{"denied", "state=expected&error=access_denied", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := make(chan callbackResult, 1)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil)

			a.callbackHandler("expected", results).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			res := <-results
			if res.err == nil || res.token != nil {
				t.Fatalf("result = %+v, want error only", res)
			}
			if tt.wantErr != nil && !errors.Is(res.err, tt.wantErr) {
				t.Errorf("err = %v, want %v", res.err, tt.wantErr)
			}
		})
	}
}

func TestCallbackHandlerKeepsFirstOutcome(t *testing.T) {
	a, err := New(testConfig(), testCache(t))
	if err != nil {
		t.Fatal(err)
	}
	results := make(chan callbackResult, 1)
	handler := a.callbackHandler("expected", results)

	for range 2 {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/callback?state=x", nil))
	}

	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}
}

func TestAwaitCallbackTimeout(t *testing.T) {
	a, err := New(testConfig(), testCache(t),
		WithOutput(io.Discard),
		WithCallbackTimeout(20*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}

	_, err = a.awaitCallback(context.Background())
	if !errors.Is(err, ErrAuthTimeout) {
		t.Errorf("awaitCallback() error = %v, want ErrAuthTimeout", err)
	}
}

func TestAwaitCallbackCanceled(t *testing.T) {
	a, err := New(testConfig(), testCache(t), WithOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.awaitCallback(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("awaitCallback() error = %v, want context.Canceled", err)
	}
}

func TestGenerateState(t *testing.T) {
	s1, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error = %v", err)
	}
	s2, err := generateState()
	if err != nil {
		t.Fatalf("generateState() error = %v", err)
	}
	if len(s1) != 32 {
		t.Errorf("len = %d, want 32", len(s1))
	}
	if s1 == s2 {
		t.Error("generateState() repeated a value")
	}
}
