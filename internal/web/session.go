// Package web provides the HTTP surface: Spotify login and the JSON API.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
)

const (
	sessionCookieName = "session_id"
	sessionTTL        = 24 * time.Hour

	// DefaultCleanupInterval is how often expired sessions are purged.
	DefaultCleanupInterval = time.Hour
)

// Session is a logged-in browser.
type Session struct {
	ID        string
	Token     *oauth2.Token
	UserID    string
	UserName  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (s *Session) expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// SessionBackend persists sessions. Load returns db.ErrNotFound for an
// unknown id; expiry is checked by the caller.
type SessionBackend interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	SaveToken(ctx context.Context, id string, token *oauth2.Token) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// Sessions issues session ids, tracks their lifetime and maps them to cookies.
type Sessions struct {
	backend SessionBackend
	secure  bool
	now     func() time.Time
}

// SessionOption configures Sessions.
type SessionOption func(*Sessions)

// WithSecureCookies marks the session cookie Secure; use it when the site is
// served over https.
func WithSecureCookies(secure bool) SessionOption {
	return func(s *Sessions) {
		s.secure = secure
	}
}

// NewSessions creates Sessions on top of backend.
func NewSessions(backend SessionBackend, opts ...SessionOption) *Sessions {
	s := &Sessions{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a session for the user.
func (s *Sessions) Create(ctx context.Context, token *oauth2.Token, userID, userName string) (*Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &Session{
		ID:        id,
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := s.backend.Save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns the live session with the given id, or nil.
func (s *Sessions) Get(ctx context.Context, id string) *Session {
	session, err := s.backend.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.Ctx(ctx).Warn().Err(err).Msg("failed to load session")
		}
		return nil
	}
	if session.expired(s.now()) {
		return nil
	}
	return session
}

// GetFromRequest returns the session named by the request's cookie, or nil.
func (s *Sessions) GetFromRequest(r *http.Request) *Session {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	return s.Get(r.Context(), cookie.Value)
}

// Delete ends a session.
func (s *Sessions) Delete(ctx context.Context, id string) {
	if err := s.backend.Delete(ctx, id); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to delete session")
	}
}

// UpdateToken stores a refreshed Spotify token for the session.
func (s *Sessions) UpdateToken(ctx context.Context, id string, token *oauth2.Token) {
	if err := s.backend.SaveToken(ctx, id, token); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("failed to store refreshed token")
	}
}

// RunCleanup purges expired sessions every interval until ctx is done.
func (s *Sessions) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.backend.DeleteExpired(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("session cleanup failed")
				continue
			}
			if n > 0 {
				logging.Debug().Int64("deleted", n).Msg("expired sessions removed")
			}
		}
	}
}

// SetCookie points the browser at session.
func (s *Sessions) SetCookie(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
}

// ClearCookie removes the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		MaxAge:   -1,
	})
}

func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// MemorySessions keeps sessions in process memory. Sessions are lost on
// restart; it suits tests and single-instance development.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessions creates an empty MemorySessions.
func NewMemorySessions() *MemorySessions {
	return &MemorySessions{sessions: make(map[string]Session)}
}

func (m *MemorySessions) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	m.sessions[s.ID] = *s
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, db.ErrNotFound
	}
	return &s, nil
}

func (m *MemorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessions) SaveToken(_ context.Context, id string, token *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return db.ErrNotFound
	}
	s.Token = token
	m.sessions[id] = s
	return nil
}

func (m *MemorySessions) DeleteExpired(_ context.Context) (int64, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, s := range m.sessions {
		if s.expired(now) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// DBSessions stores sessions in PostgreSQL alongside the user rows.
type DBSessions struct {
	database *db.DB
}

// NewDBSessions creates a database-backed SessionBackend.
func NewDBSessions(database *db.DB) *DBSessions {
	return &DBSessions{database: database}
}

func (d *DBSessions) Save(ctx context.Context, s *Session) error {
	return d.database.Sessions().Create(ctx, &db.Session{
		ID:           s.ID,
		UserID:       s.UserID,
		AccessToken:  s.Token.AccessToken,
		RefreshToken: s.Token.RefreshToken,
		TokenExpiry:  s.Token.Expiry,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
	})
}

func (d *DBSessions) Load(ctx context.Context, id string) (*Session, error) {
	row, err := d.database.Sessions().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID: row.ID,
		Token: &oauth2.Token{
			AccessToken:  row.AccessToken,
			RefreshToken: row.RefreshToken,
			Expiry:       row.TokenExpiry,
			TokenType:    "Bearer",
		},
		UserID:    row.UserID,
		UserName:  row.DisplayName,
		CreatedAt: row.CreatedAt,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

func (d *DBSessions) Delete(ctx context.Context, id string) error {
	return d.database.Sessions().Delete(ctx, id)
}

func (d *DBSessions) SaveToken(ctx context.Context, id string, token *oauth2.Token) error {
	return d.database.Sessions().UpdateToken(ctx, id, token.AccessToken, token.RefreshToken, token.Expiry)
}

func (d *DBSessions) DeleteExpired(ctx context.Context) (int64, error) {
	return d.database.Sessions().DeleteExpired(ctx)
}

var (
	_ SessionBackend = (*MemorySessions)(nil)
	_ SessionBackend = (*DBSessions)(nil)
)
