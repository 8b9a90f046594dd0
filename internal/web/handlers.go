package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	zspotify "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-vibe-match/internal/compat"
	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/snapshot"
	"github.com/justestif/go-spotify-vibe-match/internal/spotify"
)

const oauthStateCookie = "oauth_state"

// UserStore abstracts user persistence for testing.
type UserStore interface {
	Upsert(ctx context.Context, user *db.User) error
	Exists(ctx context.Context, id string) (bool, error)
}

// SnapshotService abstracts snapshot refresh and lookup for testing.
type SnapshotService interface {
	EnsureFresh(ctx context.Context, userID, token string) (bool, error)
	Refresh(ctx context.Context, userID, token string) error
	Snapshot(ctx context.Context, userID string) (*db.Snapshot, error)
	Status(ctx context.Context, userID string) (*snapshot.Status, error)
}

// CompatService abstracts the compatibility engine for testing.
type CompatService interface {
	GetOrCompute(ctx context.Context, a, b string) (*db.Compatibility, error)
	Recompute(ctx context.Context, a, b string) (*db.Compatibility, error)
}

// Handlers contains HTTP handlers for the web application.
type Handlers struct {
	auth      *spotifyauth.Authenticator
	sessions  *Sessions
	users     UserStore
	snapshots SnapshotService
	compat    CompatService
	ping      func(ctx context.Context) error

	// Spotify calls, replaceable in tests.
	exchange     func(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error)
	profile      func(ctx context.Context, token *oauth2.Token) (*spotify.Profile, error)
	currentToken func(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(auth *spotifyauth.Authenticator, sessions *Sessions, users UserStore, snapshots SnapshotService, engine CompatService) *Handlers {
	h := &Handlers{
		auth:      auth,
		sessions:  sessions,
		users:     users,
		snapshots: snapshots,
		compat:    engine,
	}
	h.exchange = func(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error) {
		return h.auth.Token(ctx, state, r)
	}
	h.profile = func(ctx context.Context, token *oauth2.Token) (*spotify.Profile, error) {
		return spotify.New(zspotify.New(h.auth.Client(ctx, token))).CurrentUser(ctx)
	}
	h.currentToken = func(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
		return zspotify.New(h.auth.Client(ctx, token)).Token()
	}
	return h
}

// Health reports whether the service and its database are up (GET /healthz).
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Login initiates the Spotify OAuth flow (GET /auth/login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	// Generate state for CSRF protection
	state, err := generateOAuthState()
	if err != nil {
		writeError(r.Context(), w, fmt.Errorf("generating state: %w", err))
		return
	}

	// Store state in cookie for validation on callback
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	http.Redirect(w, r, h.auth.AuthURL(state), http.StatusTemporaryRedirect)
}

// Callback handles the OAuth callback from Spotify. It stores the user,
// opens a session and refreshes the user's snapshot if it is stale.
// A failed refresh is logged and does not block the login.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Verify state
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing state cookie"})
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "state mismatch"})
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	// Check for error from Spotify
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "spotify auth error: " + errMsg})
		return
	}

	token, err := h.exchange(ctx, state, r)
	if err != nil {
		writeError(ctx, w, fmt.Errorf("exchanging code for token: %w", err))
		return
	}

	profile, err := h.profile(ctx, token)
	if err != nil {
		writeError(ctx, w, fmt.Errorf("%w: %w", spotify.ErrUpstreamFetch, err))
		return
	}

	if err := h.users.Upsert(ctx, &db.User{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
	}); err != nil {
		writeError(ctx, w, fmt.Errorf("storing user: %w", err))
		return
	}

	session, err := h.sessions.Create(ctx, token, profile.ID, profile.DisplayName)
	if err != nil {
		writeError(ctx, w, fmt.Errorf("creating session: %w", err))
		return
	}
	h.sessions.SetCookie(w, session)

	if _, err := h.snapshots.EnsureFresh(ctx, profile.ID, token.AccessToken); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("user_id", profile.ID).Msg("snapshot refresh after login failed")
	}

	http.Redirect(w, r, "/api/me", http.StatusTemporaryRedirect)
}

// Logout clears the session (POST /auth/logout).
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetFromRequest(r)
	if session != nil {
		h.sessions.Delete(r.Context(), session.ID)
	}

	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the logged-in user (GET /api/me).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, meResponse{ID: session.UserID, DisplayName: session.UserName})
}

// Status reports the freshness of the user's snapshot (GET /api/me/status).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	status, err := h.snapshots.Status(r.Context(), session.UserID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStatusResponse(status))
}

// Snapshot returns the user's stored ranked lists (GET /api/me/snapshot).
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	session := sessionFrom(r.Context())

	snap, err := h.snapshots.Snapshot(r.Context(), session.UserID)
	if errors.Is(err, db.ErrNotFound) {
		writeError(r.Context(), w, fmt.Errorf("snapshot for %s: %w", session.UserID, err))
		return
	}
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSnapshotResponse(snap))
}

// Refresh rebuilds the user's snapshot regardless of age (POST /api/me/refresh).
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(ctx)

	token, err := h.accessToken(ctx, session)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := h.snapshots.Refresh(ctx, session.UserID, token); err != nil {
		writeError(ctx, w, err)
		return
	}

	status, err := h.snapshots.Status(ctx, session.UserID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{Refreshed: true, Status: newStatusResponse(status)})
}

// Compatibility returns the stored or freshly computed result between the
// session user and {userID} (GET /api/compatibility/{userID}).
func (h *Handlers) Compatibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(ctx)
	other := chi.URLParam(r, "userID")

	if err := h.checkOther(ctx, session.UserID, other); err != nil {
		writeError(ctx, w, err)
		return
	}

	rec, err := h.compat.GetOrCompute(ctx, session.UserID, other)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, compat.ViewFor(rec, session.UserID))
}

// Recompute refreshes the session user's snapshot if stale, then replaces the
// pair's stored result (POST /api/compatibility/{userID}).
func (h *Handlers) Recompute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session := sessionFrom(ctx)
	other := chi.URLParam(r, "userID")

	if err := h.checkOther(ctx, session.UserID, other); err != nil {
		writeError(ctx, w, err)
		return
	}

	token, err := h.accessToken(ctx, session)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if _, err := h.snapshots.EnsureFresh(ctx, session.UserID, token); err != nil {
		writeError(ctx, w, err)
		return
	}

	rec, err := h.compat.Recompute(ctx, session.UserID, other)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, compat.ViewFor(rec, session.UserID))
}

// checkOther rejects self-comparison and users who never logged in.
func (h *Handlers) checkOther(ctx context.Context, self, other string) error {
	if self == other {
		return compat.ErrSameUser
	}
	ok, err := h.users.Exists(ctx, other)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s: %w", other, db.ErrNotFound)
	}
	return nil
}

// accessToken returns a valid access token for the session, refreshing it
// through Spotify when expired and saving the new token to the session.
func (h *Handlers) accessToken(ctx context.Context, session *Session) (string, error) {
	if session.Token.Valid() {
		return session.Token.AccessToken, nil
	}

	token, err := h.currentToken(ctx, session.Token)
	if err != nil {
		return "", fmt.Errorf("%w: refreshing token: %w", spotify.ErrUpstreamFetch, err)
	}
	if token.AccessToken != session.Token.AccessToken {
		h.sessions.UpdateToken(ctx, session.ID, token)
		session.Token = token
	}
	return token.AccessToken, nil
}

// generateOAuthState creates a random state string for OAuth.
func generateOAuthState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
