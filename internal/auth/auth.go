package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-vibe-match/internal/config"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
)

// DefaultCallbackTimeout is how long the CLI waits for the browser redirect.
const DefaultCallbackTimeout = 2 * time.Minute

// Scopes are the permissions requested from Spotify: top items plus the
// profile fields stored for the user.
var Scopes = []string{
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadEmail,
}

var (
	// ErrAuthTimeout is returned when the OAuth callback is not received in time.
	ErrAuthTimeout = errors.New("authentication timed out waiting for callback")

	// ErrStateMismatch is returned when the OAuth state parameter doesn't match.
	ErrStateMismatch = errors.New("OAuth state mismatch")
)

// NewSpotifyAuth builds the OAuth authenticator shared by the CLI and web flows.
func NewSpotifyAuth(cfg config.SpotifyConfig) *spotifyauth.Authenticator {
	return spotifyauth.New(
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithScopes(Scopes...),
	)
}

// Result is a logged-in Spotify client with the token it is currently using.
type Result struct {
	Client *spotify.Client
	Token  *oauth2.Token
	UserID string
}

// Authenticator logs the CLI user into Spotify, reusing the cached login
// while Spotify still accepts it.
type Authenticator struct {
	auth        *spotifyauth.Authenticator
	cache       *TokenCache
	callbackURL *url.URL
	out         io.Writer
	timeout     time.Duration
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithOutput sets where login instructions are printed (stdout by default).
func WithOutput(w io.Writer) Option {
	return func(a *Authenticator) {
		a.out = w
	}
}

// WithCallbackTimeout bounds the wait for the browser redirect.
func WithCallbackTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// New creates an Authenticator. The redirect URL's host and path are where
// the temporary callback listener runs.
// Returns config.ErrMissingCredentials if the client ID or secret is not set.
func New(cfg config.SpotifyConfig, cache *TokenCache, opts ...Option) (*Authenticator, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, config.ErrMissingCredentials
	}

	callbackURL, err := url.Parse(cfg.RedirectURL)
	if err != nil || callbackURL.Host == "" {
		return nil, fmt.Errorf("invalid redirect URL %q", cfg.RedirectURL)
	}

	a := &Authenticator{
		auth:        NewSpotifyAuth(cfg),
		cache:       cache,
		callbackURL: callbackURL,
		out:         os.Stdout,
		timeout:     DefaultCallbackTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate returns a logged-in client. The cached login is tried first;
// if Spotify rejects it the browser flow runs and the new login is cached.
func (a *Authenticator) Authenticate(ctx context.Context) (*Result, error) {
	login, err := a.cache.Load()
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("ignoring unreadable cached login")
	}

	if login != nil {
		res, err := a.resume(ctx, login.Token)
		if err == nil {
			logging.Ctx(ctx).Debug().Str("user_id", res.UserID).Msg("using cached login")
			return res, nil
		}
		logging.Ctx(ctx).Info().Err(err).Msg("cached login rejected, logging in again")
	}

	token, err := a.awaitCallback(ctx)
	if err != nil {
		return nil, err
	}
	return a.resume(ctx, token)
}

// resume checks token against Spotify and caches whatever token the client
// ends up holding, which differs from token after a refresh.
func (a *Authenticator) resume(ctx context.Context, token *oauth2.Token) (*Result, error) {
	client := spotify.New(a.auth.Client(ctx, token), spotify.WithRetry(true))

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying login: %w", err)
	}

	current, err := client.Token()
	if err != nil {
		current = token
	}

	if err := a.cache.Save(CachedLogin{UserID: user.ID, Token: current}); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("path", a.cache.Path()).Msg("failed to cache login")
	}
	return &Result{Client: client, Token: current, UserID: user.ID}, nil
}

// Logout forgets the cached login.
func (a *Authenticator) Logout() error {
	return a.cache.Delete()
}

type callbackResult struct {
	token *oauth2.Token
	err   error
}

// awaitCallback serves the redirect URL until Spotify calls back, the
// timeout passes or ctx is done.
func (a *Authenticator) awaitCallback(ctx context.Context) (*oauth2.Token, error) {
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state: %w", err)
	}

	ln, err := net.Listen("tcp", a.callbackURL.Host)
	if err != nil {
		return nil, fmt.Errorf("listening for callback on %s: %w", a.callbackURL.Host, err)
	}

	results := make(chan callbackResult, 1)
	mux := http.NewServeMux()
	mux.Handle(a.callbackURL.Path, a.callbackHandler(state, results))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			deliver(results, callbackResult{err: fmt.Errorf("callback server: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(a.out, "\nOpen this URL in your browser to log in to Spotify:\n%s\n\nWaiting for the callback...\n",
		a.auth.AuthURL(state))

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	select {
	case res := <-results:
		return res.token, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrAuthTimeout
		}
		return nil, ctx.Err()
	}
}

// callbackHandler completes the authorization code exchange and reports the
// outcome on results. Only the first outcome is kept.
func (a *Authenticator) callbackHandler(state string, results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "state mismatch", http.StatusBadRequest)
			deliver(results, callbackResult{err: ErrStateMismatch})
			return
		case q.Get("error") != "":
			http.Error(w, "Spotify denied the login: "+q.Get("error"), http.StatusBadRequest)
			deliver(results, callbackResult{err: fmt.Errorf("spotify auth error: %s", q.Get("error"))})
			return
		}

		token, err := a.auth.Token(r.Context(), state, r)
		if err != nil {
			http.Error(w, "token exchange failed", http.StatusInternalServerError)
			deliver(results, callbackResult{err: fmt.Errorf("exchanging code for token: %w", err)})
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "Logged in to vibe-match. You can close this tab.")
		deliver(results, callbackResult{token: token})
	}
}

func deliver(results chan<- callbackResult, res callbackResult) {
	select {
	case results <- res:
	default:
	}
}

func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
