package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justestif/go-spotify-vibe-match/internal/auth"
	"github.com/justestif/go-spotify-vibe-match/internal/config"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
)

// DefaultRefreshLimit is the per-user budget for Spotify-backed requests per minute.
const DefaultRefreshLimit = 6

// loginLimit is the per-IP budget for the auth routes per minute.
const loginLimit = 20

// ServerConfig holds server configuration and dependencies.
type ServerConfig struct {
	Addr    string
	Spotify config.SpotifyConfig

	// CORSOrigins enables CORS for these browser origins. Optional.
	CORSOrigins []string

	// RefreshLimit caps refresh and recompute requests per user per minute.
	// Zero uses DefaultRefreshLimit.
	RefreshLimit int

	Sessions  *Sessions
	Users     UserStore
	Snapshots SnapshotService
	Compat    CompatService

	// Ping checks backing services for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// Server is the HTTP server for the web application.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
}

// NewServer creates a new web server. The OAuth callback is served on the
// path of the configured redirect URL.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Spotify.ClientID == "" || cfg.Spotify.ClientSecret == "" {
		return nil, config.ErrMissingCredentials
	}
	redirect, err := url.Parse(cfg.Spotify.RedirectURL)
	if err != nil || redirect.Path == "" {
		return nil, fmt.Errorf("invalid redirect URL %q", cfg.Spotify.RedirectURL)
	}

	handlers := NewHandlers(auth.NewSpotifyAuth(cfg.Spotify), cfg.Sessions, cfg.Users, cfg.Snapshots, cfg.Compat)
	handlers.ping = cfg.Ping

	s := &Server{
		router:   chi.NewRouter(),
		handlers: handlers,
	}

	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = DefaultRefreshLimit
	}

	s.setupMiddleware(cfg.CORSOrigins)
	s.setupRoutes(redirect.Path, cfg.RefreshLimit)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware(corsOrigins []string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if len(corsOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(callbackPath string, refreshLimit int) {
	h := s.handlers

	s.router.Get("/healthz", h.Health)
	s.router.Handle("/metrics", promhttp.Handler())

	// Auth routes
	s.router.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(loginLimit, time.Minute))
		r.Get("/auth/login", h.Login)
		r.Get(callbackPath, h.Callback)
		r.Post("/auth/logout", h.Logout)
	})

	perUser := httprate.Limit(refreshLimit, time.Minute,
		httprate.WithKeyFuncs(sessionUserKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "too many refreshes, try again later"})
		}),
	)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(h.requireSession)

		r.Get("/me", h.Me)
		r.Get("/me/status", h.Status)
		r.Get("/me/snapshot", h.Snapshot)
		r.With(perUser).Post("/me/refresh", h.Refresh)

		r.Get("/compatibility/{userID}", h.Compatibility)
		r.With(perUser).Post("/compatibility/{userID}", h.Recompute)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Info().Str("addr", s.server.Addr).Msg("starting server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Run starts the server and handles graceful shutdown on interrupt signals
// or when ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt or error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info().Msg("shutting down server")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logging.Info().Msg("server stopped")
	return nil
}
