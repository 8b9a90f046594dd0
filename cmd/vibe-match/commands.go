package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/justestif/go-spotify-vibe-match/internal/auth"
	"github.com/justestif/go-spotify-vibe-match/internal/cache"
	"github.com/justestif/go-spotify-vibe-match/internal/compat"
	"github.com/justestif/go-spotify-vibe-match/internal/config"
	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/lastfm"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
	"github.com/justestif/go-spotify-vibe-match/internal/snapshot"
	"github.com/justestif/go-spotify-vibe-match/internal/spotify"
	"github.com/justestif/go-spotify-vibe-match/internal/web"
)

// app holds the services shared by the commands that touch the database.
type app struct {
	db        *db.DB
	snapshots *snapshot.Service
	engine    *compat.Engine
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	a := &app{db: database, closers: []func(){database.Close}}

	opts := []snapshot.Option{snapshot.WithRefreshInterval(cfg.Refresh.Interval)}
	if cfg.LastFM.APIKey != "" {
		opts = append(opts, snapshot.WithGenreFallback(lastfm.NewClient(cfg.LastFM.APIKey)))
	} else {
		logging.Debug().Msg("no Last.fm API key, genre fallback disabled")
	}
	a.snapshots = snapshot.New(spotify.NewCatalog(), database.Snapshots(), opts...)

	var pairs compat.Store = database.Compatibility()
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr)
		if err != nil {
			logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, pairwise cache disabled")
		} else {
			pairs = cache.NewPairCache(pairs, rdb, cfg.Redis.TTL)
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}
	a.engine = compat.New(database.Snapshots(), pairs)

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if err := cfg.RequireSpotify(); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions := web.NewSessions(web.NewDBSessions(a.db),
		web.WithSecureCookies(strings.HasPrefix(cfg.Spotify.RedirectURL, "https://")))
	go sessions.RunCleanup(ctx, web.DefaultCleanupInterval)

	server, err := web.NewServer(web.ServerConfig{
		Addr:         cfg.Server.Addr,
		Spotify:      cfg.Spotify,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RefreshLimit: cfg.Server.RefreshLimit,
		Sessions:     sessions,
		Users:        a.db.Users(),
		Snapshots:    a.snapshots,
		Compat:       a.engine,
		Ping:         a.db.Ping,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

func runMigrate(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	down := fs.Int("down", 0, "roll back this many migrations instead of applying")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *down > 0 {
		if err := db.MigrateDown(cfg.Database.URL, *down); err != nil {
			return err
		}
		logging.Info().Int("steps", *down).Msg("migrations rolled back")
		return nil
	}

	if err := db.Migrate(cfg.Database.URL); err != nil {
		return err
	}
	logging.Info().Msg("migrations applied")
	return nil
}

func runRefresh(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	force := fs.Bool("force", false, "refresh even if the snapshot is still fresh")
	logout := fs.Bool("logout", false, "remove the cached Spotify token and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tokens, err := auth.DefaultTokenCache()
	if err != nil {
		return err
	}
	authenticator, err := auth.New(cfg.Spotify, tokens)
	if err != nil {
		return err
	}
	if *logout {
		return authenticator.Logout()
	}

	result, err := authenticator.Authenticate(ctx)
	if err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	profile, err := spotify.New(result.Client).CurrentUser(ctx)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.db.Users().Upsert(ctx, &db.User{
		ID:          profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
	}); err != nil {
		return err
	}

	refreshed := true
	if *force {
		err = a.snapshots.Refresh(ctx, profile.ID, result.Token.AccessToken)
	} else {
		refreshed, err = a.snapshots.EnsureFresh(ctx, profile.ID, result.Token.AccessToken)
	}
	if err != nil {
		return err
	}

	status, err := a.snapshots.Status(ctx, profile.ID)
	if err != nil {
		return err
	}

	if refreshed {
		fmt.Printf("Snapshot for %s refreshed.\n", profile.DisplayName)
	} else {
		fmt.Printf("Snapshot for %s is fresh.\n", profile.DisplayName)
	}
	if status.BasicScore != nil {
		fmt.Printf("Basic score: %.1f\n", *status.BasicScore)
	}
	fmt.Printf("Next refresh after %s\n", status.NextRefresh.Format("2006-01-02 15:04"))
	return nil
}

func runCompare(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	force := fs.Bool("force", false, "recompute even if a stored result exists")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return errors.New("compare needs exactly two user IDs")
	}
	a1, a2 := fs.Arg(0), fs.Arg(1)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range []string{a1, a2} {
		ok, err := a.db.Users().Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("user %s: %w", id, db.ErrNotFound)
		}
	}

	var rec *db.Compatibility
	if *force {
		rec, err = a.engine.Recompute(ctx, a1, a2)
	} else {
		rec, err = a.engine.GetOrCompute(ctx, a1, a2)
	}
	if err != nil {
		return err
	}

	printView(compat.ViewFor(rec, a1))
	return nil
}

func printView(v compat.View) {
	fmt.Printf("%s vs %s: %.1f\n", v.UserID, v.OtherUserID, v.Score)
	printShared("Tracks", v.SharedTracks)
	printShared("Artists", v.SharedArtists)
	printShared("Genres", v.SharedGenres)
	fmt.Printf("Computed %s\n", v.LastUpdated.Format("2006-01-02 15:04"))
}

func printShared(label string, items []ranking.SharedItem) {
	fmt.Printf("\nShared %s (%d)\n", label, len(items))
	for _, item := range items {
		fmt.Printf("  %3d %3d  %s\n", item.YourRank, item.TheirRank, item.Name)
	}
}
