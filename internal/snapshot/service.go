// Package snapshot keeps each user's taste snapshot fresh against the Spotify catalog.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/metrics"
	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
	"github.com/justestif/go-spotify-vibe-match/internal/spotify"
)

// Common errors.
var (
	// ErrPersist is returned when the store fails while reading or saving a snapshot.
	ErrPersist = errors.New("snapshot persistence failed")
)

// DefaultRefreshInterval is how long a snapshot stays fresh (7 days).
const DefaultRefreshInterval = 7 * 24 * time.Hour

// DefaultFallbackConcurrency bounds concurrent genre fallback lookups.
const DefaultFallbackConcurrency = 5

// Catalog abstracts the Spotify top-items client for testing.
type Catalog interface {
	TopTracks(ctx context.Context, token string) ([]spotify.Track, error)
	TopArtists(ctx context.Context, token string) ([]spotify.Artist, error)
}

// Store abstracts snapshot persistence for testing.
type Store interface {
	ReadSnapshot(ctx context.Context, userID string) (*db.SnapshotMeta, error)
	SaveSnapshot(ctx context.Context, snap *db.Snapshot) error
	LoadSnapshot(ctx context.Context, userID string) (*db.Snapshot, error)
}

// GenreFallback supplies genres for artists the catalog returns without any.
type GenreFallback interface {
	ArtistGenres(ctx context.Context, artist string) ([]string, error)
}

// Service decides when a snapshot is stale and rebuilds it from the catalog.
type Service struct {
	catalog         Catalog
	store           Store
	fallback        GenreFallback
	refreshInterval time.Duration
	now             func() time.Time
	observe         func(userID string, state State)
}

// Option configures a Service.
type Option func(*Service)

// WithRefreshInterval sets how long a snapshot stays fresh.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

// WithGenreFallback enables genre lookups for artists without catalog genres.
func WithGenreFallback(f GenreFallback) Option {
	return func(s *Service) {
		s.fallback = f
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithStateObserver registers a callback invoked on every state transition.
func WithStateObserver(fn func(userID string, state State)) Option {
	return func(s *Service) {
		s.observe = fn
	}
}

// New creates a new snapshot service.
func New(catalog Catalog, store Store, opts ...Option) *Service {
	s := &Service{
		catalog:         catalog,
		store:           store,
		refreshInterval: DefaultRefreshInterval,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status describes the stored snapshot's freshness.
type Status struct {
	LastUpdated *time.Time // nil if never refreshed
	BasicScore  *float64
	NextRefresh time.Time
	Stale       bool
}

// Status reports when the user's snapshot was last refreshed and when it goes stale.
func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	meta, err := s.store.ReadSnapshot(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return &Status{NextRefresh: s.now(), Stale: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading snapshot: %w", ErrPersist, err)
	}

	lastUpdated := meta.LastUpdated
	return &Status{
		LastUpdated: &lastUpdated,
		BasicScore:  meta.BasicScore,
		NextRefresh: lastUpdated.Add(s.refreshInterval),
		Stale:       s.isStale(meta),
	}, nil
}

// Snapshot returns the user's stored snapshot.
// Returns db.ErrNotFound if the user has never been refreshed.
func (s *Service) Snapshot(ctx context.Context, userID string) (*db.Snapshot, error) {
	snap, err := s.store.LoadSnapshot(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading snapshot: %w", ErrPersist, err)
	}
	return snap, nil
}

// EnsureFresh refreshes the user's snapshot if it is missing or older than the
// refresh interval. It reports whether a refresh took place.
func (s *Service) EnsureFresh(ctx context.Context, userID, token string) (bool, error) {
	meta, err := s.store.ReadSnapshot(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		s.transition(ctx, userID, StateFailed)
		metrics.SnapshotRefreshes.WithLabelValues("failed").Inc()
		return false, fmt.Errorf("%w: reading snapshot: %w", ErrPersist, err)
	}

	if meta != nil && !s.isStale(meta) {
		s.transition(ctx, userID, StateFresh)
		metrics.SnapshotRefreshes.WithLabelValues("fresh").Inc()
		return false, nil
	}

	s.transition(ctx, userID, StateStaleOrMissing)
	if err := s.refresh(ctx, userID, token); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh rebuilds the user's snapshot regardless of its age.
func (s *Service) Refresh(ctx context.Context, userID, token string) error {
	return s.refresh(ctx, userID, token)
}

func (s *Service) isStale(meta *db.SnapshotMeta) bool {
	return s.now().Sub(meta.LastUpdated) > s.refreshInterval
}

func (s *Service) transition(ctx context.Context, userID string, state State) {
	logging.Ctx(ctx).Debug().
		Str("user_id", userID).
		Str("state", state.String()).
		Msg("snapshot state")
	if s.observe != nil {
		s.observe(userID, state)
	}
}

func (s *Service) refresh(ctx context.Context, userID, token string) error {
	s.transition(ctx, userID, StateRefreshing)
	start := time.Now()

	snap, err := s.build(ctx, userID, token)
	if err == nil {
		if saveErr := s.store.SaveSnapshot(ctx, snap); saveErr != nil {
			err = fmt.Errorf("%w: saving snapshot: %w", ErrPersist, saveErr)
		}
	}

	metrics.SnapshotRefreshDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		s.transition(ctx, userID, StateFailed)
		metrics.SnapshotRefreshes.WithLabelValues("failed").Inc()
		logging.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("snapshot refresh failed")
		return err
	}

	s.transition(ctx, userID, StateFresh)
	metrics.SnapshotRefreshes.WithLabelValues("refreshed").Inc()
	logging.Ctx(ctx).Info().
		Str("user_id", userID).
		Int("tracks", len(snap.Tracks)).
		Int("artists", len(snap.Artists)).
		Int("genres", len(snap.Genres)).
		Msg("snapshot refreshed")
	return nil
}

// build fetches the catalog data and assembles a complete snapshot without
// touching the store.
func (s *Service) build(ctx context.Context, userID, token string) (*db.Snapshot, error) {
	var (
		tracks  []spotify.Track
		artists []spotify.Artist
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		tracks, err = s.catalog.TopTracks(gctx, token)
		if err != nil {
			return fmt.Errorf("fetching top tracks: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		artists, err = s.catalog.TopArtists(gctx, token)
		if err != nil {
			return fmt.Errorf("fetching top artists: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tracks = dedupe(tracks, func(t spotify.Track) string { return t.ID })
	artists = dedupe(artists, func(a spotify.Artist) string { return a.ID })

	if s.fallback != nil {
		s.fillMissingGenres(ctx, artists)
	}

	artistGenres := make([][]string, len(artists))
	for i, a := range artists {
		artistGenres[i] = a.Genres
	}
	genres := ranking.DeriveGenres(artistGenres)

	snap := &db.Snapshot{
		SnapshotMeta: db.SnapshotMeta{
			UserID:      userID,
			BasicScore:  BasicScore(tracks),
			LastUpdated: s.now(),
		},
		Tracks:  make([]db.TopTrack, len(tracks)),
		Artists: make([]db.TopArtist, len(artists)),
		Genres:  make([]db.TopGenre, len(genres)),
	}

	for i, t := range tracks {
		date, ok := NormalizeReleaseDate(t.ReleaseDate)
		if !ok {
			metrics.UnknownReleaseDates.Inc()
			logging.Ctx(ctx).Warn().
				Str("track_id", t.ID).
				Str("release_date", t.ReleaseDate).
				Msg("unrecognized release date")
		}
		snap.Tracks[i] = db.TopTrack{
			TrackID:     t.ID,
			Name:        t.Name,
			Album:       t.Album,
			Artists:     t.Artists,
			ReleaseDate: date,
			Popularity:  t.Popularity,
			ImageURL:    t.ImageURL,
			Rank:        i + 1,
		}
	}

	for i, a := range artists {
		snap.Artists[i] = db.TopArtist{
			ArtistID:   a.ID,
			Name:       a.Name,
			Genres:     a.Genres,
			Followers:  a.Followers,
			Popularity: a.Popularity,
			ImageURL:   a.ImageURL,
			Rank:       i + 1,
		}
	}

	for i, g := range genres {
		snap.Genres[i] = db.TopGenre{
			Genre:       g.Name,
			Occurrences: g.Occurrences,
			Rank:        g.Rank,
		}
	}

	return snap, nil
}

// fillMissingGenres looks up genres for artists that have none. Lookup
// failures are logged and leave the artist without genres.
func (s *Service) fillMissingGenres(ctx context.Context, artists []spotify.Artist) {
	var g errgroup.Group
	g.SetLimit(DefaultFallbackConcurrency)

	for i := range artists {
		if len(artists[i].Genres) > 0 {
			continue
		}
		g.Go(func() error {
			genres, err := s.fallback.ArtistGenres(ctx, artists[i].Name)
			if err != nil {
				logging.Ctx(ctx).Warn().
					Err(err).
					Str("artist", artists[i].Name).
					Msg("genre fallback failed")
				return nil
			}
			artists[i].Genres = genres
			return nil
		})
	}
	_ = g.Wait()
}

// BasicScore returns the mean popularity of the tracks that report one,
// or nil when none do.
func BasicScore(tracks []spotify.Track) *float64 {
	var sum, n int
	for _, t := range tracks {
		if t.Popularity == nil {
			continue
		}
		sum += *t.Popularity
		n++
	}
	if n == 0 {
		return nil
	}
	score := float64(sum) / float64(n)
	return &score
}

// dedupe keeps the first occurrence of each key, preserving order.
func dedupe[T any](items []T, key func(T) string) []T {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, item := range items {
		k := key(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return out
}
