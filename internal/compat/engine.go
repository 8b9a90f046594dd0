// Package compat computes and caches pairwise music taste compatibility.
package compat

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
)

// Common errors.
var (
	// ErrSameUser is returned when a user is compared with themself.
	ErrSameUser = errors.New("cannot compare a user with themself")

	// ErrPersist is returned when the store fails during lookup or computation.
	ErrPersist = errors.New("compatibility persistence failed")
)

// Category weights. Artist overlap is the strongest signal.
const (
	TrackWeight  = 0.3
	ArtistWeight = 0.4
	GenreWeight  = 0.3
)

// ListReader abstracts access to users' ranked lists for testing.
type ListReader interface {
	RankedList(ctx context.Context, userID string, category ranking.Category) ([]ranking.Item, error)
}

// Store abstracts pairwise record persistence. Keys are always ordered.
type Store interface {
	Read(ctx context.Context, userID1, userID2 string) (*db.Compatibility, error)
	Upsert(ctx context.Context, rec *db.Compatibility) error
}

// Engine returns stored pairwise results or computes them from ranked lists.
//
// A stored result is returned as-is regardless of its age; only Recompute
// replaces it.
type Engine struct {
	lists ListReader
	store Store
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates a new compatibility engine.
func New(lists ListReader, store Store, opts ...Option) *Engine {
	e := &Engine{
		lists: lists,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PairKey orders two user IDs so that (a, b) and (b, a) map to the same record.
func PairKey(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// Combine weights the per-category scores into the overall score.
func Combine(tracks, artists, genres float64) float64 {
	return TrackWeight*tracks + ArtistWeight*artists + GenreWeight*genres
}

// Get returns the stored result for the pair.
// Returns db.ErrNotFound if the pair has never been compared.
func (e *Engine) Get(ctx context.Context, a, b string) (*db.Compatibility, error) {
	if a == b {
		return nil, ErrSameUser
	}
	id1, id2 := PairKey(a, b)

	rec, err := e.store.Read(ctx, id1, id2)
	if errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading pair: %w", ErrPersist, err)
	}
	return rec, nil
}

// GetOrCompute returns the stored result for the pair, computing and storing
// it first if none exists.
func (e *Engine) GetOrCompute(ctx context.Context, a, b string) (*db.Compatibility, error) {
	rec, err := e.Get(ctx, a, b)
	if err == nil {
		metrics.CompatibilityRequests.WithLabelValues("cached").Inc()
		return rec, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		metrics.CompatibilityRequests.WithLabelValues("failed").Inc()
		return nil, err
	}
	return e.Recompute(ctx, a, b)
}

// Recompute computes the pair's result from the current ranked lists and
// replaces any stored result.
func (e *Engine) Recompute(ctx context.Context, a, b string) (*db.Compatibility, error) {
	if a == b {
		return nil, ErrSameUser
	}
	id1, id2 := PairKey(a, b)

	rec, err := e.compute(ctx, id1, id2)
	if err != nil {
		metrics.CompatibilityRequests.WithLabelValues("failed").Inc()
		return nil, err
	}

	if err := e.store.Upsert(ctx, rec); err != nil {
		metrics.CompatibilityRequests.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: storing pair: %w", ErrPersist, err)
	}

	metrics.CompatibilityRequests.WithLabelValues("computed").Inc()
	metrics.CompatibilityScores.Observe(rec.Score)
	logging.Ctx(ctx).Info().
		Str("user_id_1", id1).
		Str("user_id_2", id2).
		Float64("score", rec.Score).
		Msg("compatibility computed")
	return rec, nil
}

// compute runs the three category comparisons concurrently. Nothing is
// written; the caller persists the result only if all three succeed.
func (e *Engine) compute(ctx context.Context, id1, id2 string) (*db.Compatibility, error) {
	var results [3]ranking.Comparison

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range ranking.Categories {
		g.Go(func() error {
			mine, err := e.lists.RankedList(gctx, id1, category)
			if err != nil {
				return fmt.Errorf("%w: reading %s for %s: %w", ErrPersist, category, id1, err)
			}
			theirs, err := e.lists.RankedList(gctx, id2, category)
			if err != nil {
				return fmt.Errorf("%w: reading %s for %s: %w", ErrPersist, category, id2, err)
			}
			results[i] = ranking.Compare(mine, theirs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tracks, artists, genres := results[0], results[1], results[2]
	return &db.Compatibility{
		UserID1:       id1,
		UserID2:       id2,
		Score:         Combine(tracks.Score, artists.Score, genres.Score),
		SharedTracks:  tracks.Shared,
		SharedArtists: artists.Shared,
		SharedGenres:  genres.Shared,
		LastUpdated:   e.now(),
	}, nil
}
