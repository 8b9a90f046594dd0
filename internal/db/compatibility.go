package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"

	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
)

// CompatibilityRepository handles pairwise compatibility records.
type CompatibilityRepository struct {
	q querier
}

// Read returns the record for an ordered pair (userID1 < userID2).
// Returns ErrNotFound if the pair has never been compared.
func (r *CompatibilityRepository) Read(ctx context.Context, userID1, userID2 string) (*Compatibility, error) {
	query := `
		SELECT user_id_1, user_id_2, compatibility_score,
			shared_tracks, shared_artists, shared_genres, last_updated
		FROM user_compatibility
		WHERE user_id_1 = $1 AND user_id_2 = $2
	`
	var rec Compatibility
	var tracks, artists, genres []byte
	err := r.q.QueryRow(ctx, query, userID1, userID2).Scan(
		&rec.UserID1,
		&rec.UserID2,
		&rec.Score,
		&tracks,
		&artists,
		&genres,
		&rec.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying compatibility: %w", err)
	}

	if rec.SharedTracks, err = decodeShared(tracks); err != nil {
		return nil, fmt.Errorf("decoding shared tracks: %w", err)
	}
	if rec.SharedArtists, err = decodeShared(artists); err != nil {
		return nil, fmt.Errorf("decoding shared artists: %w", err)
	}
	if rec.SharedGenres, err = decodeShared(genres); err != nil {
		return nil, fmt.Errorf("decoding shared genres: %w", err)
	}
	return &rec, nil
}

// Upsert stores the latest result for a pair, replacing any previous one.
func (r *CompatibilityRepository) Upsert(ctx context.Context, rec *Compatibility) error {
	if rec.UserID1 >= rec.UserID2 {
		return fmt.Errorf("compatibility pair (%q, %q) is not ordered", rec.UserID1, rec.UserID2)
	}

	tracks, err := encodeShared(rec.SharedTracks)
	if err != nil {
		return fmt.Errorf("encoding shared tracks: %w", err)
	}
	artists, err := encodeShared(rec.SharedArtists)
	if err != nil {
		return fmt.Errorf("encoding shared artists: %w", err)
	}
	genres, err := encodeShared(rec.SharedGenres)
	if err != nil {
		return fmt.Errorf("encoding shared genres: %w", err)
	}

	query := `
		INSERT INTO user_compatibility (user_id_1, user_id_2, compatibility_score,
			shared_tracks, shared_artists, shared_genres, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id_1, user_id_2) DO UPDATE SET
			compatibility_score = EXCLUDED.compatibility_score,
			shared_tracks = EXCLUDED.shared_tracks,
			shared_artists = EXCLUDED.shared_artists,
			shared_genres = EXCLUDED.shared_genres,
			last_updated = EXCLUDED.last_updated
	`
	_, err = r.q.Exec(ctx, query,
		rec.UserID1,
		rec.UserID2,
		rec.Score,
		tracks,
		artists,
		genres,
		rec.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upserting compatibility: %w", err)
	}
	return nil
}

func encodeShared(items []ranking.SharedItem) ([]byte, error) {
	if items == nil {
		items = []ranking.SharedItem{}
	}
	return json.Marshal(items)
}

func decodeShared(data []byte) ([]ranking.SharedItem, error) {
	items := []ranking.SharedItem{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
