package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
)

// SnapshotRepository handles a user's ranked lists and refresh metadata.
type SnapshotRepository struct {
	q txQuerier
}

// ReadSnapshot returns the refresh metadata for a user.
// Returns ErrNotFound if the user has never been refreshed.
func (r *SnapshotRepository) ReadSnapshot(ctx context.Context, userID string) (*SnapshotMeta, error) {
	return readMeta(ctx, r.q, userID)
}

func readMeta(ctx context.Context, q querier, userID string) (*SnapshotMeta, error) {
	query := `
		SELECT user_id, basic_score, last_updated
		FROM user_spotify_data
		WHERE user_id = $1
	`
	var meta SnapshotMeta
	err := q.QueryRow(ctx, query, userID).Scan(
		&meta.UserID,
		&meta.BasicScore,
		&meta.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot metadata: %w", err)
	}
	return &meta, nil
}

// SaveSnapshot replaces a user's three ranked lists and metadata in a single
// transaction. Items missing from the new lists are removed; the rest are
// upserted by (user, item id). On any error nothing is changed.
func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return pgx.BeginFunc(ctx, r.q, func(tx pgx.Tx) error {
		if err := replaceTracks(ctx, tx, snap.UserID, snap.Tracks); err != nil {
			return err
		}
		if err := replaceArtists(ctx, tx, snap.UserID, snap.Artists); err != nil {
			return err
		}
		if err := replaceGenres(ctx, tx, snap.UserID, snap.Genres); err != nil {
			return err
		}
		return upsertBasicScore(ctx, tx, snap.UserID, snap.BasicScore, snap.LastUpdated)
	})
}

func upsertBasicScore(ctx context.Context, q querier, userID string, score *float64, updatedAt time.Time) error {
	query := `
		INSERT INTO user_spotify_data (user_id, basic_score, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			basic_score = EXCLUDED.basic_score,
			last_updated = EXCLUDED.last_updated
	`
	if _, err := q.Exec(ctx, query, userID, score, updatedAt); err != nil {
		return fmt.Errorf("upserting basic score: %w", err)
	}
	return nil
}

func replaceTracks(ctx context.Context, q querier, userID string, tracks []TopTrack) error {
	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.TrackID
	}

	_, err := q.Exec(ctx,
		`DELETE FROM user_top_tracks WHERE user_id = $1 AND NOT (track_id = ANY($2::text[]))`,
		userID, ids)
	if err != nil {
		return fmt.Errorf("removing dropped tracks: %w", err)
	}
	if len(tracks) == 0 {
		return nil
	}

	query := `
		INSERT INTO user_top_tracks (user_id, track_id, name, album, artists, release_date, popularity, image_url, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, track_id) DO UPDATE SET
			name = EXCLUDED.name,
			album = EXCLUDED.album,
			artists = EXCLUDED.artists,
			release_date = EXCLUDED.release_date,
			popularity = EXCLUDED.popularity,
			image_url = EXCLUDED.image_url,
			rank = EXCLUDED.rank
	`

	// Each row carries a text[] column, which unnest would flatten, so the
	// upserts are pipelined as a batch instead.
	batch := &pgx.Batch{}
	for _, t := range tracks {
		artists := t.Artists
		if artists == nil {
			artists = []string{}
		}
		batch.Queue(query, userID, t.TrackID, t.Name, t.Album, artists, t.ReleaseDate, t.Popularity, t.ImageURL, t.Rank)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("batch upserting tracks: %w", err)
	}
	return nil
}

func replaceArtists(ctx context.Context, q querier, userID string, artists []TopArtist) error {
	ids := make([]string, len(artists))
	for i, a := range artists {
		ids[i] = a.ArtistID
	}

	_, err := q.Exec(ctx,
		`DELETE FROM user_top_artists WHERE user_id = $1 AND NOT (artist_id = ANY($2::text[]))`,
		userID, ids)
	if err != nil {
		return fmt.Errorf("removing dropped artists: %w", err)
	}
	if len(artists) == 0 {
		return nil
	}

	query := `
		INSERT INTO user_top_artists (user_id, artist_id, name, genres, followers, popularity, image_url, rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, artist_id) DO UPDATE SET
			name = EXCLUDED.name,
			genres = EXCLUDED.genres,
			followers = EXCLUDED.followers,
			popularity = EXCLUDED.popularity,
			image_url = EXCLUDED.image_url,
			rank = EXCLUDED.rank
	`

	batch := &pgx.Batch{}
	for _, a := range artists {
		genres := a.Genres
		if genres == nil {
			genres = []string{}
		}
		batch.Queue(query, userID, a.ArtistID, a.Name, genres, a.Followers, a.Popularity, a.ImageURL, a.Rank)
	}
	if err := q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("batch upserting artists: %w", err)
	}
	return nil
}

func replaceGenres(ctx context.Context, q querier, userID string, genres []TopGenre) error {
	names := make([]string, len(genres))
	occurrences := make([]int, len(genres))
	ranks := make([]int, len(genres))
	for i, g := range genres {
		names[i] = g.Genre
		occurrences[i] = g.Occurrences
		ranks[i] = g.Rank
	}

	_, err := q.Exec(ctx,
		`DELETE FROM user_top_genres WHERE user_id = $1 AND NOT (genre = ANY($2::text[]))`,
		userID, names)
	if err != nil {
		return fmt.Errorf("removing dropped genres: %w", err)
	}
	if len(genres) == 0 {
		return nil
	}

	query := `
		INSERT INTO user_top_genres (user_id, genre, occurrences, rank)
		SELECT $1, * FROM unnest($2::text[], $3::int[], $4::int[])
		ON CONFLICT (user_id, genre) DO UPDATE SET
			occurrences = EXCLUDED.occurrences,
			rank = EXCLUDED.rank
	`
	if _, err := q.Exec(ctx, query, userID, names, occurrences, ranks); err != nil {
		return fmt.Errorf("batch upserting genres: %w", err)
	}
	return nil
}

// RankedList returns a user's list for one category as ranked items,
// ordered by ascending rank. A user with no stored list gets an empty slice.
func (r *SnapshotRepository) RankedList(ctx context.Context, userID string, category ranking.Category) ([]ranking.Item, error) {
	var query string
	switch category {
	case ranking.CategoryTracks:
		query = `SELECT track_id, name, rank FROM user_top_tracks WHERE user_id = $1 ORDER BY rank`
	case ranking.CategoryArtists:
		query = `SELECT artist_id, name, rank FROM user_top_artists WHERE user_id = $1 ORDER BY rank`
	case ranking.CategoryGenres:
		query = `SELECT genre, genre, rank FROM user_top_genres WHERE user_id = $1 ORDER BY rank`
	default:
		return nil, fmt.Errorf("unknown category %q", category)
	}

	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", category, err)
	}
	defer rows.Close()

	items := []ranking.Item{}
	for rows.Next() {
		var item ranking.Item
		if err := rows.Scan(&item.ID, &item.Name, &item.Rank); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", category, err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// LoadSnapshot returns a user's full stored snapshot with lists ordered by rank.
// Returns ErrNotFound if the user has never been refreshed.
func (r *SnapshotRepository) LoadSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	meta, err := readMeta(ctx, r.q, userID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{SnapshotMeta: *meta}

	if snap.Tracks, err = r.topTracks(ctx, userID); err != nil {
		return nil, err
	}
	if snap.Artists, err = r.topArtists(ctx, userID); err != nil {
		return nil, err
	}
	if snap.Genres, err = r.topGenres(ctx, userID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *SnapshotRepository) topTracks(ctx context.Context, userID string) ([]TopTrack, error) {
	query := `
		SELECT track_id, name, album, artists, release_date, popularity, image_url, rank
		FROM user_top_tracks
		WHERE user_id = $1
		ORDER BY rank
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying top tracks: %w", err)
	}
	defer rows.Close()

	tracks := []TopTrack{}
	for rows.Next() {
		var t TopTrack
		if err := rows.Scan(
			&t.TrackID,
			&t.Name,
			&t.Album,
			&t.Artists,
			&t.ReleaseDate,
			&t.Popularity,
			&t.ImageURL,
			&t.Rank,
		); err != nil {
			return nil, fmt.Errorf("scanning top track: %w", err)
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (r *SnapshotRepository) topArtists(ctx context.Context, userID string) ([]TopArtist, error) {
	query := `
		SELECT artist_id, name, genres, followers, popularity, image_url, rank
		FROM user_top_artists
		WHERE user_id = $1
		ORDER BY rank
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying top artists: %w", err)
	}
	defer rows.Close()

	artists := []TopArtist{}
	for rows.Next() {
		var a TopArtist
		if err := rows.Scan(
			&a.ArtistID,
			&a.Name,
			&a.Genres,
			&a.Followers,
			&a.Popularity,
			&a.ImageURL,
			&a.Rank,
		); err != nil {
			return nil, fmt.Errorf("scanning top artist: %w", err)
		}
		artists = append(artists, a)
	}
	return artists, rows.Err()
}

func (r *SnapshotRepository) topGenres(ctx context.Context, userID string) ([]TopGenre, error) {
	query := `
		SELECT genre, occurrences, rank
		FROM user_top_genres
		WHERE user_id = $1
		ORDER BY rank
	`
	rows, err := r.q.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying top genres: %w", err)
	}
	defer rows.Close()

	genres := []TopGenre{}
	for rows.Next() {
		var g TopGenre
		if err := rows.Scan(&g.Genre, &g.Occurrences, &g.Rank); err != nil {
			return nil, fmt.Errorf("scanning top genre: %w", err)
		}
		genres = append(genres, g)
	}
	return genres, rows.Err()
}
