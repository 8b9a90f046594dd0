package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/justestif/go-spotify-vibe-match/internal/compat"
	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/snapshot"
	"github.com/justestif/go-spotify-vibe-match/internal/spotify"
)

type errorResponse struct {
	Error string `json:"error"`
}

type meResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type statusResponse struct {
	LastUpdated *time.Time `json:"last_updated"`
	BasicScore  *float64   `json:"basic_score"`
	NextRefresh time.Time  `json:"next_refresh"`
	Stale       bool       `json:"stale"`
}

type refreshResponse struct {
	Refreshed bool           `json:"refreshed"`
	Status    statusResponse `json:"status"`
}

type trackResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Album       string   `json:"album"`
	Artists     []string `json:"artists"`
	ReleaseDate string   `json:"release_date"`
	Popularity  *int     `json:"popularity"`
	ImageURL    *string  `json:"image_url"`
	Rank        int      `json:"rank"`
}

type artistResponse struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres"`
	Followers  int      `json:"followers"`
	Popularity *int     `json:"popularity"`
	ImageURL   *string  `json:"image_url"`
	Rank       int      `json:"rank"`
}

type genreResponse struct {
	Name        string `json:"name"`
	Occurrences int    `json:"occurrences"`
	Rank        int    `json:"rank"`
}

type snapshotResponse struct {
	UserID      string           `json:"user_id"`
	BasicScore  *float64         `json:"basic_score"`
	LastUpdated time.Time        `json:"last_updated"`
	TopTracks   []trackResponse  `json:"top_tracks"`
	TopArtists  []artistResponse `json:"top_artists"`
	TopGenres   []genreResponse  `json:"top_genres"`
}

func newStatusResponse(s *snapshot.Status) statusResponse {
	return statusResponse{
		LastUpdated: s.LastUpdated,
		BasicScore:  s.BasicScore,
		NextRefresh: s.NextRefresh,
		Stale:       s.Stale,
	}
}

func newSnapshotResponse(snap *db.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		UserID:      snap.UserID,
		BasicScore:  snap.BasicScore,
		LastUpdated: snap.LastUpdated,
		TopTracks:   make([]trackResponse, 0, len(snap.Tracks)),
		TopArtists:  make([]artistResponse, 0, len(snap.Artists)),
		TopGenres:   make([]genreResponse, 0, len(snap.Genres)),
	}
	for _, t := range snap.Tracks {
		resp.TopTracks = append(resp.TopTracks, trackResponse{
			ID:          t.TrackID,
			Name:        t.Name,
			Album:       t.Album,
			Artists:     t.Artists,
			ReleaseDate: t.ReleaseDate,
			Popularity:  t.Popularity,
			ImageURL:    t.ImageURL,
			Rank:        t.Rank,
		})
	}
	for _, a := range snap.Artists {
		resp.TopArtists = append(resp.TopArtists, artistResponse{
			ID:         a.ArtistID,
			Name:       a.Name,
			Genres:     a.Genres,
			Followers:  a.Followers,
			Popularity: a.Popularity,
			ImageURL:   a.ImageURL,
			Rank:       a.Rank,
		})
	}
	for _, g := range snap.Genres {
		resp.TopGenres = append(resp.TopGenres, genreResponse{
			Name:        g.Genre,
			Occurrences: g.Occurrences,
			Rank:        g.Rank,
		})
	}
	return resp
}

// writeJSON writes data as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := http.StatusText(status)
	switch status {
	case http.StatusBadRequest, http.StatusNotFound:
		msg = err.Error()
	case http.StatusBadGateway:
		msg = "spotify is unavailable"
	}

	if status >= http.StatusInternalServerError {
		logging.Ctx(ctx).Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, compat.ErrSameUser):
		return http.StatusBadRequest
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, spotify.ErrUpstreamFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
