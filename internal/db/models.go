package db

import (
	"time"

	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
)

// User represents a Spotify user profile.
type User struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Session represents an authenticated web session.
type Session struct {
	ID           string
	UserID       string
	DisplayName  string // filled by Get from the users table
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// SnapshotMeta is the per-user row tracking when the snapshot was last refreshed.
type SnapshotMeta struct {
	UserID      string
	BasicScore  *float64 // nullable
	LastUpdated time.Time
}

// TopTrack is one entry of a user's ranked track list.
type TopTrack struct {
	TrackID     string
	Name        string
	Album       string
	Artists     []string
	ReleaseDate string
	Popularity  *int    // nullable
	ImageURL    *string // nullable
	Rank        int
}

// TopArtist is one entry of a user's ranked artist list.
type TopArtist struct {
	ArtistID   string
	Name       string
	Genres     []string
	Followers  int
	Popularity *int    // nullable
	ImageURL   *string // nullable
	Rank       int
}

// TopGenre is one entry of a user's derived genre list.
type TopGenre struct {
	Genre       string
	Occurrences int
	Rank        int
}

// Snapshot is a user's complete taste snapshot: three ranked lists plus metadata.
type Snapshot struct {
	SnapshotMeta
	Tracks  []TopTrack
	Artists []TopArtist
	Genres  []TopGenre
}

// Compatibility is the stored result of comparing two users.
// UserID1 always sorts before UserID2.
type Compatibility struct {
	UserID1       string
	UserID2       string
	Score         float64
	SharedTracks  []ranking.SharedItem
	SharedArtists []ranking.SharedItem
	SharedGenres  []ranking.SharedItem
	LastUpdated   time.Time
}
