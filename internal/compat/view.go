package compat

import (
	"cmp"
	"slices"
	"time"

	"github.com/justestif/go-spotify-vibe-match/internal/db"
	"github.com/justestif/go-spotify-vibe-match/internal/ranking"
)

// View is a stored result seen from one of the two users.
// Shared items report the viewer's rank as YourRank.
type View struct {
	UserID        string               `json:"user_id"`
	OtherUserID   string               `json:"other_user_id"`
	Score         float64              `json:"compatibility_score"`
	SharedTracks  []ranking.SharedItem `json:"shared_tracks"`
	SharedArtists []ranking.SharedItem `json:"shared_artists"`
	SharedGenres  []ranking.SharedItem `json:"shared_genres"`
	LastUpdated   time.Time            `json:"last_updated"`
}

// ViewFor returns rec from viewer's perspective. Records store ranks from
// UserID1's perspective, so they are swapped when viewer is UserID2.
func ViewFor(rec *db.Compatibility, viewer string) View {
	v := View{
		UserID:        rec.UserID1,
		OtherUserID:   rec.UserID2,
		Score:         rec.Score,
		SharedTracks:  rec.SharedTracks,
		SharedArtists: rec.SharedArtists,
		SharedGenres:  rec.SharedGenres,
		LastUpdated:   rec.LastUpdated,
	}
	if viewer != rec.UserID2 {
		return v
	}

	v.UserID, v.OtherUserID = rec.UserID2, rec.UserID1
	v.SharedTracks = swapRanks(rec.SharedTracks)
	v.SharedArtists = swapRanks(rec.SharedArtists)
	v.SharedGenres = swapRanks(rec.SharedGenres)
	return v
}

// swapRanks flips the perspective of items and reorders them by the new
// YourRank, matching the order a fresh comparison from that side emits.
func swapRanks(items []ranking.SharedItem) []ranking.SharedItem {
	out := make([]ranking.SharedItem, len(items))
	for i, item := range items {
		item.YourRank, item.TheirRank = item.TheirRank, item.YourRank
		out[i] = item
	}
	slices.SortStableFunc(out, func(a, b ranking.SharedItem) int {
		return cmp.Compare(a.YourRank, b.YourRank)
	})
	return out
}
