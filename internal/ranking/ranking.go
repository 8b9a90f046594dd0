// Package ranking implements rank-based similarity between two users' ranked lists.
package ranking

// Category identifies one of the ranked lists kept per user.
type Category string

const (
	CategoryTracks  Category = "tracks"
	CategoryArtists Category = "artists"
	CategoryGenres  Category = "genres"
)

// Categories lists every category in a fixed order.
var Categories = []Category{CategoryTracks, CategoryArtists, CategoryGenres}

// Item is one entry of a ranked list. Rank is 1-based; 1 is most preferred.
type Item struct {
	ID   string
	Name string
	Rank int
}

// SharedItem is an item present in both users' lists for a category.
type SharedItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	YourRank  int    `json:"your_rank"`
	TheirRank int    `json:"their_rank"`
}

// Comparison is the outcome of comparing two ranked lists.
type Comparison struct {
	Score  float64
	Shared []SharedItem
}

// Compare computes the similarity of two ranked lists of the same category.
//
// Shared items are emitted in a's order. Each shared item contributes
// (maxLen - |rankA - rankB|) / maxLen, and the sum is normalized by maxLen
// again and scaled to 100, where maxLen is the longer list's length.
// The per-item agreement is not clamped, so a rank gap larger than maxLen
// contributes a negative amount. Inputs are never re-sorted.
func Compare(a, b []Item) Comparison {
	shared := []SharedItem{}

	maxLen := max(len(a), len(b))
	if maxLen == 0 {
		return Comparison{Score: 0, Shared: shared}
	}

	byID := make(map[string]Item, len(b))
	for _, item := range b {
		byID[item.ID] = item
	}

	var sum float64
	for _, mine := range a {
		theirs, ok := byID[mine.ID]
		if !ok {
			continue
		}
		shared = append(shared, SharedItem{
			ID:        mine.ID,
			Name:      mine.Name,
			YourRank:  mine.Rank,
			TheirRank: theirs.Rank,
		})
		sum += agreement(mine.Rank, theirs.Rank, maxLen)
	}

	if len(shared) == 0 {
		return Comparison{Score: 0, Shared: shared}
	}

	return Comparison{
		Score:  sum / float64(maxLen) * 100,
		Shared: shared,
	}
}

// agreement returns 1.0 for equal ranks, decreasing linearly with rank distance.
func agreement(rankA, rankB, maxLen int) float64 {
	gap := rankA - rankB
	if gap < 0 {
		gap = -gap
	}
	return float64(maxLen-gap) / float64(maxLen)
}
