package ranking

import (
	"slices"
	"strings"
)

// MaxGenres is the number of genres kept in a derived genre list.
const MaxGenres = 20

// Genre is a derived genre with its occurrence count across a user's artists.
type Genre struct {
	Name        string
	Occurrences int
	Rank        int
}

// DeriveGenres builds a ranked genre list from the genres of a user's artists.
// Each element of artistGenres holds the genres of one artist.
//
// Genres are ordered by descending occurrence count; ties keep the order in
// which a genre was first seen. At most MaxGenres genres are returned, ranked
// 1..n with no gaps. Blank genre names are ignored.
func DeriveGenres(artistGenres [][]string) []Genre {
	counts := make(map[string]int)
	var order []string

	for _, genres := range artistGenres {
		for _, g := range genres {
			name := strings.TrimSpace(g)
			if name == "" {
				continue
			}
			if _, seen := counts[name]; !seen {
				order = append(order, name)
			}
			counts[name]++
		}
	}

	result := make([]Genre, len(order))
	for i, name := range order {
		result[i] = Genre{Name: name, Occurrences: counts[name]}
	}

	slices.SortStableFunc(result, func(a, b Genre) int {
		return b.Occurrences - a.Occurrences
	})

	if len(result) > MaxGenres {
		result = result[:MaxGenres]
	}
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}
