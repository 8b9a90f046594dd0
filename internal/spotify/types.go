package spotify

// Track is a user's top track as returned by the catalog, in preference order.
type Track struct {
	ID          string
	Name        string
	Album       string
	Artists     []string
	ReleaseDate string  // As reported by Spotify; precision varies
	Popularity  *int    // nil if not reported
	ImageURL    *string // nil if the album has no images
}

// Artist is a user's top artist as returned by the catalog, in preference order.
type Artist struct {
	ID         string
	Name       string
	Genres     []string
	Followers  int
	Popularity *int
	ImageURL   *string
}
