package lastfm

// Tag is a user-applied Last.fm tag and its relative weight (0-100).
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// envelope covers both shapes artist.getTopTags can return: a tag list or an
// error body (which Last.fm may send with a 200 status).
type envelope struct {
	TopTags *struct {
		Tag []Tag `json:"tag"`
	} `json:"toptags,omitempty"`
	Error   int    `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
