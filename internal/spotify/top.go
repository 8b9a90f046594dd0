package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-vibe-match/internal/logging"
	"github.com/justestif/go-spotify-vibe-match/internal/metrics"
)

// PageSize is the number of top items requested per category (Spotify's maximum).
const PageSize = 50

// ErrUpstreamFetch is returned when the catalog could not be reached.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

const (
	endpointTopTracks  = "top_tracks"
	endpointTopArtists = "top_artists"
)

// Catalog fetches a user's top tracks and artists over the medium-term window.
//
// Each call builds a client for the given access token, so a single Catalog
// serves every user. A non-success HTTP status is logged and yields an empty
// list; transport failures return an error wrapping ErrUpstreamFetch.
type Catalog struct {
	httpClient *http.Client
	apiOpts    []spotify.ClientOption
	breaker    *gobreaker.CircuitBreaker[any]
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

// WithHTTPClient sets the base HTTP client used beneath the OAuth transport.
func WithHTTPClient(c *http.Client) CatalogOption {
	return func(cat *Catalog) {
		cat.httpClient = c
	}
}

// WithClientOptions passes options through to the underlying spotify.Client,
// e.g. spotify.WithBaseURL in tests.
func WithClientOptions(opts ...spotify.ClientOption) CatalogOption {
	return func(cat *Catalog) {
		cat.apiOpts = append(cat.apiOpts, opts...)
	}
}

// NewCatalog creates a Catalog.
func NewCatalog(opts ...CatalogOption) *Catalog {
	c := &Catalog{breaker: newBreaker()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) api(ctx context.Context, token string) *spotify.Client {
	if c.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	}
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return spotify.New(oauth2.NewClient(ctx, src), c.apiOpts...)
}

// TopTracks returns the user's top tracks, most preferred first.
func (c *Catalog) TopTracks(ctx context.Context, token string) ([]Track, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.api(ctx, token).CurrentUsersTopTracks(ctx,
			spotify.Timerange(spotify.MediumTermRange),
			spotify.Limit(PageSize),
		)
	})
	if err != nil {
		return []Track{}, c.handleError(ctx, endpointTopTracks, err)
	}
	metrics.CatalogRequests.WithLabelValues(endpointTopTracks, "success").Inc()

	page, ok := res.(*spotify.FullTrackPage)
	if !ok || page == nil {
		return []Track{}, nil
	}

	tracks := make([]Track, 0, len(page.Tracks))
	for _, t := range page.Tracks {
		if t.ID == "" {
			logging.Ctx(ctx).Warn().Str("name", t.Name).Msg("dropping top track without id")
			continue
		}
		tracks = append(tracks, convertTrack(t))
	}
	return tracks, nil
}

// TopArtists returns the user's top artists, most preferred first.
func (c *Catalog) TopArtists(ctx context.Context, token string) ([]Artist, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return c.api(ctx, token).CurrentUsersTopArtists(ctx,
			spotify.Timerange(spotify.MediumTermRange),
			spotify.Limit(PageSize),
		)
	})
	if err != nil {
		return []Artist{}, c.handleError(ctx, endpointTopArtists, err)
	}
	metrics.CatalogRequests.WithLabelValues(endpointTopArtists, "success").Inc()

	page, ok := res.(*spotify.FullArtistPage)
	if !ok || page == nil {
		return []Artist{}, nil
	}

	artists := make([]Artist, 0, len(page.Artists))
	for _, a := range page.Artists {
		if a.ID == "" {
			logging.Ctx(ctx).Warn().Str("name", a.Name).Msg("dropping top artist without id")
			continue
		}
		artists = append(artists, convertArtist(a))
	}
	return artists, nil
}

// handleError turns HTTP status errors into an empty result and everything
// else into ErrUpstreamFetch.
func (c *Catalog) handleError(ctx context.Context, endpoint string, err error) error {
	if status, ok := httpStatus(err); ok {
		metrics.CatalogRequests.WithLabelValues(endpoint, "http_error").Inc()
		logging.Ctx(ctx).Warn().
			Err(err).
			Int("status", status).
			Str("endpoint", endpoint).
			Msg("catalog returned non-success status, using empty list")
		return nil
	}

	result := "failure"
	if isRejected(err) {
		result = "rejected"
	}
	metrics.CatalogRequests.WithLabelValues(endpoint, result).Inc()
	return fmt.Errorf("%w: %s: %w", ErrUpstreamFetch, endpoint, err)
}

// httpStatus extracts the status code from a Spotify API error.
func httpStatus(err error) (int, bool) {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	var apiErrPtr *spotify.Error
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Status, true
	}
	return 0, false
}

// convertTrack converts a Spotify FullTrack to a Track.
func convertTrack(t spotify.FullTrack) Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	popularity := int(t.Popularity)

	return Track{
		ID:          t.ID.String(),
		Name:        t.Name,
		Album:       t.Album.Name,
		Artists:     artists,
		ReleaseDate: t.Album.ReleaseDate,
		Popularity:  &popularity,
		ImageURL:    firstImage(t.Album.Images),
	}
}

// convertArtist converts a Spotify FullArtist to an Artist.
func convertArtist(a spotify.FullArtist) Artist {
	popularity := int(a.Popularity)

	genres := a.Genres
	if genres == nil {
		genres = []string{}
	}

	return Artist{
		ID:         a.ID.String(),
		Name:       a.Name,
		Genres:     genres,
		Followers:  int(a.Followers.Count),
		Popularity: &popularity,
		ImageURL:   firstImage(a.Images),
	}
}

func firstImage(images []spotify.Image) *string {
	if len(images) == 0 || images[0].URL == "" {
		return nil
	}
	url := images[0].URL
	return &url
}
