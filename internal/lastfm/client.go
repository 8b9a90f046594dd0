// Package lastfm looks up genres for artists Spotify reports without any,
// using Last.fm's community tags.
package lastfm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	baseURL   = "https://ws.audioscrobbler.com/2.0/"
	userAgent = "vibe-match/1.0"
)

// MaxArtistGenres is the number of top tags kept as an artist's genres.
const MaxArtistGenres = 5

// MinTagCount drops tags Last.fm weights below this (counts are 0-100).
const MinTagCount = 10

// DefaultRequestsPerSecond stays under Last.fm's published per-key limit.
const DefaultRequestsPerSecond = 4

// CacheTTL is how long looked-up genres are reused before Last.fm is asked again.
const CacheTTL = 30 * 24 * time.Hour // 30 days

// DefaultCacheSize caps the number of cached artists.
const DefaultCacheSize = 10000

// fetchTimeout bounds a shared lookup, which outlives any single caller.
const fetchTimeout = 30 * time.Second

// Last.fm API error codes.
const (
	errCodeInvalidAPIKey = 10
	errCodeRateLimited   = 29
)

var (
	// ErrRateLimited is returned when Last.fm still refuses after all retries.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidAPIKey is returned when Last.fm rejects the API key.
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// Client fetches artist genres from Last.fm.
//
// Results are cached per normalized artist name for CacheTTL, concurrent
// lookups of the same artist share one request, and all requests pass
// through a client-side rate limiter.
type Client struct {
	apiKey      string
	httpClient  *http.Client
	baseURL     string
	retryDelays []time.Duration
	limiter     *rate.Limiter
	now         func() time.Time

	group     singleflight.Group
	mu        sync.RWMutex
	cache     map[string]cacheEntry
	cacheSize int
}

type cacheEntry struct {
	genres    []string
	fetchedAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryDelays sets the waits between rate-limited attempts.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(c *Client) {
		c.retryDelays = delays
	}
}

// WithRateLimit caps outgoing requests per second. Zero or less disables
// the limiter.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithCacheSize caps the number of cached artists.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		c.cacheSize = n
	}
}

// WithClock sets the time source used for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Last.fm client for apiKey.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		baseURL:     baseURL,
		retryDelays: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second},
		limiter:     rate.NewLimiter(DefaultRequestsPerSecond, 1),
		now:         time.Now,
		cache:       make(map[string]cacheEntry),
		cacheSize:   DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalize(artist string) string {
	return strings.ToLower(strings.TrimSpace(artist))
}

// ArtistGenres returns up to MaxArtistGenres lowercased tags for artist,
// heaviest first. An artist without usable tags gets an empty slice.
func (c *Client) ArtistGenres(ctx context.Context, artist string) ([]string, error) {
	key := normalize(artist)
	if key == "" {
		return []string{}, nil
	}

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && c.fresh(cached) {
		return cached.genres, nil
	}

	// The shared fetch outlives any one caller's ctx.
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()

		genres, err := c.fetchGenres(fctx, artist)
		if err != nil {
			return nil, err
		}
		c.store(key, genres)
		return genres, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("looking up %q: %w", artist, res.Err)
		}
		return res.Val.([]string), nil
	}
}

func (c *Client) fresh(e cacheEntry) bool {
	return c.now().Sub(e.fetchedAt) < CacheTTL
}

// store caches genres under key. A full cache first drops expired entries,
// then the oldest one.
func (c *Client) store(key string, genres []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cache[key]; !ok && len(c.cache) >= c.cacheSize {
		var oldestKey string
		var oldest time.Time
		for k, e := range c.cache {
			if !c.fresh(e) {
				delete(c.cache, k)
				continue
			}
			if oldestKey == "" || e.fetchedAt.Before(oldest) {
				oldestKey, oldest = k, e.fetchedAt
			}
		}
		if len(c.cache) >= c.cacheSize && oldestKey != "" {
			delete(c.cache, oldestKey)
		}
	}
	c.cache[key] = cacheEntry{genres: genres, fetchedAt: c.now()}
}

func (c *Client) fetchGenres(ctx context.Context, artist string) ([]string, error) {
	params := url.Values{
		"method":      {"artist.getTopTags"},
		"artist":      {artist},
		"autocorrect": {"1"},
		"format":      {"json"},
		"api_key":     {c.apiKey},
	}

	env, err := c.callWithRetry(ctx, c.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if env.TopTags == nil {
		return []string{}, nil
	}
	return genresFromTags(env.TopTags.Tag), nil
}

// genresFromTags keeps the first MaxArtistGenres distinct tags with at least
// MinTagCount weight. Last.fm already orders tags by weight.
func genresFromTags(tags []Tag) []string {
	genres := []string{}
	seen := make(map[string]bool)
	for _, t := range tags {
		if len(genres) == MaxArtistGenres {
			break
		}
		name := normalize(t.Name)
		if name == "" || t.Count < MinTagCount || seen[name] {
			continue
		}
		seen[name] = true
		genres = append(genres, name)
	}
	return genres
}

// callWithRetry repeats rate-limited calls after each configured delay.
func (c *Client) callWithRetry(ctx context.Context, reqURL string) (*envelope, error) {
	for attempt := 0; ; attempt++ {
		env, err := c.call(ctx, reqURL)
		if !errors.Is(err, ErrRateLimited) || attempt == len(c.retryDelays) {
			return env, err
		}

		timer := time.NewTimer(c.retryDelays[attempt])
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) call(ctx context.Context, reqURL string) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	switch env.Error {
	case 0:
	case errCodeRateLimited:
		return nil, ErrRateLimited
	case errCodeInvalidAPIKey:
		return nil, ErrInvalidAPIKey
	default:
		return nil, fmt.Errorf("API error %d: %s", env.Error, env.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return &env, nil
}
