// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"fmt"

	"github.com/zmb3/spotify/v2"
)

// Profile is the subset of the current user's Spotify profile that is stored.
type Profile struct {
	ID          string
	DisplayName string
	Email       string
}

// Client wraps an authenticated Spotify API client with convenience methods.
type Client struct {
	api *spotify.Client
}

// New creates a new Spotify client wrapper.
// The underlying client should already be authenticated.
func New(api *spotify.Client) *Client {
	return &Client{api: api}
}

// CurrentUser returns the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*Profile, error) {
	user, err := c.api.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting current user: %w", err)
	}

	name := user.DisplayName
	if name == "" {
		name = user.ID
	}
	return &Profile{
		ID:          user.ID,
		DisplayName: name,
		Email:       user.Email,
	}, nil
}
