package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SessionRepository handles session database operations.
type SessionRepository struct {
	q querier
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO sessions (id, user_id, access_token, refresh_token, token_expiry, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.AccessToken,
		session.RefreshToken,
		session.TokenExpiry,
		session.CreatedAt,
		session.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// Get returns a live session together with its user's display name.
// Returns ErrNotFound if the session does not exist or has expired.
func (r *SessionRepository) Get(ctx context.Context, id string) (*Session, error) {
	query := `
		SELECT s.id, s.user_id, u.display_name, s.access_token, s.refresh_token,
		       s.token_expiry, s.created_at, s.expires_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.expires_at > NOW()
	`
	var session Session
	err := r.q.QueryRow(ctx, query, id).Scan(
		&session.ID,
		&session.UserID,
		&session.DisplayName,
		&session.AccessToken,
		&session.RefreshToken,
		&session.TokenExpiry,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return &session, nil
}

// Delete removes a session. Deleting an unknown session is not an error.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// UpdateToken stores a refreshed Spotify token on the session.
// Returns ErrNotFound if the session is gone.
func (r *SessionRepository) UpdateToken(ctx context.Context, id, accessToken, refreshToken string, expiry time.Time) error {
	query := `
		UPDATE sessions
		SET access_token = $2, refresh_token = $3, token_expiry = $4
		WHERE id = $1
	`
	result, err := r.q.Exec(ctx, query, id, accessToken, refreshToken, expiry)
	if err != nil {
		return fmt.Errorf("updating session token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired removes expired sessions and reports how many were removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.q.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}
