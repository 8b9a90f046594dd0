package db

import (
	"context"
	"fmt"
)

// UserRepository stores the Spotify users who have logged in.
type UserRepository struct {
	q querier
}

// Upsert records a login, refreshing the profile fields of a returning user.
// CreatedAt and UpdatedAt are filled from the stored row.
func (r *UserRepository) Upsert(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, display_name, email, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := r.q.QueryRow(ctx, query,
		user.ID,
		user.DisplayName,
		user.Email,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting user: %w", err)
	}
	return nil
}

// Exists reports whether a user with the given ID has logged in before.
func (r *UserRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return exists, nil
}
