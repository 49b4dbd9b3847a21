package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/datastore/internal/domain"
)

// userRepository implements UserRepository interface
type userRepository struct {
	q DBTX
}

// NewUserRepository creates a new user repository
func NewUserRepository(q DBTX) UserRepository {
	return &userRepository{q: q}
}

// Ensure returns the id of the user with key, creating the user if needed.
func (r *userRepository) Ensure(ctx context.Context, key string) (int64, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, domain.NewValidationError("user", "key is required")
	}
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO users (key) VALUES ($1)
	ON CONFLICT (key) DO UPDATE SET modify_date = now()
	RETURNING id`, key).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure user: %w", TranslateError(err))
	}
	return id, nil
}

// GetByKey looks a user up without creating it.
func (r *userRepository) GetByKey(ctx context.Context, key string) (int64, bool, error) {
	var id int64
	err := r.q.QueryRow(ctx, `SELECT id FROM users WHERE key = $1`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get user: %w", err)
	}
	return id, true, nil
}
