package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var (
		user User
		role string
	)
	err := r.pool.QueryRow(ctx, `
SELECT id, email, name, role, location_id, password_hash, is_active, created_at, updated_at
FROM users
WHERE email = $1`, email).Scan(
		&user.ID, &user.Email, &user.Name, &role, &user.LocationID,
		&user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("auth: find user by email: %w", err)
	}
	user.Role = shared.Role(role)
	return &user, nil
}

var _ Repository = (*PGRepository)(nil)
