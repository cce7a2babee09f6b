// Package auth handles login, token sessions and the middleware that
// resolves the caller identity. The resolved identity is the only audited
// actor; nothing identity-related is ever read from request bodies.
package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	Role         shared.Role
	LocationID   *uuid.UUID
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity converts the persisted user into the context identity.
func (u User) Identity() shared.Identity {
	return shared.Identity{
		UserID:     u.ID,
		Name:       u.Name,
		Role:       u.Role,
		LocationID: u.LocationID,
	}
}
