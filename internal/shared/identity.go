package shared

import (
	"context"

	"github.com/google/uuid"
)

// Role enumerates user roles recognised by the treasury core.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RolePharmacist Role = "PHARMACIST"
	RoleCashier    Role = "CASHIER"
)

// ManagerTier lists roles allowed to authorize sensitive money movements.
func ManagerTier() []Role {
	return []Role{RoleAdmin, RoleManager}
}

// Identity describes the authenticated caller as resolved by the session
// layer. Caller-supplied identity in request bodies is never trusted; this
// struct is the only audited actor.
type Identity struct {
	UserID     int64
	Name       string
	Role       Role
	LocationID *uuid.UUID
}

// IsManagerTier reports whether the identity may see all locations.
func (i Identity) IsManagerTier() bool {
	return i.Role == RoleAdmin || i.Role == RoleManager
}

type identityContextKey struct{}

// ContextWithIdentity stores the resolved identity in context.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context, nil when absent.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey{}).(*Identity)
	return id
}
