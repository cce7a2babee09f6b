package authz

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Validator verifies a human-entered PIN against the set of users permitted
// to authorize an operation.
type Validator struct {
	repo    Repository
	limiter Limiter
	logger  *slog.Logger
}

// NewValidator constructs a Validator.
func NewValidator(repo Repository, limiter Limiter, logger *slog.Logger) *Validator {
	return &Validator{repo: repo, limiter: limiter, logger: logger}
}

// Validate checks pin against every active user holding one of requiredRoles.
// Blocked users are skipped without a PIN comparison, which also starves the
// timing side-channel on locked accounts. The failure message never discloses
// which user, if any, almost matched.
func (v *Validator) Validate(ctx context.Context, pin string, requiredRoles []shared.Role) (Authorization, error) {
	if pin == "" {
		return Authorization{}, fmt.Errorf("%w: PIN required", shared.ErrInvalidAuthorization)
	}

	candidates, err := v.repo.ActiveUsersByRole(ctx, requiredRoles)
	if err != nil {
		return Authorization{}, fmt.Errorf("authz: load candidates: %w", err)
	}

	var limited error
	for _, c := range candidates {
		if c.Credential.IsZero() {
			continue
		}
		if err := v.limiter.Check(ctx, c.ID); err != nil {
			limited = err
			continue
		}
		if !c.Credential.Matches(pin) {
			v.limiter.RecordFailure(ctx, c.ID)
			continue
		}
		if c.Credential.IsLegacy() {
			v.logger.Warn("plaintext PIN fallback used, migrate this user to a hashed credential",
				slog.Int64("user_id", c.ID))
		}
		v.limiter.Reset(ctx, c.ID)
		return Authorization{UserID: c.ID, Name: c.Name, Role: c.Role}, nil
	}

	if limited != nil {
		return Authorization{}, limited
	}
	return Authorization{}, fmt.Errorf("%w: invalid PIN", shared.ErrInvalidAuthorization)
}
