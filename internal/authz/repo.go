package authz

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Repository loads authorization candidates.
type Repository interface {
	ActiveUsersByRole(ctx context.Context, roles []shared.Role) ([]Candidate, error)
}

// PGRepository implements Repository over PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PGRepository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ActiveUsersByRole fetches active users whose role is in roles, with their
// stored credential. Users with a hash use it; users carrying only the legacy
// plaintext column fall back to it.
func (r *PGRepository) ActiveUsersByRole(ctx context.Context, roles []shared.Role) ([]Candidate, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	rows, err := r.pool.Query(ctx, `SELECT id, name, role, pin_hash, pin_plain
FROM users
WHERE is_active AND role = ANY($1)
ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []Candidate
	for rows.Next() {
		var (
			c        Candidate
			role     string
			pinHash  pgtype.Text
			pinPlain pgtype.Text
		)
		if err := rows.Scan(&c.ID, &c.Name, &role, &pinHash, &pinPlain); err != nil {
			return nil, err
		}
		c.Role = shared.Role(role)
		switch {
		case pinHash.Valid && pinHash.String != "":
			c.Credential = HashedCredential(pinHash.String)
		case pinPlain.Valid && pinPlain.String != "":
			c.Credential = LegacyPlaintextCredential(pinPlain.String)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
