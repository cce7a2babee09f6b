package authz

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/botica-erp/botica-erp/internal/shared"
)

type staticRepo struct {
	candidates []Candidate
}

func (r *staticRepo) ActiveUsersByRole(ctx context.Context, roles []shared.Role) ([]Candidate, error) {
	return r.candidates, nil
}

func testSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func hashPIN(t *testing.T, pin string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func newTestValidator(t *testing.T, candidates []Candidate, limiter Limiter) *Validator {
	t.Helper()
	return NewValidator(&staticRepo{candidates: candidates}, limiter, testSlog())
}

func TestValidateHashedMatch(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Name: "Ana", Role: shared.RoleManager, Credential: HashedCredential(hashPIN(t, "4821"))},
		{ID: 2, Name: "Bruno", Role: shared.RoleAdmin, Credential: HashedCredential(hashPIN(t, "9013"))},
	}
	v := newTestValidator(t, candidates, NewMemoryLimiter(3, time.Minute))

	auth, err := v.Validate(context.Background(), "9013", shared.ManagerTier())
	require.NoError(t, err)
	require.Equal(t, int64(2), auth.UserID)
	require.Equal(t, "Bruno", auth.Name)
	require.Equal(t, shared.RoleAdmin, auth.Role)
}

func TestValidateLegacyPlaintextFallback(t *testing.T) {
	candidates := []Candidate{
		{ID: 7, Name: "Carla", Role: shared.RoleManager, Credential: LegacyPlaintextCredential("1111")},
	}
	v := newTestValidator(t, candidates, NewMemoryLimiter(3, time.Minute))

	auth, err := v.Validate(context.Background(), "1111", shared.ManagerTier())
	require.NoError(t, err)
	require.Equal(t, int64(7), auth.UserID)
}

func TestValidateMismatchIsGeneric(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Name: "Ana", Role: shared.RoleManager, Credential: HashedCredential(hashPIN(t, "4821"))},
	}
	v := newTestValidator(t, candidates, NewMemoryLimiter(3, time.Minute))

	_, err := v.Validate(context.Background(), "0000", shared.ManagerTier())
	require.ErrorIs(t, err, shared.ErrInvalidAuthorization)
	require.ErrorContains(t, err, "invalid PIN")
	require.NotContains(t, err.Error(), "Ana")
}

func TestValidateEmptyPIN(t *testing.T) {
	v := newTestValidator(t, nil, NewMemoryLimiter(3, time.Minute))
	_, err := v.Validate(context.Background(), "", shared.ManagerTier())
	require.ErrorIs(t, err, shared.ErrInvalidAuthorization)
}

func TestValidateSkipsUsersWithoutCredential(t *testing.T) {
	candidates := []Candidate{
		{ID: 1, Name: "Sin PIN", Role: shared.RoleManager},
		{ID: 2, Name: "Ana", Role: shared.RoleManager, Credential: HashedCredential(hashPIN(t, "4821"))},
	}
	v := newTestValidator(t, candidates, NewMemoryLimiter(3, time.Minute))

	auth, err := v.Validate(context.Background(), "4821", shared.ManagerTier())
	require.NoError(t, err)
	require.Equal(t, int64(2), auth.UserID)
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	candidates := []Candidate{
		{ID: 5, Name: "Ana", Role: shared.RoleManager, Credential: HashedCredential(hashPIN(t, "4821"))},
	}
	v := newTestValidator(t, candidates, limiter)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := v.Validate(ctx, "0000", shared.ManagerTier())
		require.ErrorIs(t, err, shared.ErrInvalidAuthorization)
	}

	// Correct PIN is rejected while the cool-down runs, with the limiter reason.
	_, err := v.Validate(ctx, "4821", shared.ManagerTier())
	require.ErrorIs(t, err, shared.ErrInvalidAuthorization)
	require.ErrorContains(t, err, "too many failed attempts")

	// After the cool-down the correct PIN works again.
	now = now.Add(2 * time.Minute)
	auth, err := v.Validate(ctx, "4821", shared.ManagerTier())
	require.NoError(t, err)
	require.Equal(t, int64(5), auth.UserID)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	limiter := NewMemoryLimiter(3, time.Minute)
	candidates := []Candidate{
		{ID: 5, Name: "Ana", Role: shared.RoleManager, Credential: HashedCredential(hashPIN(t, "4821"))},
	}
	v := newTestValidator(t, candidates, limiter)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := v.Validate(ctx, "0000", shared.ManagerTier())
		require.Error(t, err)
	}
	_, err := v.Validate(ctx, "4821", shared.ManagerTier())
	require.NoError(t, err)

	// Counter restarted: two more misses do not block yet.
	for i := 0; i < 2; i++ {
		_, err := v.Validate(ctx, "0000", shared.ManagerTier())
		require.ErrorContains(t, err, "invalid PIN")
	}
}
