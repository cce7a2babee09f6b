package auth

import (
	"context"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo     Repository
	sessions *SessionStore
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, sessions *SessionStore, logger *slog.Logger) *Service {
	return &Service{repo: repo, sessions: sessions, logger: logger}
}

// Login validates email/password credentials and issues a session token.
// Every failure mode collapses into ErrInvalidCredentials; the caller never
// learns whether the account exists.
func (s *Service) Login(ctx context.Context, email, password string) (string, shared.Identity, error) {
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return "", shared.Identity{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return "", shared.Identity{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", shared.Identity{}, shared.ErrInvalidCredentials
	}

	identity := user.Identity()
	token, err := s.sessions.Create(ctx, identity)
	if err != nil {
		return "", shared.Identity{}, err
	}
	s.logger.Info("user logged in", slog.Int64("user_id", user.ID))
	return token, identity, nil
}

// Logout invalidates a session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Destroy(ctx, token)
}
