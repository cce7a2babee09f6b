package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/botica-erp/botica-erp/internal/shared"
)

const sessionKeyPrefix = "treasury:session:"

// SessionStore keeps bearer-token sessions in Redis with a sliding TTL, so
// any instance behind the load balancer can resolve a token.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

type sessionRecord struct {
	UserID     int64       `json:"userId"`
	Name       string      `json:"name"`
	Role       shared.Role `json:"role"`
	LocationID *uuid.UUID  `json:"locationId,omitempty"`
}

// Create issues a new opaque token for identity.
func (s *SessionStore) Create(ctx context.Context, identity shared.Identity) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: generate session token: %w", err)
	}
	token := hex.EncodeToString(raw)

	payload, err := json.Marshal(sessionRecord{
		UserID:     identity.UserID,
		Name:       identity.Name,
		Role:       identity.Role,
		LocationID: identity.LocationID,
	})
	if err != nil {
		return "", fmt.Errorf("auth: encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+token, payload, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("auth: store session: %w", err)
	}
	return token, nil
}

// Lookup resolves a token into an identity and refreshes its TTL.
func (s *SessionStore) Lookup(ctx context.Context, token string) (*shared.Identity, error) {
	if token == "" {
		return nil, shared.ErrNotAuthenticated
	}
	key := sessionKeyPrefix + token
	payload, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, shared.ErrNotAuthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}

	var record sessionRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("auth: decode session: %w", err)
	}
	// Sliding expiry: activity keeps the session alive.
	_ = s.client.Expire(ctx, key, s.ttl).Err()

	return &shared.Identity{
		UserID:     record.UserID,
		Name:       record.Name,
		Role:       record.Role,
		LocationID: record.LocationID,
	}, nil
}

// Destroy removes a token. Unknown tokens are not an error.
func (s *SessionStore) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}
