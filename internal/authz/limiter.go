package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Limiter tracks failed PIN attempts per user. State is deliberately
// best-effort: a recording failure degrades security slightly but must never
// block or corrupt a financial commit, so RecordFailure and Reset return
// nothing.
type Limiter interface {
	// Check returns an ErrInvalidAuthorization-wrapped error while the user
	// is blocked, nil otherwise.
	Check(ctx context.Context, userID int64) error
	RecordFailure(ctx context.Context, userID int64)
	Reset(ctx context.Context, userID int64)
}

type memoryEntry struct {
	failures     int
	blockedUntil time.Time
	expiresAt    time.Time
}

// MemoryLimiter is the per-process in-memory Limiter. Horizontal scaling
// needs the Redis-backed limiter instead, since counters here are not shared
// across instances.
type MemoryLimiter struct {
	mu          sync.Mutex
	entries     map[int64]memoryEntry
	maxAttempts int
	cooldown    time.Duration
	now         func() time.Time
}

// NewMemoryLimiter builds a MemoryLimiter blocking a user for cooldown after
// maxAttempts consecutive failures.
func NewMemoryLimiter(maxAttempts int, cooldown time.Duration) *MemoryLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &MemoryLimiter{
		entries:     make(map[int64]memoryEntry),
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (l *MemoryLimiter) Check(ctx context.Context, userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[userID]
	if !ok {
		return nil
	}
	now := l.now()
	if now.After(entry.expiresAt) {
		delete(l.entries, userID)
		return nil
	}
	if now.Before(entry.blockedUntil) {
		return fmt.Errorf("%w: too many failed attempts, retry after %s",
			shared.ErrInvalidAuthorization, entry.blockedUntil.Sub(now).Round(time.Second))
	}
	return nil
}

func (l *MemoryLimiter) RecordFailure(ctx context.Context, userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry := l.entries[userID]
	if now.After(entry.expiresAt) {
		entry = memoryEntry{}
	}
	entry.failures++
	entry.expiresAt = now.Add(l.cooldown)
	if entry.failures >= l.maxAttempts {
		entry.blockedUntil = now.Add(l.cooldown)
	}
	l.entries[userID] = entry
}

func (l *MemoryLimiter) Reset(ctx context.Context, userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, userID)
}

var _ Limiter = (*MemoryLimiter)(nil)
