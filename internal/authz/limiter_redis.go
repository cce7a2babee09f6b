package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// RedisLimiter is a Limiter backed by a shared Redis store, for deployments
// running more than one process. Redis outages fail open: a false negative
// here must never block a financial operation.
type RedisLimiter struct {
	client      *redis.Client
	logger      *slog.Logger
	maxAttempts int
	cooldown    time.Duration
}

// NewRedisLimiter builds a RedisLimiter.
func NewRedisLimiter(client *redis.Client, logger *slog.Logger, maxAttempts int, cooldown time.Duration) *RedisLimiter {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	return &RedisLimiter{client: client, logger: logger, maxAttempts: maxAttempts, cooldown: cooldown}
}

func (l *RedisLimiter) key(userID int64) string {
	return fmt.Sprintf("treasury:pinfail:%d", userID)
}

func (l *RedisLimiter) Check(ctx context.Context, userID int64) error {
	failures, err := l.client.Get(ctx, l.key(userID)).Int()
	if err != nil {
		if err != redis.Nil {
			l.logger.Warn("pin limiter check", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil
	}
	if failures >= l.maxAttempts {
		ttl, err := l.client.TTL(ctx, l.key(userID)).Result()
		if err != nil || ttl < 0 {
			ttl = l.cooldown
		}
		return fmt.Errorf("%w: too many failed attempts, retry after %s",
			shared.ErrInvalidAuthorization, ttl.Round(time.Second))
	}
	return nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, userID int64) {
	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, l.key(userID))
	pipe.Expire(ctx, l.key(userID), l.cooldown)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("pin limiter record failure", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

func (l *RedisLimiter) Reset(ctx context.Context, userID int64) {
	if err := l.client.Del(ctx, l.key(userID)).Err(); err != nil {
		l.logger.Warn("pin limiter reset", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

var _ Limiter = (*RedisLimiter)(nil)
