package treasury

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/botica-erp/botica-erp/internal/shared"
)

const (
	retryBase       = 50 * time.Millisecond
	retryJitter     = 25 * time.Millisecond
	retryMaxRetries = 4
)

// WithRetry runs fn, retrying only resource-busy and concurrency-conflict
// failures with bounded exponential backoff and jitter. Exhausting the
// attempts surfaces the last retryable error as a terminal failure.
func WithRetry(ctx context.Context, fn func(context.Context) error) error {
	backoff := retry.NewExponential(retryBase)
	backoff = retry.WithJitter(retryJitter, backoff)
	backoff = retry.WithMaxRetries(retryMaxRetries, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if shared.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}
