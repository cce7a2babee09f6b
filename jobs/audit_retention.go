package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/botica-erp/botica-erp/internal/jobs"
)

// HandleAuditRetention returns the handler that prunes audit rows older than
// the retention window carried in the task payload.
func HandleAuditRetention(pool *pgxpool.Pool, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("audit_retention")

		var payload AuditRetentionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		if payload.RetentionHours <= 0 {
			_ = tracker.End(fmt.Errorf("jobs: non-positive retention window"))
			return asynq.SkipRetry
		}

		tag, err := pool.Exec(ctx,
			`DELETE FROM audit_log WHERE created_at < now() - make_interval(hours => $1)`,
			payload.RetentionHours)
		if err != nil {
			logger.Error("audit retention prune failed", slog.Any("error", err))
			return tracker.End(err)
		}
		pruned := tag.RowsAffected()
		metrics.AddPruned(pruned)
		if pruned > 0 {
			logger.Info("audit rows pruned", slog.Int64("count", pruned))
		}
		return tracker.End(nil)
	}
}
