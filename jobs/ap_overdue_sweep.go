package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/botica-erp/botica-erp/internal/ap"
	jobmetrics "github.com/botica-erp/botica-erp/internal/jobs"
)

// HandleAPOverdueSweep returns the handler that marks PENDING/PARTIAL
// payables past their due date as OVERDUE.
func HandleAPOverdueSweep(repo ap.Repository, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("ap_overdue_sweep")
		touched, err := repo.MarkOverdue(ctx, time.Now())
		if err != nil {
			logger.Error("overdue sweep failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddOverdue(touched)
		if touched > 0 {
			logger.Info("payables marked overdue", slog.Int64("count", touched))
		}
		return tracker.End(nil)
	}
}
