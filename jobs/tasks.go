// Package jobs contains the background tasks run by the worker binary.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAPOverdueSweep flips payables past their due date to OVERDUE.
	TaskAPOverdueSweep = "treasury:ap-overdue-sweep"
	// TaskAuditRetention prunes audit log rows beyond the retention window.
	TaskAuditRetention = "treasury:audit-retention"
)

// NewAPOverdueSweepTask constructs the overdue sweep task.
func NewAPOverdueSweepTask() *asynq.Task {
	return asynq.NewTask(TaskAPOverdueSweep, nil)
}

// AuditRetentionPayload carries the retention window for the prune task.
type AuditRetentionPayload struct {
	RetentionHours int `json:"retentionHours"`
}

// NewAuditRetentionTask constructs the audit retention task.
func NewAuditRetentionTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditRetentionPayload{
		RetentionHours: int(retention.Hours()),
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRetention, data), nil
}
