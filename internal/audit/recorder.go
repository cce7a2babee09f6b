package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Entry is one immutable record of a financial state change.
type Entry struct {
	UserID        int64
	AuthorizedBy  *int64
	LocationID    *uuid.UUID
	ActionCode    string
	EntityType    string
	EntityID      string
	OldValues     map[string]any
	NewValues     map[string]any
	Amount        decimal.Decimal
	Justification string
}

// Recorder appends audit_log rows inside the caller's transaction. The audit
// trail is non-authoritative: its own failure is logged as a warning and
// never rolls back the financial operation.
type Recorder struct {
	logger *slog.Logger
}

// NewRecorder constructs a Recorder.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// MergedNewValues returns the caller-supplied business delta merged with the
// amount and authorizing user. Every audit row carries both.
func MergedNewValues(e Entry) map[string]any {
	merged := make(map[string]any, len(e.NewValues)+2)
	for k, v := range e.NewValues {
		merged[k] = v
	}
	merged["amount"] = e.Amount.StringFixed(2)
	if e.AuthorizedBy != nil {
		merged["authorizedBy"] = *e.AuthorizedBy
	}
	return merged
}

func validateEntry(e Entry) error {
	if e.UserID == 0 {
		return errors.New("audit entry requires a user")
	}
	if e.ActionCode == "" || e.EntityType == "" || e.EntityID == "" {
		return errors.New("audit entry requires action/entity_type/entity_id")
	}
	return nil
}

// Record writes the entry within tx. The insert runs under a savepoint so
// that a failed audit write leaves the surrounding transaction healthy.
func (r *Recorder) Record(ctx context.Context, tx pgx.Tx, e Entry) {
	if err := r.record(ctx, tx, e); err != nil {
		r.logger.Warn("audit record failed",
			slog.String("action", e.ActionCode),
			slog.String("entity", e.EntityType),
			slog.String("entity_id", e.EntityID),
			slog.Any("error", err))
	}
}

func (r *Recorder) record(ctx context.Context, tx pgx.Tx, e Entry) error {
	if err := validateEntry(e); err != nil {
		return err
	}

	oldJSON, err := json.Marshal(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(MergedNewValues(e))
	if err != nil {
		return err
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	_, err = sp.Exec(ctx, `INSERT INTO audit_log
(user_id, authorized_by_id, location_id, action_code, entity_type, entity_id, old_values, new_values, justification, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		e.UserID, e.AuthorizedBy, e.LocationID, e.ActionCode, e.EntityType, e.EntityID,
		oldJSON, newJSON, nullableString(e.Justification))
	if err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// LogEntry is a persisted audit row as returned by the timeline.
type LogEntry struct {
	ID             int64
	UserID         int64
	AuthorizedByID *int64
	LocationID     *uuid.UUID
	ActionCode     string
	EntityType     string
	EntityID       string
	OldValues      map[string]any
	NewValues      map[string]any
	Justification  *string
	CreatedAt      time.Time
}

// TimelineFilters narrows the audit listing.
type TimelineFilters struct {
	EntityType string
	EntityID   string
	ActionCode string
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Timeline lists audit rows, newest first. Plain consistent read, no locking.
func Timeline(ctx context.Context, pool *pgxpool.Pool, filters TimelineFilters) ([]LogEntry, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}

	rows, err := pool.Query(ctx, `SELECT id, user_id, authorized_by_id, location_id, action_code, entity_type, entity_id,
       old_values, new_values, justification, created_at
FROM audit_log
WHERE ($1 = '' OR entity_type = $1)
  AND ($2 = '' OR entity_id = $2)
  AND ($3 = '' OR action_code = $3)
  AND ($4::timestamptz IS NULL OR created_at >= $4)
  AND ($5::timestamptz IS NULL OR created_at <= $5)
ORDER BY created_at DESC, id DESC
LIMIT $6 OFFSET $7`,
		filters.EntityType, filters.EntityID, filters.ActionCode,
		nullableTime(filters.From), nullableTime(filters.To),
		pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			oldJSON []byte
			newJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.AuthorizedByID, &e.LocationID, &e.ActionCode,
			&e.EntityType, &e.EntityID, &oldJSON, &newJSON, &e.Justification, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(oldJSON) > 0 {
			_ = json.Unmarshal(oldJSON, &e.OldValues)
		}
		if len(newJSON) > 0 {
			_ = json.Unmarshal(newJSON, &e.NewValues)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
