package ap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/platform/db"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Repository is the accounts payable data-access boundary.
type Repository interface {
	// WithTx runs fn inside a default-isolation transaction. A payment only
	// ever touches one payable row, so the single-row FOR UPDATE lock inside
	// is enough; the canonical ordered protocol is not needed here.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	SupplierExists(ctx context.Context, supplierID int64) (bool, error)
	List(ctx context.Context, filters ListFilters) ([]AccountPayable, shared.Pagination, error)
	Payments(ctx context.Context, payableID uuid.UUID) ([]Payment, error)
	Aging(ctx context.Context, locationID uuid.UUID) (AgingReport, error)

	// MarkOverdue flips PENDING/PARTIAL rows past their due date to OVERDUE
	// and returns the number of rows touched. Used by the background sweep.
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, error)
}

// TxRepository exposes the operations available inside a transaction.
type TxRepository interface {
	DuplicateExists(ctx context.Context, supplierID int64, invoiceNumber string) (bool, error)
	Insert(ctx context.Context, payable AccountPayable) error

	// LockPayable acquires the row lock on one payable. The caller must
	// re-check balance and status afterwards; the pre-lock snapshot is stale.
	LockPayable(ctx context.Context, id uuid.UUID) (AccountPayable, error)
	InsertPayment(ctx context.Context, payment Payment) error
	ApplyPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status PayableStatus) error
	Cancel(ctx context.Context, id uuid.UUID) error

	RecordAudit(ctx context.Context, entry audit.Entry)
}

type pgRepository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs the PostgreSQL accounts payable repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) Repository {
	return &pgRepository{pool: pool, recorder: recorder}
}

func (r *pgRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder})
	})
}

func (r *pgRepository) SupplierExists(ctx context.Context, supplierID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM suppliers WHERE id = $1 AND is_active)`,
		supplierID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ap: check supplier: %w", err)
	}
	return exists, nil
}

const payableColumns = `id, supplier_id, invoice_number, invoice_type, issue_date, due_date,
net_amount::text, tax_amount::text, total_amount::text, paid_amount::text,
status, location_id, expense_category, created_by, created_at`

func scanPayable(row pgx.Row) (AccountPayable, error) {
	var (
		a                    AccountPayable
		net, tax, total, pay string
		status               string
	)
	if err := row.Scan(&a.ID, &a.SupplierID, &a.InvoiceNumber, &a.InvoiceType,
		&a.IssueDate, &a.DueDate, &net, &tax, &total, &pay,
		&status, &a.LocationID, &a.ExpenseCategory, &a.CreatedBy, &a.CreatedAt); err != nil {
		return AccountPayable{}, err
	}
	a.Status = PayableStatus(status)
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{net, &a.NetAmount}, {tax, &a.TaxAmount}, {total, &a.TotalAmount}, {pay, &a.PaidAmount},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return AccountPayable{}, fmt.Errorf("ap: parse amount: %w", err)
		}
		*field.dst = d
	}
	return a, nil
}

func (r *pgRepository) List(ctx context.Context, filters ListFilters) ([]AccountPayable, shared.Pagination, error) {
	where := `($1 = 0 OR supplier_id = $1)
  AND ($2 = '' OR status = $2)
  AND ($3::uuid IS NULL OR location_id = $3)`
	var locationID *uuid.UUID
	if filters.LocationID != uuid.Nil {
		locationID = &filters.LocationID
	}

	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM accounts_payable WHERE `+where,
		filters.SupplierID, string(filters.Status), locationID).Scan(&total)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ap: count payables: %w", err)
	}

	page := shared.NewPagination(filters.Page, filters.PerPage, total)
	rows, err := r.pool.Query(ctx,
		`SELECT `+payableColumns+` FROM accounts_payable
WHERE `+where+`
ORDER BY due_date NULLS LAST, created_at DESC
LIMIT $4 OFFSET $5`,
		filters.SupplierID, string(filters.Status), locationID, page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("ap: list payables: %w", err)
	}
	defer rows.Close()

	var payables []AccountPayable
	for rows.Next() {
		a, err := scanPayable(rows)
		if err != nil {
			return nil, shared.Pagination{}, err
		}
		payables = append(payables, a)
	}
	return payables, page, rows.Err()
}

func (r *pgRepository) Payments(ctx context.Context, payableID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_payable_id, payment_date, amount::text, method,
       COALESCE(reference_number, ''), created_by, created_at
FROM accounts_payable_payments
WHERE account_payable_id = $1
ORDER BY payment_date, created_at`, payableID)
	if err != nil {
		return nil, fmt.Errorf("ap: list payments: %w", err)
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		var (
			p      Payment
			amount string
			method string
		)
		if err := rows.Scan(&p.ID, &p.AccountPayableID, &p.PaymentDate, &amount,
			&method, &p.ReferenceNumber, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = PaymentMethod(method)
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("ap: parse payment amount: %w", err)
		}
		p.Amount = d
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (r *pgRepository) Aging(ctx context.Context, locationID uuid.UUID) (AgingReport, error) {
	var scoped *uuid.UUID
	if locationID != uuid.Nil {
		scoped = &locationID
	}

	var current, b30, b60, b90, over string
	err := r.pool.QueryRow(ctx, `
SELECT
  COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE due_date IS NULL OR due_date >= now()::date), 0)::text,
  COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE now()::date - due_date BETWEEN 1 AND 30), 0)::text,
  COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE now()::date - due_date BETWEEN 31 AND 60), 0)::text,
  COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE now()::date - due_date BETWEEN 61 AND 90), 0)::text,
  COALESCE(SUM(total_amount - paid_amount) FILTER (WHERE now()::date - due_date > 90), 0)::text
FROM accounts_payable
WHERE status NOT IN ('PAID', 'CANCELLED')
  AND ($1::uuid IS NULL OR location_id = $1)`, scoped).
		Scan(&current, &b30, &b60, &b90, &over)
	if err != nil {
		return AgingReport{}, fmt.Errorf("ap: aging report: %w", err)
	}

	report := AgingReport{}
	for _, field := range []struct {
		raw string
		dst *decimal.Decimal
	}{
		{current, &report.Current}, {b30, &report.Days1to30}, {b60, &report.Days31to60},
		{b90, &report.Days61to90}, {over, &report.Over90},
	} {
		d, err := decimal.NewFromString(field.raw)
		if err != nil {
			return AgingReport{}, fmt.Errorf("ap: parse aging bucket: %w", err)
		}
		*field.dst = d
	}
	report.Total = report.Current.Add(report.Days1to30).Add(report.Days31to60).
		Add(report.Days61to90).Add(report.Over90)
	return report, nil
}

func (r *pgRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
UPDATE accounts_payable
SET status = 'OVERDUE'
WHERE status IN ('PENDING', 'PARTIAL')
  AND due_date IS NOT NULL
  AND due_date < $1::date`, asOf)
	if err != nil {
		return 0, fmt.Errorf("ap: mark overdue: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgTxRepository struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

func (r *pgTxRepository) DuplicateExists(ctx context.Context, supplierID int64, invoiceNumber string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM accounts_payable
  WHERE supplier_id = $1 AND invoice_number = $2 AND status <> 'CANCELLED'
)`, supplierID, invoiceNumber).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ap: check duplicate invoice: %w", err)
	}
	return exists, nil
}

func (r *pgTxRepository) Insert(ctx context.Context, payable AccountPayable) error {
	_, err := r.tx.Exec(ctx, `
INSERT INTO accounts_payable (
  id, supplier_id, invoice_number, invoice_type, issue_date, due_date,
  net_amount, tax_amount, total_amount, paid_amount, status,
  location_id, expense_category, created_by
) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9::numeric, 0, $10, $11, $12, $13)`,
		payable.ID, payable.SupplierID, payable.InvoiceNumber, payable.InvoiceType,
		payable.IssueDate, payable.DueDate,
		payable.NetAmount.String(), payable.TaxAmount.String(), payable.TotalAmount.String(),
		string(payable.Status), payable.LocationID, payable.ExpenseCategory, payable.CreatedBy)
	if err != nil {
		// Partial unique index on (supplier_id, invoice_number) among
		// non-cancelled rows backs the application-level duplicate check.
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: invoice %s already registered for supplier %d",
				shared.ErrDomainConflict, payable.InvoiceNumber, payable.SupplierID)
		}
		return fmt.Errorf("ap: insert payable: %w", err)
	}
	return nil
}

func (r *pgTxRepository) LockPayable(ctx context.Context, id uuid.UUID) (AccountPayable, error) {
	row := r.tx.QueryRow(ctx,
		`SELECT `+payableColumns+` FROM accounts_payable WHERE id = $1 FOR UPDATE`, id)
	payable, err := scanPayable(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AccountPayable{}, fmt.Errorf("%w: account payable %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return AccountPayable{}, db.MapError(err)
	}
	return payable, nil
}

func (r *pgTxRepository) InsertPayment(ctx context.Context, payment Payment) error {
	var reference *string
	if payment.ReferenceNumber != "" {
		reference = &payment.ReferenceNumber
	}
	_, err := r.tx.Exec(ctx, `
INSERT INTO accounts_payable_payments (
  id, account_payable_id, payment_date, amount, method, reference_number, created_by
) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7)`,
		payment.ID, payment.AccountPayableID, payment.PaymentDate,
		payment.Amount.String(), string(payment.Method), reference, payment.CreatedBy)
	if err != nil {
		return fmt.Errorf("ap: insert payment: %w", err)
	}
	return nil
}

func (r *pgTxRepository) ApplyPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status PayableStatus) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE accounts_payable
SET paid_amount = $2::numeric, status = $3
WHERE id = $1`, id, paid.String(), string(status))
	if err != nil {
		return fmt.Errorf("ap: apply payment: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: account payable %s", shared.ErrNotFound, id)
	}
	return nil
}

func (r *pgTxRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	tag, err := r.tx.Exec(ctx, `
UPDATE accounts_payable
SET status = 'CANCELLED'
WHERE id = $1 AND paid_amount = 0 AND status <> 'CANCELLED'`, id)
	if err != nil {
		return fmt.Errorf("ap: cancel payable: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: payable cannot be cancelled", shared.ErrDomainConflict)
	}
	return nil
}

func (r *pgTxRepository) RecordAudit(ctx context.Context, entry audit.Entry) {
	r.recorder.Record(ctx, r.tx, entry)
}
