package ap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/shared"
)

type memoryRepo struct {
	suppliers map[int64]bool
	payables  map[uuid.UUID]*AccountPayable
	payments  []Payment
	audits    []audit.Entry
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		suppliers: make(map[int64]bool),
		payables:  make(map[uuid.UUID]*AccountPayable),
	}
}

func (r *memoryRepo) snapshot() ([]Payment, map[uuid.UUID]AccountPayable, []audit.Entry) {
	payables := make(map[uuid.UUID]AccountPayable, len(r.payables))
	for id, p := range r.payables {
		payables[id] = *p
	}
	return append([]Payment(nil), r.payments...), payables, append([]audit.Entry(nil), r.audits...)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	payments, payables, audits := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.payments = payments
		r.audits = audits
		restored := make(map[uuid.UUID]*AccountPayable, len(payables))
		for id, p := range payables {
			clone := p
			restored[id] = &clone
		}
		r.payables = restored
		return err
	}
	return nil
}

func (r *memoryRepo) SupplierExists(ctx context.Context, supplierID int64) (bool, error) {
	return r.suppliers[supplierID], nil
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]AccountPayable, shared.Pagination, error) {
	var out []AccountPayable
	for _, p := range r.payables {
		if filters.SupplierID != 0 && p.SupplierID != filters.SupplierID {
			continue
		}
		if filters.Status != "" && p.Status != filters.Status {
			continue
		}
		if filters.LocationID != uuid.Nil && (p.LocationID == nil || *p.LocationID != filters.LocationID) {
			continue
		}
		out = append(out, *p)
	}
	return out, shared.NewPagination(filters.Page, filters.PerPage, len(out)), nil
}

func (r *memoryRepo) Payments(ctx context.Context, payableID uuid.UUID) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.AccountPayableID == payableID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) Aging(ctx context.Context, locationID uuid.UUID) (AgingReport, error) {
	report := AgingReport{
		Current: decimal.Zero, Days1to30: decimal.Zero, Days31to60: decimal.Zero,
		Days61to90: decimal.Zero, Over90: decimal.Zero, Total: decimal.Zero,
	}
	today := time.Now().Truncate(24 * time.Hour)
	for _, p := range r.payables {
		if p.Status == StatusPaid || p.Status == StatusCancelled {
			continue
		}
		if locationID != uuid.Nil && (p.LocationID == nil || *p.LocationID != locationID) {
			continue
		}
		balance := p.Balance()
		switch {
		case p.DueDate == nil || !p.DueDate.Before(today):
			report.Current = report.Current.Add(balance)
		case today.Sub(*p.DueDate) <= 30*24*time.Hour:
			report.Days1to30 = report.Days1to30.Add(balance)
		case today.Sub(*p.DueDate) <= 60*24*time.Hour:
			report.Days31to60 = report.Days31to60.Add(balance)
		case today.Sub(*p.DueDate) <= 90*24*time.Hour:
			report.Days61to90 = report.Days61to90.Add(balance)
		default:
			report.Over90 = report.Over90.Add(balance)
		}
		report.Total = report.Total.Add(balance)
	}
	return report, nil
}

func (r *memoryRepo) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	var touched int64
	for _, p := range r.payables {
		if (p.Status == StatusPending || p.Status == StatusPartial) &&
			p.DueDate != nil && p.DueDate.Before(asOf) {
			p.Status = StatusOverdue
			touched++
		}
	}
	return touched, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) DuplicateExists(ctx context.Context, supplierID int64, invoiceNumber string) (bool, error) {
	for _, p := range t.repo.payables {
		if p.SupplierID == supplierID && p.InvoiceNumber == invoiceNumber && p.Status != StatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) Insert(ctx context.Context, payable AccountPayable) error {
	payable.CreatedAt = time.Now()
	clone := payable
	t.repo.payables[payable.ID] = &clone
	return nil
}

func (t *memoryTx) LockPayable(ctx context.Context, id uuid.UUID) (AccountPayable, error) {
	p, ok := t.repo.payables[id]
	if !ok {
		return AccountPayable{}, fmt.Errorf("%w: account payable %s", shared.ErrNotFound, id)
	}
	return *p, nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, payment Payment) error {
	payment.CreatedAt = time.Now()
	t.repo.payments = append(t.repo.payments, payment)
	return nil
}

func (t *memoryTx) ApplyPayment(ctx context.Context, id uuid.UUID, paid decimal.Decimal, status PayableStatus) error {
	p, ok := t.repo.payables[id]
	if !ok {
		return fmt.Errorf("%w: account payable %s", shared.ErrNotFound, id)
	}
	p.PaidAmount = paid
	p.Status = status
	return nil
}

func (t *memoryTx) Cancel(ctx context.Context, id uuid.UUID) error {
	p, ok := t.repo.payables[id]
	if !ok || !p.PaidAmount.IsZero() || p.Status == StatusCancelled {
		return fmt.Errorf("%w: payable cannot be cancelled", shared.ErrDomainConflict)
	}
	p.Status = StatusCancelled
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, entry audit.Entry) {
	t.repo.audits = append(t.repo.audits, entry)
}

var (
	_ Repository   = (*memoryRepo)(nil)
	_ TxRepository = (*memoryTx)(nil)
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func accountant() *shared.Identity {
	return &shared.Identity{UserID: 10, Name: "Contadora", Role: shared.RoleAdmin}
}

func createInput(supplierID int64, invoice string) CreateInput {
	return CreateInput{
		SupplierID:      supplierID,
		InvoiceNumber:   invoice,
		InvoiceType:     "FACTURA",
		IssueDate:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		NetAmount:       money("1000.00"),
		TaxAmount:       money("180.00"),
		ExpenseCategory: "INVENTORY",
	}
}

func TestCreatePayable(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)

	id, err := svc.Create(context.Background(), accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	payable := repo.payables[id]
	require.NotNil(t, payable)
	require.Equal(t, StatusPending, payable.Status)
	require.True(t, payable.PaidAmount.IsZero())
	require.True(t, payable.TotalAmount.Equal(money("1180.00")))
	require.True(t, payable.Balance().Equal(money("1180.00")))

	require.Len(t, repo.audits, 1)
	require.Equal(t, ActionPayableCreated, repo.audits[0].ActionCode)
}

func TestCreateRejectsUnknownSupplier(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)

	_, err := svc.Create(context.Background(), accountant(), createInput(42, "F001-00042"))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.payables)
}

func TestCreateRejectsDuplicateInvoice(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.Len(t, repo.payables, 1)

	// A different supplier may reuse the invoice number.
	repo.suppliers[43] = true
	_, err = svc.Create(ctx, accountant(), createInput(43, "F001-00042"))
	require.NoError(t, err)
}

func TestCancelledInvoiceNumberCanBeReused(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, accountant(), CancelInput{
		AccountPayableID: id,
		Justification:    "registered against the wrong supplier",
	}))

	_, err = svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)
}

func TestRegisterPaymentLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	// Partial payment.
	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("500.00"),
		Method:           MethodTransfer,
		ReferenceNumber:  "OP-991",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPartial, repo.payables[id].Status)
	require.True(t, repo.payables[id].Balance().Equal(money("680.00")))

	// Settling the remainder flips to PAID.
	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("680.00"),
		Method:           MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, repo.payables[id].Status)
	require.True(t, repo.payables[id].Balance().IsZero())

	// Fully paid rows reject further payments.
	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("1.00"),
		Method:           MethodCash,
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.Len(t, repo.payments, 2)
}

func TestRegisterPaymentRejectsOverpayment(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("1180.01"),
		Method:           MethodTransfer,
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.True(t, repo.payables[id].PaidAmount.IsZero())
	require.Empty(t, repo.payments)
}

func TestRegisterPaymentOnOverdueRow(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	due := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	input := createInput(42, "F001-00042")
	input.IssueDate = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	input.DueDate = &due
	id, err := svc.Create(ctx, accountant(), input)
	require.NoError(t, err)

	touched, err := repo.MarkOverdue(ctx, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, int64(1), touched)
	require.Equal(t, StatusOverdue, repo.payables[id].Status)

	// Payment on an overdue row still lands and recomputes the status.
	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("1180.00"),
		Method:           MethodCheck,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, repo.payables[id].Status)
}

func TestCancelOnlyWhileUnpaid(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	_, err = svc.RegisterPayment(ctx, accountant(), PaymentInput{
		AccountPayableID: id,
		Amount:           money("100.00"),
		Method:           MethodCash,
	})
	require.NoError(t, err)

	err = svc.Cancel(ctx, accountant(), CancelInput{
		AccountPayableID: id,
		Justification:    "duplicate of another invoice",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.Equal(t, StatusPartial, repo.payables[id].Status)
}

func TestCancelValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	id, err := svc.Create(ctx, accountant(), createInput(42, "F001-00042"))
	require.NoError(t, err)

	err = svc.Cancel(ctx, accountant(), CancelInput{AccountPayableID: id, Justification: "typo"})
	require.ErrorIs(t, err, shared.ErrValidation)

	location := uuid.New()
	cashierID := &shared.Identity{UserID: 3, Role: shared.RoleCashier, LocationID: &location}
	err = svc.Cancel(ctx, cashierID, CancelInput{
		AccountPayableID: id,
		Justification:    "duplicate of another invoice",
	})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	err = svc.Cancel(ctx, accountant(), CancelInput{
		AccountPayableID: id,
		Justification:    "duplicate of another invoice",
	})
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, repo.payables[id].Status)

	last := repo.audits[len(repo.audits)-1]
	require.Equal(t, ActionPayableCancelled, last.ActionCode)
	require.Equal(t, "duplicate of another invoice", last.Justification)
}

func TestListScopesNonManagerToAssignedLocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	mine := uuid.New()
	other := uuid.New()

	inputMine := createInput(42, "F001-00001")
	inputMine.LocationID = &mine
	_, err := svc.Create(ctx, accountant(), inputMine)
	require.NoError(t, err)

	inputOther := createInput(42, "F001-00002")
	inputOther.LocationID = &other
	_, err = svc.Create(ctx, accountant(), inputOther)
	require.NoError(t, err)

	pharmacist := &shared.Identity{UserID: 5, Role: shared.RolePharmacist, LocationID: &mine}
	payables, _, err := svc.List(ctx, pharmacist, ListFilters{})
	require.NoError(t, err)
	require.Len(t, payables, 1)
	require.Equal(t, mine, *payables[0].LocationID)

	_, _, err = svc.List(ctx, pharmacist, ListFilters{LocationID: other})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	payables, _, err = svc.List(ctx, accountant(), ListFilters{})
	require.NoError(t, err)
	require.Len(t, payables, 2)
}

func TestAgingBuckets(t *testing.T) {
	repo := newMemoryRepo()
	repo.suppliers[42] = true
	svc := newTestService(repo)
	ctx := context.Background()

	now := time.Now()
	seed := func(invoice string, daysOverdue int) {
		input := createInput(42, invoice)
		input.IssueDate = now.AddDate(0, -6, 0)
		if daysOverdue >= 0 {
			due := now.AddDate(0, 0, -daysOverdue)
			input.DueDate = &due
		}
		_, err := svc.Create(ctx, accountant(), input)
		require.NoError(t, err)
	}

	seed("F-CURRENT", -1) // no due date
	seed("F-15D", 15)
	seed("F-45D", 45)
	seed("F-75D", 75)
	seed("F-120D", 120)

	report, err := svc.Aging(ctx, accountant(), uuid.Nil)
	require.NoError(t, err)
	require.True(t, report.Current.Equal(money("1180.00")))
	require.True(t, report.Days1to30.Equal(money("1180.00")))
	require.True(t, report.Days31to60.Equal(money("1180.00")))
	require.True(t, report.Days61to90.Equal(money("1180.00")))
	require.True(t, report.Over90.Equal(money("1180.00")))
	require.True(t, report.Total.Equal(money("5900.00")))
}
