package ap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Audit action codes written by the payable operations.
const (
	ActionPayableCreated   = "AP_CREATED"
	ActionPaymentRecorded  = "AP_PAYMENT"
	ActionPayableCancelled = "AP_CANCELLED"
)

const minJustificationLen = 10

// Service implements accounts payable operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService constructs the accounts payable Service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func requireIdentity(identity *shared.Identity) error {
	if identity == nil {
		return shared.ErrNotAuthenticated
	}
	return nil
}

// Create registers a supplier invoice with status PENDING and zero paid
// amount. Unknown suppliers and duplicate (supplier, invoiceNumber) pairs
// among non-cancelled rows are rejected.
func (s *Service) Create(ctx context.Context, identity *shared.Identity, input CreateInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if input.SupplierID <= 0 {
		return uuid.Nil, fmt.Errorf("%w: supplierId is required", shared.ErrValidation)
	}
	if input.InvoiceNumber == "" {
		return uuid.Nil, fmt.Errorf("%w: invoiceNumber is required", shared.ErrValidation)
	}
	if input.IssueDate.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: issueDate is required", shared.ErrValidation)
	}
	if input.NetAmount.IsNegative() || input.TaxAmount.IsNegative() {
		return uuid.Nil, fmt.Errorf("%w: amounts must not be negative", shared.ErrValidation)
	}
	total := input.NetAmount.Add(input.TaxAmount)
	if !total.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: total amount must be positive", shared.ErrValidation)
	}
	if input.DueDate != nil && input.DueDate.Before(input.IssueDate) {
		return uuid.Nil, fmt.Errorf("%w: dueDate before issueDate", shared.ErrValidation)
	}

	exists, err := s.repo.SupplierExists(ctx, input.SupplierID)
	if err != nil {
		return uuid.Nil, err
	}
	if !exists {
		return uuid.Nil, fmt.Errorf("%w: supplier %d not found or inactive", shared.ErrValidation, input.SupplierID)
	}

	payableID := uuid.New()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		duplicate, err := tx.DuplicateExists(ctx, input.SupplierID, input.InvoiceNumber)
		if err != nil {
			return err
		}
		if duplicate {
			return fmt.Errorf("%w: invoice %s already registered for supplier %d",
				shared.ErrDomainConflict, input.InvoiceNumber, input.SupplierID)
		}

		if err := tx.Insert(ctx, AccountPayable{
			ID:              payableID,
			SupplierID:      input.SupplierID,
			InvoiceNumber:   input.InvoiceNumber,
			InvoiceType:     input.InvoiceType,
			IssueDate:       input.IssueDate,
			DueDate:         input.DueDate,
			NetAmount:       input.NetAmount,
			TaxAmount:       input.TaxAmount,
			TotalAmount:     total,
			PaidAmount:      decimal.Zero,
			Status:          StatusPending,
			LocationID:      input.LocationID,
			ExpenseCategory: input.ExpenseCategory,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:     identity.UserID,
			LocationID: input.LocationID,
			ActionCode: ActionPayableCreated,
			EntityType: "account_payable",
			EntityID:   payableID.String(),
			Amount:     total,
			NewValues: map[string]any{
				"supplierId":    input.SupplierID,
				"invoiceNumber": input.InvoiceNumber,
				"status":        string(StatusPending),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("account payable created",
		slog.String("payable_id", payableID.String()),
		slog.Int64("supplier_id", input.SupplierID))
	return payableID, nil
}

// RegisterPayment records a payment and recomputes the parent's paid amount
// and status in the same transaction. Overpayment is impossible: the balance
// is re-read under the row lock before the check.
func (s *Service) RegisterPayment(ctx context.Context, identity *shared.Identity, input PaymentInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if input.AccountPayableID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: accountPayableId is required", shared.ErrValidation)
	}
	if !input.Amount.IsPositive() {
		return uuid.Nil, fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	switch input.Method {
	case MethodTransfer, MethodCheck, MethodCash, MethodCreditNote:
	default:
		return uuid.Nil, fmt.Errorf("%w: unknown payment method %q", shared.ErrValidation, input.Method)
	}
	paymentDate := input.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = time.Now()
	}

	paymentID := uuid.New()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payable, err := tx.LockPayable(ctx, input.AccountPayableID)
		if err != nil {
			return err
		}
		switch payable.Status {
		case StatusCancelled:
			return fmt.Errorf("%w: payable is cancelled", shared.ErrDomainConflict)
		case StatusPaid:
			return fmt.Errorf("%w: payable is already fully paid", shared.ErrDomainConflict)
		}
		balance := payable.Balance()
		if input.Amount.GreaterThan(balance) {
			return fmt.Errorf("%w: payment exceeds outstanding balance (%s)",
				shared.ErrDomainConflict, balance.StringFixed(2))
		}

		if err := tx.InsertPayment(ctx, Payment{
			ID:               paymentID,
			AccountPayableID: payable.ID,
			PaymentDate:      paymentDate,
			Amount:           input.Amount,
			Method:           input.Method,
			ReferenceNumber:  input.ReferenceNumber,
			CreatedBy:        identity.UserID,
		}); err != nil {
			return err
		}

		newPaid := payable.PaidAmount.Add(input.Amount)
		newStatus := statusAfterPayment(newPaid, payable.TotalAmount)
		if err := tx.ApplyPayment(ctx, payable.ID, newPaid, newStatus); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:     identity.UserID,
			LocationID: payable.LocationID,
			ActionCode: ActionPaymentRecorded,
			EntityType: "account_payable",
			EntityID:   payable.ID.String(),
			Amount:     input.Amount,
			OldValues: map[string]any{
				"paidAmount": payable.PaidAmount.StringFixed(2),
				"status":     string(payable.Status),
			},
			NewValues: map[string]any{
				"paymentId":  paymentID.String(),
				"method":     string(input.Method),
				"paidAmount": newPaid.StringFixed(2),
				"status":     string(newStatus),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("payable payment recorded",
		slog.String("payment_id", paymentID.String()),
		slog.String("payable_id", input.AccountPayableID.String()))
	return paymentID, nil
}

// Cancel voids an unpaid payable. The row is preserved; only the status
// changes. A written justification is mandatory.
func (s *Service) Cancel(ctx context.Context, identity *shared.Identity, input CancelInput) error {
	if err := requireIdentity(identity); err != nil {
		return err
	}
	if !identity.IsManagerTier() {
		return fmt.Errorf("%w: cancelling payables requires a manager role", shared.ErrUnauthorized)
	}
	if input.AccountPayableID == uuid.Nil {
		return fmt.Errorf("%w: accountPayableId is required", shared.ErrValidation)
	}
	if len(input.Justification) < minJustificationLen {
		return fmt.Errorf("%w: justification must be at least %d characters",
			shared.ErrValidation, minJustificationLen)
	}

	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payable, err := tx.LockPayable(ctx, input.AccountPayableID)
		if err != nil {
			return err
		}
		if payable.Status == StatusCancelled {
			return fmt.Errorf("%w: payable is already cancelled", shared.ErrDomainConflict)
		}
		if !payable.PaidAmount.IsZero() {
			return fmt.Errorf("%w: payable has recorded payments", shared.ErrDomainConflict)
		}
		if err := tx.Cancel(ctx, payable.ID); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:        identity.UserID,
			LocationID:    payable.LocationID,
			ActionCode:    ActionPayableCancelled,
			EntityType:    "account_payable",
			EntityID:      payable.ID.String(),
			Amount:        payable.TotalAmount,
			Justification: input.Justification,
			OldValues:     map[string]any{"status": string(payable.Status)},
			NewValues:     map[string]any{"status": string(StatusCancelled)},
		})

		s.logger.Info("account payable cancelled",
			slog.String("payable_id", payable.ID.String()),
			slog.Int64("user_id", identity.UserID))
		return nil
	})
}

// List returns payables matching the filters. Non-manager roles only see
// their assigned location.
func (s *Service) List(ctx context.Context, identity *shared.Identity, filters ListFilters) ([]AccountPayable, shared.Pagination, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, shared.Pagination{}, err
	}
	scoped, err := scopeFilters(identity, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return s.repo.List(ctx, scoped)
}

// Payments lists the settlement rows of one payable.
func (s *Service) Payments(ctx context.Context, identity *shared.Identity, payableID uuid.UUID) ([]Payment, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	if payableID == uuid.Nil {
		return nil, fmt.Errorf("%w: accountPayableId is required", shared.ErrValidation)
	}
	return s.repo.Payments(ctx, payableID)
}

// Aging buckets the outstanding balance by days overdue.
func (s *Service) Aging(ctx context.Context, identity *shared.Identity, locationID uuid.UUID) (AgingReport, error) {
	if err := requireIdentity(identity); err != nil {
		return AgingReport{}, err
	}
	if !identity.IsManagerTier() {
		if identity.LocationID == nil {
			return AgingReport{}, fmt.Errorf("%w: no assigned location", shared.ErrUnauthorized)
		}
		locationID = *identity.LocationID
	}
	return s.repo.Aging(ctx, locationID)
}

func scopeFilters(identity *shared.Identity, filters ListFilters) (ListFilters, error) {
	if identity.IsManagerTier() {
		return filters, nil
	}
	if identity.LocationID == nil {
		return ListFilters{}, fmt.Errorf("%w: no assigned location", shared.ErrUnauthorized)
	}
	if filters.LocationID != uuid.Nil && filters.LocationID != *identity.LocationID {
		return ListFilters{}, fmt.Errorf("%w: location out of scope", shared.ErrUnauthorized)
	}
	filters.LocationID = *identity.LocationID
	return filters, nil
}
