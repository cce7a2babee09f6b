// Package ap implements the accounts payable ledger: supplier invoices,
// their payments, and the derived status lifecycle.
package ap

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayableStatus is the lifecycle state of an accounts payable row.
type PayableStatus string

const (
	StatusPending   PayableStatus = "PENDING"
	StatusPartial   PayableStatus = "PARTIAL"
	StatusPaid      PayableStatus = "PAID"
	StatusOverdue   PayableStatus = "OVERDUE"
	StatusCancelled PayableStatus = "CANCELLED"
	StatusDisputed  PayableStatus = "DISPUTED"
)

// PaymentMethod is how a payment was settled.
type PaymentMethod string

const (
	MethodTransfer   PaymentMethod = "TRANSFER"
	MethodCheck      PaymentMethod = "CHECK"
	MethodCash       PaymentMethod = "CASH"
	MethodCreditNote PaymentMethod = "CREDIT_NOTE"
)

// AccountPayable is one supplier invoice. (supplierId, invoiceNumber) is
// unique among non-cancelled rows. paidAmount only grows, via recorded
// payments, and never exceeds totalAmount.
type AccountPayable struct {
	ID              uuid.UUID
	SupplierID      int64
	InvoiceNumber   string
	InvoiceType     string
	IssueDate       time.Time
	DueDate         *time.Time
	NetAmount       decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	PaidAmount      decimal.Decimal
	Status          PayableStatus
	LocationID      *uuid.UUID
	ExpenseCategory string
	CreatedBy       int64
	CreatedAt       time.Time
}

// Balance is the outstanding amount.
func (a AccountPayable) Balance() decimal.Decimal {
	return a.TotalAmount.Sub(a.PaidAmount)
}

// Payment is an immutable settlement row against one payable.
type Payment struct {
	ID               uuid.UUID
	AccountPayableID uuid.UUID
	PaymentDate      time.Time
	Amount           decimal.Decimal
	Method           PaymentMethod
	ReferenceNumber  string
	CreatedBy        int64
	CreatedAt        time.Time
}

// statusAfterPayment derives the parent status from the new paid total.
func statusAfterPayment(paid, total decimal.Decimal) PayableStatus {
	if paid.GreaterThanOrEqual(total) {
		return StatusPaid
	}
	return StatusPartial
}

// --- Operation inputs ---

// CreateInput registers a new supplier invoice.
type CreateInput struct {
	SupplierID      int64
	InvoiceNumber   string
	InvoiceType     string
	IssueDate       time.Time
	DueDate         *time.Time
	NetAmount       decimal.Decimal
	TaxAmount       decimal.Decimal
	LocationID      *uuid.UUID
	ExpenseCategory string
}

// PaymentInput records a payment against a payable.
type PaymentInput struct {
	AccountPayableID uuid.UUID
	PaymentDate      time.Time
	Amount           decimal.Decimal
	Method           PaymentMethod
	ReferenceNumber  string
}

// CancelInput voids an unpaid payable, keeping the row.
type CancelInput struct {
	AccountPayableID uuid.UUID
	Justification    string
}

// --- Read-side ---

// ListFilters scopes the payable listing.
type ListFilters struct {
	SupplierID int64
	Status     PayableStatus
	LocationID uuid.UUID
	Page       int
	PerPage    int
}

// AgingReport buckets outstanding balances by days overdue relative to due
// date. Rows without a due date count as current.
type AgingReport struct {
	Current    decimal.Decimal
	Days1to30  decimal.Decimal
	Days31to60 decimal.Decimal
	Days61to90 decimal.Decimal
	Over90     decimal.Decimal
	Total      decimal.Decimal
}
