package treasury

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates financial account kinds.
type AccountType string

const (
	AccountSafe      AccountType = "SAFE"
	AccountBank      AccountType = "BANK"
	AccountPettyCash AccountType = "PETTY_CASH"
	AccountEquity    AccountType = "EQUITY"
)

// Direction marks which side of an account a ledger line touches.
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// RemittanceStatus enumerates remittance states.
type RemittanceStatus string

const (
	RemittancePendingReceipt RemittanceStatus = "PENDING_RECEIPT"
	RemittanceReceived       RemittanceStatus = "RECEIVED"
)

// CashMovementType enumerates cash-register movement kinds.
type CashMovementType string

const (
	MovementWithdrawal  CashMovementType = "WITHDRAWAL"
	MovementExtraIncome CashMovementType = "EXTRA_INCOME"
	MovementExpense     CashMovementType = "EXPENSE"
)

// FinancialAccount holds money for a location. Balance never goes negative as
// a result of a committed operation; inactive accounts reject new movements.
// Accounts are deactivated, never hard-deleted.
type FinancialAccount struct {
	ID         uuid.UUID
	LocationID uuid.UUID
	Name       string
	Type       AccountType
	Balance    decimal.Decimal
	IsActive   bool
}

// TreasuryTransaction is an immutable, append-only ledger line. Every balance
// change pairs with exactly one line on the same account in the same
// transaction.
type TreasuryTransaction struct {
	ID              uuid.UUID
	AccountID       uuid.UUID
	Amount          decimal.Decimal
	Direction       Direction
	Description     string
	RelatedEntityID *uuid.UUID
	CreatedBy       int64
	CreatedAt       time.Time
}

// Remittance is cash sent from a POS terminal to the safe. It transitions
// PENDING_RECEIPT to RECEIVED exactly once.
type Remittance struct {
	ID               uuid.UUID
	LocationID       uuid.UUID
	SourceTerminalID uuid.UUID
	Amount           decimal.Decimal
	Status           RemittanceStatus
	CreatedBy        int64
	ReceivedBy       *int64
	CreatedAt        time.Time
}

// CashRegisterSession is the open/closed lifecycle of one terminal drawer.
type CashRegisterSession struct {
	ID         uuid.UUID
	TerminalID uuid.UUID
	LocationID uuid.UUID
	OpenedBy   int64
	OpenedAt   time.Time
	ClosedAt   *time.Time
}

// CashMovement is a ledger-only register event, immutable after creation. It
// does not touch FinancialAccount balances; cash reconciliation consumes it
// later.
type CashMovement struct {
	ID           uuid.UUID
	LocationID   uuid.UUID
	TerminalID   uuid.UUID
	SessionID    uuid.UUID
	UserID       int64
	Type         CashMovementType
	Amount       decimal.Decimal
	Reason       string
	AuthorizedBy *int64
	CreatedAt    time.Time
}

// --- Operation inputs ---

// TransferInput moves money between two accounts.
type TransferInput struct {
	FromAccountID uuid.UUID
	ToAccountID   uuid.UUID
	Amount        decimal.Decimal
	Description   string
	PIN           string
}

// DepositInput moves money from a safe into a bank account. A PIN is always
// required. When BankAccountID is nil the location's single BANK account is
// used, created on demand inside the locked transaction.
type DepositInput struct {
	SafeID        uuid.UUID
	Amount        decimal.Decimal
	PIN           string
	BankAccountID *uuid.UUID
	Description   string
}

// ConfirmRemittanceInput confirms receipt of a pending remittance into the
// location's safe.
type ConfirmRemittanceInput struct {
	RemittanceID uuid.UUID
	PIN          string
}

// CashMovementInput records a withdrawal, extra income or expense against an
// open cash-register session.
type CashMovementInput struct {
	TerminalID uuid.UUID
	SessionID  uuid.UUID
	Type       CashMovementType
	Amount     decimal.Decimal
	Reason     string
	PIN        string
}

// --- Read-side ---

// HistoryRequest scopes the transaction history listing.
type HistoryRequest struct {
	AccountID uuid.UUID
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// AccountSummary is one account row in the financial summary.
type AccountSummary struct {
	ID       uuid.UUID
	Name     string
	Type     AccountType
	Balance  decimal.Decimal
	IsActive bool
}

// FinancialSummary aggregates a location's treasury position.
type FinancialSummary struct {
	LocationID         uuid.UUID
	Accounts           []AccountSummary
	TotalBalance       decimal.Decimal
	PendingRemittances int
	TodayIn            decimal.Decimal
	TodayOut           decimal.Decimal
	MonthIn            decimal.Decimal
	MonthOut           decimal.Decimal
}
