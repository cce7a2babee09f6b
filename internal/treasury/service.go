package treasury

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/authz"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Audit action codes written by the money movement operations.
const (
	ActionTransfer            = "TRANSFER"
	ActionBankDeposit         = "BANK_DEPOSIT"
	ActionRemittanceConfirmed = "REMITTANCE_CONFIRMED"
	ActionCashMovement        = "CASH_MOVEMENT"
)

const (
	minDescriptionLen = 3
	maxDescriptionLen = 255
)

// PinValidator is the authorization boundary consumed by the service.
type PinValidator interface {
	Validate(ctx context.Context, pin string, requiredRoles []shared.Role) (authz.Authorization, error)
}

// Service implements the money movement operations. Each operation is a
// bounded, all-or-nothing unit of work:
// validate, authorize when gated, lock, re-verify, mutate, audit, commit.
type Service struct {
	repo      Repository
	validator PinValidator
	policy    authz.Policy
	logger    *slog.Logger
}

// NewService constructs the treasury Service.
func NewService(repo Repository, validator PinValidator, policy authz.Policy, logger *slog.Logger) *Service {
	return &Service{repo: repo, validator: validator, policy: policy, logger: logger}
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", shared.ErrValidation)
	}
	return nil
}

func validDescription(field, value string) error {
	if len(value) < minDescriptionLen || len(value) > maxDescriptionLen {
		return fmt.Errorf("%w: %s must be between %d and %d characters",
			shared.ErrValidation, field, minDescriptionLen, maxDescriptionLen)
	}
	return nil
}

func validID(field string, id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("%w: %s must be a valid UUID", shared.ErrValidation, field)
	}
	return nil
}

func requireIdentity(identity *shared.Identity) error {
	if identity == nil {
		return shared.ErrNotAuthenticated
	}
	return nil
}

// Transfer moves amount between two financial accounts. Amounts above the
// configured threshold require a manager PIN. Both balance changes and their
// paired ledger lines commit atomically or not at all.
func (s *Service) Transfer(ctx context.Context, identity *shared.Identity, input TransferInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if err := validID("fromAccountId", input.FromAccountID); err != nil {
		return uuid.Nil, err
	}
	if err := validID("toAccountId", input.ToAccountID); err != nil {
		return uuid.Nil, err
	}
	if input.FromAccountID == input.ToAccountID {
		return uuid.Nil, fmt.Errorf("%w: source and destination accounts must differ", shared.ErrValidation)
	}
	if err := validAmount(input.Amount); err != nil {
		return uuid.Nil, err
	}
	if err := validDescription("description", input.Description); err != nil {
		return uuid.Nil, err
	}

	var authorizedBy *int64
	if s.policy.TransferNeedsPIN(input.Amount) {
		if input.PIN == "" {
			return uuid.Nil, fmt.Errorf("%w: PIN required for transfers above %s",
				shared.ErrValidation, shared.FormatAmount(s.policy.TransferThreshold))
		}
		auth, err := s.validator.Validate(ctx, input.PIN, s.policy.AuthorizerRoles)
		if err != nil {
			return uuid.Nil, err
		}
		authorizedBy = &auth.UserID
	}

	transferID := uuid.New()
	err := s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx TxRepository) error {
		accounts, err := tx.LockAccounts(ctx, input.FromAccountID, input.ToAccountID)
		if err != nil {
			return err
		}
		// Post-lock re-verification: the lock prevents concurrent mutation,
		// it does not replace these checks.
		if len(accounts) != 2 {
			return fmt.Errorf("%w: one or both accounts not found", shared.ErrDomainConflict)
		}
		source, dest := pick(accounts, input.FromAccountID), pick(accounts, input.ToAccountID)
		if !source.IsActive || !dest.IsActive {
			return fmt.Errorf("%w: inactive account rejects movements", shared.ErrDomainConflict)
		}
		if source.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: insufficient funds (available %s)",
				shared.ErrDomainConflict, shared.FormatAmount(source.Balance))
		}

		newSource := source.Balance.Sub(input.Amount)
		newDest := dest.Balance.Add(input.Amount)
		if err := tx.UpdateBalance(ctx, source.ID, newSource); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, dest.ID, newDest); err != nil {
			return err
		}
		if err := tx.AppendLedgerLine(ctx, TreasuryTransaction{
			AccountID:       source.ID,
			Amount:          input.Amount,
			Direction:       DirectionOut,
			Description:     input.Description,
			RelatedEntityID: &transferID,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}
		if err := tx.AppendLedgerLine(ctx, TreasuryTransaction{
			AccountID:       dest.ID,
			Amount:          input.Amount,
			Direction:       DirectionIn,
			Description:     input.Description,
			RelatedEntityID: &transferID,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:       identity.UserID,
			AuthorizedBy: authorizedBy,
			LocationID:   &source.LocationID,
			ActionCode:   ActionTransfer,
			EntityType:   "financial_account",
			EntityID:     transferID.String(),
			Amount:       input.Amount,
			OldValues: map[string]any{
				"sourceBalance": source.Balance.StringFixed(2),
				"destBalance":   dest.Balance.StringFixed(2),
			},
			NewValues: map[string]any{
				"sourceAccountId": source.ID.String(),
				"destAccountId":   dest.ID.String(),
				"sourceBalance":   newSource.StringFixed(2),
				"destBalance":     newDest.StringFixed(2),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("transfer committed",
		slog.String("transfer_id", transferID.String()),
		slog.Int64("user_id", identity.UserID))
	return transferID, nil
}

// DepositToBank moves amount from a safe into a bank account. A PIN is always
// required. When no bank account id is supplied the location's BANK account
// is used; creating it on demand is race-free because both concurrent
// depositors must already hold the same SAFE row lock.
func (s *Service) DepositToBank(ctx context.Context, identity *shared.Identity, input DepositInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if err := validID("safeId", input.SafeID); err != nil {
		return uuid.Nil, err
	}
	if err := validAmount(input.Amount); err != nil {
		return uuid.Nil, err
	}
	if input.BankAccountID != nil {
		if err := validID("bankAccountId", *input.BankAccountID); err != nil {
			return uuid.Nil, err
		}
		if *input.BankAccountID == input.SafeID {
			return uuid.Nil, fmt.Errorf("%w: safe and bank accounts must differ", shared.ErrValidation)
		}
	}
	if input.PIN == "" {
		return uuid.Nil, fmt.Errorf("%w: PIN required for bank deposits", shared.ErrValidation)
	}

	auth, err := s.validator.Validate(ctx, input.PIN, s.policy.AuthorizerRoles)
	if err != nil {
		return uuid.Nil, err
	}
	authorizedBy := auth.UserID

	description := input.Description
	if description == "" {
		description = "Bank deposit"
	}

	depositID := uuid.New()
	err = s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var safe, bank FinancialAccount
		if input.BankAccountID != nil {
			accounts, err := tx.LockAccounts(ctx, input.SafeID, *input.BankAccountID)
			if err != nil {
				return err
			}
			if len(accounts) != 2 {
				return fmt.Errorf("%w: safe or bank account not found", shared.ErrDomainConflict)
			}
			safe, bank = pick(accounts, input.SafeID), pick(accounts, *input.BankAccountID)
		} else {
			accounts, err := tx.LockAccounts(ctx, input.SafeID)
			if err != nil {
				return err
			}
			if len(accounts) != 1 {
				return fmt.Errorf("%w: safe account not found", shared.ErrDomainConflict)
			}
			safe = accounts[0]

			existing, err := tx.LockBankAccountForLocation(ctx, safe.LocationID)
			if err != nil {
				return err
			}
			if existing != nil {
				bank = *existing
			} else {
				created, err := tx.CreateBankAccount(ctx, safe.LocationID, "Bank")
				if err != nil {
					return err
				}
				bank = created
			}
		}

		if safe.Type != AccountSafe {
			return fmt.Errorf("%w: source account is not a safe", shared.ErrDomainConflict)
		}
		if bank.Type != AccountBank {
			return fmt.Errorf("%w: destination account is not a bank account", shared.ErrDomainConflict)
		}
		if !safe.IsActive || !bank.IsActive {
			return fmt.Errorf("%w: inactive account rejects movements", shared.ErrDomainConflict)
		}
		if safe.Balance.LessThan(input.Amount) {
			return fmt.Errorf("%w: insufficient funds in safe (available %s)",
				shared.ErrDomainConflict, shared.FormatAmount(safe.Balance))
		}

		newSafe := safe.Balance.Sub(input.Amount)
		newBank := bank.Balance.Add(input.Amount)
		if err := tx.UpdateBalance(ctx, safe.ID, newSafe); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, bank.ID, newBank); err != nil {
			return err
		}
		if err := tx.AppendLedgerLine(ctx, TreasuryTransaction{
			AccountID:       safe.ID,
			Amount:          input.Amount,
			Direction:       DirectionOut,
			Description:     description,
			RelatedEntityID: &depositID,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}
		if err := tx.AppendLedgerLine(ctx, TreasuryTransaction{
			AccountID:       bank.ID,
			Amount:          input.Amount,
			Direction:       DirectionIn,
			Description:     description,
			RelatedEntityID: &depositID,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:       identity.UserID,
			AuthorizedBy: &authorizedBy,
			LocationID:   &safe.LocationID,
			ActionCode:   ActionBankDeposit,
			EntityType:   "financial_account",
			EntityID:     depositID.String(),
			Amount:       input.Amount,
			OldValues: map[string]any{
				"safeBalance": safe.Balance.StringFixed(2),
				"bankBalance": bank.Balance.StringFixed(2),
			},
			NewValues: map[string]any{
				"safeAccountId": safe.ID.String(),
				"bankAccountId": bank.ID.String(),
				"safeBalance":   newSafe.StringFixed(2),
				"bankBalance":   newBank.StringFixed(2),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("bank deposit committed",
		slog.String("deposit_id", depositID.String()),
		slog.Int64("authorized_by", authorizedBy))
	return depositID, nil
}

// ConfirmRemittance credits a pending remittance into the location's safe,
// at most once. The authorizing identity must be the caller: presenting
// someone else's valid PIN under your own session is rejected.
func (s *Service) ConfirmRemittance(ctx context.Context, identity *shared.Identity, input ConfirmRemittanceInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if err := validID("remittanceId", input.RemittanceID); err != nil {
		return uuid.Nil, err
	}
	if input.PIN == "" {
		return uuid.Nil, fmt.Errorf("%w: PIN required to confirm a remittance", shared.ErrValidation)
	}

	auth, err := s.validator.Validate(ctx, input.PIN, s.policy.AuthorizerRoles)
	if err != nil {
		return uuid.Nil, err
	}
	if auth.UserID != identity.UserID {
		return uuid.Nil, fmt.Errorf("%w: PIN must belong to the confirming user", shared.ErrInvalidAuthorization)
	}

	err = s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx TxRepository) error {
		remittance, err := tx.LockRemittance(ctx, input.RemittanceID)
		if err != nil {
			return err
		}
		// Idempotency guard: a remittance is confirmed at most once.
		if remittance.Status != RemittancePendingReceipt {
			return fmt.Errorf("%w: remittance already processed", shared.ErrDomainConflict)
		}

		safe, err := tx.LockSafeAccountForLocation(ctx, remittance.LocationID)
		if err != nil {
			return err
		}
		if safe == nil {
			return fmt.Errorf("%w: location has no safe account", shared.ErrDomainConflict)
		}
		if !safe.IsActive {
			return fmt.Errorf("%w: inactive account rejects movements", shared.ErrDomainConflict)
		}

		newBalance := safe.Balance.Add(remittance.Amount)
		if err := tx.UpdateBalance(ctx, safe.ID, newBalance); err != nil {
			return err
		}
		remittanceID := remittance.ID
		if err := tx.AppendLedgerLine(ctx, TreasuryTransaction{
			AccountID:       safe.ID,
			Amount:          remittance.Amount,
			Direction:       DirectionIn,
			Description:     fmt.Sprintf("Remittance from terminal %s", remittance.SourceTerminalID),
			RelatedEntityID: &remittanceID,
			CreatedBy:       identity.UserID,
		}); err != nil {
			return err
		}
		if err := tx.MarkRemittanceReceived(ctx, remittance.ID, identity.UserID); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:       identity.UserID,
			AuthorizedBy: &auth.UserID,
			LocationID:   &remittance.LocationID,
			ActionCode:   ActionRemittanceConfirmed,
			EntityType:   "treasury_remittance",
			EntityID:     remittance.ID.String(),
			Amount:       remittance.Amount,
			OldValues: map[string]any{
				"status":      string(RemittancePendingReceipt),
				"safeBalance": safe.Balance.StringFixed(2),
			},
			NewValues: map[string]any{
				"status":      string(RemittanceReceived),
				"safeBalance": newBalance.StringFixed(2),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("remittance confirmed",
		slog.String("remittance_id", input.RemittanceID.String()),
		slog.Int64("received_by", identity.UserID))
	return input.RemittanceID, nil
}

// RegisterCashMovement records a withdrawal, extra income or expense against
// an open cash-register session. Ledger-only: no account balance changes.
// The movement's location comes from the session row, never the client.
func (s *Service) RegisterCashMovement(ctx context.Context, identity *shared.Identity, input CashMovementInput) (uuid.UUID, error) {
	if err := requireIdentity(identity); err != nil {
		return uuid.Nil, err
	}
	if err := validID("terminalId", input.TerminalID); err != nil {
		return uuid.Nil, err
	}
	if err := validID("sessionId", input.SessionID); err != nil {
		return uuid.Nil, err
	}
	switch input.Type {
	case MovementWithdrawal, MovementExtraIncome, MovementExpense:
	default:
		return uuid.Nil, fmt.Errorf("%w: unknown movement type %q", shared.ErrValidation, input.Type)
	}
	if err := validAmount(input.Amount); err != nil {
		return uuid.Nil, err
	}
	if err := validDescription("reason", input.Reason); err != nil {
		return uuid.Nil, err
	}

	var authorizedBy *int64
	if input.Type == MovementWithdrawal && s.policy.WithdrawalNeedsPIN(input.Amount) {
		if input.PIN == "" {
			return uuid.Nil, fmt.Errorf("%w: PIN required for withdrawals above %s",
				shared.ErrValidation, shared.FormatAmount(s.policy.WithdrawalThreshold))
		}
		auth, err := s.validator.Validate(ctx, input.PIN, s.policy.AuthorizerRoles)
		if err != nil {
			return uuid.Nil, err
		}
		authorizedBy = &auth.UserID
	}

	movementID := uuid.New()
	err := s.repo.WithSerializableTx(ctx, func(ctx context.Context, tx TxRepository) error {
		session, err := tx.LockOpenSession(ctx, input.SessionID, input.TerminalID)
		if err != nil {
			return err
		}
		if session.TerminalID != input.TerminalID {
			return fmt.Errorf("%w: session does not belong to terminal", shared.ErrDomainConflict)
		}
		if session.ClosedAt != nil {
			return fmt.Errorf("%w: cash-register session is closed", shared.ErrDomainConflict)
		}

		movement := CashMovement{
			ID:           movementID,
			LocationID:   session.LocationID,
			TerminalID:   session.TerminalID,
			SessionID:    session.ID,
			UserID:       identity.UserID,
			Type:         input.Type,
			Amount:       input.Amount,
			Reason:       input.Reason,
			AuthorizedBy: authorizedBy,
		}
		if err := tx.InsertCashMovement(ctx, movement); err != nil {
			return err
		}

		tx.RecordAudit(ctx, audit.Entry{
			UserID:       identity.UserID,
			AuthorizedBy: authorizedBy,
			LocationID:   &session.LocationID,
			ActionCode:   ActionCashMovement,
			EntityType:   "cash_movement",
			EntityID:     movementID.String(),
			Amount:       input.Amount,
			NewValues: map[string]any{
				"type":      string(input.Type),
				"reason":    input.Reason,
				"sessionId": session.ID.String(),
			},
		})
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("cash movement recorded",
		slog.String("movement_id", movementID.String()),
		slog.String("type", string(input.Type)))
	return movementID, nil
}

// --- Read-side pass-throughs ---

// History lists ledger lines for an account, newest first. Non-manager roles
// only see accounts belonging to their assigned location.
func (s *Service) History(ctx context.Context, identity *shared.Identity, req HistoryRequest) ([]TreasuryTransaction, shared.Pagination, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, shared.Pagination{}, err
	}
	if err := validID("accountId", req.AccountID); err != nil {
		return nil, shared.Pagination{}, err
	}
	locationID, err := s.repo.AccountLocation(ctx, req.AccountID)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	if _, err := scopeLocation(identity, locationID); err != nil {
		return nil, shared.Pagination{}, err
	}
	return s.repo.History(ctx, req)
}

// Summary aggregates one location's treasury position. Non-manager roles are
// confined to their assigned location.
func (s *Service) Summary(ctx context.Context, identity *shared.Identity, locationID uuid.UUID) (FinancialSummary, error) {
	if err := requireIdentity(identity); err != nil {
		return FinancialSummary{}, err
	}
	scoped, err := scopeLocation(identity, locationID)
	if err != nil {
		return FinancialSummary{}, err
	}
	return s.repo.Summary(ctx, scoped)
}

// PendingRemittances lists unconfirmed remittances for a location.
func (s *Service) PendingRemittances(ctx context.Context, identity *shared.Identity, locationID uuid.UUID) ([]Remittance, error) {
	if err := requireIdentity(identity); err != nil {
		return nil, err
	}
	scoped, err := scopeLocation(identity, locationID)
	if err != nil {
		return nil, err
	}
	return s.repo.PendingRemittances(ctx, scoped)
}

// scopeLocation narrows the visible location for non-manager roles.
func scopeLocation(identity *shared.Identity, requested uuid.UUID) (uuid.UUID, error) {
	if identity.IsManagerTier() {
		if requested == uuid.Nil {
			return uuid.Nil, fmt.Errorf("%w: locationId required", shared.ErrValidation)
		}
		return requested, nil
	}
	if identity.LocationID == nil {
		return uuid.Nil, fmt.Errorf("%w: no assigned location", shared.ErrUnauthorized)
	}
	if requested != uuid.Nil && requested != *identity.LocationID {
		return uuid.Nil, fmt.Errorf("%w: location out of scope", shared.ErrUnauthorized)
	}
	return *identity.LocationID, nil
}

func pick(accounts []FinancialAccount, id uuid.UUID) FinancialAccount {
	for _, a := range accounts {
		if a.ID == id {
			return a
		}
	}
	return FinancialAccount{}
}
