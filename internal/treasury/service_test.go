package treasury

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/authz"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// memoryRepo implements Repository with map-backed state and rollback-on-error
// transaction semantics, mirroring the all-or-nothing contract of the real
// store.
type memoryRepo struct {
	accounts    map[uuid.UUID]*FinancialAccount
	lines       []TreasuryTransaction
	remittances map[uuid.UUID]*Remittance
	sessions    map[uuid.UUID]*CashRegisterSession
	movements   []CashMovement
	audits      []audit.Entry

	txOpened int
	lockErr  error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		accounts:    make(map[uuid.UUID]*FinancialAccount),
		remittances: make(map[uuid.UUID]*Remittance),
		sessions:    make(map[uuid.UUID]*CashRegisterSession),
	}
}

func (r *memoryRepo) snapshot() *memoryRepo {
	cp := newMemoryRepo()
	for id, a := range r.accounts {
		clone := *a
		cp.accounts[id] = &clone
	}
	for id, rem := range r.remittances {
		clone := *rem
		cp.remittances[id] = &clone
	}
	cp.lines = append([]TreasuryTransaction(nil), r.lines...)
	cp.movements = append([]CashMovement(nil), r.movements...)
	cp.audits = append([]audit.Entry(nil), r.audits...)
	return cp
}

func (r *memoryRepo) restore(snap *memoryRepo) {
	r.accounts = snap.accounts
	r.remittances = snap.remittances
	r.lines = snap.lines
	r.movements = snap.movements
	r.audits = snap.audits
}

func (r *memoryRepo) WithSerializableTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txOpened++
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

func (r *memoryRepo) AccountLocation(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	if a, ok := r.accounts[accountID]; ok {
		return a.LocationID, nil
	}
	return uuid.Nil, fmt.Errorf("%w: account %s", shared.ErrNotFound, accountID)
}

func (r *memoryRepo) History(ctx context.Context, req HistoryRequest) ([]TreasuryTransaction, shared.Pagination, error) {
	var out []TreasuryTransaction
	for _, line := range r.lines {
		if line.AccountID == req.AccountID {
			out = append(out, line)
		}
	}
	return out, shared.NewPagination(req.Page, req.PerPage, len(out)), nil
}

func (r *memoryRepo) Summary(ctx context.Context, locationID uuid.UUID) (FinancialSummary, error) {
	summary := FinancialSummary{LocationID: locationID, TotalBalance: decimal.Zero}
	for _, a := range r.accounts {
		if a.LocationID != locationID {
			continue
		}
		summary.Accounts = append(summary.Accounts, AccountSummary{
			ID: a.ID, Name: a.Name, Type: a.Type, Balance: a.Balance, IsActive: a.IsActive,
		})
		summary.TotalBalance = summary.TotalBalance.Add(a.Balance)
	}
	for _, rem := range r.remittances {
		if rem.LocationID == locationID && rem.Status == RemittancePendingReceipt {
			summary.PendingRemittances++
		}
	}
	return summary, nil
}

func (r *memoryRepo) PendingRemittances(ctx context.Context, locationID uuid.UUID) ([]Remittance, error) {
	var out []Remittance
	for _, rem := range r.remittances {
		if rem.LocationID == locationID && rem.Status == RemittancePendingReceipt {
			out = append(out, *rem)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]FinancialAccount, error) {
	if t.repo.lockErr != nil {
		return nil, t.repo.lockErr
	}
	var out []FinancialAccount
	for _, id := range ids {
		if a, ok := t.repo.accounts[id]; ok {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (t *memoryTx) lockByLocationType(locationID uuid.UUID, typ AccountType) *FinancialAccount {
	for _, a := range t.repo.accounts {
		if a.LocationID == locationID && a.Type == typ {
			clone := *a
			return &clone
		}
	}
	return nil
}

func (t *memoryTx) LockBankAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error) {
	return t.lockByLocationType(locationID, AccountBank), nil
}

func (t *memoryTx) LockSafeAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error) {
	return t.lockByLocationType(locationID, AccountSafe), nil
}

func (t *memoryTx) CreateBankAccount(ctx context.Context, locationID uuid.UUID, name string) (FinancialAccount, error) {
	account := FinancialAccount{
		ID:         uuid.New(),
		LocationID: locationID,
		Name:       name,
		Type:       AccountBank,
		Balance:    decimal.Zero,
		IsActive:   true,
	}
	clone := account
	t.repo.accounts[account.ID] = &clone
	return account, nil
}

func (t *memoryTx) UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	a, ok := t.repo.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: account vanished", shared.ErrDomainConflict)
	}
	a.Balance = balance
	return nil
}

func (t *memoryTx) AppendLedgerLine(ctx context.Context, line TreasuryTransaction) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	line.CreatedAt = time.Now()
	t.repo.lines = append(t.repo.lines, line)
	return nil
}

func (t *memoryTx) LockRemittance(ctx context.Context, id uuid.UUID) (Remittance, error) {
	rem, ok := t.repo.remittances[id]
	if !ok {
		return Remittance{}, fmt.Errorf("%w: remittance %s", shared.ErrNotFound, id)
	}
	return *rem, nil
}

func (t *memoryTx) MarkRemittanceReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error {
	rem, ok := t.repo.remittances[id]
	if !ok || rem.Status != RemittancePendingReceipt {
		return fmt.Errorf("%w: remittance already processed", shared.ErrDomainConflict)
	}
	rem.Status = RemittanceReceived
	rem.ReceivedBy = &receivedBy
	return nil
}

func (t *memoryTx) LockOpenSession(ctx context.Context, sessionID, terminalID uuid.UUID) (CashRegisterSession, error) {
	sess, ok := t.repo.sessions[sessionID]
	if !ok || sess.TerminalID != terminalID {
		return CashRegisterSession{}, fmt.Errorf("%w: no session %s on terminal %s", shared.ErrDomainConflict, sessionID, terminalID)
	}
	return *sess, nil
}

func (t *memoryTx) InsertCashMovement(ctx context.Context, movement CashMovement) error {
	movement.CreatedAt = time.Now()
	t.repo.movements = append(t.repo.movements, movement)
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, entry audit.Entry) {
	t.repo.audits = append(t.repo.audits, entry)
}

var (
	_ Repository   = (*memoryRepo)(nil)
	_ TxRepository = (*memoryTx)(nil)
)

// stubValidator approves a single PIN for a fixed manager identity.
type stubValidator struct {
	pin  string
	auth authz.Authorization
}

func (v *stubValidator) Validate(ctx context.Context, pin string, roles []shared.Role) (authz.Authorization, error) {
	if pin == v.pin {
		return v.auth, nil
	}
	return authz.Authorization{}, fmt.Errorf("%w: invalid PIN", shared.ErrInvalidAuthorization)
}

const managerPIN = "4821"

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testPolicy() authz.Policy {
	return authz.Policy{
		TransferThreshold:   money("100000"),
		WithdrawalThreshold: money("50000"),
		AuthorizerRoles:     shared.ManagerTier(),
	}
}

func newTestService(repo *memoryRepo) *Service {
	validator := &stubValidator{
		pin:  managerPIN,
		auth: authz.Authorization{UserID: 99, Name: "Gerente", Role: shared.RoleManager},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, validator, testPolicy(), logger)
}

func cashier(locationID uuid.UUID) *shared.Identity {
	return &shared.Identity{UserID: 7, Name: "Caja 1", Role: shared.RoleCashier, LocationID: &locationID}
}

func manager() *shared.Identity {
	return &shared.Identity{UserID: 99, Name: "Gerente", Role: shared.RoleManager}
}

func seedAccount(repo *memoryRepo, locationID uuid.UUID, typ AccountType, balance string) uuid.UUID {
	account := &FinancialAccount{
		ID:         uuid.New(),
		LocationID: locationID,
		Name:       string(typ),
		Type:       typ,
		Balance:    money(balance),
		IsActive:   true,
	}
	repo.accounts[account.ID] = account
	return account.ID
}

func TestTransferConservation(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "1000.00")
	pettyID := seedAccount(repo, location, AccountPettyCash, "250.00")
	svc := newTestService(repo)

	transferID, err := svc.Transfer(context.Background(), cashier(location), TransferInput{
		FromAccountID: safeID,
		ToAccountID:   pettyID,
		Amount:        money("400.00"),
		Description:   "Petty cash top-up",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, transferID)

	require.True(t, repo.accounts[safeID].Balance.Equal(money("600.00")))
	require.True(t, repo.accounts[pettyID].Balance.Equal(money("650.00")))

	require.Len(t, repo.lines, 2)
	var in, out *TreasuryTransaction
	for i := range repo.lines {
		require.NotNil(t, repo.lines[i].RelatedEntityID)
		require.Equal(t, transferID, *repo.lines[i].RelatedEntityID)
		switch repo.lines[i].Direction {
		case DirectionIn:
			in = &repo.lines[i]
		case DirectionOut:
			out = &repo.lines[i]
		}
	}
	require.NotNil(t, in)
	require.NotNil(t, out)
	require.Equal(t, safeID, out.AccountID)
	require.Equal(t, pettyID, in.AccountID)
	// Opposite directions sum to zero net.
	require.True(t, in.Amount.Sub(out.Amount).IsZero())

	require.Len(t, repo.audits, 1)
	require.Equal(t, ActionTransfer, repo.audits[0].ActionCode)
}

func TestTransferInsufficientFundsLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "100.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	svc := newTestService(repo)

	_, err := svc.Transfer(context.Background(), cashier(location), TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("100.01"),
		Description:   "Too much",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)

	require.True(t, repo.accounts[safeID].Balance.Equal(money("100.00")))
	require.True(t, repo.accounts[bankID].Balance.IsZero())
	require.Empty(t, repo.lines)
	require.Empty(t, repo.audits)
}

func TestTransferInactiveAccountRejected(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "500.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	repo.accounts[bankID].IsActive = false
	svc := newTestService(repo)

	_, err := svc.Transfer(context.Background(), cashier(location), TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("10.00"),
		Description:   "To inactive",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
}

func TestTransferMissingAccountDetectedAfterLock(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "500.00")
	svc := newTestService(repo)

	_, err := svc.Transfer(context.Background(), cashier(location), TransferInput{
		FromAccountID: safeID,
		ToAccountID:   uuid.New(),
		Amount:        money("10.00"),
		Description:   "Ghost destination",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
}

func TestTransferValidation(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "500.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	svc := newTestService(repo)
	ctx := context.Background()
	id := cashier(location)

	cases := []struct {
		name  string
		input TransferInput
	}{
		{"nil from", TransferInput{ToAccountID: bankID, Amount: money("10"), Description: "abc"}},
		{"nil to", TransferInput{FromAccountID: safeID, Amount: money("10"), Description: "abc"}},
		{"same account", TransferInput{FromAccountID: safeID, ToAccountID: safeID, Amount: money("10"), Description: "abc"}},
		{"zero amount", TransferInput{FromAccountID: safeID, ToAccountID: bankID, Amount: decimal.Zero, Description: "abc"}},
		{"negative amount", TransferInput{FromAccountID: safeID, ToAccountID: bankID, Amount: money("-5"), Description: "abc"}},
		{"short description", TransferInput{FromAccountID: safeID, ToAccountID: bankID, Amount: money("10"), Description: "ab"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, id, tc.input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	// Validation failures never open a transaction.
	require.Zero(t, repo.txOpened)
}

func TestTransferThresholdGating(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "1000000.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	svc := newTestService(repo)
	ctx := context.Background()
	id := cashier(location)

	// Exactly at the threshold: no PIN required.
	_, err := svc.Transfer(ctx, id, TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("100000"),
		Description:   "At threshold",
	})
	require.NoError(t, err)

	// One above: missing PIN is a validation failure before any transaction.
	opened := repo.txOpened
	_, err = svc.Transfer(ctx, id, TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("100000.01"),
		Description:   "Above threshold",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, opened, repo.txOpened)

	// Wrong PIN above threshold: invalid authorization.
	_, err = svc.Transfer(ctx, id, TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("100000.01"),
		Description:   "Above threshold",
		PIN:           "0000",
	})
	require.ErrorIs(t, err, shared.ErrInvalidAuthorization)

	// Valid PIN above threshold commits and records the authorizer.
	_, err = svc.Transfer(ctx, id, TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("100000.01"),
		Description:   "Above threshold",
		PIN:           managerPIN,
	})
	require.NoError(t, err)
	last := repo.audits[len(repo.audits)-1]
	require.NotNil(t, last.AuthorizedBy)
	require.Equal(t, int64(99), *last.AuthorizedBy)
}

func TestTransferRetryableLockFailure(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "500.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	repo.lockErr = fmt.Errorf("%w: row is locked", shared.ErrResourceBusy)
	svc := newTestService(repo)

	_, err := svc.Transfer(context.Background(), cashier(location), TransferInput{
		FromAccountID: safeID,
		ToAccountID:   bankID,
		Amount:        money("10.00"),
		Description:   "Contended",
	})
	require.ErrorIs(t, err, shared.ErrResourceBusy)
	require.True(t, shared.IsRetryable(err))
	require.Empty(t, repo.lines)
}

func TestDepositToBankExampleScenario(t *testing.T) {
	// Safe holds 1,000,000; deposit 600,000 with no existing BANK account.
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "1000000.00")
	svc := newTestService(repo)

	depositID, err := svc.DepositToBank(context.Background(), cashier(location), DepositInput{
		SafeID: safeID,
		Amount: money("600000.00"),
		PIN:    managerPIN,
	})
	require.NoError(t, err)

	require.True(t, repo.accounts[safeID].Balance.Equal(money("400000.00")))

	var bank *FinancialAccount
	for _, a := range repo.accounts {
		if a.Type == AccountBank {
			bank = a
		}
	}
	require.NotNil(t, bank, "BANK account created on demand")
	require.Equal(t, location, bank.LocationID)
	require.True(t, bank.Balance.Equal(money("600000.00")))

	require.Len(t, repo.lines, 2)
	for _, line := range repo.lines {
		require.NotNil(t, line.RelatedEntityID)
		require.Equal(t, depositID, *line.RelatedEntityID)
	}

	require.Len(t, repo.audits, 1)
	require.Equal(t, ActionBankDeposit, repo.audits[0].ActionCode)
}

func TestDepositAlwaysRequiresPIN(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "100.00")
	svc := newTestService(repo)

	_, err := svc.DepositToBank(context.Background(), cashier(location), DepositInput{
		SafeID: safeID,
		Amount: money("1.00"),
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, repo.txOpened)
}

func TestDepositRejectsNonSafeSource(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	pettyID := seedAccount(repo, location, AccountPettyCash, "100.00")
	bankID := seedAccount(repo, location, AccountBank, "0.00")
	svc := newTestService(repo)

	_, err := svc.DepositToBank(context.Background(), cashier(location), DepositInput{
		SafeID:        pettyID,
		Amount:        money("1.00"),
		PIN:           managerPIN,
		BankAccountID: &bankID,
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
}

func TestConfirmRemittance(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	safeID := seedAccount(repo, location, AccountSafe, "100.00")
	remittance := &Remittance{
		ID:               uuid.New(),
		LocationID:       location,
		SourceTerminalID: uuid.New(),
		Amount:           money("250.00"),
		Status:           RemittancePendingReceipt,
		CreatedBy:        7,
	}
	repo.remittances[remittance.ID] = remittance
	svc := newTestService(repo)

	// The stub validator authorizes user 99, so the caller must be user 99.
	_, err := svc.ConfirmRemittance(context.Background(), manager(), ConfirmRemittanceInput{
		RemittanceID: remittance.ID,
		PIN:          managerPIN,
	})
	require.NoError(t, err)

	require.True(t, repo.accounts[safeID].Balance.Equal(money("350.00")))
	require.Equal(t, RemittanceReceived, remittance.Status)
	require.NotNil(t, remittance.ReceivedBy)
	require.Equal(t, int64(99), *remittance.ReceivedBy)
	require.Len(t, repo.lines, 1)
	require.Equal(t, DirectionIn, repo.lines[0].Direction)

	// At-most-once: the second confirmation fails and credits nothing.
	_, err = svc.ConfirmRemittance(context.Background(), manager(), ConfirmRemittanceInput{
		RemittanceID: remittance.ID,
		PIN:          managerPIN,
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.ErrorContains(t, err, "already processed")
	require.True(t, repo.accounts[safeID].Balance.Equal(money("350.00")))
	require.Len(t, repo.lines, 1)
}

func TestConfirmRemittanceRejectsBorrowedPIN(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	seedAccount(repo, location, AccountSafe, "100.00")
	remittance := &Remittance{
		ID:         uuid.New(),
		LocationID: location,
		Amount:     money("50.00"),
		Status:     RemittancePendingReceipt,
	}
	repo.remittances[remittance.ID] = remittance
	svc := newTestService(repo)

	// Caller is the cashier (user 7) presenting the manager's valid PIN.
	_, err := svc.ConfirmRemittance(context.Background(), cashier(location), ConfirmRemittanceInput{
		RemittanceID: remittance.ID,
		PIN:          managerPIN,
	})
	require.ErrorIs(t, err, shared.ErrInvalidAuthorization)
	require.Equal(t, RemittancePendingReceipt, remittance.Status)
}

func TestRegisterCashMovement(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	terminal := uuid.New()
	session := &CashRegisterSession{
		ID:         uuid.New(),
		TerminalID: terminal,
		LocationID: location,
		OpenedBy:   7,
		OpenedAt:   time.Now(),
	}
	repo.sessions[session.ID] = session
	svc := newTestService(repo)

	// Client-supplied location ids do not exist in the input; the session row
	// decides the movement's location.
	movementID, err := svc.RegisterCashMovement(context.Background(), cashier(uuid.New()), CashMovementInput{
		TerminalID: terminal,
		SessionID:  session.ID,
		Type:       MovementExpense,
		Amount:     money("30.00"),
		Reason:     "Cleaning supplies",
	})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, movementID)

	require.Len(t, repo.movements, 1)
	require.Equal(t, location, repo.movements[0].LocationID)
	require.Equal(t, MovementExpense, repo.movements[0].Type)
	require.Nil(t, repo.movements[0].AuthorizedBy)
}

func TestRegisterCashMovementClosedSession(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	terminal := uuid.New()
	closedAt := time.Now()
	session := &CashRegisterSession{
		ID:         uuid.New(),
		TerminalID: terminal,
		LocationID: location,
		ClosedAt:   &closedAt,
	}
	repo.sessions[session.ID] = session
	svc := newTestService(repo)

	_, err := svc.RegisterCashMovement(context.Background(), cashier(location), CashMovementInput{
		TerminalID: terminal,
		SessionID:  session.ID,
		Type:       MovementExtraIncome,
		Amount:     money("10.00"),
		Reason:     "Found cash",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.Empty(t, repo.movements)
}

func TestRegisterCashMovementWrongTerminal(t *testing.T) {
	repo := newMemoryRepo()
	session := &CashRegisterSession{
		ID:         uuid.New(),
		TerminalID: uuid.New(),
		LocationID: uuid.New(),
	}
	repo.sessions[session.ID] = session
	svc := newTestService(repo)

	_, err := svc.RegisterCashMovement(context.Background(), cashier(session.LocationID), CashMovementInput{
		TerminalID: uuid.New(),
		SessionID:  session.ID,
		Type:       MovementExpense,
		Amount:     money("10.00"),
		Reason:     "Wrong terminal",
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
}

func TestWithdrawalThresholdGating(t *testing.T) {
	repo := newMemoryRepo()
	location := uuid.New()
	terminal := uuid.New()
	session := &CashRegisterSession{ID: uuid.New(), TerminalID: terminal, LocationID: location}
	repo.sessions[session.ID] = session
	svc := newTestService(repo)
	ctx := context.Background()
	id := cashier(location)

	// At the threshold: no PIN.
	_, err := svc.RegisterCashMovement(ctx, id, CashMovementInput{
		TerminalID: terminal, SessionID: session.ID,
		Type: MovementWithdrawal, Amount: money("50000"), Reason: "Cash pickup",
	})
	require.NoError(t, err)

	// Above: missing PIN rejected before a transaction opens.
	opened := repo.txOpened
	_, err = svc.RegisterCashMovement(ctx, id, CashMovementInput{
		TerminalID: terminal, SessionID: session.ID,
		Type: MovementWithdrawal, Amount: money("50000.01"), Reason: "Cash pickup",
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, opened, repo.txOpened)

	// Above with a valid PIN: movement carries the authorizer.
	_, err = svc.RegisterCashMovement(ctx, id, CashMovementInput{
		TerminalID: terminal, SessionID: session.ID,
		Type: MovementWithdrawal, Amount: money("50000.01"), Reason: "Cash pickup",
		PIN: managerPIN,
	})
	require.NoError(t, err)
	last := repo.movements[len(repo.movements)-1]
	require.NotNil(t, last.AuthorizedBy)
	require.Equal(t, int64(99), *last.AuthorizedBy)
}

func TestScopeLocationForRoles(t *testing.T) {
	assigned := uuid.New()
	other := uuid.New()

	scoped, err := scopeLocation(cashier(assigned), uuid.Nil)
	require.NoError(t, err)
	require.Equal(t, assigned, scoped)

	_, err = scopeLocation(cashier(assigned), other)
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	scoped, err = scopeLocation(manager(), other)
	require.NoError(t, err)
	require.Equal(t, other, scoped)

	_, err = scopeLocation(manager(), uuid.Nil)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestHistoryScopedToAssignedLocation(t *testing.T) {
	repo := newMemoryRepo()
	assigned := uuid.New()
	foreign := uuid.New()
	foreignSafe := seedAccount(repo, foreign, AccountSafe, "500.00")
	repo.lines = append(repo.lines, TreasuryTransaction{
		ID:        uuid.New(),
		AccountID: foreignSafe,
		Amount:    money("500.00"),
		Direction: DirectionIn,
		CreatedBy: 1,
		CreatedAt: time.Now(),
	})
	svc := newTestService(repo)

	_, _, err := svc.History(context.Background(), cashier(assigned), HistoryRequest{AccountID: foreignSafe})
	require.ErrorIs(t, err, shared.ErrUnauthorized)

	lines, _, err := svc.History(context.Background(), cashier(foreign), HistoryRequest{AccountID: foreignSafe})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	lines, _, err = svc.History(context.Background(), manager(), HistoryRequest{AccountID: foreignSafe})
	require.NoError(t, err)
	require.Len(t, lines, 1)

	_, _, err = svc.History(context.Background(), manager(), HistoryRequest{AccountID: uuid.New()})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWithRetryRecoversFromTransientConflicts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: serialization", shared.ErrConcurrencyConflict)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnTerminalErrors(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("%w: insufficient funds", shared.ErrDomainConflict)
	})
	require.ErrorIs(t, err, shared.ErrDomainConflict)
	require.Equal(t, 1, attempts)
}

func TestWithRetryExhaustionIsTerminal(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("%w: row locked", shared.ErrResourceBusy)
	})
	require.ErrorIs(t, err, shared.ErrResourceBusy)
	require.Equal(t, retryMaxRetries+1, attempts)
}
