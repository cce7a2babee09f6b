package treasury

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/botica-erp/botica-erp/internal/audit"
	"github.com/botica-erp/botica-erp/internal/platform/db"
	"github.com/botica-erp/botica-erp/internal/shared"
)

// Repository is the treasury data-access boundary.
type Repository interface {
	// WithSerializableTx runs fn inside a SERIALIZABLE transaction; every
	// money-moving operation goes through here.
	WithSerializableTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	// AccountLocation resolves which location an account belongs to, so the
	// read side can enforce visibility before serving its ledger.
	AccountLocation(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error)
	History(ctx context.Context, req HistoryRequest) ([]TreasuryTransaction, shared.Pagination, error)
	Summary(ctx context.Context, locationID uuid.UUID) (FinancialSummary, error)
	PendingRemittances(ctx context.Context, locationID uuid.UUID) ([]Remittance, error)
}

// TxRepository exposes the operations available inside a locked transaction.
type TxRepository interface {
	// LockAccounts acquires row locks on every id in one round-trip, ordered
	// ascending by account id, failing immediately on contention. Callers must
	// re-verify row count and every business precondition after the lock.
	LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]FinancialAccount, error)
	// LockBankAccountForLocation locks the location's BANK account, nil when absent.
	LockBankAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error)
	// LockSafeAccountForLocation locks the location's SAFE account.
	LockSafeAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error)
	CreateBankAccount(ctx context.Context, locationID uuid.UUID, name string) (FinancialAccount, error)
	UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error
	AppendLedgerLine(ctx context.Context, line TreasuryTransaction) error

	LockRemittance(ctx context.Context, id uuid.UUID) (Remittance, error)
	MarkRemittanceReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error

	LockOpenSession(ctx context.Context, sessionID, terminalID uuid.UUID) (CashRegisterSession, error)
	InsertCashMovement(ctx context.Context, movement CashMovement) error

	// RecordAudit appends an audit entry best-effort; it never fails the
	// surrounding transaction.
	RecordAudit(ctx context.Context, entry audit.Entry)
}

type pgRepository struct {
	pool     *pgxpool.Pool
	recorder *audit.Recorder
}

// NewRepository constructs the PostgreSQL treasury repository.
func NewRepository(pool *pgxpool.Pool, recorder *audit.Recorder) Repository {
	return &pgRepository{pool: pool, recorder: recorder}
}

func (r *pgRepository) WithSerializableTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx, recorder: r.recorder})
	})
}

type pgTxRepository struct {
	tx       pgx.Tx
	recorder *audit.Recorder
}

const accountColumns = `id, location_id, name, type, balance::text, is_active`

func scanAccount(row pgx.Row) (FinancialAccount, error) {
	var (
		a       FinancialAccount
		typ     string
		balance string
	)
	if err := row.Scan(&a.ID, &a.LocationID, &a.Name, &typ, &balance, &a.IsActive); err != nil {
		return FinancialAccount{}, err
	}
	a.Type = AccountType(typ)
	b, err := decimal.NewFromString(balance)
	if err != nil {
		return FinancialAccount{}, fmt.Errorf("treasury: parse balance: %w", err)
	}
	a.Balance = b
	return a, nil
}

// LockAccounts orders the requested ids ascending so every operation requests
// the same pair of rows in the same sequence, eliminating circular waits.
// NOWAIT surfaces contention immediately instead of queueing.
func (r *pgTxRepository) LockAccounts(ctx context.Context, ids ...uuid.UUID) ([]FinancialAccount, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+`
FROM financial_accounts
WHERE id = ANY($1)
ORDER BY id
FOR UPDATE NOWAIT`, ids)
	if err != nil {
		return nil, db.MapError(err)
	}
	defer rows.Close()

	var accounts []FinancialAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, db.MapError(rows.Err())
}

func (r *pgTxRepository) lockAccountByLocationType(ctx context.Context, locationID uuid.UUID, typ AccountType) (*FinancialAccount, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+accountColumns+`
FROM financial_accounts
WHERE location_id = $1 AND type = $2
ORDER BY id
LIMIT 1
FOR UPDATE NOWAIT`, locationID, string(typ))
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, db.MapError(err)
	}
	return &a, nil
}

func (r *pgTxRepository) LockBankAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error) {
	return r.lockAccountByLocationType(ctx, locationID, AccountBank)
}

func (r *pgTxRepository) LockSafeAccountForLocation(ctx context.Context, locationID uuid.UUID) (*FinancialAccount, error) {
	return r.lockAccountByLocationType(ctx, locationID, AccountSafe)
}

func (r *pgTxRepository) CreateBankAccount(ctx context.Context, locationID uuid.UUID, name string) (FinancialAccount, error) {
	account := FinancialAccount{
		ID:         uuid.New(),
		LocationID: locationID,
		Name:       name,
		Type:       AccountBank,
		Balance:    decimal.Zero,
		IsActive:   true,
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO financial_accounts (id, location_id, name, type, balance, is_active)
VALUES ($1, $2, $3, $4, 0, true)`, account.ID, locationID, name, string(AccountBank))
	if err != nil {
		return FinancialAccount{}, db.MapError(err)
	}
	return account, nil
}

func (r *pgTxRepository) UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE financial_accounts SET balance = $2::numeric WHERE id = $1`,
		accountID, balance.String())
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: account %s vanished during update", shared.ErrDomainConflict, accountID)
	}
	return nil
}

func (r *pgTxRepository) AppendLedgerLine(ctx context.Context, line TreasuryTransaction) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO treasury_transactions
(id, account_id, amount, direction, description, related_entity_id, created_by, created_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, NOW())`,
		line.ID, line.AccountID, line.Amount.String(), string(line.Direction),
		line.Description, line.RelatedEntityID, line.CreatedBy)
	return db.MapError(err)
}

func (r *pgTxRepository) LockRemittance(ctx context.Context, id uuid.UUID) (Remittance, error) {
	row := r.tx.QueryRow(ctx, `SELECT id, location_id, source_terminal_id, amount::text, status, created_by, received_by, created_at
FROM treasury_remittances
WHERE id = $1
FOR UPDATE NOWAIT`, id)

	var (
		rem    Remittance
		amount string
		status string
	)
	err := row.Scan(&rem.ID, &rem.LocationID, &rem.SourceTerminalID, &amount, &status, &rem.CreatedBy, &rem.ReceivedBy, &rem.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Remittance{}, fmt.Errorf("%w: remittance %s", shared.ErrNotFound, id)
		}
		return Remittance{}, db.MapError(err)
	}
	rem.Status = RemittanceStatus(status)
	rem.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return Remittance{}, fmt.Errorf("treasury: parse remittance amount: %w", err)
	}
	return rem, nil
}

func (r *pgTxRepository) MarkRemittanceReceived(ctx context.Context, id uuid.UUID, receivedBy int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE treasury_remittances
SET status = $2, received_by = $3
WHERE id = $1 AND status = $4`,
		id, string(RemittanceReceived), receivedBy, string(RemittancePendingReceipt))
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: remittance already processed", shared.ErrDomainConflict)
	}
	return nil
}

// LockOpenSession read-locks the session row joined to its terminal with the
// same NOWAIT discipline. The service re-verifies terminal ownership and that
// the session is still open.
func (r *pgTxRepository) LockOpenSession(ctx context.Context, sessionID, terminalID uuid.UUID) (CashRegisterSession, error) {
	row := r.tx.QueryRow(ctx, `SELECT s.id, s.terminal_id, t.location_id, s.opened_by, s.opened_at, s.closed_at
FROM cash_register_sessions s
JOIN pos_terminals t ON t.id = s.terminal_id
WHERE s.id = $1 AND s.terminal_id = $2
FOR SHARE OF s NOWAIT`, sessionID, terminalID)

	var sess CashRegisterSession
	err := row.Scan(&sess.ID, &sess.TerminalID, &sess.LocationID, &sess.OpenedBy, &sess.OpenedAt, &sess.ClosedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CashRegisterSession{}, fmt.Errorf("%w: no session %s on terminal %s", shared.ErrDomainConflict, sessionID, terminalID)
		}
		return CashRegisterSession{}, db.MapError(err)
	}
	return sess, nil
}

func (r *pgTxRepository) InsertCashMovement(ctx context.Context, movement CashMovement) error {
	if movement.ID == uuid.Nil {
		movement.ID = uuid.New()
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO cash_movements
(id, location_id, terminal_id, session_id, user_id, type, amount, reason, authorized_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, NOW())`,
		movement.ID, movement.LocationID, movement.TerminalID, movement.SessionID,
		movement.UserID, string(movement.Type), movement.Amount.String(), movement.Reason, movement.AuthorizedBy)
	return db.MapError(err)
}

func (r *pgTxRepository) RecordAudit(ctx context.Context, entry audit.Entry) {
	r.recorder.Record(ctx, r.tx, entry)
}

var (
	_ Repository   = (*pgRepository)(nil)
	_ TxRepository = (*pgTxRepository)(nil)
)

// --- Read-side queries (plain consistent reads, no locking) ---

func (r *pgRepository) AccountLocation(ctx context.Context, accountID uuid.UUID) (uuid.UUID, error) {
	var locationID uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT location_id FROM financial_accounts WHERE id = $1`, accountID).
		Scan(&locationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: account %s", shared.ErrNotFound, accountID)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return locationID, nil
}

func (r *pgRepository) History(ctx context.Context, req HistoryRequest) ([]TreasuryTransaction, shared.Pagination, error) {
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*)
FROM treasury_transactions
WHERE account_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)`,
		req.AccountID, nullableTime(req.From), nullableTime(req.To)).Scan(&total)
	if err != nil {
		return nil, shared.Pagination{}, err
	}

	page := shared.NewPagination(req.Page, req.PerPage, total)

	rows, err := r.pool.Query(ctx, `SELECT id, account_id, amount::text, direction, description, related_entity_id, created_by, created_at
FROM treasury_transactions
WHERE account_id = $1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)
ORDER BY created_at DESC, id DESC
LIMIT $4 OFFSET $5`,
		req.AccountID, nullableTime(req.From), nullableTime(req.To), page.PerPage, page.Offset())
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	defer rows.Close()

	var lines []TreasuryTransaction
	for rows.Next() {
		var (
			line      TreasuryTransaction
			amount    string
			direction string
		)
		if err := rows.Scan(&line.ID, &line.AccountID, &amount, &direction, &line.Description,
			&line.RelatedEntityID, &line.CreatedBy, &line.CreatedAt); err != nil {
			return nil, shared.Pagination{}, err
		}
		line.Direction = Direction(direction)
		line.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, shared.Pagination{}, fmt.Errorf("treasury: parse amount: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, page, rows.Err()
}

func (r *pgRepository) Summary(ctx context.Context, locationID uuid.UUID) (FinancialSummary, error) {
	summary := FinancialSummary{
		LocationID:   locationID,
		TotalBalance: decimal.Zero,
		TodayIn:      decimal.Zero,
		TodayOut:     decimal.Zero,
		MonthIn:      decimal.Zero,
		MonthOut:     decimal.Zero,
	}

	// The three aggregates are independent reads, fetch them in parallel.
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rows, err := r.pool.Query(ctx, `SELECT id, name, type, balance::text, is_active
FROM financial_accounts
WHERE location_id = $1
ORDER BY type, name`, locationID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				a       AccountSummary
				typ     string
				balance string
			)
			if err := rows.Scan(&a.ID, &a.Name, &typ, &balance, &a.IsActive); err != nil {
				return err
			}
			a.Type = AccountType(typ)
			a.Balance, err = decimal.NewFromString(balance)
			if err != nil {
				return fmt.Errorf("treasury: parse balance: %w", err)
			}
			summary.Accounts = append(summary.Accounts, a)
			summary.TotalBalance = summary.TotalBalance.Add(a.Balance)
		}
		return rows.Err()
	})

	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM treasury_remittances WHERE location_id = $1 AND status = $2`,
			locationID, string(RemittancePendingReceipt)).Scan(&summary.PendingRemittances)
	})

	g.Go(func() error {
		return r.pool.QueryRow(ctx, `SELECT
  COALESCE(SUM(amount) FILTER (WHERE direction = 'IN'  AND created_at >= date_trunc('day', NOW())), 0)::text,
  COALESCE(SUM(amount) FILTER (WHERE direction = 'OUT' AND created_at >= date_trunc('day', NOW())), 0)::text,
  COALESCE(SUM(amount) FILTER (WHERE direction = 'IN'  AND created_at >= date_trunc('month', NOW())), 0)::text,
  COALESCE(SUM(amount) FILTER (WHERE direction = 'OUT' AND created_at >= date_trunc('month', NOW())), 0)::text
FROM treasury_transactions tt
JOIN financial_accounts fa ON fa.id = tt.account_id
WHERE fa.location_id = $1`, locationID).
			Scan(&summaryText{&summary.TodayIn}, &summaryText{&summary.TodayOut},
				&summaryText{&summary.MonthIn}, &summaryText{&summary.MonthOut})
	})

	if err := g.Wait(); err != nil {
		return FinancialSummary{}, err
	}
	return summary, nil
}

func (r *pgRepository) PendingRemittances(ctx context.Context, locationID uuid.UUID) ([]Remittance, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, location_id, source_terminal_id, amount::text, status, created_by, received_by, created_at
FROM treasury_remittances
WHERE location_id = $1 AND status = $2
ORDER BY created_at ASC`, locationID, string(RemittancePendingReceipt))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var remittances []Remittance
	for rows.Next() {
		var (
			rem    Remittance
			amount string
			status string
		)
		if err := rows.Scan(&rem.ID, &rem.LocationID, &rem.SourceTerminalID, &amount, &status,
			&rem.CreatedBy, &rem.ReceivedBy, &rem.CreatedAt); err != nil {
			return nil, err
		}
		rem.Status = RemittanceStatus(status)
		rem.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("treasury: parse remittance amount: %w", err)
		}
		remittances = append(remittances, rem)
	}
	return remittances, rows.Err()
}

// summaryText scans a numeric-as-text column into a decimal.
type summaryText struct {
	d *decimal.Decimal
}

func (s *summaryText) Scan(src any) error {
	switch v := src.(type) {
	case string:
		parsed, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		*s.d = parsed
		return nil
	case []byte:
		parsed, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*s.d = parsed
		return nil
	default:
		return fmt.Errorf("treasury: cannot scan %T into decimal", src)
	}
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
