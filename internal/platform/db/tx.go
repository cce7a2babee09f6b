package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/botica-erp/botica-erp/internal/shared"
)

// Postgres error codes the core distinguishes. Anything else propagates as-is.
const (
	codeLockNotAvailable     = "55P03"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// WithTx executes fn inside a transaction at the default isolation level.
// Used by single-row subsystems (accounts payable) and read paths that need
// statement grouping.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return runTx(ctx, pool, pgx.TxOptions{}, fn)
}

// WithSerializableTx executes fn at SERIALIZABLE isolation. Every
// money-moving operation runs under this; concurrent transactions touching
// overlapping accounts must be indistinguishable from some serial order.
func WithSerializableTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return runTx(ctx, pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, fn)
}

func runTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", MapError(err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return MapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", MapError(err))
	}

	return nil
}

// MapError translates distinguished engine error conditions into the core
// taxonomy: lock-not-available becomes ErrResourceBusy, serialization failures
// and detected deadlocks become ErrConcurrencyConflict.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %s", shared.ErrResourceBusy, pgErr.Message)
	case codeSerializationFailure, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
