package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"grc/pkg/platform/sentinel"
	"grc/pkg/platform/tx"
)

// TxRunner runs functions inside a transaction on one pool, retrying
// serialization failures and deadlocks. fn may run more than once and must
// not have side effects outside the transaction.
type TxRunner struct {
	db      *sqlx.DB
	pool    tx.Pool
	retries int
	timeout time.Duration
	logger  *slog.Logger
}

// RunInTx joins a transaction already present in ctx for the same pool.
// Exhausted retries return an error wrapping sentinel.ErrConflict.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := tx.From(ctx, r.pool); ok {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if r.logger != nil {
			r.logger.WarnContext(ctx, "retrying transaction",
				"pool", string(r.pool),
				"attempt", attempt+1,
				"error", err,
			)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return fmt.Errorf("transaction retries exhausted: %w", errors.Join(sentinel.ErrConflict, err))
}

func (r *TxRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) && r.logger != nil {
				r.logger.DebugContext(ctx, "rollback failed", "pool", string(r.pool), "error", rbErr)
			}
		}
	}()

	if err := fn(tx.WithTx(ctx, r.pool, sqlTx)); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
