// Package tx carries database transactions through context so stores can join
// the caller's transaction without threading *sqlx.Tx through every signature.
//
// Transactions are keyed by pool: the primary ("default") database and the
// vendor ("tprm") database are separate servers and a transaction on one must
// never be picked up by a store bound to the other.
package tx

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

// Pool names a logical database.
type Pool string

const (
	PoolPrimary Pool = "primary"
	PoolVendor  Pool = "tprm"
)

type ctxKey struct{ pool Pool }

// WithTx stores a SQL transaction for pool in context for downstream store usage.
func WithTx(ctx context.Context, pool Pool, tx *sqlx.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{pool: pool}, tx)
}

// From extracts the transaction for pool from context if present.
func From(ctx context.Context, pool Pool) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{pool: pool}).(*sqlx.Tx)
	return tx, ok
}

// Querier is the subset of *sqlx.DB and *sqlx.Tx used by stores.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
}

// Conn returns the transaction bound to pool in ctx, falling back to db.
func Conn(ctx context.Context, db *sqlx.DB, pool Pool) Querier {
	if tx, ok := From(ctx, pool); ok {
		return tx
	}
	return db
}

// Runner executes fn inside a transaction. Implementations join an
// already-open transaction instead of nesting.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
