// Package database opens the two logical Postgres databases and runs
// transactions against them.
//
// The primary ("default") database holds users, events, file operations and
// incident approvals. The vendor ("tprm") database holds workflows, approval
// requests, stages, versions, questionnaires, staging and master vendors and
// the lifecycle tracker. Stores are constructed with the pool they belong to
// and never receive the other one.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"grc/internal/platform/config"
	"grc/pkg/platform/tx"
)

// Postgres SQLSTATE codes the engine reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeUniqueViolation      = "23505"
)

// Router exposes the primary and vendor pools.
type Router struct {
	primary *sqlx.DB
	vendor  *sqlx.DB
	retries int
	timeout time.Duration
	logger  *slog.Logger
}

// Open connects both pools using the configured driver ("pgx" or "postgres").
func Open(ctx context.Context, cfg config.Database, logger *slog.Logger) (*Router, error) {
	primary, err := connect(ctx, cfg, cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("primary database: %w", err)
	}
	vendor, err := connect(ctx, cfg, cfg.VendorURL)
	if err != nil {
		_ = primary.Close()
		return nil, fmt.Errorf("tprm database: %w", err)
	}
	return NewRouter(primary, vendor, cfg.TxRetries, cfg.TxTimeout, logger), nil
}

// NewRouter wraps already-open pools. Tests pass sqlmock-backed handles.
func NewRouter(primary, vendor *sqlx.DB, retries int, timeout time.Duration, logger *slog.Logger) *Router {
	if retries < 0 {
		retries = 0
	}
	return &Router{primary: primary, vendor: vendor, retries: retries, timeout: timeout, logger: logger}
}

func connect(ctx context.Context, cfg config.Database, url string) (*sqlx.DB, error) {
	db, err := sqlx.Open(cfg.Driver, url)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return db, nil
}

func (r *Router) Primary() *sqlx.DB { return r.primary }
func (r *Router) Vendor() *sqlx.DB  { return r.vendor }

// DB returns the pool for a logical database.
func (r *Router) DB(pool tx.Pool) *sqlx.DB {
	if pool == tx.PoolVendor {
		return r.vendor
	}
	return r.primary
}

// Runner returns a transaction runner bound to one pool.
func (r *Router) Runner(pool tx.Pool) *TxRunner {
	return &TxRunner{
		db:      r.DB(pool),
		pool:    pool,
		retries: r.retries,
		timeout: r.timeout,
		logger:  r.logger,
	}
}

// Health pings both pools.
func (r *Router) Health(ctx context.Context) error {
	if err := r.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if err := r.vendor.PingContext(ctx); err != nil {
		return fmt.Errorf("tprm: %w", err)
	}
	return nil
}

func (r *Router) Close() error {
	return errors.Join(r.primary.Close(), r.vendor.Close())
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// IsRetryable reports serialization failures and deadlocks from either driver.
func IsRetryable(err error) bool {
	switch sqlState(err) {
	case codeSerializationFailure, codeDeadlockDetected:
		return true
	}
	return false
}

// IsUniqueViolation reports a unique constraint violation from either driver.
func IsUniqueViolation(err error) bool {
	return sqlState(err) == codeUniqueViolation
}
