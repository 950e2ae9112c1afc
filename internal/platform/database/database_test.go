package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grc/pkg/platform/sentinel"
	"grc/pkg/platform/tx"
)

func newMockRouter(t *testing.T, retries int) (*Router, sqlmock.Sqlmock, sqlmock.Sqlmock) {
	t.Helper()
	primaryDB, primaryMock, err := sqlmock.New()
	require.NoError(t, err)
	vendorDB, vendorMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		primaryDB.Close()
		vendorDB.Close()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRouter(sqlx.NewDb(primaryDB, "sqlmock"), sqlx.NewDb(vendorDB, "sqlmock"), retries, time.Second, logger)
	return r, primaryMock, vendorMock
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"})))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505"}))
	assert.False(t, IsRetryable(errors.New("plain")))

	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
}

func TestTxRunner_CommitsOnVendorPool(t *testing.T) {
	r, primaryMock, vendorMock := newMockRouter(t, 3)

	vendorMock.ExpectBegin()
	vendorMock.ExpectExec("UPDATE approval_requests").WillReturnResult(sqlmock.NewResult(0, 1))
	vendorMock.ExpectCommit()

	err := r.Runner(tx.PoolVendor).RunInTx(context.Background(), func(ctx context.Context) error {
		_, ok := tx.From(ctx, tx.PoolPrimary)
		assert.False(t, ok, "vendor transaction must not be visible to primary stores")
		_, err := tx.Conn(ctx, r.Vendor(), tx.PoolVendor).ExecContext(ctx, "UPDATE approval_requests SET overall_status = $1", "APPROVED")
		return err
	})

	require.NoError(t, err)
	require.NoError(t, vendorMock.ExpectationsWereMet())
	require.NoError(t, primaryMock.ExpectationsWereMet())
}

func TestTxRunner_RollsBackOnError(t *testing.T) {
	r, _, vendorMock := newMockRouter(t, 3)

	vendorMock.ExpectBegin()
	vendorMock.ExpectRollback()

	boom := errors.New("boom")
	err := r.Runner(tx.PoolVendor).RunInTx(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	require.NoError(t, vendorMock.ExpectationsWereMet())
}

func TestTxRunner_RetriesSerializationFailure(t *testing.T) {
	r, _, vendorMock := newMockRouter(t, 3)

	vendorMock.ExpectBegin()
	vendorMock.ExpectRollback()
	vendorMock.ExpectBegin()
	vendorMock.ExpectCommit()

	calls := 0
	err := r.Runner(tx.PoolVendor).RunInTx(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &pq.Error{Code: "40001"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NoError(t, vendorMock.ExpectationsWereMet())
}

func TestTxRunner_ExhaustedRetriesReturnConflict(t *testing.T) {
	r, _, vendorMock := newMockRouter(t, 1)

	for range 2 {
		vendorMock.ExpectBegin()
		vendorMock.ExpectRollback()
	}

	err := r.Runner(tx.PoolVendor).RunInTx(context.Background(), func(ctx context.Context) error {
		return &pgconn.PgError{Code: "40P01"}
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
	require.NoError(t, vendorMock.ExpectationsWereMet())
}

func TestTxRunner_JoinsExistingTransaction(t *testing.T) {
	r, _, vendorMock := newMockRouter(t, 3)

	vendorMock.ExpectBegin()
	vendorMock.ExpectCommit()

	runner := r.Runner(tx.PoolVendor)
	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		return runner.RunInTx(ctx, func(ctx context.Context) error { return nil })
	})

	require.NoError(t, err)
	require.NoError(t, vendorMock.ExpectationsWereMet())
}

func TestJSONB_Scan(t *testing.T) {
	var fromBytes JSONB[map[string]any]
	require.NoError(t, fromBytes.Scan([]byte(`{"approval_type":"generic"}`)))
	assert.Equal(t, "generic", fromBytes.Data["approval_type"])

	var fromString JSONB[map[string]any]
	require.NoError(t, fromString.Scan(`{"vendor_id":42}`))
	assert.Equal(t, float64(42), fromString.Data["vendor_id"])

	var fromNull JSONB[map[string]any]
	require.NoError(t, fromNull.Scan(nil))
	assert.Nil(t, fromNull.Data)

	var bad JSONB[map[string]any]
	assert.Error(t, bad.Scan(42))

	v, err := NewJSONB(map[string]int{"a": 1}).Value()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, v)
}
