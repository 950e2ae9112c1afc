package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grc/internal/lifecycle"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
)

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return NewPostgres(sqlx.NewDb(raw, "sqlmock")), mock
}

func TestActiveEntry_NoneIsNotFound(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()

	mock.ExpectQuery(`FROM lifecycle_tracker\s+WHERE tenant_id = \$1 AND vendor_id = \$2 AND ended_at IS NULL\s+FOR UPDATE`).
		WithArgs(tenantID.String(), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"entry_id"}))

	_, err := store.ActiveEntry(context.Background(), tenantID, 42)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListEntries_ScansOpenAndClosed(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()
	start := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	mock.ExpectQuery(`ORDER BY started_at, entry_id`).
		WillReturnRows(sqlmock.NewRows([]string{"entry_id", "tenant_id", "vendor_id", "lifecycle_stage", "started_at", "ended_at"}).
			AddRow(1, tenantID.String(), 42, "QUES_APP", start, end).
			AddRow(2, tenantID.String(), 42, "QUES_RES", end, nil))

	entries, err := store.ListEntries(context.Background(), tenantID, 42)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 2*time.Hour, entries[0].Duration(end))
	assert.True(t, entries[1].IsActive())
	assert.Equal(t, lifecycle.StageQuesRes, entries[1].Stage)
}

func TestInsertEntry_SecondOpenEntryConflicts(t *testing.T) {
	store, mock := newMock(t)
	e := lifecycle.NewEntry(id.NewTenantID(), 42, lifecycle.StageQuesApp, time.Now())

	mock.ExpectQuery(`INSERT INTO lifecycle_tracker`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "lifecycle_tracker_one_open"})

	err := store.InsertEntry(context.Background(), e)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestInsertEntry_ReturnsID(t *testing.T) {
	store, mock := newMock(t)
	e := lifecycle.NewHistoricalEntry(id.NewTenantID(), 42, lifecycle.StageResApp, time.Now())

	mock.ExpectQuery(`INSERT INTO lifecycle_tracker`).
		WithArgs(e.TenantID.String(), int64(42), "RES_APP", e.StartedAt, *e.EndedAt).
		WillReturnRows(sqlmock.NewRows([]string{"entry_id"}).AddRow(9))

	require.NoError(t, store.InsertEntry(context.Background(), e))
	assert.Equal(t, int64(9), e.ID)
}

func TestEndEntry_AlreadyEndedIsNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(`UPDATE lifecycle_tracker SET ended_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.EndEntry(context.Background(), 3, time.Now())
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestFindTempVendor_LocksAndDecodesJSON(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT .* FROM temp_vendor WHERE vendor_id = \$1 AND tenant_id = \$2 FOR UPDATE`).
		WithArgs(int64(42), tenantID.String()).
		WillReturnRows(sqlmock.NewRows(tempVendorColumns).AddRow(
			42, tenantID.String(), "VEND042", "Acme", "Acme Holdings Ltd", "", "", "", "GB", "MEDIUM", "PENDING", nil,
			[]byte(`[{"name":"Jane Roe","email":"jane@acme.test","is_primary":true},{"name":"John Doe"}]`),
			[]byte(`[{"document_name":"SOC2 report","s3_url":"s3://docs/acme/soc2.pdf"}]`),
			now, now, nil,
		))

	tv, err := store.FindTempVendor(context.Background(), tenantID, 42, true)
	require.NoError(t, err)
	assert.Equal(t, "VEND042", tv.Code)
	require.Len(t, tv.Contacts, 2)
	assert.True(t, tv.Contacts[0].IsPrimary)
	require.Len(t, tv.Documents, 1)
	assert.Equal(t, "s3://docs/acme/soc2.pdf", tv.Documents[0].S3URL)
	assert.Nil(t, tv.MigratedAt)
	assert.Empty(t, tv.LifecycleStage)
}

func TestFindTempVendorByCode_IsCaseInsensitive(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()

	mock.ExpectQuery(`upper\(vendor_code\) = upper\(\$2\)`).
		WithArgs(tenantID.String(), "ven7").
		WillReturnRows(sqlmock.NewRows([]string{"vendor_id"}))

	_, err := store.FindTempVendorByCode(context.Background(), tenantID, "ven7")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestMarkMigrated_AlreadyMigratedIsInvalidState(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now()
	tv := &lifecycle.TempVendor{ID: 42, TenantID: id.NewTenantID(), Code: "VEND042"}
	tv.ApplyMigrated(now)

	mock.ExpectExec(`UPDATE temp_vendor SET status = \$1.*status <> \$1`).
		WithArgs("MIGRATED", now, now, int64(42), tv.TenantID.String()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkMigrated(context.Background(), tv)
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
}

func TestVendorCodeExists(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(tenantID.String(), "VEND042").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.VendorCodeExists(context.Background(), tenantID, "VEND042")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInsertVendor_DuplicateCodeConflicts(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO vendors .* RETURNING vendor_id`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := store.InsertVendor(context.Background(), &lifecycle.Vendor{TenantID: id.NewTenantID(), Code: "VEND042"})
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestInsertContacts_SingleStatement(t *testing.T) {
	store, mock := newMock(t)
	tenantID := id.NewTenantID()
	contacts := []lifecycle.VendorContact{
		{VendorID: 1001, TenantID: tenantID, Contact: lifecycle.Contact{Name: "Jane Roe", IsPrimary: true}},
		{VendorID: 1001, TenantID: tenantID, Contact: lifecycle.Contact{Name: "John Doe"}},
	}

	mock.ExpectExec(`INSERT INTO vendor_contacts .* VALUES \(.*\), \(.*\)`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.InsertContacts(context.Background(), contacts))
	require.NoError(t, store.InsertContacts(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
