package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"grc/internal/lifecycle"
	"grc/internal/platform/database"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
)

// PostgresStore keeps lifecycle_tracker, temp_vendor and the master vendor
// tables. temp_vendor exists only on the vendor database, so every query goes
// through the vendor pool.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Querier {
	return txcontext.Conn(ctx, s.db, txcontext.PoolVendor)
}

type entryRow struct {
	ID        int64        `db:"entry_id"`
	TenantID  id.TenantID  `db:"tenant_id"`
	VendorID  id.VendorID  `db:"vendor_id"`
	Stage     string       `db:"lifecycle_stage"`
	StartedAt time.Time    `db:"started_at"`
	EndedAt   sql.NullTime `db:"ended_at"`
}

func (r entryRow) toEntry() *lifecycle.Entry {
	e := &lifecycle.Entry{
		ID:        r.ID,
		TenantID:  r.TenantID,
		VendorID:  r.VendorID,
		Stage:     lifecycle.StageCode(r.Stage),
		StartedAt: r.StartedAt,
	}
	if r.EndedAt.Valid {
		e.EndedAt = &r.EndedAt.Time
	}
	return e
}

func (s *PostgresStore) ActiveEntry(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Entry, error) {
	var row entryRow
	err := s.conn(ctx).GetContext(ctx, &row, `
		SELECT entry_id, tenant_id, vendor_id, lifecycle_stage, started_at, ended_at
		FROM lifecycle_tracker
		WHERE tenant_id = $1 AND vendor_id = $2 AND ended_at IS NULL
		FOR UPDATE`, tenantID, int64(vendorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active lifecycle entry: %w", err)
	}
	return row.toEntry(), nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) ([]*lifecycle.Entry, error) {
	var rows []entryRow
	err := s.conn(ctx).SelectContext(ctx, &rows, `
		SELECT entry_id, tenant_id, vendor_id, lifecycle_stage, started_at, ended_at
		FROM lifecycle_tracker
		WHERE tenant_id = $1 AND vendor_id = $2
		ORDER BY started_at, entry_id`, tenantID, int64(vendorID))
	if err != nil {
		return nil, fmt.Errorf("list lifecycle entries: %w", err)
	}
	out := make([]*lifecycle.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out, nil
}

// InsertEntry relies on the partial unique index on open entries; a second
// open entry for the vendor is reported as a conflict.
func (s *PostgresStore) InsertEntry(ctx context.Context, e *lifecycle.Entry) error {
	err := s.conn(ctx).GetContext(ctx, &e.ID, `
		INSERT INTO lifecycle_tracker (tenant_id, vendor_id, lifecycle_stage, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING entry_id`,
		e.TenantID, int64(e.VendorID), string(e.Stage), e.StartedAt, e.EndedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(sentinel.ErrConflict, err)
		}
		return fmt.Errorf("insert lifecycle entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) EndEntry(ctx context.Context, entryID int64, endedAt time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE lifecycle_tracker SET ended_at = $1
		WHERE entry_id = $2 AND ended_at IS NULL`, endedAt, entryID)
	if err != nil {
		return fmt.Errorf("end lifecycle entry: %w", err)
	}
	return expectOne(res)
}

func (s *PostgresStore) SetVendorStage(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, stage lifecycle.StageCode, now time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE temp_vendor SET lifecycle_stage = $1, updated_at = $2
		WHERE vendor_id = $3 AND tenant_id = $4`, string(stage), now, int64(vendorID), tenantID)
	if err != nil {
		return fmt.Errorf("set vendor lifecycle stage: %w", err)
	}
	return expectOne(res)
}

// VendorTenant reports the tenant owning a staging vendor so callers can tell
// a missing vendor from another tenant's.
func (s *PostgresStore) VendorTenant(ctx context.Context, vendorID id.VendorID) (id.TenantID, error) {
	var tenantID id.TenantID
	err := s.conn(ctx).GetContext(ctx, &tenantID, `SELECT tenant_id FROM temp_vendor WHERE vendor_id = $1`, int64(vendorID))
	if errors.Is(err, sql.ErrNoRows) {
		return id.TenantID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return id.TenantID{}, fmt.Errorf("find vendor tenant: %w", err)
	}
	return tenantID, nil
}

var tempVendorColumns = []string{
	"vendor_id", "tenant_id", "vendor_code", "company_name", "legal_name", "business_type",
	"industry", "website", "country", "risk_level", "status", "lifecycle_stage",
	"contacts", "documents", "created_at", "updated_at", "migrated_at",
}

type tempVendorRow struct {
	ID             id.VendorID                          `db:"vendor_id"`
	TenantID       id.TenantID                          `db:"tenant_id"`
	Code           string                               `db:"vendor_code"`
	CompanyName    string                               `db:"company_name"`
	LegalName      string                               `db:"legal_name"`
	BusinessType   string                               `db:"business_type"`
	Industry       string                               `db:"industry"`
	Website        string                               `db:"website"`
	Country        string                               `db:"country"`
	RiskLevel      string                               `db:"risk_level"`
	Status         string                               `db:"status"`
	LifecycleStage sql.NullString                       `db:"lifecycle_stage"`
	Contacts       database.JSONB[[]lifecycle.Contact]  `db:"contacts"`
	Documents      database.JSONB[[]lifecycle.Document] `db:"documents"`
	CreatedAt      time.Time                            `db:"created_at"`
	UpdatedAt      time.Time                            `db:"updated_at"`
	MigratedAt     sql.NullTime                         `db:"migrated_at"`
}

func (r tempVendorRow) toTempVendor() *lifecycle.TempVendor {
	t := &lifecycle.TempVendor{
		ID:             r.ID,
		TenantID:       r.TenantID,
		Code:           r.Code,
		CompanyName:    r.CompanyName,
		LegalName:      r.LegalName,
		BusinessType:   r.BusinessType,
		Industry:       r.Industry,
		Website:        r.Website,
		Country:        r.Country,
		RiskLevel:      r.RiskLevel,
		Status:         r.Status,
		LifecycleStage: lifecycle.StageCode(r.LifecycleStage.String),
		Contacts:       r.Contacts.Data,
		Documents:      r.Documents.Data,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.MigratedAt.Valid {
		t.MigratedAt = &r.MigratedAt.Time
	}
	return t
}

func (s *PostgresStore) FindTempVendor(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID, forUpdate bool) (*lifecycle.TempVendor, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(tempVendorColumns...).From("temp_vendor").
		Where(sb.Equal("vendor_id", int64(vendorID)), sb.Equal("tenant_id", tenantID))
	if forUpdate {
		sb.ForUpdate()
	}
	return s.findTempVendor(ctx, sb)
}

func (s *PostgresStore) FindTempVendorByCode(ctx context.Context, tenantID id.TenantID, code string) (*lifecycle.TempVendor, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(tempVendorColumns...).From("temp_vendor").
		Where(sb.Equal("tenant_id", tenantID), "upper(vendor_code) = upper("+sb.Var(code)+")")
	return s.findTempVendor(ctx, sb)
}

func (s *PostgresStore) findTempVendor(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*lifecycle.TempVendor, error) {
	query, args := sb.Build()
	var row tempVendorRow
	err := s.conn(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find staging vendor: %w", err)
	}
	return row.toTempVendor(), nil
}

// MarkMigrated only flips a row that is not already MIGRATED.
func (s *PostgresStore) MarkMigrated(ctx context.Context, t *lifecycle.TempVendor) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE temp_vendor SET status = $1, migrated_at = $2, updated_at = $3
		WHERE vendor_id = $4 AND tenant_id = $5 AND status <> $1`,
		t.Status, t.MigratedAt, t.UpdatedAt, int64(t.ID), t.TenantID)
	if err != nil {
		return fmt.Errorf("mark staging vendor migrated: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) VendorCodeExists(ctx context.Context, tenantID id.TenantID, code string) (bool, error) {
	var exists bool
	err := s.conn(ctx).GetContext(ctx, &exists, `
		SELECT EXISTS (SELECT 1 FROM vendors WHERE tenant_id = $1 AND upper(vendor_code) = upper($2))`,
		tenantID, code)
	if err != nil {
		return false, fmt.Errorf("check vendor code: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) InsertVendor(ctx context.Context, v *lifecycle.Vendor) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("vendors").Cols(
		"tenant_id", "vendor_code", "company_name", "legal_name", "business_type", "industry",
		"website", "country", "risk_level", "status", "lifecycle_stage", "onboarding_date",
		"source_temp_vendor_id", "created_by", "created_at",
	).Values(
		v.TenantID, v.Code, v.CompanyName, v.LegalName, v.BusinessType, v.Industry,
		v.Website, v.Country, v.RiskLevel, v.Status, string(v.LifecycleStage), v.OnboardingDate,
		int64(v.SourceTempVendorID), v.CreatedBy, v.CreatedAt,
	)
	query, args := ib.Build()
	var vendorID int64
	if err := s.conn(ctx).GetContext(ctx, &vendorID, query+" RETURNING vendor_id", args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(sentinel.ErrConflict, err)
		}
		return fmt.Errorf("insert vendor: %w", err)
	}
	v.ID = id.VendorID(vendorID)
	return nil
}

func (s *PostgresStore) FindVendor(ctx context.Context, tenantID id.TenantID, vendorID id.VendorID) (*lifecycle.Vendor, error) {
	var row struct {
		ID             id.VendorID   `db:"vendor_id"`
		TenantID       id.TenantID   `db:"tenant_id"`
		Code           string        `db:"vendor_code"`
		CompanyName    string        `db:"company_name"`
		Status         string        `db:"status"`
		LifecycleStage string        `db:"lifecycle_stage"`
		OnboardingDate time.Time     `db:"onboarding_date"`
		SourceID       sql.NullInt64 `db:"source_temp_vendor_id"`
		CreatedBy      id.UserID     `db:"created_by"`
		CreatedAt      time.Time     `db:"created_at"`
	}
	err := s.conn(ctx).GetContext(ctx, &row, `
		SELECT vendor_id, tenant_id, vendor_code, company_name, status, lifecycle_stage,
		       onboarding_date, source_temp_vendor_id, created_by, created_at
		FROM vendors WHERE vendor_id = $1 AND tenant_id = $2`, int64(vendorID), tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find vendor: %w", err)
	}
	return &lifecycle.Vendor{
		ID:                 row.ID,
		TenantID:           row.TenantID,
		Code:               row.Code,
		CompanyName:        row.CompanyName,
		Status:             row.Status,
		LifecycleStage:     lifecycle.StageCode(row.LifecycleStage),
		OnboardingDate:     row.OnboardingDate,
		SourceTempVendorID: id.VendorID(row.SourceID.Int64),
		CreatedBy:          row.CreatedBy,
		CreatedAt:          row.CreatedAt,
	}, nil
}

func (s *PostgresStore) InsertContacts(ctx context.Context, contacts []lifecycle.VendorContact) error {
	if len(contacts) == 0 {
		return nil
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("vendor_contacts").Cols("vendor_id", "tenant_id", "name", "email", "phone", "role", "is_primary")
	for _, c := range contacts {
		ib.Values(int64(c.VendorID), c.TenantID, c.Name, c.Email, c.Phone, c.Role, c.IsPrimary)
	}
	query, args := ib.Build()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert vendor contacts: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDocuments(ctx context.Context, docs []lifecycle.VendorDocument) error {
	if len(docs) == 0 {
		return nil
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("vendor_documents").Cols(
		"vendor_id", "tenant_id", "document_name", "document_type", "s3_url", "status", "approval_date", "uploaded_at",
	)
	for _, d := range docs {
		ib.Values(int64(d.VendorID), d.TenantID, d.Name, d.Type, d.S3URL, d.Status, d.ApprovalDate, d.UploadedAt)
	}
	query, args := ib.Build()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert vendor documents: %w", err)
	}
	return nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
