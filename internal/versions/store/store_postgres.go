package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"grc/internal/platform/database"
	"grc/internal/versions"
	id "grc/pkg/domain"
	txcontext "grc/pkg/platform/tx"
)

var errNoTransaction = errors.New("version append requires a transaction on the vendor pool")

// PostgresStore persists versions in approval_request_versions on the vendor
// database.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type versionRow struct {
	ID             id.VersionID                   `db:"version_id"`
	ApprovalID     id.ApprovalID                  `db:"approval_id"`
	TenantID       id.TenantID                    `db:"tenant_id"`
	Number         int                            `db:"version_number"`
	Label          string                         `db:"version_label"`
	Type           string                         `db:"version_type"`
	Payload        database.JSONB[map[string]any] `db:"json_payload"`
	ChangesSummary string                         `db:"changes_summary"`
	ChangeReason   string                         `db:"change_reason"`
	CreatedBy      id.UserID                      `db:"created_by"`
	CreatedByName  string                         `db:"created_by_name"`
	CreatedByRole  string                         `db:"created_by_role"`
	ParentID       *id.VersionID                  `db:"parent_version_id"`
	IsCurrent      bool                           `db:"is_current"`
	CreatedAt      time.Time                      `db:"created_at"`
}

const versionColumns = `version_id, approval_id, tenant_id, version_number, version_label, version_type,
	json_payload, changes_summary, change_reason, created_by, created_by_name, created_by_role,
	parent_version_id, is_current, created_at`

// Append assigns the next number, demotes the current version and inserts v
// as current. The caller must hold the approval row lock in the surrounding
// transaction so concurrent appenders serialize.
func (s *PostgresStore) Append(ctx context.Context, v *versions.Version) error {
	tx, ok := txcontext.From(ctx, txcontext.PoolVendor)
	if !ok {
		return errNoTransaction
	}

	var maxNumber int
	if err := tx.GetContext(ctx, &maxNumber,
		`SELECT COALESCE(MAX(version_number), 0) FROM approval_request_versions WHERE approval_id = $1`,
		v.ApprovalID); err != nil {
		return fmt.Errorf("read max version: %w", err)
	}

	var parent id.VersionID
	err := tx.GetContext(ctx, &parent,
		`SELECT version_id FROM approval_request_versions WHERE approval_id = $1 AND is_current`,
		v.ApprovalID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		v.ParentID = nil
	case err != nil:
		return fmt.Errorf("read current version: %w", err)
	default:
		v.ParentID = &parent
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE approval_request_versions SET is_current = false WHERE approval_id = $1 AND is_current`,
		v.ApprovalID); err != nil {
		return fmt.Errorf("demote current version: %w", err)
	}

	v.Number = maxNumber + 1
	v.IsCurrent = true
	_, err = tx.ExecContext(ctx, `
		INSERT INTO approval_request_versions (`+versionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		v.ID, v.ApprovalID, v.TenantID, v.Number, v.Label, string(v.Type),
		database.NewJSONB(v.Payload), v.ChangesSummary, v.ChangeReason,
		v.CreatedBy, v.CreatedByName, v.CreatedByRole, v.ParentID, v.IsCurrent, v.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(ErrConflict, err)
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByApproval(ctx context.Context, approvalID id.ApprovalID) ([]*versions.Version, error) {
	var rows []versionRow
	err := txcontext.Conn(ctx, s.db, txcontext.PoolVendor).SelectContext(ctx, &rows,
		`SELECT `+versionColumns+` FROM approval_request_versions WHERE approval_id = $1 ORDER BY version_number`,
		approvalID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	out := make([]*versions.Version, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toVersion())
	}
	return out, nil
}

func (s *PostgresStore) FindCurrent(ctx context.Context, approvalID id.ApprovalID) (*versions.Version, error) {
	return s.findOne(ctx, `SELECT `+versionColumns+` FROM approval_request_versions WHERE approval_id = $1 AND is_current`, approvalID)
}

func (s *PostgresStore) FindByID(ctx context.Context, versionID id.VersionID) (*versions.Version, error) {
	return s.findOne(ctx, `SELECT `+versionColumns+` FROM approval_request_versions WHERE version_id = $1`, versionID)
}

func (s *PostgresStore) findOne(ctx context.Context, query string, arg any) (*versions.Version, error) {
	var row versionRow
	err := txcontext.Conn(ctx, s.db, txcontext.PoolVendor).GetContext(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find version: %w", err)
	}
	return row.toVersion(), nil
}

func (r versionRow) toVersion() *versions.Version {
	payload := r.Payload.Data
	if payload == nil {
		payload = map[string]any{}
	}
	return &versions.Version{
		ID:             r.ID,
		ApprovalID:     r.ApprovalID,
		TenantID:       r.TenantID,
		Number:         r.Number,
		Label:          r.Label,
		Type:           versions.VersionType(r.Type),
		Payload:        payload,
		ChangesSummary: r.ChangesSummary,
		ChangeReason:   r.ChangeReason,
		CreatedBy:      r.CreatedBy,
		CreatedByName:  r.CreatedByName,
		CreatedByRole:  r.CreatedByRole,
		ParentID:       r.ParentID,
		IsCurrent:      r.IsCurrent,
		CreatedAt:      r.CreatedAt,
	}
}
