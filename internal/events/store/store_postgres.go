package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"grc/internal/events"
	"grc/internal/platform/database"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
)

// PostgresStore reads and writes the event tables through the primary pool.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Querier {
	return txcontext.Conn(ctx, s.db, txcontext.PoolPrimary)
}

var eventColumns = []string{
	"event_id", "tenant_id", "title", "description", "framework_id", "module_id", "category",
	"owner_id", "reviewer_id", "created_by", "status", "is_template", "evidence", "recurrence",
	"start_date", "end_date", "jira_issue_key", "reviewer_comments", "reviewed_at",
	"created_at", "updated_at",
}

type eventRow struct {
	ID               id.EventID    `db:"event_id"`
	TenantID         id.TenantID   `db:"tenant_id"`
	Title            string        `db:"title"`
	Description      string        `db:"description"`
	FrameworkID      sql.NullInt64 `db:"framework_id"`
	ModuleID         sql.NullInt64 `db:"module_id"`
	Category         string        `db:"category"`
	OwnerID          id.UserID     `db:"owner_id"`
	ReviewerID       *id.UserID    `db:"reviewer_id"`
	CreatedBy        id.UserID     `db:"created_by"`
	Status           string        `db:"status"`
	IsTemplate       bool          `db:"is_template"`
	Evidence         string        `db:"evidence"`
	Recurrence       string        `db:"recurrence"`
	StartDate        sql.NullTime  `db:"start_date"`
	EndDate          sql.NullTime  `db:"end_date"`
	JiraIssueKey     string        `db:"jira_issue_key"`
	ReviewerComments string        `db:"reviewer_comments"`
	ReviewedAt       sql.NullTime  `db:"reviewed_at"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

func (r eventRow) toEvent() *events.Event {
	ev := events.ParseEvidence(r.Evidence)
	return &events.Event{
		ID:               r.ID,
		TenantID:         r.TenantID,
		Title:            r.Title,
		Description:      r.Description,
		FrameworkID:      nullInt(r.FrameworkID),
		ModuleID:         nullInt(r.ModuleID),
		Category:         r.Category,
		OwnerID:          r.OwnerID,
		ReviewerID:       r.ReviewerID,
		CreatedBy:        r.CreatedBy,
		Status:           events.Status(r.Status),
		IsTemplate:       r.IsTemplate,
		Evidence:         ev,
		EvidenceCount:    ev.Count(),
		Recurrence:       r.Recurrence,
		StartDate:        nullTime(r.StartDate),
		EndDate:          nullTime(r.EndDate),
		JiraIssueKey:     r.JiraIssueKey,
		ReviewerComments: r.ReviewerComments,
		ReviewedAt:       nullTime(r.ReviewedAt),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func (s *PostgresStore) CreateEvent(ctx context.Context, e *events.Event) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("events").Cols(eventColumns[1:]...).Values(
		e.TenantID, e.Title, e.Description, e.FrameworkID, e.ModuleID, e.Category,
		e.OwnerID, e.ReviewerID, e.CreatedBy, string(e.Status), e.IsTemplate, e.Evidence.String(), e.Recurrence,
		e.StartDate, e.EndDate, e.JiraIssueKey, e.ReviewerComments, e.ReviewedAt,
		e.CreatedAt, e.UpdatedAt,
	)
	query, args := ib.Build()
	var eventID int64
	if err := s.conn(ctx).GetContext(ctx, &eventID, query+" RETURNING event_id", args...); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID = id.EventID(eventID)
	return nil
}

func (s *PostgresStore) FindEvent(ctx context.Context, eventID id.EventID, forUpdate bool) (*events.Event, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...).From("events").Where(sb.Equal("event_id", int64(eventID)))
	if forUpdate {
		sb.ForUpdate()
	}
	query, args := sb.Build()
	var row eventRow
	err := s.conn(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return row.toEvent(), nil
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, e *events.Event) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("events").Set(
		ub.Assign("title", e.Title),
		ub.Assign("description", e.Description),
		ub.Assign("reviewer_id", e.ReviewerID),
		ub.Assign("status", string(e.Status)),
		ub.Assign("evidence", e.Evidence.String()),
		ub.Assign("jira_issue_key", e.JiraIssueKey),
		ub.Assign("reviewer_comments", e.ReviewerComments),
		ub.Assign("reviewed_at", e.ReviewedAt),
		ub.Assign("updated_at", e.UpdatedAt),
	).Where(ub.Equal("event_id", int64(e.ID)), ub.Equal("tenant_id", e.TenantID))
	query, args := ub.Build()
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return expectOne(res)
}

// DeleteEvent removes an archived event. A live event is left alone and
// reported as ErrInvalidState.
func (s *PostgresStore) DeleteEvent(ctx context.Context, tenantID id.TenantID, eventID id.EventID) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM events WHERE event_id = $1 AND tenant_id = $2 AND status = $3`,
		int64(eventID), tenantID, string(events.StatusArchived))
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f events.ListFilter) ([]*events.Event, int, error) {
	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)").From("events")
	applyEventFilter(countSb, f)
	countQuery, countArgs := countSb.Build()

	var total int
	if err := s.conn(ctx).GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count events: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...).From("events")
	applyEventFilter(sb, f)
	sb.OrderBy("created_at DESC", "event_id DESC").Limit(f.Limit).Offset(f.Offset)
	query, args := sb.Build()

	var rows []eventRow
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list events: %w", err)
	}
	out := make([]*events.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, total, nil
}

func applyEventFilter(sb *sqlbuilder.SelectBuilder, f events.ListFilter) {
	where := []string{sb.Equal("tenant_id", f.TenantID)}
	if !f.IncludeTemplates {
		where = append(where, sb.Equal("is_template", false))
	}
	if f.Status != "" {
		where = append(where, sb.Equal("status", string(f.Status)))
	}
	if !f.OwnerID.IsNil() {
		where = append(where, sb.Equal("owner_id", f.OwnerID))
	}
	if !f.ReviewerID.IsNil() {
		where = append(where, sb.Equal("reviewer_id", f.ReviewerID))
	}
	if f.Category != "" {
		where = append(where, sb.Equal("category", f.Category))
	}
	if f.FrameworkID != nil {
		where = append(where, sb.Equal("framework_id", *f.FrameworkID))
	}
	sb.Where(where...)
}

var fileOperationColumns = []string{
	"file_operation_id", "tenant_id", "user_id", "module", "entity_id", "s3_url", "s3_key",
	"original_name", "stored_name", "file_type", "file_size", "status", "created_at",
}

type fileOperationRow struct {
	ID           id.FileOperationID `db:"file_operation_id"`
	TenantID     id.TenantID        `db:"tenant_id"`
	UserID       id.UserID          `db:"user_id"`
	Module       string             `db:"module"`
	EntityID     sql.NullInt64      `db:"entity_id"`
	S3URL        string             `db:"s3_url"`
	S3Key        string             `db:"s3_key"`
	OriginalName string             `db:"original_name"`
	StoredName   string             `db:"stored_name"`
	FileType     string             `db:"file_type"`
	FileSize     int64              `db:"file_size"`
	Status       string             `db:"status"`
	CreatedAt    time.Time          `db:"created_at"`
}

func (r fileOperationRow) toFileOperation() *events.FileOperation {
	return &events.FileOperation{
		ID:           r.ID,
		TenantID:     r.TenantID,
		UserID:       r.UserID,
		Module:       r.Module,
		EntityID:     nullInt(r.EntityID),
		S3URL:        r.S3URL,
		S3Key:        r.S3Key,
		OriginalName: r.OriginalName,
		StoredName:   r.StoredName,
		FileType:     r.FileType,
		FileSize:     r.FileSize,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
	}
}

func (s *PostgresStore) InsertFileOperation(ctx context.Context, op *events.FileOperation) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("file_operations").Cols(fileOperationColumns[1:]...).Values(
		op.TenantID, op.UserID, op.Module, op.EntityID, op.S3URL, op.S3Key,
		op.OriginalName, op.StoredName, op.FileType, op.FileSize, op.Status, op.CreatedAt,
	)
	query, args := ib.Build()
	var opID int64
	if err := s.conn(ctx).GetContext(ctx, &opID, query+" RETURNING file_operation_id", args...); err != nil {
		return fmt.Errorf("insert file operation: %w", err)
	}
	op.ID = id.FileOperationID(opID)
	return nil
}

// FindFileOperations loads the referenced rows in one round trip. Missing or
// foreign rows are simply absent from the result.
func (s *PostgresStore) FindFileOperations(ctx context.Context, tenantID id.TenantID, ids []id.FileOperationID) (map[id.FileOperationID]*events.FileOperation, error) {
	out := make(map[id.FileOperationID]*events.FileOperation, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	raw := make([]int64, len(ids))
	for i, fid := range ids {
		raw[i] = int64(fid)
	}
	var rows []fileOperationRow
	err := s.conn(ctx).SelectContext(ctx, &rows, `
		SELECT file_operation_id, tenant_id, user_id, module, entity_id, s3_url, s3_key,
		       original_name, stored_name, file_type, file_size, status, created_at
		FROM file_operations
		WHERE tenant_id = $1 AND file_operation_id = ANY($2)`, tenantID, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("find file operations: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toFileOperation()
	}
	return out, nil
}

func (s *PostgresStore) ListFileOperations(ctx context.Context, tenantID id.TenantID, module string, entityID int64) ([]*events.FileOperation, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(fileOperationColumns...).From("file_operations").Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("module", module),
		sb.Equal("entity_id", entityID),
		sb.Equal("status", events.FileOperationCompleted),
	).OrderBy("file_operation_id")
	query, args := sb.Build()
	var rows []fileOperationRow
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list file operations: %w", err)
	}
	out := make([]*events.FileOperation, len(rows))
	for i, r := range rows {
		out[i] = r.toFileOperation()
	}
	return out, nil
}

type incidentRow struct {
	ID            int64                                `db:"incident_approval_id"`
	TenantID      id.TenantID                          `db:"tenant_id"`
	IncidentID    id.IncidentID                        `db:"incident_id"`
	Status        string                               `db:"status"`
	ExtractedInfo database.JSONB[events.ExtractedInfo] `db:"extracted_info"`
	UpdatedAt     time.Time                            `db:"updated_at"`
}

func (s *PostgresStore) FindIncidentApproval(ctx context.Context, tenantID id.TenantID, incidentID id.IncidentID, forUpdate bool) (*events.IncidentApproval, error) {
	query := `
		SELECT incident_approval_id, tenant_id, incident_id, status, extracted_info, updated_at
		FROM incident_approval
		WHERE tenant_id = $1 AND incident_id = $2`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row incidentRow
	err := s.conn(ctx).GetContext(ctx, &row, query, tenantID, int64(incidentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find incident approval: %w", err)
	}
	info := row.ExtractedInfo.Data
	if info == nil {
		info = events.ExtractedInfo{}
	}
	return &events.IncidentApproval{
		ID:            row.ID,
		TenantID:      row.TenantID,
		IncidentID:    row.IncidentID,
		Status:        row.Status,
		ExtractedInfo: info,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}

// SaveIncidentApproval upserts on (tenant_id, incident_id). Only the
// extracted info and timestamp are overwritten on conflict.
func (s *PostgresStore) SaveIncidentApproval(ctx context.Context, ia *events.IncidentApproval) error {
	err := s.conn(ctx).GetContext(ctx, &ia.ID, `
		INSERT INTO incident_approval (tenant_id, incident_id, status, extracted_info, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, incident_id)
		DO UPDATE SET extracted_info = EXCLUDED.extracted_info, updated_at = EXCLUDED.updated_at
		RETURNING incident_approval_id`,
		ia.TenantID, int64(ia.IncidentID), ia.Status, database.NewJSONB(ia.ExtractedInfo), ia.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save incident approval: %w", err)
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

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
