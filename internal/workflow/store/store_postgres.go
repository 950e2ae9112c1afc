package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"grc/internal/platform/database"
	"grc/internal/workflow"
	id "grc/pkg/domain"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
)

// PostgresStore keeps workflows, requests and stages on the vendor database.
// Template stages are approval_stages rows whose approval_id is NULL.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Querier {
	return txcontext.Conn(ctx, s.db, txcontext.PoolVendor)
}

var (
	workflowColumns = []string{
		"workflow_id", "tenant_id", "workflow_name", "workflow_type", "business_object_type",
		"description", "is_active", "created_by", "created_at", "updated_at",
	}
	requestColumns = []string{
		"approval_id", "tenant_id", "workflow_id", "request_title", "request_description",
		"requester_id", "priority", "request_data", "overall_status", "submission_date",
		"completion_date", "updated_at",
	}
	stageColumns = []string{
		"stage_id", "tenant_id", "workflow_id", "approval_id", "stage_order", "stage_name",
		"stage_description", "assigned_user_id", "assigned_user_name", "stage_type", "stage_status",
		"weightage", "deadline_date", "response_data", "is_mandatory", "started_at", "completed_at",
		"rejection_reason", "created_at", "updated_at",
	}
)

type workflowRow struct {
	ID                 id.WorkflowID `db:"workflow_id"`
	TenantID           id.TenantID   `db:"tenant_id"`
	Name               string        `db:"workflow_name"`
	Type               string        `db:"workflow_type"`
	BusinessObjectType string        `db:"business_object_type"`
	Description        string        `db:"description"`
	IsActive           bool          `db:"is_active"`
	CreatedBy          id.UserID     `db:"created_by"`
	CreatedAt          time.Time     `db:"created_at"`
	UpdatedAt          time.Time     `db:"updated_at"`
}

type requestRow struct {
	ID             id.ApprovalID                  `db:"approval_id"`
	TenantID       id.TenantID                    `db:"tenant_id"`
	WorkflowID     id.WorkflowID                  `db:"workflow_id"`
	Title          string                         `db:"request_title"`
	Description    string                         `db:"request_description"`
	RequesterID    id.UserID                      `db:"requester_id"`
	Priority       string                         `db:"priority"`
	RequestData    database.JSONB[map[string]any] `db:"request_data"`
	Status         string                         `db:"overall_status"`
	SubmissionDate time.Time                      `db:"submission_date"`
	CompletionDate *time.Time                     `db:"completion_date"`
	UpdatedAt      time.Time                      `db:"updated_at"`
}

type stageRow struct {
	ID               id.StageID                     `db:"stage_id"`
	TenantID         id.TenantID                    `db:"tenant_id"`
	WorkflowID       id.WorkflowID                  `db:"workflow_id"`
	ApprovalID       id.ApprovalID                  `db:"approval_id"`
	Order            int                            `db:"stage_order"`
	Name             string                         `db:"stage_name"`
	Description      string                         `db:"stage_description"`
	AssignedUserID   id.UserID                      `db:"assigned_user_id"`
	AssignedUserName string                         `db:"assigned_user_name"`
	Type             string                         `db:"stage_type"`
	Status           string                         `db:"stage_status"`
	Weightage        *int                           `db:"weightage"`
	DeadlineDate     *time.Time                     `db:"deadline_date"`
	ResponseData     database.JSONB[map[string]any] `db:"response_data"`
	IsMandatory      bool                           `db:"is_mandatory"`
	StartedAt        *time.Time                     `db:"started_at"`
	CompletedAt      *time.Time                     `db:"completed_at"`
	RejectionReason  string                         `db:"rejection_reason"`
	CreatedAt        time.Time                      `db:"created_at"`
	UpdatedAt        time.Time                      `db:"updated_at"`
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *workflow.Workflow, templates []*workflow.Stage) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("approval_workflows").Cols(workflowColumns...).Values(
		wf.ID, wf.TenantID, wf.Name, string(wf.Type), wf.BusinessObjectType,
		wf.Description, wf.IsActive, wf.CreatedBy, wf.CreatedAt, wf.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(sentinel.ErrConflict, err)
		}
		return fmt.Errorf("insert workflow: %w", err)
	}
	return s.insertStages(ctx, templates)
}

func (s *PostgresStore) FindWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(workflowColumns...).From("approval_workflows").Where(sb.Equal("workflow_id", workflowID))
	query, args := sb.Build()

	var row workflowRow
	err := s.conn(ctx).GetContext(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find workflow: %w", err)
	}
	return row.toWorkflow(), nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context, tenantID id.TenantID, activeOnly bool) ([]*workflow.Workflow, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(workflowColumns...).From("approval_workflows")
	where := []string{sb.Equal("tenant_id", tenantID)}
	if activeOnly {
		where = append(where, sb.Equal("is_active", true))
	}
	sb.Where(where...).OrderBy("created_at DESC")
	query, args := sb.Build()

	var rows []workflowRow
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]*workflow.Workflow, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toWorkflow())
	}
	return out, nil
}

func (s *PostgresStore) ListTemplateStages(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Stage, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stageColumns...).From("approval_stages").
		Where(sb.Equal("workflow_id", workflowID), sb.IsNull("approval_id")).
		OrderBy("stage_order")
	return s.selectStages(ctx, sb)
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *workflow.Request, stages []*workflow.Stage) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("approval_requests").Cols(requestColumns...).Values(
		req.ID, req.TenantID, req.WorkflowID, req.Title, req.Description,
		req.RequesterID, string(req.Priority), database.NewJSONB(map[string]any(req.RequestData)),
		string(req.Status), req.SubmissionDate, req.CompletionDate, req.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(sentinel.ErrConflict, err)
		}
		return fmt.Errorf("insert approval request: %w", err)
	}
	return s.insertStages(ctx, stages)
}

const requestSelect = `SELECT approval_id, tenant_id, workflow_id, request_title, request_description,
	requester_id, priority, request_data, overall_status, submission_date, completion_date, updated_at
	FROM approval_requests WHERE approval_id = $1`

// FindRequest loads a request; with forUpdate the row stays locked for the
// rest of the transaction. All writers of a request and its stages and
// versions take this lock first.
func (s *PostgresStore) FindRequest(ctx context.Context, approvalID id.ApprovalID, forUpdate bool) (*workflow.Request, error) {
	query := requestSelect
	if forUpdate {
		query += " FOR UPDATE"
	}
	var row requestRow
	err := s.conn(ctx).GetContext(ctx, &row, query, approvalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return row.toRequest(), nil
}

func (s *PostgresStore) ApprovalTenant(ctx context.Context, approvalID id.ApprovalID, forUpdate bool) (id.TenantID, error) {
	query := `SELECT tenant_id FROM approval_requests WHERE approval_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var tenantID id.TenantID
	err := s.conn(ctx).GetContext(ctx, &tenantID, query, approvalID)
	if errors.Is(err, sql.ErrNoRows) {
		return id.TenantID{}, sentinel.ErrNotFound
	}
	if err != nil {
		return id.TenantID{}, fmt.Errorf("find approval tenant: %w", err)
	}
	return tenantID, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req *workflow.Request) error {
	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update("approval_requests").Set(
		ub.Assign("overall_status", string(req.Status)),
		ub.Assign("completion_date", req.CompletionDate),
		ub.Assign("request_data", database.NewJSONB(map[string]any(req.RequestData))),
		ub.Assign("updated_at", req.UpdatedAt),
	).Where(ub.Equal("approval_id", req.ID))
	query, args := ub.Build()
	res, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update approval request: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, f workflow.ListFilter) ([]*workflow.Request, int, error) {
	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)").From("approval_requests")
	applyRequestFilter(countSb, f)
	countQuery, countArgs := countSb.Build()

	var total int
	if err := s.conn(ctx).GetContext(ctx, &total, countQuery, countArgs...); err != nil {
		return nil, 0, fmt.Errorf("count approval requests: %w", err)
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(requestColumns...).From("approval_requests")
	applyRequestFilter(sb, f)
	sb.OrderBy("submission_date DESC").Limit(f.Limit).Offset(f.Offset)
	query, args := sb.Build()

	var rows []requestRow
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list approval requests: %w", err)
	}
	out := make([]*workflow.Request, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRequest())
	}
	return out, total, nil
}

func applyRequestFilter(sb *sqlbuilder.SelectBuilder, f workflow.ListFilter) {
	where := []string{sb.Equal("tenant_id", f.TenantID)}
	if f.Status != "" {
		where = append(where, sb.Equal("overall_status", string(f.Status)))
	}
	if !f.RequesterID.IsNil() {
		where = append(where, sb.Equal("requester_id", f.RequesterID))
	}
	if !f.WorkflowID.IsNil() {
		where = append(where, sb.Equal("workflow_id", f.WorkflowID))
	}
	if f.ApprovalType != "" {
		where = append(where, sb.Equal("COALESCE(request_data->>'approval_type', 'generic')", string(f.ApprovalType)))
	}
	if !f.AssigneeID.IsNil() {
		sub := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sub.Select("approval_id").From("approval_stages").
			Where(sub.Equal("assigned_user_id", f.AssigneeID), sub.IsNotNull("approval_id"))
		where = append(where, sb.In("approval_id", sub))
	}
	sb.Where(where...)
}

func (s *PostgresStore) FindStage(ctx context.Context, stageID id.StageID) (*workflow.Stage, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stageColumns...).From("approval_stages").
		Where(sb.Equal("stage_id", stageID), sb.IsNotNull("approval_id"))
	stages, err := s.selectStages(ctx, sb)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return stages[0], nil
}

func (s *PostgresStore) ListStages(ctx context.Context, approvalID id.ApprovalID) ([]*workflow.Stage, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stageColumns...).From("approval_stages").
		Where(sb.Equal("approval_id", approvalID)).
		OrderBy("stage_order")
	return s.selectStages(ctx, sb)
}

func (s *PostgresStore) ListStagesByAssignee(ctx context.Context, tenantID id.TenantID, userID id.UserID, status workflow.StageStatus) ([]*workflow.Stage, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(stageColumns...).From("approval_stages")
	where := []string{
		sb.Equal("tenant_id", tenantID),
		sb.Equal("assigned_user_id", userID),
		sb.IsNotNull("approval_id"),
	}
	if status != "" {
		where = append(where, sb.Equal("stage_status", string(status)))
	}
	sb.Where(where...).OrderBy("updated_at DESC")
	return s.selectStages(ctx, sb)
}

func (s *PostgresStore) UpdateStages(ctx context.Context, stages ...*workflow.Stage) error {
	for _, st := range stages {
		ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
		ub.Update("approval_stages").Set(
			ub.Assign("stage_status", string(st.Status)),
			ub.Assign("response_data", database.NewJSONB(map[string]any(st.ResponseData))),
			ub.Assign("started_at", st.StartedAt),
			ub.Assign("completed_at", st.CompletedAt),
			ub.Assign("rejection_reason", st.RejectionReason),
			ub.Assign("updated_at", st.UpdatedAt),
		).Where(ub.Equal("stage_id", st.ID))
		query, args := ub.Build()
		res, err := s.conn(ctx).ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update stage %s: %w", st.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) insertStages(ctx context.Context, stages []*workflow.Stage) error {
	if len(stages) == 0 {
		return nil
	}
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("approval_stages").Cols(stageColumns...)
	for _, st := range stages {
		ib.Values(
			st.ID, st.TenantID, st.WorkflowID, nullableApproval(st.ApprovalID), st.Order, st.Name,
			st.Description, st.AssignedUserID, st.AssignedUserName, string(st.Type), string(st.Status),
			st.Weightage, st.DeadlineDate, database.NewJSONB(map[string]any(st.ResponseData)), st.IsMandatory,
			st.StartedAt, st.CompletedAt, st.RejectionReason, st.CreatedAt, st.UpdatedAt,
		)
	}
	query, args := ib.Build()
	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err) {
			return errors.Join(sentinel.ErrConflict, err)
		}
		return fmt.Errorf("insert stages: %w", err)
	}
	return nil
}

func (s *PostgresStore) selectStages(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]*workflow.Stage, error) {
	query, args := sb.Build()
	var rows []stageRow
	if err := s.conn(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select stages: %w", err)
	}
	out := make([]*workflow.Stage, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toStage())
	}
	return out, nil
}

func nullableApproval(a id.ApprovalID) any {
	if a.IsNil() {
		return nil
	}
	return a
}

func (r workflowRow) toWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:                 r.ID,
		TenantID:           r.TenantID,
		Name:               r.Name,
		Type:               workflow.Type(r.Type),
		BusinessObjectType: r.BusinessObjectType,
		Description:        r.Description,
		IsActive:           r.IsActive,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (r requestRow) toRequest() *workflow.Request {
	data := r.RequestData.Data
	if data == nil {
		data = map[string]any{}
	}
	return &workflow.Request{
		ID:             r.ID,
		TenantID:       r.TenantID,
		WorkflowID:     r.WorkflowID,
		Title:          r.Title,
		Description:    r.Description,
		RequesterID:    r.RequesterID,
		Priority:       workflow.Priority(r.Priority),
		RequestData:    workflow.RequestData(data),
		Status:         workflow.RequestStatus(r.Status),
		SubmissionDate: r.SubmissionDate,
		CompletionDate: r.CompletionDate,
		UpdatedAt:      r.UpdatedAt,
	}
}

func (r stageRow) toStage() *workflow.Stage {
	data := r.ResponseData.Data
	if data == nil {
		data = map[string]any{}
	}
	return &workflow.Stage{
		ID:               r.ID,
		TenantID:         r.TenantID,
		WorkflowID:       r.WorkflowID,
		ApprovalID:       r.ApprovalID,
		Order:            r.Order,
		Name:             r.Name,
		Description:      r.Description,
		AssignedUserID:   r.AssignedUserID,
		AssignedUserName: r.AssignedUserName,
		Type:             workflow.Type(r.Type),
		Status:           workflow.StageStatus(r.Status),
		Weightage:        r.Weightage,
		DeadlineDate:     r.DeadlineDate,
		ResponseData:     workflow.ResponseData(data),
		IsMandatory:      r.IsMandatory,
		StartedAt:        r.StartedAt,
		CompletedAt:      r.CompletedAt,
		RejectionReason:  r.RejectionReason,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}
