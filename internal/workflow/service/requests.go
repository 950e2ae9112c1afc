package service

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"grc/internal/notification"
	"grc/internal/versions"
	"grc/internal/workflow"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/tracing"
	"grc/pkg/requestcontext"
)

const initialVersionLabel = "Initial Submission"

type CreateRequestInput struct {
	WorkflowID  id.WorkflowID
	Title       string
	Description string
	Priority    workflow.Priority
	RequestData map[string]any
}

func (in *CreateRequestInput) validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return dErrors.New(dErrors.CodeValidation, "request_title is required")
	}
	if len(in.Title) > 500 {
		return dErrors.New(dErrors.CodeValidation, "request_title must be 500 characters or less")
	}
	if in.Priority == "" {
		in.Priority = workflow.PriorityMedium
	}
	if !in.Priority.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "priority must be LOW, MEDIUM, HIGH or URGENT")
	}
	if raw, ok := in.RequestData["approval_type"]; ok {
		t, _ := raw.(string)
		if !workflow.ApprovalType(t).IsValid() {
			return dErrors.New(dErrors.CodeValidation, "unknown request_data.approval_type")
		}
	}
	return nil
}

// CreateRequest starts an approval from an active workflow of the caller's
// tenant. Sequential requests open their first stage and record the initial
// version; parallel requests open every stage at once.
func (s *Service) CreateRequest(ctx context.Context, in CreateRequestInput) (*workflow.Approval, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.CreateRequest", attribute.String("workflow_id", in.WorkflowID.String()))
	p, err := principal(ctx)
	if err != nil {
		tracing.End(span, err)
		return nil, err
	}
	if err := in.validate(); err != nil {
		tracing.End(span, err)
		return nil, err
	}

	var (
		approval *workflow.Approval
		fx       effects
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		approval, fx = nil, effects{}
		wf, err := s.store.FindWorkflow(ctx, in.WorkflowID)
		if err != nil {
			return storeErr(err, "workflow")
		}
		if wf.TenantID != p.TenantID {
			return dErrors.New(dErrors.CodeTenantIsolation, "workflow belongs to another tenant")
		}
		if !wf.IsActive {
			return dErrors.New(dErrors.CodeStateConflict, "workflow is inactive")
		}
		templates, err := s.store.ListTemplateStages(ctx, wf.ID)
		if err != nil {
			return storeErr(err, "workflow stages")
		}
		approval, err = s.createRequest(ctx, p, wf, templates, in, &fx)
		return err
	})
	if err != nil {
		err = txErr(err, "failed to create approval")
		tracing.End(span, err)
		return nil, err
	}
	tracing.End(span, nil)
	s.metrics.IncrementRequestsCreated(string(approval.Workflow.Type))
	s.runEffects(ctx, fx)
	return approval, nil
}

func (s *Service) createRequest(ctx context.Context, p requestcontext.Principal, wf *workflow.Workflow, templates []*workflow.Stage, in CreateRequestInput, fx *effects) (*workflow.Approval, error) {
	if len(templates) == 0 {
		return nil, dErrors.New(dErrors.CodeStateConflict, "workflow has no stages")
	}
	now := requestcontext.Now(ctx)
	req := &workflow.Request{
		ID:             id.NewApprovalID(),
		TenantID:       p.TenantID,
		WorkflowID:     wf.ID,
		Title:          in.Title,
		Description:    in.Description,
		RequesterID:    p.UserID,
		Priority:       in.Priority,
		RequestData:    workflow.RequestData(in.RequestData).Clone(),
		SubmissionDate: now,
		UpdatedAt:      now,
	}

	ordered := append([]*workflow.Stage(nil), templates...)
	workflow.SortStages(ordered)
	stages := make([]*workflow.Stage, 0, len(ordered))
	for _, t := range ordered {
		st := t.CloneFor(req.ID, now)
		st.Type = wf.Type
		stages = append(stages, st)
	}

	switch wf.Type {
	case workflow.TypeSequential:
		req.Status = workflow.StatusPending
		stages[0].Activate(now)
	default:
		req.Status = workflow.StatusInProgress
		for _, st := range stages {
			st.Activate(now)
		}
	}

	if err := s.store.CreateRequest(ctx, req, stages); err != nil {
		return nil, storeErr(err, "approval")
	}
	if wf.Type == workflow.TypeSequential {
		if _, err := s.appendVersion(ctx, p, req, versions.TypeInitial, initialVersionLabel, "Request submitted", ""); err != nil {
			return nil, err
		}
	}
	if err := s.emit(ctx, p, audit.EventRequestCreated, audit.AggregateApproval, req.ID.String(), map[string]any{
		"workflow_id":   wf.ID.String(),
		"workflow_type": string(wf.Type),
		"approval_type": string(req.RequestData.ApprovalType()),
	}); err != nil {
		return nil, err
	}

	approval := &workflow.Approval{Request: req, Workflow: wf, Stages: stages}
	for _, st := range stages {
		if st.Status == workflow.StageInProgress {
			fx.notify(st.AssignedUserID, notification.TypeApprovalStageAssigned, req, st)
		}
	}
	if wf.Type == workflow.TypeParallel && req.RequestData.ApprovalType() == workflow.ApprovalQuestionnaire {
		ev := workflow.NewLifecycleEvent(approval, p.UserID)
		fx.started = &ev
	}
	fx.tenantID = p.TenantID
	return approval, nil
}

// GetApproval returns a request of the caller's tenant with its workflow and
// stages.
func (s *Service) GetApproval(ctx context.Context, approvalID id.ApprovalID) (*workflow.Approval, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadApproval(ctx, p.TenantID, approvalID, false)
}

// ListApprovals pages through the caller's tenant's requests, newest first.
func (s *Service) ListApprovals(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Request, int, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, 0, err
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	if filter.ApprovalType != "" && !filter.ApprovalType.IsValid() {
		return nil, 0, dErrors.New(dErrors.CodeValidation, "unknown approval_type filter")
	}
	filter.TenantID = p.TenantID
	filter.Normalize()
	list, total, err := s.store.ListRequests(ctx, filter)
	if err != nil {
		return nil, 0, storeErr(err, "approvals")
	}
	return list, total, nil
}

// ListMyStages returns the caller's stages, optionally narrowed to a status,
// each with a summary of its request.
func (s *Service) ListMyStages(ctx context.Context, status workflow.StageStatus) ([]*workflow.MyStage, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if status != "" && !status.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown stage status filter")
	}
	stages, err := s.store.ListStagesByAssignee(ctx, p.TenantID, p.UserID, status)
	if err != nil {
		return nil, storeErr(err, "stages")
	}

	requests := make(map[id.ApprovalID]*workflow.Request)
	out := make([]*workflow.MyStage, 0, len(stages))
	for _, st := range stages {
		req, ok := requests[st.ApprovalID]
		if !ok {
			req, err = s.store.FindRequest(ctx, st.ApprovalID, false)
			if err != nil {
				return nil, storeErr(err, "approval")
			}
			requests[st.ApprovalID] = req
		}
		out = append(out, &workflow.MyStage{
			Stage:         st,
			RequestTitle:  req.Title,
			Priority:      req.Priority,
			OverallStatus: req.Status,
			ApprovalType:  req.RequestData.ApprovalType(),
		})
	}
	return out, nil
}
