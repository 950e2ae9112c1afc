package service

import (
	"context"
	"strings"

	"grc/internal/workflow"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/requestcontext"
)

// StageConfig describes one template stage of a new workflow. A zero Order
// takes the stage's position in the list.
type StageConfig struct {
	Order          int
	Name           string
	Description    string
	AssignedUserID id.UserID
	Weightage      *int
	DeadlineDays   int
	IsMandatory    bool
}

type CreateWorkflowInput struct {
	Name               string
	Type               workflow.Type
	BusinessObjectType string
	Description        string
	Stages             []StageConfig
}

// CreateWorkflow stores a workflow with its template stages. Admin only.
func (s *Service) CreateWorkflow(ctx context.Context, in CreateWorkflowInput) (*workflow.Workflow, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	var wf *workflow.Workflow
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		wf, err = s.createWorkflow(ctx, p, in)
		return err
	})
	if err != nil {
		return nil, txErr(err, "failed to create workflow")
	}
	return wf, nil
}

func (s *Service) createWorkflow(ctx context.Context, p requestcontext.Principal, in CreateWorkflowInput) (*workflow.Workflow, error) {
	now := requestcontext.Now(ctx)
	wf, err := workflow.NewWorkflow(id.NewWorkflowID(), p.TenantID, in.Name, in.Type, p.UserID, now)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
	}
	wf.BusinessObjectType = strings.TrimSpace(in.BusinessObjectType)
	wf.Description = in.Description

	templates, err := s.buildTemplates(ctx, p, wf, in.Stages)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateWorkflow(ctx, wf, templates); err != nil {
		return nil, storeErr(err, "workflow")
	}
	if err := s.emit(ctx, p, audit.EventWorkflowCreated, audit.AggregateWorkflow, wf.ID.String(), map[string]any{
		"workflow_name": wf.Name,
		"workflow_type": string(wf.Type),
		"stage_count":   len(templates),
	}); err != nil {
		return nil, err
	}
	wf.Stages = templates
	return wf, nil
}

func (s *Service) buildTemplates(ctx context.Context, p requestcontext.Principal, wf *workflow.Workflow, configs []StageConfig) ([]*workflow.Stage, error) {
	if len(configs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one stage is required")
	}
	now := requestcontext.Now(ctx)
	seen := make(map[int]bool, len(configs))
	templates := make([]*workflow.Stage, 0, len(configs))
	for i, c := range configs {
		order := c.Order
		if order == 0 {
			order = i + 1
		}
		switch {
		case order < 1:
			return nil, dErrors.New(dErrors.CodeValidation, "stage_order must be 1 or greater")
		case seen[order]:
			return nil, dErrors.New(dErrors.CodeValidation, "stage_order values must be unique")
		case strings.TrimSpace(c.Name) == "":
			return nil, dErrors.New(dErrors.CodeValidation, "stage_name is required")
		case c.AssignedUserID.IsNil():
			return nil, dErrors.New(dErrors.CodeValidation, "assigned_user_id is required")
		case c.Weightage != nil && *c.Weightage <= 0:
			return nil, dErrors.New(dErrors.CodeValidation, "weightage must be a positive integer")
		case c.DeadlineDays < 0:
			return nil, dErrors.New(dErrors.CodeValidation, "deadline_days cannot be negative")
		}
		seen[order] = true

		st := &workflow.Stage{
			ID:             id.NewStageID(),
			TenantID:       p.TenantID,
			WorkflowID:     wf.ID,
			Order:          order,
			Name:           strings.TrimSpace(c.Name),
			Description:    c.Description,
			AssignedUserID: c.AssignedUserID,
			Type:           wf.Type,
			Status:         workflow.StagePending,
			Weightage:      c.Weightage,
			ResponseData:   workflow.EmptyResponse(),
			IsMandatory:    c.IsMandatory,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if u, ok := s.lookup(ctx, p.TenantID, c.AssignedUserID); ok {
			st.AssignedUserName = u.DisplayName()
		}
		if c.DeadlineDays > 0 {
			deadline := now.AddDate(0, 0, c.DeadlineDays)
			st.DeadlineDate = &deadline
		}
		templates = append(templates, st)
	}
	workflow.SortStages(templates)
	return templates, nil
}

// ComprehensiveInput creates a workflow and its first request together.
type ComprehensiveInput struct {
	Workflow CreateWorkflowInput
	Request  CreateRequestInput
}

// CreateComprehensive creates a workflow, its first request and the request's
// stages in one transaction. Admin only.
func (s *Service) CreateComprehensive(ctx context.Context, in ComprehensiveInput) (*workflow.Approval, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if err := in.Request.validate(); err != nil {
		return nil, err
	}

	var (
		approval *workflow.Approval
		fx       effects
	)
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		approval, fx = nil, effects{}
		wf, err := s.createWorkflow(ctx, p, in.Workflow)
		if err != nil {
			return err
		}
		in.Request.WorkflowID = wf.ID
		approval, err = s.createRequest(ctx, p, wf, wf.Stages, in.Request, &fx)
		return err
	})
	if err != nil {
		return nil, txErr(err, "failed to create approval")
	}
	s.metrics.IncrementRequestsCreated(string(approval.Workflow.Type))
	s.runEffects(ctx, fx)
	return approval, nil
}

// GetWorkflow returns a workflow of the caller's tenant with its template
// stages.
func (s *Service) GetWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	wf, err := s.store.FindWorkflow(ctx, workflowID)
	if err != nil {
		return nil, storeErr(err, "workflow")
	}
	if wf.TenantID != p.TenantID {
		return nil, dErrors.New(dErrors.CodeTenantIsolation, "workflow belongs to another tenant")
	}
	templates, err := s.store.ListTemplateStages(ctx, workflowID)
	if err != nil {
		return nil, storeErr(err, "workflow stages")
	}
	workflow.SortStages(templates)
	wf.Stages = templates
	return wf, nil
}

func (s *Service) ListWorkflows(ctx context.Context, activeOnly bool) ([]*workflow.Workflow, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.store.ListWorkflows(ctx, p.TenantID, activeOnly)
	if err != nil {
		return nil, storeErr(err, "workflows")
	}
	return list, nil
}
