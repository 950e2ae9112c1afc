package handler

import (
	"strings"

	"grc/internal/workflow"
	"grc/internal/workflow/service"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

type StageRequest struct {
	Order          int    `json:"stage_order" validate:"gte=0"`
	Name           string `json:"stage_name" validate:"required,max=200"`
	Description    string `json:"stage_description"`
	AssignedUserID string `json:"assigned_user_id" validate:"required"`
	Weightage      *int   `json:"weightage" validate:"omitempty,min=1,max=100"`
	DeadlineDays   int    `json:"deadline_days" validate:"gte=0"`
	IsMandatory    *bool  `json:"is_mandatory"`
}

func (r StageRequest) toConfig() (service.StageConfig, error) {
	userID, err := id.ParseUserID(r.AssignedUserID)
	if err != nil {
		return service.StageConfig{}, err
	}
	mandatory := true
	if r.IsMandatory != nil {
		mandatory = *r.IsMandatory
	}
	return service.StageConfig{
		Order:          r.Order,
		Name:           r.Name,
		Description:    r.Description,
		AssignedUserID: userID,
		Weightage:      r.Weightage,
		DeadlineDays:   r.DeadlineDays,
		IsMandatory:    mandatory,
	}, nil
}

type CreateWorkflowRequest struct {
	Name               string         `json:"workflow_name" validate:"required,max=200"`
	Type               string         `json:"workflow_type" validate:"required,oneof=SEQUENTIAL PARALLEL"`
	BusinessObjectType string         `json:"business_object_type"`
	Description        string         `json:"description"`
	Stages             []StageRequest `json:"stages" validate:"required,min=1,dive"`

	input service.CreateWorkflowInput
}

func (r *CreateWorkflowRequest) Validate() error {
	in := service.CreateWorkflowInput{
		Name:               strings.TrimSpace(r.Name),
		Type:               workflow.Type(r.Type),
		BusinessObjectType: r.BusinessObjectType,
		Description:        r.Description,
	}
	for _, s := range r.Stages {
		cfg, err := s.toConfig()
		if err != nil {
			return err
		}
		in.Stages = append(in.Stages, cfg)
	}
	r.input = in
	return nil
}

type CreateRequestRequest struct {
	WorkflowID  string         `json:"workflow_id" validate:"required"`
	Title       string         `json:"request_title" validate:"required,max=500"`
	Description string         `json:"request_description"`
	Priority    string         `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	RequestData map[string]any `json:"request_data"`

	input service.CreateRequestInput
}

func (r *CreateRequestRequest) Validate() error {
	workflowID, err := id.ParseWorkflowID(r.WorkflowID)
	if err != nil {
		return err
	}
	r.input = service.CreateRequestInput{
		WorkflowID:  workflowID,
		Title:       r.Title,
		Description: r.Description,
		Priority:    workflow.Priority(r.Priority),
		RequestData: r.RequestData,
	}
	return nil
}

// ComprehensiveRequest creates a workflow and its first request together.
// The request's workflow_id is filled in by the service.
type ComprehensiveRequest struct {
	Workflow CreateWorkflowRequest `json:"workflow" validate:"required"`
	Request  struct {
		Title       string         `json:"request_title" validate:"required,max=500"`
		Description string         `json:"request_description"`
		Priority    string         `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
		RequestData map[string]any `json:"request_data"`
	} `json:"request" validate:"required"`
}

func (r *ComprehensiveRequest) Validate() error {
	if err := r.Workflow.Validate(); err != nil {
		return err
	}
	return nil
}

func (r *ComprehensiveRequest) input() service.ComprehensiveInput {
	return service.ComprehensiveInput{
		Workflow: r.Workflow.input,
		Request: service.CreateRequestInput{
			Title:       r.Request.Title,
			Description: r.Request.Description,
			Priority:    workflow.Priority(r.Request.Priority),
			RequestData: r.Request.RequestData,
		},
	}
}

type ActRequest struct {
	Action          string         `json:"action" validate:"required,oneof=APPROVE REJECT REQUEST_CHANGES"`
	ResponseData    map[string]any `json:"response_data"`
	RejectionReason string         `json:"rejection_reason"`
	Comments        string         `json:"comments"`
}

func (r *ActRequest) Validate() error {
	if workflow.Action(r.Action) == workflow.ActionReject && strings.TrimSpace(r.RejectionReason) == "" {
		return dErrors.New(dErrors.CodeValidation, "rejection_reason is required when rejecting")
	}
	return nil
}

type FinalDecisionRequest struct {
	Decision             string   `json:"decision" validate:"required,oneof=APPROVE REJECT"`
	Reason               string   `json:"reason"`
	OverallScoreOverride *float64 `json:"overall_score_override" validate:"omitempty,gte=0,lte=100"`
}

type AdminRejectionRequest struct {
	Action     string `json:"action" validate:"required,oneof=RESTART_FROM_REJECTED RESTART_FROM_STAGE FINAL_REJECT"`
	StageOrder *int   `json:"stage_order" validate:"omitempty,gte=1"`
	Comments   string `json:"comments"`
}

func (r *AdminRejectionRequest) Validate() error {
	if workflow.AdminAction(r.Action) == workflow.AdminRestartFromStage && r.StageOrder == nil {
		return dErrors.New(dErrors.CodeValidation, "stage_order is required for RESTART_FROM_STAGE")
	}
	return nil
}

type StartRequest struct {
	Comments string `json:"comments" validate:"max=2000"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type DraftRequest struct {
	ResponseData map[string]any `json:"response_data" validate:"required"`
}

type ScoresRequest struct {
	ReviewerScores map[string]workflow.ReviewerScore `json:"reviewer_scores" validate:"required,min=1"`
}

// ListResponse wraps a page of approvals with the unpaged total.
type ListResponse struct {
	Approvals []*workflow.Request `json:"approvals"`
	Total     int                 `json:"total"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}
