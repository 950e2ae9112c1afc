// Package workflow holds the approval engine's domain model: workflows with
// their template stages, approval requests, and the per-request stages that
// reviewers act on.
package workflow

import (
	"slices"
	"strings"
	"time"

	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
)

type Type string

const (
	TypeSequential Type = "SEQUENTIAL"
	TypeParallel   Type = "PARALLEL"
)

func (t Type) IsValid() bool { return t == TypeSequential || t == TypeParallel }

type RequestStatus string

const (
	StatusDraft      RequestStatus = "DRAFT"
	StatusPending    RequestStatus = "PENDING"
	StatusInProgress RequestStatus = "IN_PROGRESS"
	StatusApproved   RequestStatus = "APPROVED"
	StatusRejected   RequestStatus = "REJECTED"
	StatusCancelled  RequestStatus = "CANCELLED"
	StatusExpired    RequestStatus = "EXPIRED"
)

func (s RequestStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusInProgress, StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

func (s RequestStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageApproved   StageStatus = "APPROVED"
	StageRejected   StageStatus = "REJECTED"
	StageSkipped    StageStatus = "SKIPPED"
	StageExpired    StageStatus = "EXPIRED"
	StageCancelled  StageStatus = "CANCELLED"
)

func (s StageStatus) IsValid() bool {
	return s == StagePending || s == StageInProgress || s.IsTerminal()
}

func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageApproved, StageRejected, StageSkipped, StageExpired, StageCancelled:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Action is a reviewer's decision on a stage. The empty decision is only
// valid inside response data.
type Action string

const (
	ActionApprove        Action = "APPROVE"
	ActionReject         Action = "REJECT"
	ActionRequestChanges Action = "REQUEST_CHANGES"
)

func (a Action) IsValid() bool {
	return a == ActionApprove || a == ActionReject || a == ActionRequestChanges
}

type AdminAction string

const (
	AdminRestartFromRejected AdminAction = "RESTART_FROM_REJECTED"
	AdminRestartFromStage    AdminAction = "RESTART_FROM_STAGE"
	AdminFinalReject         AdminAction = "FINAL_REJECT"
)

func (a AdminAction) IsValid() bool {
	return a == AdminRestartFromRejected || a == AdminRestartFromStage || a == AdminFinalReject
}

type ApprovalType string

const (
	ApprovalQuestionnaire ApprovalType = "questionnaire_approval"
	ApprovalResponse      ApprovalType = "response_approval"
	ApprovalFinalVendor   ApprovalType = "final_vendor_approval"
	ApprovalVendor        ApprovalType = "vendor_approval"
	ApprovalGeneric       ApprovalType = "generic"
)

func (t ApprovalType) IsValid() bool {
	switch t {
	case ApprovalQuestionnaire, ApprovalResponse, ApprovalFinalVendor, ApprovalVendor, ApprovalGeneric:
		return true
	}
	return false
}

// Workflow is a reusable approval definition. Its type never changes after
// creation.
type Workflow struct {
	ID                 id.WorkflowID `json:"workflow_id"`
	TenantID           id.TenantID   `json:"tenant_id"`
	Name               string        `json:"workflow_name"`
	Type               Type          `json:"workflow_type"`
	BusinessObjectType string        `json:"business_object_type"`
	Description        string        `json:"description"`
	IsActive           bool          `json:"is_active"`
	CreatedBy          id.UserID     `json:"created_by"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	Stages             []*Stage      `json:"stages,omitempty"`
}

func NewWorkflow(workflowID id.WorkflowID, tenantID id.TenantID, name string, typ Type, createdBy id.UserID, now time.Time) (*Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow_name is required")
	}
	if len(name) > 255 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow_name must be 255 characters or less")
	}
	if !typ.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "workflow_type must be SEQUENTIAL or PARALLEL")
	}
	return &Workflow{
		ID:        workflowID,
		TenantID:  tenantID,
		Name:      name,
		Type:      typ,
		IsActive:  true,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Request is one approval instance of a workflow.
type Request struct {
	ID             id.ApprovalID `json:"approval_id"`
	TenantID       id.TenantID   `json:"tenant_id"`
	WorkflowID     id.WorkflowID `json:"workflow_id"`
	Title          string        `json:"request_title"`
	Description    string        `json:"request_description"`
	RequesterID    id.UserID     `json:"requester_id"`
	Priority       Priority      `json:"priority"`
	RequestData    RequestData   `json:"request_data"`
	Status         RequestStatus `json:"overall_status"`
	SubmissionDate time.Time     `json:"submission_date"`
	CompletionDate *time.Time    `json:"completion_date"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (r *Request) IsTerminal() bool { return r.Status.IsTerminal() }

// CanAcceptActions reports whether reviewers may still act on the request.
func (r *Request) CanAcceptActions() error {
	if r.IsTerminal() {
		return dErrors.New(dErrors.CodeInvariantViolation, "approval is already "+string(r.Status))
	}
	return nil
}

// CanFinalize reports whether a requester decision or admin resolution may
// close the request.
func (r *Request) CanFinalize() error {
	if r.Status != StatusPending && r.Status != StatusInProgress {
		return dErrors.New(dErrors.CodeInvariantViolation, "approval cannot be finalized in status "+string(r.Status))
	}
	return nil
}

func (r *Request) ApplyCompletion(status RequestStatus, now time.Time) {
	r.Status = status
	r.CompletionDate = &now
	r.UpdatedAt = now
}

func (r *Request) ApplyStatus(status RequestStatus, now time.Time) {
	r.Status = status
	r.CompletionDate = nil
	r.UpdatedAt = now
}

// Stage is either a template stage (ApprovalID nil) owned by a workflow or a
// per-request stage cloned from one.
type Stage struct {
	ID               id.StageID    `json:"stage_id"`
	TenantID         id.TenantID   `json:"tenant_id"`
	WorkflowID       id.WorkflowID `json:"workflow_id"`
	ApprovalID       id.ApprovalID `json:"approval_id"`
	Order            int           `json:"stage_order"`
	Name             string        `json:"stage_name"`
	Description      string        `json:"stage_description"`
	AssignedUserID   id.UserID     `json:"assigned_user_id"`
	AssignedUserName string        `json:"assigned_user_name"`
	Type             Type          `json:"stage_type"`
	Status           StageStatus   `json:"stage_status"`
	Weightage        *int          `json:"weightage"`
	DeadlineDate     *time.Time    `json:"deadline_date"`
	ResponseData     ResponseData  `json:"response_data"`
	IsMandatory      bool          `json:"is_mandatory"`
	StartedAt        *time.Time    `json:"started_at"`
	CompletedAt      *time.Time    `json:"completed_at"`
	RejectionReason  string        `json:"rejection_reason"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (s *Stage) IsTemplate() bool { return s.ApprovalID.IsNil() }

// CloneFor copies a template stage onto a new request.
func (s *Stage) CloneFor(approvalID id.ApprovalID, now time.Time) *Stage {
	c := *s
	c.ID = id.NewStageID()
	c.ApprovalID = approvalID
	c.Status = StagePending
	c.ResponseData = EmptyResponse()
	c.StartedAt = nil
	c.CompletedAt = nil
	c.RejectionReason = ""
	c.CreatedAt = now
	c.UpdatedAt = now
	if s.Weightage != nil {
		w := *s.Weightage
		c.Weightage = &w
	}
	if s.DeadlineDate != nil {
		d := *s.DeadlineDate
		c.DeadlineDate = &d
	}
	return &c
}

// CanAct reports whether a reviewer decision or draft may be recorded.
func (s *Stage) CanAct() error {
	if s.Status != StageInProgress {
		return dErrors.New(dErrors.CodeInvariantViolation, "stage is "+string(s.Status)+", not IN_PROGRESS")
	}
	return nil
}

func (s *Stage) Activate(now time.Time) {
	s.Status = StageInProgress
	s.StartedAt = &now
	s.CompletedAt = nil
	s.UpdatedAt = now
}

func (s *Stage) ApplyApprove(now time.Time) {
	s.Status = StageApproved
	s.CompletedAt = &now
	s.UpdatedAt = now
}

func (s *Stage) ApplyReject(reason string, now time.Time) {
	s.Status = StageRejected
	s.RejectionReason = reason
	s.CompletedAt = &now
	s.UpdatedAt = now
}

// ApplyReset returns the stage to PENDING with the given response data.
func (s *Stage) ApplyReset(rd ResponseData, now time.Time) {
	s.Status = StagePending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.RejectionReason = ""
	s.ResponseData = rd
	s.UpdatedAt = now
}

// ApplyClose moves a non-terminal stage to the given terminal status.
// Terminal stages are left untouched.
func (s *Stage) ApplyClose(status StageStatus, now time.Time) bool {
	if s.Status.IsTerminal() {
		return false
	}
	s.Status = status
	s.CompletedAt = &now
	s.UpdatedAt = now
	return true
}

// Approval is a request together with its workflow and ordered stages.
type Approval struct {
	Request  *Request  `json:"request"`
	Workflow *Workflow `json:"workflow"`
	Stages   []*Stage  `json:"stages"`
}

// SortStages orders stages by stage_order.
func SortStages(stages []*Stage) {
	slices.SortFunc(stages, func(a, b *Stage) int { return a.Order - b.Order })
}

// StageByOrder returns the stage with the given order, or nil.
func StageByOrder(stages []*Stage, order int) *Stage {
	for _, s := range stages {
		if s.Order == order {
			return s
		}
	}
	return nil
}

// ListFilter narrows ListApprovals. Zero values mean "any".
type ListFilter struct {
	TenantID     id.TenantID
	Status       RequestStatus
	RequesterID  id.UserID
	AssigneeID   id.UserID
	ApprovalType ApprovalType
	WorkflowID   id.WorkflowID
	Limit        int
	Offset       int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f *ListFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// MyStage is a stage assigned to the caller with enough of its request to
// render an inbox row.
type MyStage struct {
	*Stage
	RequestTitle  string        `json:"request_title"`
	Priority      Priority      `json:"priority"`
	OverallStatus RequestStatus `json:"overall_status"`
	ApprovalType  ApprovalType  `json:"approval_type"`
}
