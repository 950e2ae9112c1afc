package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Lifecycle,Notifier,RiskTrigger

import (
	"context"
	"time"

	"grc/internal/notification"
	"grc/internal/questionnaire"
	"grc/internal/risk"
	"grc/internal/users"
	"grc/internal/versions"
	"grc/internal/workflow"
	id "grc/pkg/domain"
	audit "grc/pkg/platform/audit"
)

// Store persists workflows, requests and stages. FindRequest with forUpdate
// locks the request row until the surrounding transaction ends; every stage
// mutation happens under that lock.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *workflow.Workflow, templates []*workflow.Stage) error
	FindWorkflow(ctx context.Context, workflowID id.WorkflowID) (*workflow.Workflow, error)
	ListWorkflows(ctx context.Context, tenantID id.TenantID, activeOnly bool) ([]*workflow.Workflow, error)
	ListTemplateStages(ctx context.Context, workflowID id.WorkflowID) ([]*workflow.Stage, error)

	CreateRequest(ctx context.Context, req *workflow.Request, stages []*workflow.Stage) error
	FindRequest(ctx context.Context, approvalID id.ApprovalID, forUpdate bool) (*workflow.Request, error)
	UpdateRequest(ctx context.Context, req *workflow.Request) error
	ListRequests(ctx context.Context, filter workflow.ListFilter) ([]*workflow.Request, int, error)

	FindStage(ctx context.Context, stageID id.StageID) (*workflow.Stage, error)
	ListStages(ctx context.Context, approvalID id.ApprovalID) ([]*workflow.Stage, error)
	UpdateStages(ctx context.Context, stages ...*workflow.Stage) error
	ListStagesByAssignee(ctx context.Context, tenantID id.TenantID, userID id.UserID, status workflow.StageStatus) ([]*workflow.Stage, error)
}

// Versions appends to an approval's version chain, joining the caller's
// transaction.
type Versions interface {
	AppendVersion(ctx context.Context, req versions.AppendRequest) (*versions.Version, error)
}

// Questionnaires is the questionnaire data that response approvals score
// against.
type Questionnaires interface {
	FindAssignment(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID) (*questionnaire.Assignment, error)
	ListQuestions(ctx context.Context, tenantID id.TenantID, questionnaireID id.QuestionnaireID) ([]*questionnaire.Question, error)
	UpsertSubmissionScore(ctx context.Context, score questionnaire.SubmissionScore) error
	UpdateOverallScore(ctx context.Context, tenantID id.TenantID, assignmentID id.AssignmentID, score float64, overridden bool, now time.Time) error
}

// Lifecycle moves vendors along their lifecycle as approvals start and
// complete. Calls happen after commit; errors are logged, never returned to
// the reviewer.
type Lifecycle interface {
	ApprovalStarted(ctx context.Context, ev workflow.LifecycleEvent) error
	ApprovalCompleted(ctx context.Context, ev workflow.LifecycleEvent) error
	MigrateForApproval(ctx context.Context, ev workflow.LifecycleEvent) error
}

type Notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

// RiskTrigger schedules risk generation and returns once it is queued.
type RiskTrigger interface {
	GenerateVendorRisksAsync(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID) (risk.Ack, error)
}

type Directory interface {
	Lookup(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*users.User, bool)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
