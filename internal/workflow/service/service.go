// Package service implements the approval engine: workflow definitions,
// request creation, reviewer actions, requester decisions, admin handling and
// score aggregation. Every state change runs in one transaction together with
// its version append and audit events. Lifecycle hooks, notifications and
// risk generation run after commit and never fail the action.
package service

import (
	"context"
	"errors"
	"log/slog"

	"grc/internal/users"
	"grc/internal/versions"
	"grc/internal/workflow"
	"grc/internal/workflow/metrics"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/sentinel"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/requestcontext"
)

type Service struct {
	store          Store
	versions       Versions
	tx             txcontext.Runner
	questionnaires Questionnaires
	lifecycle      Lifecycle
	notifier       Notifier
	risk           RiskTrigger
	directory      Directory
	audit          AuditPublisher
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithQuestionnaires(q Questionnaires) Option {
	return func(s *Service) {
		s.questionnaires = q
	}
}

func WithLifecycle(l Lifecycle) Option {
	return func(s *Service) {
		s.lifecycle = l
	}
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		s.notifier = n
	}
}

func WithRiskTrigger(r RiskTrigger) Option {
	return func(s *Service) {
		s.risk = r
	}
}

func WithDirectory(d Directory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(s *Service) {
		s.audit = p
	}
}

func New(store Store, versions Versions, tx txcontext.Runner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		versions: versions,
		tx:       tx,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func principal(ctx context.Context) (requestcontext.Principal, error) {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok || p.UserID.IsNil() || p.TenantID.IsNil() {
		return requestcontext.Principal{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return p, nil
}

func requireAdmin(p requestcontext.Principal) error {
	if !p.IsAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return nil
}

// loadRequest loads a request and checks its tenant before anything else.
func (s *Service) loadRequest(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, forUpdate bool) (*workflow.Request, error) {
	req, err := s.store.FindRequest(ctx, approvalID, forUpdate)
	if err != nil {
		return nil, storeErr(err, "approval")
	}
	if req.TenantID != tenantID {
		return nil, dErrors.New(dErrors.CodeTenantIsolation, "approval belongs to another tenant")
	}
	return req, nil
}

// loadApproval locks the request and loads its workflow and ordered stages.
func (s *Service) loadApproval(ctx context.Context, tenantID id.TenantID, approvalID id.ApprovalID, forUpdate bool) (*workflow.Approval, error) {
	req, err := s.loadRequest(ctx, tenantID, approvalID, forUpdate)
	if err != nil {
		return nil, err
	}
	wf, err := s.store.FindWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, storeErr(err, "workflow")
	}
	stages, err := s.store.ListStages(ctx, req.ID)
	if err != nil {
		return nil, storeErr(err, "stages")
	}
	workflow.SortStages(stages)
	return &workflow.Approval{Request: req, Workflow: wf, Stages: stages}, nil
}

// appendVersion snapshots the request data into the approval's chain as the
// given actor.
func (s *Service) appendVersion(ctx context.Context, p requestcontext.Principal, req *workflow.Request, typ versions.VersionType, label, summary, reason string) (*versions.Version, error) {
	return s.versions.AppendVersion(ctx, versions.AppendRequest{
		TenantID:   req.TenantID,
		ApprovalID: req.ID,
		Type:       typ,
		Label:      label,
		Payload:    req.RequestData.Clone(),
		Summary:    summary,
		Reason:     reason,
		Actor:      s.actor(ctx, p),
	})
}

func (s *Service) actor(ctx context.Context, p requestcontext.Principal) versions.Actor {
	name := p.Username
	if u, ok := s.lookup(ctx, p.TenantID, p.UserID); ok {
		name = u.DisplayName()
	}
	return versions.Actor{ID: p.UserID, Name: name, Role: p.PrimaryRole()}
}

func (s *Service) emit(ctx context.Context, p requestcontext.Principal, name audit.EventName, aggregateType, aggregateID string, payload map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Emit(ctx, audit.Event{
		TenantID:      p.TenantID,
		Name:          name,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		ActorID:       p.UserID,
		Payload:       payload,
	})
}

func (s *Service) emitStage(ctx context.Context, p requestcontext.Principal, st *workflow.Stage, from workflow.StageStatus) error {
	return s.emit(ctx, p, audit.EventStageTransitioned, audit.AggregateApproval, st.ApprovalID.String(), map[string]any{
		"stage_id":    st.ID.String(),
		"stage_order": st.Order,
		"from":        string(from),
		"to":          string(st.Status),
	})
}

func (s *Service) emitCompleted(ctx context.Context, p requestcontext.Principal, req *workflow.Request) error {
	name := audit.EventRequestCompleted
	if req.Status == workflow.StatusCancelled {
		name = audit.EventRequestCancelled
	}
	return s.emit(ctx, p, name, audit.AggregateApproval, req.ID.String(), map[string]any{
		"overall_status": string(req.Status),
		"approval_type":  string(req.RequestData.ApprovalType()),
	})
}

// storeErr maps store sentinels to domain errors. Domain errors pass through.
func storeErr(err error, what string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, what+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, what+" changed concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+what)
	}
}

// stateErr turns a model invariant into a state conflict for the caller.
func stateErr(err error) error {
	if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
		return dErrors.New(dErrors.CodeStateConflict, dErrors.MessageOf(err))
	}
	return err
}

// txErr finalises an error returned from a transaction.
func txErr(err error, msg string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "approval changed concurrently, retry")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func (s *Service) lookup(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*users.User, bool) {
	if s.directory == nil {
		return nil, false
	}
	u, ok := s.directory.Lookup(ctx, tenantID, userID)
	return u, ok && u != nil
}
