package service

import (
	"context"
	"fmt"
	"strings"
	"time"

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

// FinalDecisionInput is a requester's decision. OverallScoreOverride, when
// set, replaces the computed assignment score.
type FinalDecisionInput struct {
	ApprovalID           id.ApprovalID
	Decision             workflow.Action
	Reason               string
	OverallScoreOverride *float64
}

type DecisionResult struct {
	Request  *workflow.Request `json:"request"`
	Version  *versions.Version `json:"version"`
	Scores   *ScoreBreakdown   `json:"scores,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// FinalDecision lets the requester (or an admin) close a parallel approval.
// Approving a response approval writes the aggregated per-question scores
// to the questionnaire submissions in the same transaction.
func (s *Service) FinalDecision(ctx context.Context, in FinalDecisionInput) (*DecisionResult, error) {
	start := time.Now()
	defer s.metrics.ObserveDecision(start)
	ctx, span := tracing.StartSpan(ctx, "workflow.FinalDecision",
		attribute.String("approval_id", in.ApprovalID.String()),
		attribute.String("decision", string(in.Decision)),
	)
	result, err := s.finalDecision(ctx, in)
	tracing.End(span, err)
	return result, err
}

func (s *Service) finalDecision(ctx context.Context, in FinalDecisionInput) (*DecisionResult, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	in.Decision = workflow.Action(strings.ToUpper(strings.TrimSpace(string(in.Decision))))
	if in.Decision != workflow.ActionApprove && in.Decision != workflow.ActionReject {
		return nil, dErrors.New(dErrors.CodeValidation, "decision must be APPROVE or REJECT")
	}
	if o := in.OverallScoreOverride; o != nil && (*o < 0 || *o > 100) {
		return nil, dErrors.New(dErrors.CodeValidation, "overall_score_override must be between 0 and 100")
	}

	result := &DecisionResult{}
	fx := effects{tenantID: p.TenantID}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		*result = DecisionResult{}
		fx = effects{tenantID: p.TenantID}
		a, err := s.loadApproval(ctx, p.TenantID, in.ApprovalID, true)
		if err != nil {
			return err
		}
		req := a.Request
		if req.RequesterID != p.UserID && !p.IsAdmin() {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can decide this approval")
		}
		if a.Workflow.Type != workflow.TypeParallel {
			return dErrors.New(dErrors.CodeStateConflict, "final decisions apply to parallel workflows only")
		}
		if err := req.CanFinalize(); err != nil {
			return stateErr(err)
		}
		now := requestcontext.Now(ctx)

		scores, err := s.applyDecisionScores(ctx, a, in, now)
		if err != nil {
			return err
		}
		result.Scores = scores

		status := workflow.StatusApproved
		if in.Decision == workflow.ActionReject {
			status = workflow.StatusRejected
		}
		req.ApplyCompletion(status, now)
		if err := s.closeStages(ctx, a, workflow.StageSkipped, now); err != nil {
			return err
		}
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return storeErr(err, "approval")
		}
		label := "Requester Final Decision - " + string(in.Decision)
		v, err := s.appendVersion(ctx, p, req, versions.TypeFinal, label, "Final decision recorded", in.Reason)
		if err != nil {
			return err
		}
		result.Version = v
		if err := s.emitCompleted(ctx, p, req); err != nil {
			return err
		}

		if status == workflow.StatusApproved {
			fx.complete(a, p.UserID)
		}
		if p.UserID != req.RequesterID {
			fx.notify(req.RequesterID, notification.TypeApprovalCompleted, req, nil)
		}
		result.Request = req
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to record final decision")
	}
	s.metrics.IncrementCompleted(string(result.Request.Status))
	result.Warnings = s.runEffects(ctx, fx)
	return result, nil
}

// applyDecisionScores writes aggregated scores for an approved response
// approval and applies any override to the assignment's overall score.
func (s *Service) applyDecisionScores(ctx context.Context, a *workflow.Approval, in FinalDecisionInput, now time.Time) (*ScoreBreakdown, error) {
	aggregate := a.Request.RequestData.ApprovalType() == workflow.ApprovalResponse && in.Decision == workflow.ActionApprove
	if !aggregate && in.OverallScoreOverride == nil {
		return nil, nil
	}
	assignmentID, err := s.assignmentFor(a.Request)
	if err != nil {
		return nil, err
	}

	var breakdown *ScoreBreakdown
	score, overridden := 0.0, false
	if aggregate {
		breakdown, err = s.aggregate(ctx, a.Request.TenantID, assignmentID, a.Stages)
		if err != nil {
			return nil, err
		}
		if err := s.writeScores(ctx, a.Request.TenantID, breakdown, now); err != nil {
			return nil, err
		}
		score = breakdown.OverallScore
	}
	if in.OverallScoreOverride != nil {
		score, overridden = *in.OverallScoreOverride, true
	}
	if err := s.questionnaires.UpdateOverallScore(ctx, a.Request.TenantID, assignmentID, score, overridden, now); err != nil {
		return nil, storeErr(err, "questionnaire assignment")
	}
	if breakdown != nil {
		breakdown.OverallScore = score
		breakdown.Overridden = overridden
	}
	return breakdown, nil
}

// closeStages moves every non-terminal stage to status.
func (s *Service) closeStages(ctx context.Context, a *workflow.Approval, status workflow.StageStatus, now time.Time) error {
	var closed []*workflow.Stage
	for _, st := range a.Stages {
		if st.ApplyClose(status, now) {
			closed = append(closed, st)
		}
	}
	if len(closed) == 0 {
		return nil
	}
	if err := s.store.UpdateStages(ctx, closed...); err != nil {
		return storeErr(err, "stage")
	}
	return nil
}

type AdminInput struct {
	ApprovalID id.ApprovalID
	Action     workflow.AdminAction
	StageOrder *int
	Comments   string
}

// Resolution is the state after an admin action or cancellation.
type Resolution struct {
	Request *workflow.Request `json:"request"`
	Stages  []*workflow.Stage `json:"stages"`
	Version *versions.Version `json:"version"`
}

// AdminHandleRejection resolves a sequential approval that a reviewer
// rejected: restart from the rejected stage, restart from any stage, or
// reject the whole request. Admin only.
func (s *Service) AdminHandleRejection(ctx context.Context, in AdminInput) (*Resolution, error) {
	ctx, span := tracing.StartSpan(ctx, "workflow.AdminHandleRejection",
		attribute.String("approval_id", in.ApprovalID.String()),
		attribute.String("admin_action", string(in.Action)),
	)
	result, err := s.adminHandleRejection(ctx, in)
	tracing.End(span, err)
	return result, err
}

func (s *Service) adminHandleRejection(ctx context.Context, in AdminInput) (*Resolution, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if !in.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "admin_action must be RESTART_FROM_REJECTED, RESTART_FROM_STAGE or FINAL_REJECT")
	}
	if in.Action == workflow.AdminRestartFromStage && in.StageOrder == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "stage_order is required for RESTART_FROM_STAGE")
	}

	result := &Resolution{}
	fx := effects{tenantID: p.TenantID}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		*result = Resolution{}
		fx = effects{tenantID: p.TenantID}
		a, err := s.loadApproval(ctx, p.TenantID, in.ApprovalID, true)
		if err != nil {
			return err
		}
		req := a.Request
		if a.Workflow.Type != workflow.TypeSequential {
			return dErrors.New(dErrors.CodeStateConflict, "admin rejection handling applies to sequential workflows only")
		}
		if err := req.CanFinalize(); err != nil {
			return stateErr(err)
		}
		now := requestcontext.Now(ctx)

		var (
			typ   versions.VersionType
			label string
		)
		if in.Action == workflow.AdminFinalReject {
			req.ApplyCompletion(workflow.StatusRejected, now)
			if err := s.closeStages(ctx, a, workflow.StageCancelled, now); err != nil {
				return err
			}
			typ, label = versions.TypeFinal, "Admin Final Rejection"
			fx.notify(req.RequesterID, notification.TypeApprovalCompleted, req, nil)
		} else {
			target, err := restartTarget(a.Stages, in)
			if err != nil {
				return err
			}
			from := target.Status
			var reset []*workflow.Stage
			for _, st := range a.Stages {
				if st.Order >= target.Order {
					st.ApplyReset(workflow.EmptyResponse(), now)
					reset = append(reset, st)
				}
			}
			target.Activate(now)
			req.ApplyStatus(workflow.StatusInProgress, now)
			if err := s.store.UpdateStages(ctx, reset...); err != nil {
				return storeErr(err, "stage")
			}
			if err := s.emitStage(ctx, p, target, from); err != nil {
				return err
			}
			typ, label = versions.TypeRevision, fmt.Sprintf("Admin Restart from Stage %d: %s", target.Order, target.Name)
			fx.notify(target.AssignedUserID, notification.TypeApprovalStageAssigned, req, target)
		}

		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return storeErr(err, "approval")
		}
		v, err := s.appendVersion(ctx, p, req, typ, label, "Admin action "+string(in.Action), in.Comments)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			if err := s.emitCompleted(ctx, p, req); err != nil {
				return err
			}
		}
		result.Request, result.Stages, result.Version = req, a.Stages, v
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to handle rejection")
	}
	if result.Request.Status.IsTerminal() {
		s.metrics.IncrementCompleted(string(result.Request.Status))
	}
	s.runEffects(ctx, fx)
	return result, nil
}

func restartTarget(stages []*workflow.Stage, in AdminInput) (*workflow.Stage, error) {
	if in.Action == workflow.AdminRestartFromStage {
		st := workflow.StageByOrder(stages, *in.StageOrder)
		if st == nil {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("stage_order %d does not exist", *in.StageOrder))
		}
		return st, nil
	}
	for _, st := range stages {
		if st.Status == workflow.StageRejected {
			return st, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeStateConflict, "approval has no rejected stage to restart from")
}

// StartRequest moves a PENDING sequential approval whose active stage is
// under review to IN_PROGRESS. Admin only. A request left PENDING by a
// rejection has no active stage and goes through AdminHandleRejection.
func (s *Service) StartRequest(ctx context.Context, approvalID id.ApprovalID, comments string) (*Resolution, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	result := &Resolution{}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		*result = Resolution{}
		a, err := s.loadApproval(ctx, p.TenantID, approvalID, true)
		if err != nil {
			return err
		}
		req := a.Request
		if err := req.CanFinalize(); err != nil {
			return stateErr(err)
		}
		if req.Status != workflow.StatusPending {
			return dErrors.New(dErrors.CodeStateConflict, "approval is already "+string(req.Status))
		}
		if a.Workflow.Type != workflow.TypeSequential {
			return dErrors.New(dErrors.CodeStateConflict, "only sequential approvals are started by an admin")
		}
		var active *workflow.Stage
		for _, st := range a.Stages {
			if st.Status == workflow.StageInProgress {
				active = st
				break
			}
		}
		if active == nil {
			return dErrors.New(dErrors.CodeStateConflict, "approval has no active stage, use admin rejection handling")
		}

		now := requestcontext.Now(ctx)
		req.ApplyStatus(workflow.StatusInProgress, now)
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return storeErr(err, "approval")
		}
		label := fmt.Sprintf("Admin Start at Stage %d: %s", active.Order, active.Name)
		v, err := s.appendVersion(ctx, p, req, versions.TypeRevision, label, "Request started", comments)
		if err != nil {
			return err
		}
		if err := s.emit(ctx, p, audit.EventRequestStarted, audit.AggregateApproval, req.ID.String(), map[string]any{
			"from":        string(workflow.StatusPending),
			"to":          string(req.Status),
			"stage_order": active.Order,
		}); err != nil {
			return err
		}
		result.Request, result.Stages, result.Version = req, a.Stages, v
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to start approval")
	}
	s.logger.InfoContext(ctx, string(audit.EventRequestStarted),
		"tenant_id", p.TenantID.String(),
		"approval_id", approvalID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// CancelRequest withdraws a non-terminal approval. Requester or admin only.
func (s *Service) CancelRequest(ctx context.Context, approvalID id.ApprovalID, reason string) (*Resolution, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	result := &Resolution{}
	fx := effects{tenantID: p.TenantID}
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		*result = Resolution{}
		fx = effects{tenantID: p.TenantID}
		a, err := s.loadApproval(ctx, p.TenantID, approvalID, true)
		if err != nil {
			return err
		}
		req := a.Request
		if req.RequesterID != p.UserID && !p.IsAdmin() {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can cancel this approval")
		}
		if err := req.CanFinalize(); err != nil {
			return stateErr(err)
		}
		now := requestcontext.Now(ctx)
		req.ApplyCompletion(workflow.StatusCancelled, now)
		for _, st := range a.Stages {
			if st.Status == workflow.StageInProgress {
				fx.notify(st.AssignedUserID, notification.TypeApprovalCancelled, req, st)
			}
		}
		if err := s.closeStages(ctx, a, workflow.StageCancelled, now); err != nil {
			return err
		}
		if err := s.store.UpdateRequest(ctx, req); err != nil {
			return storeErr(err, "approval")
		}
		v, err := s.appendVersion(ctx, p, req, versions.TypeFinal, "Request Cancelled", "Request cancelled", reason)
		if err != nil {
			return err
		}
		if err := s.emitCompleted(ctx, p, req); err != nil {
			return err
		}
		result.Request, result.Stages, result.Version = req, a.Stages, v
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to cancel approval")
	}
	s.metrics.IncrementCompleted(string(workflow.StatusCancelled))
	s.runEffects(ctx, fx)
	return result, nil
}
