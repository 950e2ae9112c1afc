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
	"grc/pkg/platform/tracing"
	"grc/pkg/requestcontext"
)

type ActInput struct {
	StageID         id.StageID
	Action          workflow.Action
	ResponseData    map[string]any
	RejectionReason string
	Comments        string
}

// ActResult is the state after a reviewer action. Warnings report post-commit
// hooks that failed; the action itself succeeded.
type ActResult struct {
	Stage     *workflow.Stage   `json:"stage"`
	Request   *workflow.Request `json:"request"`
	Version   *versions.Version `json:"version,omitempty"`
	NextStage *workflow.Stage   `json:"next_stage,omitempty"`
	Warnings  []string          `json:"warnings,omitempty"`
}

// actCtx carries one action through its dispatch.
type actCtx struct {
	p        requestcontext.Principal
	approval *workflow.Approval
	stage    *workflow.Stage
	from     workflow.StageStatus
	in       ActInput
	reason   string
	now      time.Time
	result   *ActResult
	fx       *effects
}

// Act records a reviewer's decision on their stage and advances the
// approval. Only the assigned reviewer may act, and only while the stage is
// IN_PROGRESS.
func (s *Service) Act(ctx context.Context, in ActInput) (*ActResult, error) {
	start := time.Now()
	defer s.metrics.ObserveAct(start)
	ctx, span := tracing.StartSpan(ctx, "workflow.Act",
		attribute.String("stage_id", in.StageID.String()),
		attribute.String("action", string(in.Action)),
	)

	result, err := s.act(ctx, in)
	tracing.End(span, err)
	return result, err
}

func (s *Service) act(ctx context.Context, in ActInput) (*ActResult, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	in.Action = workflow.Action(strings.ToUpper(strings.TrimSpace(string(in.Action))))
	if !in.Action.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "action must be APPROVE, REJECT or REQUEST_CHANGES")
	}

	result := &ActResult{}
	fx := effects{tenantID: p.TenantID}
	var wfType workflow.Type
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		// A retried attempt starts from a clean slate.
		*result = ActResult{}
		fx = effects{tenantID: p.TenantID}
		found, err := s.store.FindStage(ctx, in.StageID)
		if err != nil {
			return storeErr(err, "stage")
		}
		if found.TenantID != p.TenantID {
			return dErrors.New(dErrors.CodeTenantIsolation, "stage belongs to another tenant")
		}
		approval, err := s.loadApproval(ctx, p.TenantID, found.ApprovalID, true)
		if err != nil {
			return err
		}
		stage := findStage(approval.Stages, in.StageID)
		if stage == nil {
			return dErrors.New(dErrors.CodeNotFound, "stage not found")
		}
		if stage.AssignedUserID != p.UserID {
			return dErrors.New(dErrors.CodeForbidden, "only the assigned reviewer can act on this stage")
		}
		if err := approval.Request.CanAcceptActions(); err != nil {
			return stateErr(err)
		}
		if err := stage.CanAct(); err != nil {
			return stateErr(err)
		}
		wfType = approval.Workflow.Type

		ac := &actCtx{
			p:        p,
			approval: approval,
			stage:    stage,
			from:     stage.Status,
			in:       in,
			now:      requestcontext.Now(ctx),
			result:   result,
			fx:       &fx,
		}
		rd := stage.ResponseData.Merge(in.ResponseData).Standardize()
		if in.Action == workflow.ActionReject {
			ac.reason = strings.TrimSpace(in.RejectionReason)
			if ac.reason == "" {
				ac.reason, _ = rd[workflow.KeyRejectionReason].(string)
			}
		}
		rd.ApplyDecision(in.Action, in.Comments, ac.reason)
		stage.ResponseData = rd

		if wfType == workflow.TypeSequential {
			err = s.actSequential(ctx, ac)
		} else {
			err = s.actParallel(ctx, ac)
		}
		if err != nil {
			return err
		}
		result.Stage = stage
		result.Request = approval.Request
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to record stage action")
	}

	s.metrics.IncrementStageAction(string(wfType), string(in.Action))
	if result.Request.Status.IsTerminal() {
		s.metrics.IncrementCompleted(string(result.Request.Status))
	}
	result.Warnings = s.runEffects(ctx, fx)
	return result, nil
}

func (s *Service) actSequential(ctx context.Context, ac *actCtx) error {
	a, stage, req := ac.approval, ac.stage, ac.approval.Request
	if ac.in.Action != workflow.ActionRequestChanges {
		for _, other := range a.Stages {
			if other.Order < stage.Order && !other.Status.IsTerminal() {
				return dErrors.New(dErrors.CodeStateConflict,
					fmt.Sprintf("stage %d must complete before stage %d", other.Order, stage.Order))
			}
		}
	}

	switch ac.in.Action {
	case workflow.ActionApprove:
		stage.ApplyApprove(ac.now)
		next := nextStage(a.Stages, stage.Order)
		if next != nil {
			next.Activate(ac.now)
			req.UpdatedAt = ac.now
			if err := s.saveAction(ctx, ac, stage, next); err != nil {
				return err
			}
			label := fmt.Sprintf("Stage %d: %s - Approved", stage.Order, stage.Name)
			if err := s.recordVersion(ctx, ac, versions.TypeRevision, label, ""); err != nil {
				return err
			}
			if err := s.emitStage(ctx, ac.p, next, workflow.StagePending); err != nil {
				return err
			}
			ac.result.NextStage = next
			ac.fx.notify(next.AssignedUserID, notification.TypeApprovalStageAssigned, req, next)
			return nil
		}

		req.ApplyCompletion(workflow.StatusApproved, ac.now)
		if err := s.saveAction(ctx, ac, stage); err != nil {
			return err
		}
		label := fmt.Sprintf("Stage %d: %s - Approved (Final)", stage.Order, stage.Name)
		if err := s.recordVersion(ctx, ac, versions.TypeFinal, label, ""); err != nil {
			return err
		}
		if err := s.emitCompleted(ctx, ac.p, req); err != nil {
			return err
		}
		ac.fx.complete(a, ac.p.UserID)
		ac.fx.notify(req.RequesterID, notification.TypeApprovalCompleted, req, nil)
		return nil

	case workflow.ActionReject:
		stage.ApplyReject(ac.reason, ac.now)
		req.ApplyStatus(workflow.StatusPending, ac.now)
		if err := s.saveAction(ctx, ac, stage); err != nil {
			return err
		}
		if err := s.recordVersion(ctx, ac, versions.TypeRevision, fmt.Sprintf("Stage %s Rejected", stage.Name), ac.reason); err != nil {
			return err
		}
		ac.fx.notify(req.RequesterID, notification.TypeApprovalStageRejected, req, stage)
		return nil

	default:
		if err := s.recordVersion(ctx, ac, versions.TypeRevision, fmt.Sprintf("Stage %s - Changes Requested", stage.Name), ac.in.Comments); err != nil {
			return err
		}
		changed := make([]*workflow.Stage, 0, len(a.Stages))
		for _, st := range a.Stages {
			if st.Order < stage.Order {
				continue
			}
			rd := st.ResponseData.Standardize()
			rd[workflow.KeyDecision] = string(workflow.ActionRequestChanges)
			rd[workflow.KeyRejectionReason] = ""
			rd[workflow.KeyIsDraft] = false
			st.ApplyReset(rd, ac.now)
			changed = append(changed, st)
		}
		stage.Activate(ac.now)
		req.ApplyStatus(workflow.StatusInProgress, ac.now)
		if err := s.saveAction(ctx, ac, changed...); err != nil {
			return err
		}
		ac.fx.notify(req.RequesterID, notification.TypeApprovalChangesRequested, req, stage)
		return nil
	}
}

// actParallel completes the stage on its own. The request is resolved later
// by the requester's final decision.
func (s *Service) actParallel(ctx context.Context, ac *actCtx) error {
	stage, req := ac.stage, ac.approval.Request
	switch ac.in.Action {
	case workflow.ActionRequestChanges:
		return dErrors.New(dErrors.CodeStateConflict, "REQUEST_CHANGES is not supported on parallel workflows")
	case workflow.ActionApprove:
		stage.ApplyApprove(ac.now)
		req.UpdatedAt = ac.now
	case workflow.ActionReject:
		stage.ApplyReject(ac.reason, ac.now)
		req.ApplyStatus(workflow.StatusPending, ac.now)
		ac.fx.notify(req.RequesterID, notification.TypeApprovalStageRejected, req, stage)
	}
	if err := s.saveAction(ctx, ac, stage); err != nil {
		return err
	}
	if allTerminal(ac.approval.Stages) {
		ac.fx.notify(req.RequesterID, notification.TypeApprovalAwaitingDecision, req, nil)
	}
	return nil
}

// saveAction writes the changed stages and the request, and audits the acting
// stage's transition.
func (s *Service) saveAction(ctx context.Context, ac *actCtx, stages ...*workflow.Stage) error {
	if err := s.store.UpdateStages(ctx, stages...); err != nil {
		return storeErr(err, "stage")
	}
	if err := s.store.UpdateRequest(ctx, ac.approval.Request); err != nil {
		return storeErr(err, "approval")
	}
	return s.emitStage(ctx, ac.p, ac.stage, ac.from)
}

func (s *Service) recordVersion(ctx context.Context, ac *actCtx, typ versions.VersionType, label, reason string) error {
	summary := fmt.Sprintf("%s by %s", ac.in.Action, ac.stage.Name)
	v, err := s.appendVersion(ctx, ac.p, ac.approval.Request, typ, label, summary, reason)
	if err != nil {
		return err
	}
	ac.result.Version = v
	return nil
}

// SaveStageDraft stores a reviewer's in-progress response without deciding.
func (s *Service) SaveStageDraft(ctx context.Context, stageID id.StageID, data map[string]any) (*workflow.Stage, error) {
	return s.updateOwnStage(ctx, stageID, func(st *workflow.Stage, now time.Time) {
		rd := st.ResponseData.Merge(data).Standardize()
		rd[workflow.KeyIsDraft] = true
		rd[workflow.KeyDraftSavedAt] = now.UTC().Format(time.RFC3339)
		st.ResponseData = rd
		st.UpdatedAt = now
	})
}

// SaveReviewerScores merges per-question scores into the reviewer's stage
// and recomputes its total.
func (s *Service) SaveReviewerScores(ctx context.Context, stageID id.StageID, scores map[string]workflow.ReviewerScore) (*workflow.Stage, error) {
	if len(scores) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "reviewer_scores cannot be empty")
	}
	for qid, sc := range scores {
		if strings.TrimSpace(qid) == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "question id is required")
		}
		if sc.Score < 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "scores cannot be negative")
		}
	}
	return s.updateOwnStage(ctx, stageID, func(st *workflow.Stage, now time.Time) {
		rd := st.ResponseData.Standardize()
		rd.SetReviewerScores(scores)
		rd[workflow.KeyScoresSavedAt] = now.UTC().Format(time.RFC3339)
		st.ResponseData = rd
		st.UpdatedAt = now
	})
}

func (s *Service) updateOwnStage(ctx context.Context, stageID id.StageID, mutate func(*workflow.Stage, time.Time)) (*workflow.Stage, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	var stage *workflow.Stage
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		found, err := s.store.FindStage(ctx, stageID)
		if err != nil {
			return storeErr(err, "stage")
		}
		if found.TenantID != p.TenantID {
			return dErrors.New(dErrors.CodeTenantIsolation, "stage belongs to another tenant")
		}
		req, err := s.loadRequest(ctx, p.TenantID, found.ApprovalID, true)
		if err != nil {
			return err
		}
		stage, err = s.store.FindStage(ctx, stageID)
		if err != nil {
			return storeErr(err, "stage")
		}
		if stage.AssignedUserID != p.UserID {
			return dErrors.New(dErrors.CodeForbidden, "only the assigned reviewer can edit this stage")
		}
		if err := req.CanAcceptActions(); err != nil {
			return stateErr(err)
		}
		if err := stage.CanAct(); err != nil {
			return stateErr(err)
		}
		mutate(stage, requestcontext.Now(ctx))
		if err := s.store.UpdateStages(ctx, stage); err != nil {
			return storeErr(err, "stage")
		}
		return nil
	})
	if err != nil {
		return nil, txErr(err, "failed to save stage")
	}
	return stage, nil
}

func findStage(stages []*workflow.Stage, stageID id.StageID) *workflow.Stage {
	for _, st := range stages {
		if st.ID == stageID {
			return st
		}
	}
	return nil
}

// nextStage returns the first stage ordered after order. Stages are sorted.
func nextStage(stages []*workflow.Stage, order int) *workflow.Stage {
	for _, st := range stages {
		if st.Order > order {
			return st
		}
	}
	return nil
}

func allTerminal(stages []*workflow.Stage) bool {
	for _, st := range stages {
		if !st.Status.IsTerminal() {
			return false
		}
	}
	return true
}
