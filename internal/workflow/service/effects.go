package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"grc/internal/notification"
	"grc/internal/workflow"
	id "grc/pkg/domain"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/requestcontext"
)

// effects collects the work that follows a committed state change.
type effects struct {
	tenantID  id.TenantID
	messages  []notification.Message
	started   *workflow.LifecycleEvent
	completed *workflow.LifecycleEvent
	migrate   bool
	risk      bool
}

var notificationTitles = map[notification.Type]string{
	notification.TypeApprovalStageAssigned:    "Approval stage awaiting your review",
	notification.TypeApprovalStageRejected:    "Approval stage rejected",
	notification.TypeApprovalChangesRequested: "Changes requested on your approval",
	notification.TypeApprovalAwaitingDecision: "All reviewers have responded",
	notification.TypeApprovalCompleted:       "Approval completed",
	notification.TypeApprovalCancelled:       "Approval cancelled",
}

func (fx *effects) notify(recipient id.UserID, typ notification.Type, req *workflow.Request, st *workflow.Stage) {
	args := map[string]any{
		"approval_id":    req.ID.String(),
		"request_title":  req.Title,
		"overall_status": string(req.Status),
	}
	if st != nil {
		args["stage_id"] = st.ID.String()
		args["stage_name"] = st.Name
		args["stage_order"] = st.Order
		if st.RejectionReason != "" {
			args["rejection_reason"] = st.RejectionReason
		}
	}
	fx.messages = append(fx.messages, notification.Message{
		TenantID:    req.TenantID,
		RecipientID: recipient,
		Type:        typ,
		Title:       notificationTitles[typ],
		Args:        args,
	})
}

// complete schedules the post-approval hooks for an approval that just
// became APPROVED.
func (fx *effects) complete(a *workflow.Approval, actor id.UserID) {
	ev := workflow.NewLifecycleEvent(a, actor)
	fx.completed = &ev
	switch ev.ApprovalType {
	case workflow.ApprovalFinalVendor:
		fx.migrate = true
	case workflow.ApprovalResponse:
		fx.risk = true
	}
}

// runEffects runs hooks and notifications after commit. Failures are logged
// and returned as warnings; the approval stays as committed.
func (s *Service) runEffects(ctx context.Context, fx effects) []string {
	ctx = requestcontext.Detach(ctx)
	var warnings []string
	warn := func(hook string, approvalID id.ApprovalID, err error) {
		s.metrics.IncrementHookFailure(hook)
		s.logger.WarnContext(ctx, "approval.hook_failed",
			"hook", hook,
			"tenant_id", fx.tenantID.String(),
			"approval_id", approvalID.String(),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		msg := dErrors.MessageOf(err)
		if msg == "" {
			msg = "failed"
		}
		warnings = append(warnings, fmt.Sprintf("%s: %s", hook, msg))
	}

	if fx.started != nil && s.lifecycle != nil {
		if err := s.lifecycle.ApprovalStarted(ctx, *fx.started); err != nil {
			warn("lifecycle", fx.started.ApprovalID, err)
		}
	}
	if ev := fx.completed; ev != nil {
		if s.lifecycle != nil {
			if err := s.lifecycle.ApprovalCompleted(ctx, *ev); err != nil {
				warn("lifecycle", ev.ApprovalID, err)
			}
			if fx.migrate {
				if err := s.lifecycle.MigrateForApproval(ctx, *ev); err != nil {
					warn("vendor_migration", ev.ApprovalID, err)
				}
			}
		}
		if fx.risk && s.risk != nil {
			ack, err := s.risk.GenerateVendorRisksAsync(ctx, ev.TenantID, ev.ApprovalID)
			if err != nil {
				s.metrics.IncrementHookFailure("risk")
				s.logger.WarnContext(ctx, "risk.generation.failed",
					"tenant_id", ev.TenantID.String(),
					"approval_id", ev.ApprovalID.String(),
					"error", err,
				)
			} else {
				s.logger.InfoContext(ctx, "risk.generation.started",
					"tenant_id", ev.TenantID.String(),
					"approval_id", ev.ApprovalID.String(),
					"thread_name", ack.ThreadName,
				)
			}
		}
	}

	for _, msg := range fx.messages {
		s.deliver(ctx, msg)
	}
	return warnings
}

func (s *Service) deliver(ctx context.Context, msg notification.Message) {
	if s.notifier == nil || msg.RecipientID.IsNil() {
		return
	}
	msg.ID = uuid.New()
	msg.CreatedAt = requestcontext.Now(ctx)
	if u, ok := s.lookup(ctx, msg.TenantID, msg.RecipientID); ok {
		msg.RecipientEmail = u.Email
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.metrics.IncrementHookFailure("notification")
		s.logger.WarnContext(ctx, "notification.failed",
			"tenant_id", msg.TenantID.String(),
			"recipient_id", msg.RecipientID.String(),
			"notification_type", string(msg.Type),
			"error", err,
		)
	}
}
