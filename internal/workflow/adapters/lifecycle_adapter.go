package adapters

import (
	"context"

	"grc/internal/lifecycle"
	"grc/internal/workflow"
)

// lifecycleService is the part of the lifecycle service the approval engine
// drives. Defined locally so the engine never imports lifecycle internals.
type lifecycleService interface {
	ApprovalStarted(ctx context.Context, out lifecycle.ApprovalOutcome) error
	ApprovalCompleted(ctx context.Context, out lifecycle.ApprovalOutcome) error
	MigrateForApproval(ctx context.Context, out lifecycle.ApprovalOutcome) error
}

// Lifecycle adapts the lifecycle service to the engine's Lifecycle port,
// mapping approval events to lifecycle outcomes at the boundary.
type Lifecycle struct {
	svc lifecycleService
}

func NewLifecycle(svc lifecycleService) *Lifecycle {
	return &Lifecycle{svc: svc}
}

func (a *Lifecycle) ApprovalStarted(ctx context.Context, ev workflow.LifecycleEvent) error {
	return a.svc.ApprovalStarted(ctx, mapOutcome(ev))
}

func (a *Lifecycle) ApprovalCompleted(ctx context.Context, ev workflow.LifecycleEvent) error {
	return a.svc.ApprovalCompleted(ctx, mapOutcome(ev))
}

func (a *Lifecycle) MigrateForApproval(ctx context.Context, ev workflow.LifecycleEvent) error {
	return a.svc.MigrateForApproval(ctx, mapOutcome(ev))
}

func mapOutcome(ev workflow.LifecycleEvent) lifecycle.ApprovalOutcome {
	out := lifecycle.ApprovalOutcome{
		TenantID:     ev.TenantID,
		ApprovalID:   ev.ApprovalID,
		ApprovalType: string(ev.ApprovalType),
		ActorID:      ev.ActorID,
		Ref:          lifecycle.VendorRef{Texts: ev.Texts()},
	}
	if v, ok := ev.RequestData.VendorID(); ok {
		out.Ref.VendorID = &v
	}
	if q, ok := ev.RequestData.QuestionnaireID(); ok {
		out.Ref.QuestionnaireID = &q
	}
	if a, ok := ev.RequestData.AssignmentID(); ok {
		out.Ref.AssignmentID = &a
	}
	return out
}
