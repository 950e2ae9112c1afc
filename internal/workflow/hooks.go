package workflow

import id "grc/pkg/domain"

// LifecycleEvent describes an approval that the vendor lifecycle reacts to,
// either because it started or because it completed as APPROVED. The text
// fields are the last resort for locating the vendor.
type LifecycleEvent struct {
	TenantID     id.TenantID
	ApprovalID   id.ApprovalID
	ApprovalType ApprovalType
	RequestData  RequestData
	RequestTitle string
	WorkflowName string
	StageNames   []string
	ActorID      id.UserID
}

// NewLifecycleEvent builds the event for an approval as it stands.
func NewLifecycleEvent(a *Approval, actor id.UserID) LifecycleEvent {
	names := make([]string, 0, len(a.Stages))
	for _, s := range a.Stages {
		names = append(names, s.Name)
	}
	ev := LifecycleEvent{
		TenantID:     a.Request.TenantID,
		ApprovalID:   a.Request.ID,
		ApprovalType: a.Request.RequestData.ApprovalType(),
		RequestData:  a.Request.RequestData.Clone(),
		RequestTitle: a.Request.Title,
		StageNames:   names,
		ActorID:      actor,
	}
	if a.Workflow != nil {
		ev.WorkflowName = a.Workflow.Name
	}
	return ev
}

// Texts returns the free-text fields in lookup order.
func (e LifecycleEvent) Texts() []string {
	out := make([]string, 0, len(e.StageNames)+2)
	out = append(out, e.WorkflowName)
	out = append(out, e.StageNames...)
	return append(out, e.RequestTitle)
}
