// Package notification delivers in-app and email notifications. Delivery is
// best-effort: callers log failures and carry on.
package notification

import (
	"time"

	"github.com/google/uuid"

	id "grc/pkg/domain"
)

type Type string

// DefaultRingSize is how many in-app notifications are kept per recipient.
const DefaultRingSize = 100

const (
	TypeEventCreated             Type = "eventCreated"
	TypeEventAssigned            Type = "eventAssigned"
	TypeEventStatusChanged       Type = "eventStatusChanged"
	TypeApprovalStageAssigned    Type = "approvalStageAssigned"
	TypeApprovalStageRejected    Type = "approvalStageRejected"
	TypeApprovalChangesRequested Type = "approvalChangesRequested"
	TypeApprovalAwaitingDecision Type = "approvalAwaitingDecision"
	TypeApprovalCompleted        Type = "approvalCompleted"
	TypeApprovalCancelled        Type = "approvalCancelled"
)

// Message is one notification addressed to one user. RecipientEmail may be
// empty, in which case only the in-app copy is kept.
type Message struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       id.TenantID    `json:"tenant_id"`
	RecipientID    id.UserID      `json:"recipient_id"`
	RecipientEmail string         `json:"recipient_email,omitempty"`
	Type           Type           `json:"notification_type"`
	Title          string         `json:"title"`
	Args           map[string]any `json:"args,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
