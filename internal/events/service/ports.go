package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Jira,Notifier

import (
	"context"

	"grc/internal/events"
	"grc/internal/events/jira"
	"grc/internal/notification"
	"grc/internal/users"
	id "grc/pkg/domain"
	audit "grc/pkg/platform/audit"
)

// Store persists events, file operations and incident approvals. FindEvent
// with forUpdate locks the row until the surrounding transaction ends.
type Store interface {
	CreateEvent(ctx context.Context, e *events.Event) error
	FindEvent(ctx context.Context, eventID id.EventID, forUpdate bool) (*events.Event, error)
	UpdateEvent(ctx context.Context, e *events.Event) error
	DeleteEvent(ctx context.Context, tenantID id.TenantID, eventID id.EventID) error
	ListEvents(ctx context.Context, filter events.ListFilter) ([]*events.Event, int, error)

	InsertFileOperation(ctx context.Context, op *events.FileOperation) error
	FindFileOperations(ctx context.Context, tenantID id.TenantID, ids []id.FileOperationID) (map[id.FileOperationID]*events.FileOperation, error)
	ListFileOperations(ctx context.Context, tenantID id.TenantID, module string, entityID int64) ([]*events.FileOperation, error)

	FindIncidentApproval(ctx context.Context, tenantID id.TenantID, incidentID id.IncidentID, forUpdate bool) (*events.IncidentApproval, error)
	SaveIncidentApproval(ctx context.Context, ia *events.IncidentApproval) error
}

// Jira lists the attachments of an issue.
type Jira interface {
	Attachments(ctx context.Context, issueKey string) ([]jira.Attachment, error)
}

type Notifier interface {
	Notify(ctx context.Context, msg notification.Message) error
}

type Directory interface {
	Lookup(ctx context.Context, tenantID id.TenantID, userID id.UserID) (*users.User, bool)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
