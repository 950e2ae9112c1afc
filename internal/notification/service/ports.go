package service

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks EmailDispatcher

import (
	"context"

	"grc/internal/notification"
	id "grc/pkg/domain"
)

// Inbox holds each recipient's recent in-app notifications.
type Inbox interface {
	Push(ctx context.Context, msg notification.Message) error
	Recent(ctx context.Context, tenantID id.TenantID, userID id.UserID, limit int) ([]notification.Message, error)
}

type EmailDispatcher interface {
	Dispatch(ctx context.Context, msg notification.Message) error
}
