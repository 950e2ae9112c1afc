package service

import (
	"context"

	"github.com/google/uuid"

	"grc/internal/events"
	"grc/internal/notification"
	id "grc/pkg/domain"
	"grc/pkg/requestcontext"
)

func (s *Service) notifyCreated(ctx context.Context, e *events.Event, actor id.UserID) {
	if e.OwnerID == actor {
		return
	}
	s.deliver(ctx, notification.Message{
		TenantID:    e.TenantID,
		RecipientID: e.OwnerID,
		Type:        notification.TypeEventCreated,
		Title:       "New event: " + e.Title,
		Args:        eventArgs(e),
	})
}

func (s *Service) notifyAssigned(ctx context.Context, e *events.Event) {
	if e.ReviewerID == nil {
		return
	}
	s.deliver(ctx, notification.Message{
		TenantID:    e.TenantID,
		RecipientID: *e.ReviewerID,
		Type:        notification.TypeEventAssigned,
		Title:       "Event assigned for review: " + e.Title,
		Args:        eventArgs(e),
	})
}

func (s *Service) notifyStatusChanged(ctx context.Context, e *events.Event, from events.Status) {
	args := eventArgs(e)
	args["previous_status"] = string(from)
	if e.ReviewerComments != "" {
		args["reviewer_comments"] = e.ReviewerComments
	}
	s.deliver(ctx, notification.Message{
		TenantID:    e.TenantID,
		RecipientID: e.OwnerID,
		Type:        notification.TypeEventStatusChanged,
		Title:       "Event " + e.Title + " is now " + string(e.Status),
		Args:        args,
	})
}

func eventArgs(e *events.Event) map[string]any {
	return map[string]any{
		"event_id": int64(e.ID),
		"title":    e.Title,
		"status":   string(e.Status),
	}
}

// deliver sends one notification. Failures are counted and logged; they
// never reach the caller.
func (s *Service) deliver(ctx context.Context, msg notification.Message) {
	if s.notifier == nil || msg.RecipientID.IsNil() {
		return
	}
	msg.ID = uuid.New()
	msg.CreatedAt = requestcontext.Now(ctx)
	if s.directory != nil {
		if u, ok := s.directory.Lookup(ctx, msg.TenantID, msg.RecipientID); ok {
			msg.RecipientEmail = u.Email
		}
	}
	if err := s.notifier.Notify(ctx, msg); err != nil {
		s.metrics.IncrementNotifyFailure()
		s.logger.WarnContext(ctx, "notification.failed",
			"tenant_id", msg.TenantID.String(),
			"recipient_id", msg.RecipientID.String(),
			"notification_type", string(msg.Type),
			"error", err,
		)
	}
}
