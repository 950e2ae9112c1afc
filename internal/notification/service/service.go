package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"grc/internal/notification"
	dErrors "grc/pkg/domain-errors"
	"grc/pkg/requestcontext"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = notification.DefaultRingSize
)

// Service stores in-app notifications and forwards emails. Both channels
// are attempted even when one fails.
type Service struct {
	inbox  Inbox
	email  EmailDispatcher
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithEmail enables email delivery. Without it only the in-app copy is kept.
func WithEmail(d EmailDispatcher) Option {
	return func(s *Service) {
		s.email = d
	}
}

func New(inbox Inbox, opts ...Option) *Service {
	s := &Service{inbox: inbox, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Notify delivers msg to the recipient's inbox and, when an address is
// known, by email.
func (s *Service) Notify(ctx context.Context, msg notification.Message) error {
	if msg.TenantID.IsNil() || msg.RecipientID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "notification recipient is required")
	}
	if msg.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "notification type is required")
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = requestcontext.Now(ctx)
	}

	var errs []error
	if err := s.inbox.Push(ctx, msg); err != nil {
		errs = append(errs, err)
	}
	if s.email != nil && msg.RecipientEmail != "" {
		if err := s.email.Dispatch(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return dErrors.Wrap(errors.Join(errs...), dErrors.CodeInternal, "failed to deliver notification")
	}
	s.logger.DebugContext(ctx, "notification.sent",
		"tenant_id", msg.TenantID.String(),
		"recipient_id", msg.RecipientID.String(),
		"notification_type", string(msg.Type),
		"email", msg.RecipientEmail != "",
	)
	return nil
}

// Recent returns the caller's newest notifications first.
func (s *Service) Recent(ctx context.Context, limit int) ([]notification.Message, error) {
	p, ok := requestcontext.PrincipalFrom(ctx)
	if !ok || p.TenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}
	msgs, err := s.inbox.Recent(ctx, p.TenantID, p.UserID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load notifications")
	}
	if msgs == nil {
		msgs = []notification.Message{}
	}
	return msgs, nil
}
