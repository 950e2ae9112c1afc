// Package publisher emits audit events with fail-closed semantics: the outbox
// write happens inside the caller's transaction and its failure fails the
// business operation.
package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	audit "grc/pkg/platform/audit"
	"grc/pkg/requestcontext"
)

type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

type Option func(*Publisher)

// WithLogger mirrors each emitted event to the structured log.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills ID, time and request ID when unset and writes the event.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if p == nil || p.store == nil {
		return nil
	}
	if event.Name == "" {
		return fmt.Errorf("audit event requires a name")
	}
	if event.TenantID.IsNil() {
		return fmt.Errorf("audit event %s requires a tenant", event.Name)
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		return fmt.Errorf("append audit event %s: %w", event.Name, err)
	}

	if p.logger != nil {
		args := []any{
			"log_type", "audit",
			"tenant_id", event.TenantID.String(),
			"aggregate_type", event.AggregateType,
			"aggregate_id", event.AggregateID,
			"actor_id", event.ActorID.String(),
		}
		if event.RequestID != "" {
			args = append(args, "request_id", event.RequestID)
		}
		p.logger.InfoContext(ctx, string(event.Name), args...)
	}
	return nil
}
