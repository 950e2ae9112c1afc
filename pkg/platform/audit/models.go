// Package audit records domain events through a transactional outbox. Events
// are written in the same transaction as the state change they describe and
// relayed to Kafka by the outbox worker.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "grc/pkg/domain"
)

// EventName is the stable name of a domain event. The same names are used as
// slog messages so logs and the audit stream correlate.
type EventName string

const (
	EventVersionAppended     EventName = "version.appended"
	EventStageTransitioned   EventName = "stage.transitioned"
	EventRequestCompleted    EventName = "request.completed"
	EventRequestCancelled    EventName = "request.cancelled"
	EventWorkflowCreated     EventName = "workflow.created"
	EventRequestCreated      EventName = "request.created"
	EventRequestStarted      EventName = "request.started"
	EventVendorMigrated      EventName = "vendor.migrated"
	EventLifecycleAdvanced   EventName = "lifecycle.advanced"
	EventEvidenceLinked      EventName = "evidence.linked"
	EventEventStatusChanged  EventName = "event.status_changed"
	EventEventEvidenceEdited EventName = "event.evidence_changed"
)

// Aggregate types recorded on outbox rows.
const (
	AggregateApproval = "approval"
	AggregateWorkflow = "workflow"
	AggregateVendor   = "vendor"
	AggregateEvent    = "event"
	AggregateIncident = "incident"
)

// Event is emitted from domain logic to capture key actions. It is
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID            uuid.UUID      `json:"id"`
	TenantID      id.TenantID    `json:"tenant_id"`
	Name          EventName      `json:"name"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	ActorID       id.UserID      `json:"actor_id"`
	RequestID     string         `json:"request_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

// Store appends events to the outbox, joining the caller's transaction.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Outbox is read by the relay worker. ProcessBatch claims up to limit
// unprocessed events, calls publish for each in order, and marks the
// published ones processed. It stops at the first publish error.
type Outbox interface {
	ProcessBatch(ctx context.Context, limit int, publish func(context.Context, Event) error) (int, error)
}
