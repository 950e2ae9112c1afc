package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "grc/pkg/domain"
	audit "grc/pkg/platform/audit"
	"grc/pkg/platform/audit/store/memory"
	"grc/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("outbox down") }

func TestPublisher_FillsDefaults(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	tenantID := id.NewTenantID()
	err := pub.Emit(ctx, audit.Event{
		TenantID:      tenantID,
		Name:          audit.EventVersionAppended,
		AggregateType: audit.AggregateApproval,
		AggregateID:   "a-1",
	})
	require.NoError(t, err)

	events := store.List()
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].OccurredAt)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.NotEqual(t, [16]byte{}, [16]byte(events[0].ID))
}

func TestPublisher_FailClosed(t *testing.T) {
	pub := NewPublisher(failingStore{})
	err := pub.Emit(context.Background(), audit.Event{TenantID: id.NewTenantID(), Name: audit.EventVendorMigrated})
	require.Error(t, err)
}

func TestPublisher_RejectsIncompleteEvents(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore())
	assert.Error(t, pub.Emit(context.Background(), audit.Event{TenantID: id.NewTenantID()}))
	assert.Error(t, pub.Emit(context.Background(), audit.Event{Name: audit.EventVendorMigrated}))
}

func TestPublisher_NilIsNoop(t *testing.T) {
	var pub *Publisher
	assert.NoError(t, pub.Emit(context.Background(), audit.Event{}))
}
