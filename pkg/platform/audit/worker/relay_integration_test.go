//go:build integration

package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"grc/internal/platform/config"
	"grc/internal/platform/kafka"
	"grc/internal/platform/logger"
	id "grc/pkg/domain"
	audit "grc/pkg/platform/audit"
	auditpostgres "grc/pkg/platform/audit/store/postgres"
	"grc/pkg/platform/audit/worker"
	txcontext "grc/pkg/platform/tx"
	"grc/pkg/testutil/containers"
)

func TestRelayPublishesOutboxToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mgr := containers.GetManager()
	pg := mgr.GetPostgres(t)
	rp := mgr.GetRedpanda(t)
	require.NoError(t, pg.TruncateTables(ctx, pg.Primary, "audit_outbox"))

	log := logger.Discard()
	producer, err := kafka.New(config.Kafka{Brokers: rp.Brokers, TopicPrefix: "it." + uuid.NewString()[:8] + "."}, log)
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.EnsureTopics(ctx, 1, 1))
	topic := producer.Topic(kafka.TopicAudit)

	store := auditpostgres.New(pg.Primary, txcontext.PoolPrimary)
	tenantID := id.NewTenantID()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, name := range []audit.EventName{audit.EventRequestCreated, audit.EventStageTransitioned, audit.EventRequestCompleted} {
		require.NoError(t, store.Append(ctx, audit.Event{
			ID:            uuid.New(),
			TenantID:      tenantID,
			Name:          name,
			AggregateType: audit.AggregateApproval,
			AggregateID:   "appr-1",
			OccurredAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	relay := worker.NewRelay(store, producer, topic, time.Second, 2, log)
	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "processed rows are not relayed twice")

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(rp.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var got []audit.Event
	for len(got) < 3 {
		fetches := consumer.PollFetches(ctx)
		require.NoError(t, ctx.Err())
		fetches.EachRecord(func(rec *kgo.Record) {
			assert.Equal(t, "approval:appr-1", string(rec.Key))
			var ev audit.Event
			require.NoError(t, json.Unmarshal(rec.Value, &ev))
			got = append(got, ev)
		})
	}
	require.Len(t, got, 3)
	assert.Equal(t, audit.EventRequestCreated, got[0].Name)
	assert.Equal(t, audit.EventRequestCompleted, got[2].Name)
	assert.Equal(t, tenantID, got[1].TenantID)
}
