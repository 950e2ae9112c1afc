// Package worker relays audit outbox rows to Kafka.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	audit "grc/pkg/platform/audit"
)

// Sink is the message broker the relay publishes to.
type Sink interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Relay polls the outbox and publishes each event keyed by aggregate so a
// consumer sees one approval's events in order.
type Relay struct {
	outbox   audit.Outbox
	sink     Sink
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(outbox audit.Outbox, sink Sink, topic string, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{outbox: outbox, sink: sink, topic: topic, interval: interval, batch: batch, logger: logger}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil {
				r.logger.WarnContext(ctx, "audit relay batch failed", "topic", r.topic, "error", err)
			}
		}
	}
}

// Drain publishes batches until the outbox is empty or a publish fails.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.outbox.ProcessBatch(ctx, r.batch, r.publish)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batch {
			return total, nil
		}
	}
}

func (r *Relay) publish(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	headers := map[string]string{
		"event_name": string(event.Name),
		"tenant_id":  event.TenantID.String(),
	}
	key := []byte(event.AggregateType + ":" + event.AggregateID)
	return r.sink.Produce(ctx, r.topic, key, value, headers)
}
