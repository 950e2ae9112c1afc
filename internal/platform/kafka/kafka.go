// Package kafka wraps a franz-go client for the two producers in this service:
// the audit outbox relay and the email notification dispatcher.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"grc/internal/platform/config"
)

// Topic suffixes; the configured prefix is prepended.
const (
	TopicAudit = "grc.audit"
	TopicEmail = "grc.notifications.email"
)

// Producer publishes records synchronously.
type Producer struct {
	client *kgo.Client
	prefix string
	logger *slog.Logger
}

// New returns nil when no brokers are configured.
func New(cfg config.Kafka, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, prefix: cfg.TopicPrefix, logger: logger}, nil
}

// Topic returns the fully-qualified name for a topic suffix.
func (p *Producer) Topic(suffix string) string {
	return p.prefix + suffix
}

// Produce writes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	for k, v := range headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// EnsureTopics creates the service's topics when missing.
func (p *Producer) EnsureTopics(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(p.client)
	topics := []string{p.Topic(TopicAudit), p.Topic(TopicEmail)}
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, topics...)
	if err != nil {
		return fmt.Errorf("create topics: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	p.logger.InfoContext(ctx, "kafka topics ready", "topics", topics)
	return nil
}

func (p *Producer) Health(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}
