// Package email hands notification emails to the mail service through Kafka.
package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"grc/internal/notification"
	"grc/internal/platform/kafka"
)

// Producer is the subset of kafka.Producer the dispatcher needs.
type Producer interface {
	Topic(suffix string) string
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// Email is the record written to the email topic. Template is the
// notification type; the mail service owns rendering.
type Email struct {
	NotificationID string         `json:"notification_id"`
	TenantID       string         `json:"tenant_id"`
	To             string         `json:"to"`
	Subject        string         `json:"subject"`
	Template       string         `json:"template"`
	Args           map[string]any `json:"args,omitempty"`
	CreatedAt      string         `json:"created_at"`
}

type KafkaDispatcher struct {
	producer Producer
	topic    string
}

func NewKafkaDispatcher(producer Producer) *KafkaDispatcher {
	return &KafkaDispatcher{producer: producer, topic: producer.Topic(kafka.TopicEmail)}
}

// Dispatch keys the record by recipient so one user's emails stay ordered.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, msg notification.Message) error {
	if msg.RecipientEmail == "" {
		return nil
	}
	raw, err := json.Marshal(Email{
		NotificationID: msg.ID.String(),
		TenantID:       msg.TenantID.String(),
		To:             msg.RecipientEmail,
		Subject:        msg.Title,
		Template:       string(msg.Type),
		Args:           msg.Args,
		CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	return d.producer.Produce(ctx, d.topic, []byte(msg.RecipientID.String()), raw, map[string]string{
		"tenant_id":         msg.TenantID.String(),
		"notification_type": string(msg.Type),
	})
}
