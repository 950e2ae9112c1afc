package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"grc/internal/notification"
	id "grc/pkg/domain"
)

const inboxKeyPrefix = "grc:notifications:"

// RedisRing stores each recipient's inbox as a capped Redis list so every
// server process sees the same notifications.
type RedisRing struct {
	client *redis.Client
	size   int
}

func NewRedisRing(client *redis.Client, size int) *RedisRing {
	if size <= 0 {
		size = notification.DefaultRingSize
	}
	return &RedisRing{client: client, size: size}
}

func inboxKey(tenantID id.TenantID, userID id.UserID) string {
	return inboxKeyPrefix + tenantID.String() + ":" + userID.String()
}

// Push prepends the message and trims the list to the ring size in one
// round trip.
func (r *RedisRing) Push(ctx context.Context, msg notification.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	key := inboxKey(msg.TenantID, msg.RecipientID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, raw)
	pipe.LTrim(ctx, key, 0, int64(r.size-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}
	return nil
}

func (r *RedisRing) Recent(ctx context.Context, tenantID id.TenantID, userID id.UserID, limit int) ([]notification.Message, error) {
	if limit <= 0 || limit > r.size {
		limit = r.size
	}
	vals, err := r.client.LRange(ctx, inboxKey(tenantID, userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}
	out := make([]notification.Message, 0, len(vals))
	for _, v := range vals {
		var msg notification.Message
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
