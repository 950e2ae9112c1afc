//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"grc/internal/platform/config"
	platformredis "grc/internal/platform/redis"
)

const redisImage = "redis:7-alpine"

// RedisContainer is a throwaway Redis reached through the same client
// constructor the server uses.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redis.Client
}

// NewRedisContainer starts Redis for a single test and stops it on cleanup.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	rc, err := startRedis(context.Background())
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = rc.Client.Close()
		_ = testcontainers.TerminateContainer(rc.Container)
	})
	return rc
}

func startRedis(ctx context.Context) (rc *RedisContainer, err error) {
	container, err := tcredis.Run(ctx, redisImage)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", redisImage, err)
	}
	defer func() {
		if err != nil {
			_ = container.Terminate(ctx)
		}
	}()

	url, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, err
	}
	client, err := platformredis.New(ctx, config.RedisConfig{URL: url, PoolSize: 4})
	if err != nil {
		return nil, err
	}
	return &RedisContainer{Container: container, URL: url, Client: client.Client}, nil
}

// FlushAll empties the database between tests that share a container.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
