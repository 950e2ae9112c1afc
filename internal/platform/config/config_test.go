package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("GRC_ENV", "development")
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Database.TxRetries)
	assert.Equal(t, 10*time.Second, cfg.Database.TxTimeout)
	assert.Equal(t, 100, cfg.Notification.RingSize)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.NotEmpty(t, cfg.Server.JWTSigningKey)
	assert.False(t, cfg.Database.HasDatabase())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("GRC_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "secret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("PRIMARY_DATABASE_URL", "postgres://primary")
	t.Setenv("TPRM_DATABASE_URL", "postgres://tprm")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PII_ENCRYPTION_KEY", strings.Repeat("ab", 32))

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Len(t, cfg.Security.PIIKey, 32)
	assert.True(t, cfg.Database.HasDatabase())
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("GRC_ENV", "production")
	t.Setenv("JWT_SIGNING_KEY", "")
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("DB_TX_RETRIES", "three")
	t.Setenv("PII_ENCRYPTION_KEY", "zz")

	_, err := FromEnv()
	require.Error(t, err)
	for _, want := range []string{"JWT_SIGNING_KEY", "DB_DRIVER", "DB_TX_RETRIES", "PII_ENCRYPTION_KEY"} {
		assert.Contains(t, err.Error(), want)
	}
}
