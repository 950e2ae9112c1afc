package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration, read once at startup.
type Config struct {
	Server       Server
	Log          Log
	Database     Database
	Redis        RedisConfig
	Kafka        Kafka
	Integrations Integrations
	Security     Security
	Notification Notification
	Outbox       Outbox
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	Environment   string
	JWTSigningKey string
	JWTIssuer     string
}

type Log struct {
	Level  string
	Format string
}

// Database holds connection settings for both logical databases.
// Driver selects the database/sql driver: "pgx" or "postgres" (lib/pq).
type Database struct {
	Driver       string
	PrimaryURL   string
	VendorURL    string
	MaxOpenConns int
	MaxIdleConns int
	TxRetries    int
	TxTimeout    time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	Brokers     []string
	TopicPrefix string
}

// Integrations are outbound HTTP collaborators. Empty URLs disable them.
type Integrations struct {
	RiskServiceURL string
	JiraBaseURL    string
	JiraToken      string
	HTTPTimeout    time.Duration
}

type Security struct {
	// PIIKey is the 32-byte key for user PII fields. Nil disables decryption
	// and the plaintext fallback columns are used.
	PIIKey []byte
}

type Notification struct {
	RingSize int
}

type Outbox struct {
	PollInterval time.Duration
	BatchSize    int
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []string
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := Config{
		Server: Server{
			Addr:          envString("GRC_ADDR", ":8080"),
			Environment:   envString("GRC_ENV", "development"),
			JWTSigningKey: envString("JWT_SIGNING_KEY", ""),
			JWTIssuer:     envString("JWT_ISSUER", "grc"),
		},
		Log: Log{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", ""),
		},
		Database: Database{
			Driver:       envString("DB_DRIVER", "pgx"),
			PrimaryURL:   envString("PRIMARY_DATABASE_URL", ""),
			VendorURL:    envString("TPRM_DATABASE_URL", ""),
			MaxOpenConns: intVar("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: intVar("DB_MAX_IDLE_CONNS", 5),
			TxRetries:    intVar("DB_TX_RETRIES", 3),
			TxTimeout:    durVar("DB_TX_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL:          envString("REDIS_URL", ""),
			PoolSize:     intVar("REDIS_POOL_SIZE", 10),
			MinIdleConns: intVar("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  durVar("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  durVar("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: durVar("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:     envList("KAFKA_BROKERS"),
			TopicPrefix: envString("KAFKA_TOPIC_PREFIX", ""),
		},
		Integrations: Integrations{
			RiskServiceURL: envString("RISK_SERVICE_URL", ""),
			JiraBaseURL:    envString("JIRA_BASE_URL", ""),
			JiraToken:      envString("JIRA_TOKEN", ""),
			HTTPTimeout:    durVar("INTEGRATION_HTTP_TIMEOUT", 10*time.Second),
		},
		Notification: Notification{
			RingSize: intVar("NOTIFICATION_RING_SIZE", 100),
		},
		Outbox: Outbox{
			PollInterval: durVar("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    intVar("OUTBOX_BATCH_SIZE", 100),
		},
	}

	if raw := os.Getenv("PII_ENCRYPTION_KEY"); raw != "" {
		key, err := hex.DecodeString(raw)
		if err != nil || len(key) != 32 {
			errs = append(errs, "PII_ENCRYPTION_KEY must be 64 hex characters")
		} else {
			cfg.Security.PIIKey = key
		}
	}

	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
		if cfg.Server.Environment == "production" {
			cfg.Log.Format = "json"
		}
	}
	if cfg.Server.JWTSigningKey == "" {
		if cfg.Server.Environment == "production" {
			errs = append(errs, "JWT_SIGNING_KEY is required in production")
		}
		cfg.Server.JWTSigningKey = "dev-secret-key-change-in-production"
	}
	switch cfg.Database.Driver {
	case "pgx", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER must be pgx or postgres, got %q", cfg.Database.Driver))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// HasDatabase reports whether both database URLs are configured. Without them
// the server runs on in-memory stores.
func (d Database) HasDatabase() bool {
	return d.PrimaryURL != "" && d.VendorURL != ""
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be an integer", key)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s must be a duration", key)
	}
	return v, nil
}

func envList(key string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	var out []string
	for part := range strings.SplitSeq(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
